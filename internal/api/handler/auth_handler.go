package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cv-evaluator-go/internal/config"
	"cv-evaluator-go/internal/logger"
	"cv-evaluator-go/internal/storage"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// ErrInvalidCredentials 用户名或密码错误
// 对外统一返回同一个错误，不区分用户不存在与密码错误
var ErrInvalidCredentials = errors.New("用户名或密码错误")

// AuthHandler 登录认证处理器
type AuthHandler struct {
	storage  *storage.Storage
	secret   []byte
	tokenTTL time.Duration
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(cfg *config.Config, storage *storage.Storage) (*AuthHandler, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT密钥不能为空")
	}

	ttl := 30 * time.Minute
	if cfg.Auth.TokenTTLMinutes > 0 {
		ttl = time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute
	}

	return &AuthHandler{
		storage:  storage,
		secret:   []byte(cfg.Auth.JWTSecret),
		tokenTTL: ttl,
	}, nil
}

// LoginResponse 登录响应
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login 校验用户名密码并签发JWT
func (h *AuthHandler) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	user, err := h.storage.MySQL.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		logger.Warn().Str("username", username).Msg("密码校验失败")
		return nil, ErrInvalidCredentials
	}

	expiresAt := time.Now().Add(h.tokenTTL)
	claims := jwt.MapClaims{
		"sub": user.UserID,
		"usr": user.Username,
		"iat": time.Now().Unix(),
		"exp": expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(h.secret)
	if err != nil {
		return nil, fmt.Errorf("签发token失败: %w", err)
	}

	return &LoginResponse{Token: signed, ExpiresAt: expiresAt}, nil
}
