package middleware

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/golang-jwt/jwt/v5"
)

// IdentityKey 认证通过后注入到请求上下文的用户ID键
const IdentityKey = "auth_user_id"

// JWTAuth 校验Bearer token的认证中间件
func JWTAuth(secret string) app.HandlerFunc {
	secretBytes := []byte(secret)

	return func(c context.Context, ctx *app.RequestContext) {
		authHeader := string(ctx.GetHeader("Authorization"))
		if !strings.HasPrefix(authHeader, "Bearer ") {
			ctx.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{"error": "缺少Bearer token"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("不支持的签名算法: %v", t.Header["alg"])
			}
			return secretBytes, nil
		})
		if err != nil || !token.Valid {
			ctx.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{"error": "token无效或已过期"})
			return
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			if sub, ok := claims["sub"].(string); ok {
				ctx.Set(IdentityKey, sub)
			}
		}

		ctx.Next(c)
	}
}
