package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"cv-evaluator-go/internal/config"
	"cv-evaluator-go/internal/storage/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var mysqlTracer = otel.Tracer("cv-evaluator-go/storage/mysql")

// ErrEvaluationNotFound 按ID查询评估记录未命中
var ErrEvaluationNotFound = errors.New("evaluation not found")

// GormTracingPlugin 是一个GORM插件，用于向OpenTelemetry中添加数据库操作的追踪点
type GormTracingPlugin struct {
	tracer         trace.Tracer
	dbName         string
	disableErrSkip bool
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

type gormSpanKey struct{}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("CREATE")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}

	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}

	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}

	if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.before("DELETE")); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("otel:after_delete", p.after()); err != nil {
		return err
	}

	if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.before("RAW")); err != nil {
		return err
	}
	if err := cb.Raw().After("gorm:raw").Register("otel:after_raw", p.after()); err != nil {
		return err
	}

	return nil
}

// before 返回在GORM操作之前执行的回调函数
func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if p.disableErrSkip && db.Statement.SkipHooks {
			return
		}

		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}

		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		spanName := fmt.Sprintf("%s %s", operation, tableName)
		opts := []trace.SpanStartOption{
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			),
		}

		newCtx, span := p.tracer.Start(ctx, spanName, opts...)
		db.Statement.Context = context.WithValue(newCtx, gormSpanKey{}, span)
	}
}

// after 返回在GORM操作之后执行的回调函数
func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value(gormSpanKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))

		if db.Error != nil {
			if errors.Is(db.Error, gorm.ErrRecordNotFound) {
				// 未命中属于正常业务路径，不作为span错误上报
				span.SetAttributes(attribute.String("error.type", "record_not_found"))
				span.SetStatus(codes.Ok, "record not found")
			} else {
				span.SetAttributes(attribute.String("error.type", "database_error"))
				span.RecordError(db.Error)
				span.SetStatus(codes.Error, db.Error.Error())
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// NewGormTracingPlugin 创建一个新的GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:         mysqlTracer,
		dbName:         dbName,
		disableErrSkip: true,
	}
}

// MySQL 提供关系数据库功能
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 创建MySQL客户端并自动迁移表结构
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	var logLevel logger.LogLevel
	switch cfg.LogLevel {
	case 1:
		logLevel = logger.Silent
	case 2:
		logLevel = logger.Error
	case 3:
		logLevel = logger.Warn
	case 4:
		logLevel = logger.Info
	default:
		logLevel = logger.Info
	}

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logLevel),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	m := &MySQL{
		db:  db,
		cfg: cfg,
	}

	tracingPlugin := NewGormTracingPlugin(cfg.Database)
	if err := db.Use(tracingPlugin); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	if err := m.autoMigrateSchema(); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	return m, nil
}

// autoMigrateSchema 使用GORM自动迁移数据库表结构
func (m *MySQL) autoMigrateSchema() error {
	// 迁移期间关闭SQL日志，避免刷屏
	silentLogger := logger.New(
		log.New(log.Writer(), "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	silentDB := m.db.Session(&gorm.Session{Logger: silentLogger})

	err := silentDB.AutoMigrate(
		&models.Candidate{},
		&models.JobVacancy{},
		&models.Evaluation{},
		&models.User{},
	)
	if err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	return nil
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// CreateCandidate 创建候选人记录
func (m *MySQL) CreateCandidate(ctx context.Context, candidate *models.Candidate) error {
	return m.db.WithContext(ctx).Create(candidate).Error
}

// GetCandidateByID 通过ID获取候选人
func (m *MySQL) GetCandidateByID(ctx context.Context, candidateID string) (*models.Candidate, error) {
	var candidate models.Candidate
	if err := m.db.WithContext(ctx).Where("candidate_id = ?", candidateID).First(&candidate).Error; err != nil {
		return nil, err
	}
	return &candidate, nil
}

// ListCandidates 按创建时间倒序列出候选人
func (m *MySQL) ListCandidates(ctx context.Context, limit, offset int) ([]models.Candidate, error) {
	var candidates []models.Candidate
	err := m.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&candidates).Error
	return candidates, err
}

// CreateJobVacancy 创建岗位记录
func (m *MySQL) CreateJobVacancy(ctx context.Context, job *models.JobVacancy) error {
	return m.db.WithContext(ctx).Create(job).Error
}

// GetJobVacancyByID 通过ID获取岗位
func (m *MySQL) GetJobVacancyByID(ctx context.Context, jobID string) (*models.JobVacancy, error) {
	var job models.JobVacancy
	if err := m.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobVacancies 按创建时间倒序列出岗位
func (m *MySQL) ListJobVacancies(ctx context.Context, limit, offset int) ([]models.JobVacancy, error) {
	var jobs []models.JobVacancy
	err := m.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&jobs).Error
	return jobs, err
}

// CreateEvaluation 创建评估任务记录，初始状态由调用方设置(通常为QUEUED)
func (m *MySQL) CreateEvaluation(ctx context.Context, evaluation *models.Evaluation) error {
	return m.db.WithContext(ctx).Create(evaluation).Error
}

// GetEvaluationByID 通过ID获取评估任务
func (m *MySQL) GetEvaluationByID(ctx context.Context, evaluationID string) (*models.Evaluation, error) {
	var evaluation models.Evaluation
	err := m.db.WithContext(ctx).Where("evaluation_id = ?", evaluationID).First(&evaluation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEvaluationNotFound
		}
		return nil, err
	}
	return &evaluation, nil
}

// GetEvaluationWithRelations 获取评估任务及其关联的候选人与岗位
func (m *MySQL) GetEvaluationWithRelations(ctx context.Context, evaluationID string) (*models.Evaluation, error) {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.GetEvaluationWithRelations",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemMySQL,
			attribute.String("db.operation", "SELECT"),
			attribute.String("db.sql.table", "evaluations"),
			attribute.String("evaluation.id", evaluationID),
		))
	defer span.End()

	var evaluation models.Evaluation
	err := m.db.WithContext(ctx).
		Preload("Candidate").
		Preload("Job").
		Where("evaluation_id = ?", evaluationID).
		First(&evaluation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Ok, "record not found")
			return nil, ErrEvaluationNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return &evaluation, nil
}

// ClaimEvaluation 以条件更新方式把QUEUED任务迁移到PROCESSING
// 返回false表示任务已不在QUEUED状态(已被处理或为终态)，调用方应跳过
func (m *MySQL) ClaimEvaluation(ctx context.Context, evaluationID string) (bool, error) {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.ClaimEvaluation",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemMySQL,
			attribute.String("db.operation", "UPDATE"),
			attribute.String("db.sql.table", "evaluations"),
			attribute.String("evaluation.id", evaluationID),
		))
	defer span.End()

	result := m.db.WithContext(ctx).
		Model(&models.Evaluation{}).
		Where("evaluation_id = ? AND status = ?", evaluationID, models.EvaluationStatusQueued).
		Update("status", models.EvaluationStatusProcessing)
	if result.Error != nil {
		span.RecordError(result.Error)
		span.SetStatus(codes.Error, result.Error.Error())
		return false, result.Error
	}

	claimed := result.RowsAffected > 0
	span.SetAttributes(attribute.Bool("evaluation.claimed", claimed))
	span.SetStatus(codes.Ok, "")
	return claimed, nil
}

// MarkEvaluationFailed 把任务标记为FAILED并记录失败原因
func (m *MySQL) MarkEvaluationFailed(ctx context.Context, evaluationID string, reason string) error {
	updates := map[string]interface{}{
		"status":        models.EvaluationStatusFailed,
		"error_message": reason,
	}
	return m.db.WithContext(ctx).
		Model(&models.Evaluation{}).
		Where("evaluation_id = ?", evaluationID).
		Updates(updates).Error
}

// EvaluationScores 评估完成时需要落库的评分字段
type EvaluationScores struct {
	CVMatchRate     float64
	CVFeedback      string
	ProjectScore    float64
	ProjectFeedback string
	OverallSummary  string
	RawResultJSON   []byte
}

// CompleteEvaluation 原子地写入评分结果并把状态迁移到COMPLETED
func (m *MySQL) CompleteEvaluation(ctx context.Context, evaluationID string, scores EvaluationScores) error {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.CompleteEvaluation",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemMySQL,
			attribute.String("db.operation", "UPDATE"),
			attribute.String("db.sql.table", "evaluations"),
			attribute.String("evaluation.id", evaluationID),
		))
	defer span.End()

	updates := map[string]interface{}{
		"status":           models.EvaluationStatusCompleted,
		"cv_match_rate":    scores.CVMatchRate,
		"cv_feedback":      scores.CVFeedback,
		"project_score":    scores.ProjectScore,
		"project_feedback": scores.ProjectFeedback,
		"overall_summary":  scores.OverallSummary,
		"raw_result_json":  datatypes.JSON(scores.RawResultJSON),
		"error_message":    nil,
	}

	result := m.db.WithContext(ctx).
		Model(&models.Evaluation{}).
		Where("evaluation_id = ?", evaluationID).
		Updates(updates)
	if result.Error != nil {
		span.RecordError(result.Error)
		span.SetStatus(codes.Error, result.Error.Error())
		return result.Error
	}
	if result.RowsAffected == 0 {
		span.SetStatus(codes.Ok, "record not found")
		return ErrEvaluationNotFound
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetUserByUsername 通过用户名获取用户
func (m *MySQL) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := m.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser 创建用户
func (m *MySQL) CreateUser(ctx context.Context, user *models.User) error {
	return m.db.WithContext(ctx).Create(user).Error
}
