package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cv-evaluator-go/internal/api/handler"
	"cv-evaluator-go/internal/api/router"
	"cv-evaluator-go/internal/config"
	"cv-evaluator-go/internal/llm"
	appCoreLogger "cv-evaluator-go/internal/logger" // aliased to avoid conflict with std log and hertz log
	"cv-evaluator-go/internal/parser"
	"cv-evaluator-go/internal/processor"
	"cv-evaluator-go/internal/storage"
	"cv-evaluator-go/internal/tracing"

	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

var (
	version     = "1.0.0"           //nolint:gochecknoglobals
	serviceName = "cv-evaluator-go" //nolint:gochecknoglobals
)

// @title CV Evaluator API
// @version 1.0
// @description 候选人简历与项目报告的异步AI评估服务。
// @BasePath /api/v1
func main() {
	initLogger() // Initialize logger first

	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "internal/config/config.yaml", "Path to config file")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		glog.Fatalf("加载配置失败: %v", err)
	}
	glog.Info("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.InitProvider(ctx, tracing.ProviderConfig{
		Enabled:      cfg.Tracing.Enabled,
		Endpoint:     cfg.Tracing.Endpoint,
		SamplerRatio: cfg.Tracing.SamplerRatio,
		ServiceName:  serviceName,
		Version:      version,
	})
	if err != nil {
		glog.Fatalf("初始化链路追踪失败: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			glog.Warnf("关闭链路追踪失败: %v", err)
		}
	}()

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		glog.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()
	glog.Info("存储服务初始化成功")

	extractor, err := parser.NewExtractor(ctx)
	if err != nil {
		glog.Fatalf("初始化文档提取器失败: %v", err)
	}

	chatClient, err := llm.NewChatClient(cfg.LLM)
	if err != nil {
		glog.Fatalf("初始化LLM客户端失败: %v", err)
	}
	embedder, err := llm.NewEmbedder(cfg.Embedding)
	if err != nil {
		glog.Fatalf("初始化Embedding客户端失败: %v", err)
	}

	evaluationQueue, err := storage.NewEvaluationQueue(storageManager.RabbitMQ, &cfg.RabbitMQ)
	if err != nil {
		glog.Fatalf("初始化评估任务队列失败: %v", err)
	}

	pipeline, err := processor.NewPipeline(processor.PipelineDeps{
		Store:     storageManager.MySQL,
		Vectors:   storageManager.Qdrant,
		Chat:      chatClient,
		Embedder:  embedder,
		Extractor: extractor,
		Documents: storageManager.MinIO,
		Cache:     storageManager.Redis,
	}, &cfg.Pipeline)
	if err != nil {
		glog.Fatalf("初始化评估流水线失败: %v", err)
	}

	// 每个worker持有独立的消费信道，并发数由配置决定
	workers := make([]*processor.Worker, 0, cfg.RabbitMQ.ConsumerWorkers)
	for i := 0; i < cfg.RabbitMQ.ConsumerWorkers; i++ {
		worker, err := processor.NewWorker(evaluationQueue, pipeline, storageManager.MySQL, storageManager.Redis, processor.WorkerConfig{
			PrefetchCount: cfg.RabbitMQ.PrefetchCount,
			LockTTL:       storageManager.Redis.EvaluationLockTTL(),
		})
		if err != nil {
			glog.Fatalf("初始化评估Worker失败: %v", err)
		}
		if err := worker.Start(); err != nil {
			glog.Fatalf("启动评估Worker失败: %v", err)
		}
		workers = append(workers, worker)
	}
	glog.Infof("评估消费者已启动, 并发数: %d", cfg.RabbitMQ.ConsumerWorkers)

	authHandler, err := handler.NewAuthHandler(cfg, storageManager)
	if err != nil {
		glog.Fatalf("初始化认证处理器失败: %v", err)
	}
	handlers := router.Handlers{
		Auth:       authHandler,
		Candidate:  handler.NewCandidateHandler(cfg, storageManager),
		Job:        handler.NewJobHandler(storageManager),
		Evaluation: handler.NewEvaluationHandler(storageManager, evaluationQueue),
	}

	serverTracer, serverTracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		serverTracer,
	)
	h.Use(hertztracing.ServerMiddleware(serverTracerCfg))

	router.RegisterRoutes(h, cfg, handlers)
	glog.Infof("HTTP服务准备就绪, 监听地址: %s", cfg.Server.Address)

	go func() {
		if err := h.Run(); err != nil {
			glog.Errorf("HTTP服务异常退出: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("收到退出信号，开始优雅关闭")

	for _, worker := range workers {
		worker.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("HTTP服务关闭失败: %v", err)
	}
	glog.Info("服务已退出")
}

// initLogger 配置全局zerolog，并把Hertz的日志也接到同一输出
func initLogger() {
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}

	var writers []io.Writer
	writers = append(writers, consoleWriter)

	if err := os.MkdirAll("logs", 0o755); err == nil {
		logFile, err := os.OpenFile("logs/app.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			writers = append(writers, logFile)
		}
	}

	multi := zerolog.MultiLevelWriter(writers...)
	logger := zerolog.New(multi).With().Timestamp().Caller().Logger()

	appCoreLogger.Logger = logger
	zlog.Logger = logger

	adapter := hertzadapter.From(logger)
	glog.SetLogger(adapter)
}
