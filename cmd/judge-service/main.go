package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"judgecore/internal/common/cache"
	commonmw "judgecore/internal/common/http/middleware"
	"judgecore/internal/common/mq"
	"judgecore/internal/common/storage"
	"judgecore/internal/judge/controller"
	"judgecore/internal/judge/executor"
	"judgecore/internal/judge/model"
	"judgecore/internal/judge/poller"
	"judgecore/internal/judge/repository"
	"judgecore/internal/judge/runner"
	"judgecore/internal/judge/service"
	"judgecore/internal/judge/testpack"
	"judgecore/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judge_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	envPath := flag.String("env", ".env", "Path to optional env file")
	flag.Parse()

	if err := loadEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return
	}
	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "judge service stopped", zap.Error(err))
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()
	languages := appCfg.languageTable()

	judge0, err := executor.NewJudge0Client(executor.Judge0Config{
		BaseURL:   appCfg.Executor.BaseURL,
		APIKey:    appCfg.Executor.APIKey,
		APIHost:   appCfg.Executor.APIHost,
		AuthToken: appCfg.Executor.AuthToken,
		Timeout:   appCfg.Executor.Timeout,
		Languages: languages,
	})
	if err != nil {
		return fmt.Errorf("init executor client failed: %w", err)
	}
	var execClient executor.Client = judge0
	if appCfg.Executor.Breaker.Enabled {
		execClient = executor.NewBreakerClient(judge0, appCfg.Executor.Breaker.Name)
	}

	testRunner := runner.New(execClient, poller.New(execClient, appCfg.Poller), appCfg.Orchestrator.TestDeadline)
	earlyExit, _ := model.ParseEarlyExitPolicy(appCfg.Orchestrator.EarlyExit)
	orchestrator, err := service.NewOrchestrator(testRunner, languages, service.OrchestratorConfig{
		MaxConcurrency: appCfg.Orchestrator.MaxConcurrency,
		EarlyExit:      earlyExit,
		MaxSourceBytes: appCfg.Orchestrator.MaxSourceBytes,
		MaxTestCases:   appCfg.Orchestrator.MaxTestCases,
	})
	if err != nil {
		return fmt.Errorf("init orchestrator failed: %w", err)
	}

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis failed: %w", err)
	}
	defer func() {
		_ = redisCache.Close()
	}()

	objStorage, err := buildStorage(ctx, appCfg)
	if err != nil {
		return err
	}
	packLoader, err := testpack.NewLoader(objStorage, appCfg.TestPack)
	if err != nil {
		return fmt.Errorf("init test pack loader failed: %w", err)
	}
	var archive *repository.ReportArchive
	if appCfg.Report.Enabled {
		archive, err = repository.NewReportArchive(objStorage, appCfg.Report.Bucket, appCfg.Report.Prefix)
		if err != nil {
			return fmt.Errorf("init report archive failed: %w", err)
		}
	}

	svcCfg := service.Config{
		Orchestrator:   orchestrator,
		StatusRepo:     repository.NewStatusRepository(redisCache, appCfg.Status.TTL),
		StatsRepo:      repository.NewStatsRepository(redisCache),
		Archive:        archive,
		Packs:          packLoader,
		Storage:        objStorage,
		SourceBucket:   appCfg.Source.Bucket,
		StorageTimeout: appCfg.Source.Timeout,
		StatusTimeout:  appCfg.Status.Timeout,
		LockTTL:        appCfg.Worker.LockTTL,
		MaxSourceBytes: appCfg.Orchestrator.MaxSourceBytes,
		WorkerPoolSize: appCfg.Worker.PoolSize,
		RetryTopic:     appCfg.Kafka.RetryTopic,
		DeadLetter:     appCfg.Kafka.DeadLetter,
		PoolRetryMax:   appCfg.Kafka.PoolRetryMax,
		PoolRetryBase:  appCfg.Kafka.PoolRetryBase,
		PoolRetryMaxD:  appCfg.Kafka.PoolRetryMaxD,
	}

	var mqClient *mq.KafkaQueue
	if len(appCfg.Kafka.Brokers) > 0 {
		mqClient, err = mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		defer func() {
			_ = mqClient.Close()
		}()
		svcCfg.Queue = mqClient
		svcCfg.Publisher = repository.NewMQStatusEventPublisher(mqClient, appCfg.Status.FinalTopic)
	} else {
		logger.Warn(ctx, "kafka brokers not configured, async judging disabled")
	}

	judgeSvc, err := service.NewService(svcCfg)
	if err != nil {
		return fmt.Errorf("init judge service failed: %w", err)
	}

	if mqClient != nil {
		if err := startConsumer(ctx, appCfg, mqClient, judgeSvc); err != nil {
			return err
		}
		defer func() {
			_ = mqClient.Stop()
		}()
	}

	var limiter *commonmw.RateLimiter
	if appCfg.Server.RateLimit.Enabled {
		limiter = commonmw.NewRateLimiter(redisCache, appCfg.Server.RateLimit.Prefix, appCfg.Server.RateLimit.Window, appCfg.Server.RateLimit.Timeout)
	}
	httpServer := buildHTTPServer(appCfg.Server, judgeSvc, limiter)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "judge http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	return nil
}

// buildStorage connects to MinIO, or falls back to process memory when no endpoint is set.
func buildStorage(ctx context.Context, appCfg *AppConfig) (storage.ObjectStorage, error) {
	if appCfg.MinIO.Endpoint == "" {
		logger.Warn(ctx, "minio endpoint not configured, using in-memory object storage")
		return storage.NewMemoryStorage(), nil
	}
	minioStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		return nil, fmt.Errorf("init minio failed: %w", err)
	}
	if appCfg.Report.Enabled {
		if err := minioStorage.EnsureBucket(ctx, appCfg.Report.Bucket); err != nil {
			return nil, fmt.Errorf("ensure report bucket failed: %w", err)
		}
	}
	return minioStorage, nil
}

func startConsumer(ctx context.Context, appCfg *AppConfig, mqClient *mq.KafkaQueue, judgeSvc *service.Service) error {
	if len(appCfg.Kafka.Topics) == 0 {
		return fmt.Errorf("kafka topics are required")
	}
	weightedTopics, err := appCfg.Kafka.weightedTopics()
	if err != nil {
		return err
	}
	limiter := mq.NewTokenLimiter(appCfg.Worker.PoolSize)
	err = mqClient.SubscribeWeighted(ctx, weightedTopics, judgeSvc.HandleMessage, &mq.SubscribeOptions{
		ConsumerGroup:   appCfg.Kafka.ConsumerGroup,
		MaxRetries:      appCfg.Kafka.MaxRetries,
		RetryDelay:      appCfg.Kafka.RetryDelay,
		MaxRetryDelay:   appCfg.Kafka.MaxRetryDelay,
		DeadLetterTopic: appCfg.Kafka.DeadLetter,
		MessageTTL:      appCfg.Kafka.MessageTTL,
	}, limiter)
	if err != nil {
		return fmt.Errorf("subscribe kafka failed: %w", err)
	}
	if err := mqClient.Start(); err != nil {
		return fmt.Errorf("start kafka consumer failed: %w", err)
	}
	logger.Info(ctx, "judge consumer started", zap.Int("topics", len(weightedTopics)), zap.Int("pool_size", appCfg.Worker.PoolSize))
	return nil
}

func buildHTTPServer(cfg ServerConfig, judgeSvc *service.Service, limiter *commonmw.RateLimiter) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.CORSMiddleware(cfg.CORS))
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.RequestLogger())

	var guards controller.RouteGuards
	if limiter != nil {
		guards.Evaluate = []gin.HandlerFunc{commonmw.RateLimitMiddleware(limiter, "evaluate", cfg.RateLimit.Evaluate)}
		guards.Run = []gin.HandlerFunc{commonmw.RateLimitMiddleware(limiter, "run", cfg.RateLimit.Run)}
	}
	controller.NewJudgeController(judgeSvc).Register(router.Group("/api/v1/judge"), guards)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
