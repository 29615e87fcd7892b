package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rl-arena/code-arena-backend/internal/api"
	"github.com/rl-arena/code-arena-backend/internal/api/handlers"
	"github.com/rl-arena/code-arena-backend/internal/config"
	"github.com/rl-arena/code-arena-backend/internal/models"
	"github.com/rl-arena/code-arena-backend/internal/repository"
	"github.com/rl-arena/code-arena-backend/internal/repository/memory"
	"github.com/rl-arena/code-arena-backend/internal/seed"
	"github.com/rl-arena/code-arena-backend/internal/service"
	"github.com/rl-arena/code-arena-backend/internal/websocket"
	"github.com/rl-arena/code-arena-backend/pkg/database"
	"github.com/rl-arena/code-arena-backend/pkg/distributed"
	"github.com/rl-arena/code-arena-backend/pkg/judge"
	jwtutil "github.com/rl-arena/code-arena-backend/pkg/jwt"
	"github.com/rl-arena/code-arena-backend/pkg/logger"
	"github.com/rl-arena/code-arena-backend/pkg/metrics"
	"go.uber.org/zap"
)

func main() {
	// 설정 로드
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 로거 초기화
	logger.Init(cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	lg := logger.Named("server")

	lg.Info("Starting Code Arena Backend",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// 저장소 (DATABASE_URL이 없으면 인메모리)
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		lg.Fatal("Failed to open store", zap.Error(err))
	}
	defer closeStore()

	// Redis (REDIS_URL이 없으면 재처리 큐와 분산 락 없이 동작)
	var (
		reconcileQueue *distributed.ReconcileQueue
		enqueuer       service.ReconcileEnqueuer
		locks          service.ScoringLocker
		deadLetters    handlers.DeadLetterSource
	)
	if cfg.RedisURL != "" {
		client, err := connectRedis(ctx, cfg.RedisURL)
		if err != nil {
			lg.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer client.Close()

		owner := fmt.Sprintf("%s-%s", hostname(), uuid.NewString()[:8])
		reconcileQueue = distributed.NewReconcileQueue(client, "codearena")
		enqueuer = reconcileQueue
		deadLetters = reconcileQueue
		locks = distributed.NewRedisLockManager(client, "codearena:lock:", owner)
		lg.Info("Redis connection established", zap.String("owner", owner))
	}

	// Service 초기화
	hub := websocket.NewHub(m, logger.Named("websocket"))

	scoring := service.NewScoringService(
		store,
		service.NewELOService(),
		enqueuer,
		locks,
		m,
		logger.Named("scoring"),
		service.ScoringConfig{
			RetryAttempts:        cfg.ScoringRetryAttempts,
			RetryBackoff:         cfg.ScoringRetryBackoff,
			ReconcileMaxAttempts: cfg.ReconcileMaxAttempts,
			LockTTL:              30 * time.Second,
		},
	)

	submissionCfg := service.SubmissionConfig{
		JudgeTimeout:  cfg.JudgeTimeout,
		RatePerMinute: cfg.SubmissionRatePerMinute,
		StoreTimeout:  5 * time.Second,
		SettleBackoff: time.Second,
	}

	lifecycle := service.DefaultLifecycleConfig()
	lifecycle.MatchDuration = cfg.MatchDuration
	lifecycle.LobbyTimeout = cfg.LobbyTimeout
	lifecycle.TimeSyncInterval = cfg.TimeSyncInterval
	// 종료 시 이미 받은 제출의 결과가 모두 나올 때까지 기다린다
	lifecycle.ConclusionWait = submissionCfg.JudgingBudget() + 5*time.Second
	matches := service.NewMatchService(store, scoring, hub, m, logger.Named("match"), lifecycle)

	matcher := service.NewMatcher(service.MatcherConfig{
		ToleranceBase: cfg.ToleranceBase,
		ToleranceStep: cfg.ToleranceStep,
		ToleranceMax:  cfg.ToleranceMax,
		StepInterval:  cfg.ToleranceStepInterval,
		HardCeiling:   cfg.HardCeiling,
		GroupSizes: map[models.Category]int{
			models.Category1v1: cfg.TeamSize1v1,
			models.Category2v2: cfg.TeamSize2v2,
			models.CategoryFFA: cfg.TeamSizeFFA,
		},
	})
	matchmaking := service.NewMatchmakingService(
		service.NewQueueStore(models.AllCategories, nil),
		matcher,
		matches,
		store,
		hub,
		m,
		logger.Named("matchmaking"),
		cfg.MatchmakingInterval,
	)
	matches.SetRequeuer(matchmaking)

	submissions := service.NewSubmissionService(
		store,
		matches,
		judge.NewClient(cfg.JudgeURL),
		hub,
		m,
		logger.Named("submission"),
		submissionCfg,
	)

	var reconciler *service.Reconciler
	if reconcileQueue != nil {
		reconciler = service.NewReconciler(reconcileQueue, scoring, service.ReconcilerConfig{
			Interval: cfg.ReconcileInterval,
			Backoff:  cfg.ScoringRetryBackoff,
		}, logger.Named("reconciler"))
	}

	// 라우터 설정
	router, stopRouter := api.SetupRouter(api.Dependencies{
		Config:      cfg,
		JWT:         jwtutil.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration),
		Hub:         hub,
		Catalog:     store,
		Matchmaking: matchmaking,
		Matches:     matches,
		Submissions: submissions,
		DeadLetters: deadLetters,
		Gatherer:    registry,
		Logger:      logger.Named("api"),
	})

	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)
	matchmaking.Start()
	if reconciler != nil {
		reconciler.Start()
	}

	// 서버 설정. WebSocket 연결이 있으므로 WriteTimeout은 두지 않는다.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// 서버 시작 (고루틴)
	serverErr := make(chan error, 1)
	go func() {
		lg.Info("Server listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown 대기
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		lg.Error("Server failed", zap.Error(err))
	}

	lg.Info("Shutting down server...")

	// 새 대기열 매칭을 멈추고, 진행 중인 채점을 마친 뒤 연결을 닫는다
	matchmaking.Stop()
	if reconciler != nil {
		reconciler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("Server forced to shutdown", zap.Error(err))
	}

	submissions.Stop()
	matches.Stop()
	stopRouter()
	stopHub()

	lg.Info("Server exited")
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, func(), error) {
	lg := logger.Named("store")
	if cfg.DatabaseURL == "" {
		store := memory.New()
		n, err := seed.Load(ctx, store)
		if err != nil {
			return nil, nil, err
		}
		lg.Warn("DATABASE_URL not set, using in-memory store", zap.Int("problems", n))
		return store, func() {}, nil
	}

	db, err := database.Connect(ctx, cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, nil, err
	}
	if err := repository.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	lg.Info("Database connection established")
	return repository.NewPostgresStore(db), func() { _ = db.Close() }, nil
}

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "code-arena"
	}
	return name
}
