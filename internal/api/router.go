package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rl-arena/code-arena-backend/internal/api/handlers"
	"github.com/rl-arena/code-arena-backend/internal/api/middleware"
	"github.com/rl-arena/code-arena-backend/internal/config"
	"github.com/rl-arena/code-arena-backend/internal/repository"
	"github.com/rl-arena/code-arena-backend/internal/service"
	"github.com/rl-arena/code-arena-backend/internal/websocket"
	jwtutil "github.com/rl-arena/code-arena-backend/pkg/jwt"
	"go.uber.org/zap"
)

// Dependencies 라우터가 쓰는 서비스들. main이 생성과 수명을 책임진다.
type Dependencies struct {
	Config      *config.Config
	JWT         *jwtutil.JWTManager
	Hub         *websocket.Hub
	Catalog     repository.CatalogStore
	Matchmaking *service.MatchmakingService
	Matches     *service.MatchService
	Submissions *service.SubmissionService
	// DeadLetters nil이면 재처리 큐 없이 동작
	DeadLetters handlers.DeadLetterSource
	Gatherer    prometheus.Gatherer
	Logger      *zap.Logger
}

// SetupRouter API 라우터 설정. 반환된 함수는 라우터가 만든 백그라운드 자원을 정리한다.
func SetupRouter(deps Dependencies) (*gin.Engine, func()) {
	cfg := deps.Config
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router := gin.New()

	// 전역 미들웨어
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger.Named("http")))
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// 실시간 명령 처리기 연결
	deps.Hub.SetHandler(handlers.NewRealtime(
		deps.Matchmaking,
		deps.Matches,
		deps.Submissions,
		deps.Hub,
		logger.Named("realtime"),
	))

	// Handler 초기화
	wsHandler := handlers.NewWebSocketHandler(deps.Hub)
	queueHandler := handlers.NewQueueHandler(deps.Matchmaking)
	matchHandler := handlers.NewMatchHandler(deps.Matches)
	submissionHandler := handlers.NewSubmissionHandler(deps.Submissions)
	playerHandler := handlers.NewPlayerHandler(deps.Catalog, logger)
	reconcileHandler := handlers.NewReconciliationHandler(deps.DeadLetters, logger)

	auth := middleware.Auth(deps.JWT)
	apiLimit, stopLimiter := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		PerMinute: cfg.HTTPRatePerMinute,
		KeyFunc:   middleware.DefaultKeyFunc,
	})

	// Health check / metrics
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API v1
	v1 := router.Group("/api/v1")
	{
		// WebSocket endpoint
		v1.GET("/ws", auth, wsHandler.HandleWebSocket)

		queue := v1.Group("/queue", apiLimit)
		{
			queue.GET("/stats", queueHandler.GetStats)
			queue.GET("/status", auth, queueHandler.GetStatus)
		}

		players := v1.Group("/players", apiLimit)
		{
			players.GET("/:id/rating", playerHandler.GetRating)
			players.GET("/:id/matches/active", matchHandler.ListActiveForPlayer)
		}

		matches := v1.Group("/matches", apiLimit)
		{
			matches.GET("/:id", matchHandler.GetMatch)
			matches.GET("/:id/scoreboard", matchHandler.GetScoreboard)
		}

		// 경기 밖 연습 제출. 경기 제출은 웹소켓 match:submit으로만 받는다.
		v1.POST("/practice/submissions", auth, apiLimit, submissionHandler.CreatePractice)
		v1.GET("/submissions/:id", auth, apiLimit, submissionHandler.GetSubmission)

		admin := v1.Group("/admin", auth, middleware.AdminOnly())
		{
			admin.POST("/matches/:id/end", matchHandler.ForceEnd)
			admin.GET("/reconciliation", reconcileHandler.GetStatus)
		}
	}

	return router, stopLimiter
}
