package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Database (비어 있으면 인메모리 저장소)
	DatabaseURL string

	// Redis (비어 있으면 채점 재처리 큐 비활성화)
	RedisURL string

	// JWT
	JWTSecret     string
	JWTExpiration time.Duration

	// CORS
	CORSAllowedOrigins []string

	// Matchmaking
	MatchmakingInterval   time.Duration
	ToleranceBase         int
	ToleranceStep         int
	ToleranceMax          int
	ToleranceStepInterval time.Duration
	HardCeiling           time.Duration
	TeamSize1v1           int
	TeamSize2v2           int
	TeamSizeFFA           int

	// Match lifecycle
	MatchDuration    time.Duration
	LobbyTimeout     time.Duration
	TimeSyncInterval time.Duration

	// Judge
	JudgeURL     string
	JudgeTimeout time.Duration

	// Submissions
	SubmissionRatePerMinute int
	HTTPRatePerMinute       int

	// Scoring
	ScoringRetryAttempts int
	ScoringRetryBackoff  time.Duration
	ReconcileInterval    time.Duration
	ReconcileMaxAttempts int
}

func Load() (*Config, error) {
	// .env 파일 로드 (있는 경우)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                    getEnv("PORT", "8080"),
		Env:                     getEnv("ENV", "development"),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		RedisURL:                getEnv("REDIS_URL", ""),
		JWTSecret:               getEnv("JWT_SECRET", "your-secret-key"),
		JWTExpiration:           parseDuration(getEnv("JWT_EXPIRATION", "24h"), 24*time.Hour),
		CORSAllowedOrigins:      parseList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		MatchmakingInterval:     parseDuration(getEnv("MATCHMAKING_INTERVAL", "5s"), 5*time.Second),
		ToleranceBase:           parseInt(getEnv("TOLERANCE_BASE", "100"), 100),
		ToleranceStep:           parseInt(getEnv("TOLERANCE_STEP", "50"), 50),
		ToleranceMax:            parseInt(getEnv("TOLERANCE_MAX", "300"), 300),
		ToleranceStepInterval:   parseDuration(getEnv("TOLERANCE_STEP_INTERVAL", "20s"), 20*time.Second),
		HardCeiling:             parseDuration(getEnv("HARD_CEILING", "60s"), 60*time.Second),
		TeamSize1v1:             parseInt(getEnv("TEAM_SIZE_1V1", "2"), 2),
		TeamSize2v2:             parseInt(getEnv("TEAM_SIZE_2V2", "4"), 4),
		TeamSizeFFA:             parseInt(getEnv("TEAM_SIZE_FFA", "3"), 3),
		MatchDuration:           parseDuration(getEnv("MATCH_DURATION", "15m"), 15*time.Minute),
		LobbyTimeout:            parseDuration(getEnv("LOBBY_TIMEOUT", "15s"), 15*time.Second),
		TimeSyncInterval:        parseDuration(getEnv("TIME_SYNC_INTERVAL", "5s"), 5*time.Second),
		JudgeURL:                getEnv("JUDGE_URL", "http://localhost:8081"),
		JudgeTimeout:            parseDuration(getEnv("JUDGE_TIMEOUT", "30s"), 30*time.Second),
		SubmissionRatePerMinute: parseInt(getEnv("SUBMISSION_RATE", "10"), 10),
		HTTPRatePerMinute:       parseInt(getEnv("HTTP_RATE", "120"), 120),
		ScoringRetryAttempts:    parseInt(getEnv("SCORING_RETRY_ATTEMPTS", "3"), 3),
		ScoringRetryBackoff:     parseDuration(getEnv("SCORING_RETRY_BACKOFF", "200ms"), 200*time.Millisecond),
		ReconcileInterval:       parseDuration(getEnv("RECONCILE_INTERVAL", "30s"), 30*time.Second),
		ReconcileMaxAttempts:    parseInt(getEnv("RECONCILE_MAX_ATTEMPTS", "5"), 5),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 값 사이의 관계 확인
func (c *Config) Validate() error {
	if c.ToleranceBase < 0 || c.ToleranceStep < 0 {
		return fmt.Errorf("tolerance base and step must be non-negative")
	}
	if c.ToleranceMax < c.ToleranceBase {
		return fmt.Errorf("TOLERANCE_MAX (%d) is below TOLERANCE_BASE (%d)", c.ToleranceMax, c.ToleranceBase)
	}
	if c.TeamSize1v1 < 2 || c.TeamSizeFFA < 2 {
		return fmt.Errorf("categories need at least two players")
	}
	if c.TeamSize2v2 < 2 || c.TeamSize2v2%2 != 0 {
		return fmt.Errorf("TEAM_SIZE_2V2 must be an even number of at least 2")
	}
	if c.MatchDuration <= 0 || c.JudgeTimeout <= 0 {
		return fmt.Errorf("MATCH_DURATION and JUDGE_TIMEOUT must be positive")
	}
	if c.ScoringRetryAttempts < 1 {
		return fmt.Errorf("SCORING_RETRY_ATTEMPTS must be at least 1")
	}
	return nil
}

// IsProduction 운영 환경 여부
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return n
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
