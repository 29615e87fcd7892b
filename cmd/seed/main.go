// seed 개발용 문제/시즌을 PostgreSQL에 등록하고, 요청하면 테스트용 JWT를 발급한다.
//
//	go run ./cmd/seed
//	go run ./cmd/seed -token alice -role admin
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/rl-arena/code-arena-backend/internal/config"
	"github.com/rl-arena/code-arena-backend/internal/repository"
	"github.com/rl-arena/code-arena-backend/internal/seed"
	"github.com/rl-arena/code-arena-backend/pkg/database"
	jwtutil "github.com/rl-arena/code-arena-backend/pkg/jwt"
	"github.com/rl-arena/code-arena-backend/pkg/logger"
)

func main() {
	tokenFor := flag.String("token", "", "issue a JWT for this player ID instead of seeding")
	role := flag.String("role", jwtutil.RolePlayer, "role claim for -token (player or admin)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Env, cfg.LogLevel)
	defer logger.Sync()

	if *tokenFor != "" {
		manager := jwtutil.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
		token, err := manager.Generate(*tokenFor, *tokenFor, *role)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set in environment")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.Connect(ctx, cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := repository.Migrate(ctx, db); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	n, err := seed.Load(ctx, repository.NewSeedRepository(db))
	if err != nil {
		log.Fatalf("Failed to seed: %v", err)
	}
	logger.Info("Seed completed", "problems", n, "season", seed.Season.ID)
}
