package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rl-arena/code-arena-backend/internal/models"
	"github.com/rl-arena/code-arena-backend/pkg/database"
)

// SeedRepository 개발/테스트 환경용 문제와 시즌 등록 (운영에서는 CRUD 서비스가 소유)
type SeedRepository struct {
	db *database.DB
}

func NewSeedRepository(db *database.DB) *SeedRepository {
	return &SeedRepository{db: db}
}

// UpsertProblem 문제 등록. 같은 ID가 있으면 덮어쓴다.
func (r *SeedRepository) UpsertProblem(ctx context.Context, p models.Problem) error {
	tests, err := json.Marshal(p.TestCases)
	if err != nil {
		return fmt.Errorf("failed to encode test cases: %w", err)
	}

	query := `
		INSERT INTO problems (id, title, description, difficulty, time_limit_ms, memory_limit_kb, test_cases)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			difficulty = EXCLUDED.difficulty,
			time_limit_ms = EXCLUDED.time_limit_ms,
			memory_limit_kb = EXCLUDED.memory_limit_kb,
			test_cases = EXCLUDED.test_cases
	`
	if _, err := r.db.ExecContext(ctx, query,
		p.ID, p.Title, p.Description, p.Difficulty, p.TimeLimitMs, p.MemoryLimitKb, tests,
	); err != nil {
		return fmt.Errorf("failed to upsert problem %s: %w", p.ID, err)
	}
	return nil
}

// ActivateSeason 시즌을 등록하고 유일한 활성 시즌으로 만든다
func (r *SeedRepository) ActivateSeason(ctx context.Context, s models.Season) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE seasons SET active = FALSE WHERE id <> $1`, s.ID); err != nil {
			return fmt.Errorf("failed to deactivate seasons: %w", err)
		}
		query := `
			INSERT INTO seasons (id, name, active)
			VALUES ($1, $2, TRUE)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, active = TRUE
		`
		if _, err := tx.ExecContext(ctx, query, s.ID, s.Name); err != nil {
			return fmt.Errorf("failed to activate season %s: %w", s.ID, err)
		}
		return nil
	})
}
