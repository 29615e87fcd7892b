package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rl-arena/code-arena-backend/internal/models"
	"github.com/rl-arena/code-arena-backend/pkg/database"
)

// CatalogRepository 플레이어 레이팅, 문제, 시즌 조회
type CatalogRepository struct {
	db *database.DB
}

func NewCatalogRepository(db *database.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// GetRating 플레이어 레이팅 조회 (기록이 없는 플레이어는 기본값)
func (r *CatalogRepository) GetRating(ctx context.Context, playerID string) (*models.RatingRecord, error) {
	query := `SELECT id, rating, total_matches, wins, losses FROM players WHERE id = $1`

	rec := &models.RatingRecord{}
	err := r.db.QueryRowContext(ctx, query, playerID).Scan(
		&rec.PlayerID,
		&rec.Rating,
		&rec.TotalMatches,
		&rec.Wins,
		&rec.Losses,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.RatingRecord{PlayerID: playerID, Rating: models.DefaultRating}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rating: %w", err)
	}
	return rec, nil
}

func scanProblem(row rowScanner) (*models.Problem, error) {
	p := &models.Problem{}
	var tests []byte
	if err := row.Scan(
		&p.ID,
		&p.Title,
		&p.Description,
		&p.Difficulty,
		&p.TimeLimitMs,
		&p.MemoryLimitKb,
		&tests,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tests, &p.TestCases); err != nil {
		return nil, fmt.Errorf("failed to decode test cases: %w", err)
	}
	return p, nil
}

// PickProblem 난이도에 맞는 문제 하나 선택
func (r *CatalogRepository) PickProblem(ctx context.Context, difficulty models.Difficulty) (*models.Problem, error) {
	query := `
		SELECT id, title, description, difficulty, time_limit_ms, memory_limit_kb, test_cases
		FROM problems
		WHERE difficulty = $1 AND jsonb_array_length(test_cases) > 0
		ORDER BY random()
		LIMIT 1
	`

	p, err := scanProblem(r.db.QueryRowContext(ctx, query, difficulty))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", difficulty, ErrNoProblemAvailable)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pick problem: %w", err)
	}
	return p, nil
}

// GetProblem ID로 문제 찾기
func (r *CatalogRepository) GetProblem(ctx context.Context, problemID string) (*models.Problem, error) {
	query := `
		SELECT id, title, description, difficulty, time_limit_ms, memory_limit_kb, test_cases
		FROM problems
		WHERE id = $1
	`

	p, err := scanProblem(r.db.QueryRowContext(ctx, query, problemID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("problem %s: %w", problemID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find problem: %w", err)
	}
	return p, nil
}

// ActiveSeason 진행 중인 시즌 (없으면 nil)
func (r *CatalogRepository) ActiveSeason(ctx context.Context) (*models.Season, error) {
	query := `SELECT id, name, active FROM seasons WHERE active ORDER BY starts_at DESC LIMIT 1`

	s := &models.Season{}
	err := r.db.QueryRowContext(ctx, query).Scan(&s.ID, &s.Name, &s.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active season: %w", err)
	}
	return s, nil
}
