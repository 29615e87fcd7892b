package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rl-arena/code-arena-backend/internal/models"
	"github.com/rl-arena/code-arena-backend/pkg/database"
)

// ScoringRepository 경기 종료 후 원자적 갱신
type ScoringRepository struct {
	db *database.DB
}

func NewScoringRepository(db *database.DB) *ScoringRepository {
	return &ScoringRepository{db: db}
}

// RunScoring BEGIN → fn → COMMIT, fn 실패 시 ROLLBACK
func (r *ScoringRepository) RunScoring(ctx context.Context, fn func(tx ScoringTx) error) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(&scoringTx{tx: tx})
	})
}

type scoringTx struct {
	tx *sql.Tx
}

// LockMatch 경기 행을 잠근다 (동시에 두 번 채점되지 않도록)
func (t *scoringTx) LockMatch(ctx context.Context, matchID string) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1 FOR UPDATE`

	match, err := scanMatch(t.tx.QueryRowContext(ctx, query, matchID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("match %s: %w", matchID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock match: %w", err)
	}
	return match, nil
}

func (t *scoringTx) LoadRatings(ctx context.Context, playerIDs []string) (map[string]*models.RatingRecord, error) {
	query := `
		SELECT id, rating, total_matches, wins, losses
		FROM players
		WHERE id = ANY($1)
		FOR UPDATE
	`

	rows, err := t.tx.QueryContext(ctx, query, pq.Array(playerIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load ratings: %w", err)
	}
	defer rows.Close()

	ratings := make(map[string]*models.RatingRecord, len(playerIDs))
	for rows.Next() {
		rec := &models.RatingRecord{}
		if err := rows.Scan(&rec.PlayerID, &rec.Rating, &rec.TotalMatches, &rec.Wins, &rec.Losses); err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		ratings[rec.PlayerID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// 기록이 없는 플레이어는 기본 레이팅에서 시작
	for _, id := range playerIDs {
		if _, ok := ratings[id]; !ok {
			ratings[id] = &models.RatingRecord{PlayerID: id, Rating: models.DefaultRating}
		}
	}
	return ratings, nil
}

func (t *scoringTx) LoadStats(ctx context.Context, playerIDs []string) (map[string]*models.PlayerStats, error) {
	query := `
		SELECT player_id, total_accepted, current_win_streak, activity_streak_days, last_active_date
		FROM player_stats
		WHERE player_id = ANY($1)
		FOR UPDATE
	`

	rows, err := t.tx.QueryContext(ctx, query, pq.Array(playerIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load player stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]*models.PlayerStats, len(playerIDs))
	for rows.Next() {
		s := &models.PlayerStats{}
		if err := rows.Scan(&s.PlayerID, &s.TotalAccepted, &s.CurrentWinStreak, &s.ActivityStreakDays, &s.LastActiveDate); err != nil {
			return nil, fmt.Errorf("failed to scan player stats: %w", err)
		}
		stats[s.PlayerID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range playerIDs {
		if _, ok := stats[id]; !ok {
			stats[id] = &models.PlayerStats{PlayerID: id}
		}
	}
	return stats, nil
}

func (t *scoringTx) LoadAchievements(ctx context.Context, playerIDs []string) (map[string]map[models.AchievementCode]bool, error) {
	query := `SELECT player_id, code FROM achievements WHERE player_id = ANY($1)`

	rows, err := t.tx.QueryContext(ctx, query, pq.Array(playerIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load achievements: %w", err)
	}
	defer rows.Close()

	owned := make(map[string]map[models.AchievementCode]bool, len(playerIDs))
	for rows.Next() {
		var playerID string
		var code models.AchievementCode
		if err := rows.Scan(&playerID, &code); err != nil {
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}
		if owned[playerID] == nil {
			owned[playerID] = make(map[models.AchievementCode]bool)
		}
		owned[playerID][code] = true
	}
	return owned, rows.Err()
}

func (t *scoringTx) SaveParticipantResults(ctx context.Context, participants []*models.Participant) error {
	query := `
		UPDATE match_participants
		SET score = $1, rank = $2, rating_change = $3
		WHERE match_id = $4 AND player_id = $5
	`

	for _, p := range participants {
		if _, err := t.tx.ExecContext(ctx, query, p.Score, p.Rank, p.RatingChange, p.MatchID, p.PlayerID); err != nil {
			return fmt.Errorf("failed to save participant result: %w", err)
		}
	}
	return nil
}

func (t *scoringTx) SaveRatings(ctx context.Context, ratings []*models.RatingRecord) error {
	query := `
		INSERT INTO players (id, rating, total_matches, wins, losses)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET rating = EXCLUDED.rating,
		    total_matches = EXCLUDED.total_matches,
		    wins = EXCLUDED.wins,
		    losses = EXCLUDED.losses
	`

	for _, rec := range ratings {
		if _, err := t.tx.ExecContext(ctx, query, rec.PlayerID, rec.Rating, rec.TotalMatches, rec.Wins, rec.Losses); err != nil {
			return fmt.Errorf("failed to save rating: %w", err)
		}
	}
	return nil
}

func (t *scoringTx) SaveStats(ctx context.Context, stats []*models.PlayerStats) error {
	query := `
		INSERT INTO player_stats (player_id, total_accepted, current_win_streak, activity_streak_days, last_active_date)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (player_id) DO UPDATE
		SET total_accepted = EXCLUDED.total_accepted,
		    current_win_streak = EXCLUDED.current_win_streak,
		    activity_streak_days = EXCLUDED.activity_streak_days,
		    last_active_date = EXCLUDED.last_active_date
	`

	for _, s := range stats {
		if _, err := t.tx.ExecContext(ctx, query,
			s.PlayerID, s.TotalAccepted, s.CurrentWinStreak, s.ActivityStreakDays, s.LastActiveDate,
		); err != nil {
			return fmt.Errorf("failed to save player stats: %w", err)
		}
	}
	return nil
}

func (t *scoringTx) AddSeasonPoints(ctx context.Context, seasonID, playerID string, points int) error {
	query := `
		INSERT INTO season_points (season_id, player_id, points, matches_played)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (season_id, player_id) DO UPDATE
		SET points = season_points.points + EXCLUDED.points,
		    matches_played = season_points.matches_played + 1
	`

	if _, err := t.tx.ExecContext(ctx, query, seasonID, playerID, points); err != nil {
		return fmt.Errorf("failed to add season points: %w", err)
	}
	return nil
}

func (t *scoringTx) GrantAchievements(ctx context.Context, achievements []*models.Achievement) ([]*models.Achievement, error) {
	query := `
		INSERT INTO achievements (player_id, code, match_id, awarded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (player_id, code) DO NOTHING
	`

	granted := make([]*models.Achievement, 0, len(achievements))
	for _, a := range achievements {
		res, err := t.tx.ExecContext(ctx, query, a.PlayerID, a.Code, a.MatchID, a.AwardedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to grant achievement: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			granted = append(granted, a)
		}
	}
	return granted, nil
}

// MarkScored 채점 완료 표시. 이미 채점된 경기면 ErrAlreadyScored.
func (t *scoringTx) MarkScored(ctx context.Context, matchID string, winnerID *string, at time.Time) error {
	query := `
		UPDATE matches
		SET scored_at = $1, winner_id = $2, scoring_error = NULL
		WHERE id = $3 AND scored_at IS NULL
	`

	res, err := t.tx.ExecContext(ctx, query, at, winnerID, matchID)
	if err != nil {
		return fmt.Errorf("failed to mark match scored: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyScored
	}
	return nil
}
