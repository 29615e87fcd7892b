package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rl-arena/code-arena-backend/internal/models"
	"github.com/rl-arena/code-arena-backend/pkg/database"
)

const matchColumns = `
	id, category, problem_id, difficulty, status, start_time, end_time,
	duration_seconds, season_id, concluded_reason, winner_id, completed_at,
	scored_at, scoring_error, created_at`

const participantColumns = `
	match_id, player_id, team_number, score, rank, submission_count,
	last_submission_at, join_order, joined_at, rating_before, rating_change`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMatch(row rowScanner) (*models.Match, error) {
	match := &models.Match{}
	var reason sql.NullString
	err := row.Scan(
		&match.ID,
		&match.Category,
		&match.ProblemID,
		&match.Difficulty,
		&match.Status,
		&match.StartTime,
		&match.EndTime,
		&match.DurationSeconds,
		&match.SeasonID,
		&reason,
		&match.WinnerID,
		&match.CompletedAt,
		&match.ScoredAt,
		&match.ScoringError,
		&match.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if reason.Valid {
		r := models.ConclusionReason(reason.String)
		match.ConcludedReason = &r
	}
	return match, nil
}

func scanParticipant(row rowScanner) (*models.Participant, error) {
	p := &models.Participant{}
	err := row.Scan(
		&p.MatchID,
		&p.PlayerID,
		&p.TeamNumber,
		&p.Score,
		&p.Rank,
		&p.SubmissionCount,
		&p.LastSubmissionAt,
		&p.JoinOrder,
		&p.JoinedAt,
		&p.RatingBefore,
		&p.RatingChange,
	)
	return p, err
}

type MatchRepository struct {
	db *database.DB
}

func NewMatchRepository(db *database.DB) *MatchRepository {
	return &MatchRepository{db: db}
}

// CreateMatch 경기와 최초 참가자 명단을 함께 저장
func (r *MatchRepository) CreateMatch(ctx context.Context, match *models.Match, participants []*models.Participant) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO matches (id, category, problem_id, difficulty, status, duration_seconds, season_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		if _, err := tx.ExecContext(ctx, query,
			match.ID,
			match.Category,
			match.ProblemID,
			match.Difficulty,
			match.Status,
			match.DurationSeconds,
			match.SeasonID,
			match.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to create match: %w", err)
		}

		for _, p := range participants {
			if err := insertParticipant(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertParticipant(ctx context.Context, db execer, p *models.Participant) error {
	query := `
		INSERT INTO match_participants
			(match_id, player_id, team_number, score, submission_count, join_order, joined_at, rating_before)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := db.ExecContext(ctx, query,
		p.MatchID,
		p.PlayerID,
		p.TeamNumber,
		p.Score,
		p.SubmissionCount,
		p.JoinOrder,
		p.JoinedAt,
		p.RatingBefore,
	); err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}
	return nil
}

// UpdateMatchState 상태 전이 저장
// 현재 상태보다 앞선 상태로만 갱신되도록 WHERE 절에서 막는다.
func (r *MatchRepository) UpdateMatchState(ctx context.Context, match *models.Match) error {
	query := `
		UPDATE matches
		SET status = $1,
		    start_time = $2,
		    end_time = $3,
		    duration_seconds = $4,
		    concluded_reason = $5,
		    completed_at = $6
		WHERE id = $7
		  AND (status = $1 OR
		       (status = 'waiting') OR
		       (status = 'in_progress' AND $1 = 'completed'))
	`

	var reason *string
	if match.ConcludedReason != nil {
		s := string(*match.ConcludedReason)
		reason = &s
	}

	res, err := r.db.ExecContext(ctx, query,
		match.Status,
		match.StartTime,
		match.EndTime,
		match.DurationSeconds,
		reason,
		match.CompletedAt,
		match.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update match state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update match state: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("match %s: %w", match.ID, ErrNotFound)
	}
	return nil
}

// AddParticipant 대기실에 참가자 추가
func (r *MatchRepository) AddParticipant(ctx context.Context, p *models.Participant) error {
	return insertParticipant(ctx, r.db, p)
}

// RemoveParticipant 대기실에서 참가자 제거
func (r *MatchRepository) RemoveParticipant(ctx context.Context, matchID, playerID string) error {
	query := `DELETE FROM match_participants WHERE match_id = $1 AND player_id = $2`

	if _, err := r.db.ExecContext(ctx, query, matchID, playerID); err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}
	return nil
}

// UpdateParticipantProgress 경기 중 진행 상황 저장 (점수는 줄어들지 않는다)
func (r *MatchRepository) UpdateParticipantProgress(ctx context.Context, p *models.Participant) error {
	query := `
		UPDATE match_participants
		SET score = GREATEST(score, $1),
		    submission_count = GREATEST(submission_count, $2),
		    last_submission_at = $3
		WHERE match_id = $4 AND player_id = $5
	`

	if _, err := r.db.ExecContext(ctx, query,
		p.Score,
		p.SubmissionCount,
		p.LastSubmissionAt,
		p.MatchID,
		p.PlayerID,
	); err != nil {
		return fmt.Errorf("failed to update participant progress: %w", err)
	}
	return nil
}

// GetMatch ID로 경기 찾기
func (r *MatchRepository) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`

	match, err := scanMatch(r.db.QueryRowContext(ctx, query, matchID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("match %s: %w", matchID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find match: %w", err)
	}
	return match, nil
}

// ListParticipants 참가 순서대로 참가자 목록
func (r *MatchRepository) ListParticipants(ctx context.Context, matchID string) ([]*models.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM match_participants WHERE match_id = $1 ORDER BY join_order`

	rows, err := r.db.QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	var participants []*models.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// MarkScoringFailed 채점 실패 표시 (운영자 조치 대상)
func (r *MatchRepository) MarkScoringFailed(ctx context.Context, matchID, reason string) error {
	query := `UPDATE matches SET scoring_error = $1 WHERE id = $2 AND scored_at IS NULL`

	if _, err := r.db.ExecContext(ctx, query, reason, matchID); err != nil {
		return fmt.Errorf("failed to mark scoring failure: %w", err)
	}
	return nil
}
