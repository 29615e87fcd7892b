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

const submissionColumns = `
	id, match_id, player_id, problem_id, code, language, status,
	execution_time_ms, memory_used_kb, passed_tests, total_tests,
	test_results, score, score_breakdown, error_message, submitted_at, judged_at`

type SubmissionRepository struct {
	db *database.DB
}

func NewSubmissionRepository(db *database.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// CreateSubmission pending 상태로 제출 저장
func (r *SubmissionRepository) CreateSubmission(ctx context.Context, s *models.Submission) error {
	query := `
		INSERT INTO submissions (id, match_id, player_id, problem_id, code, language, status, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	if _, err := r.db.ExecContext(ctx, query,
		s.ID,
		s.MatchID,
		s.PlayerID,
		s.ProblemID,
		s.Code,
		s.Language,
		s.Status,
		s.SubmittedAt,
	); err != nil {
		return fmt.Errorf("failed to create submission: %w", err)
	}
	return nil
}

// MarkRunning pending → running
func (r *SubmissionRepository) MarkRunning(ctx context.Context, submissionID string) (bool, error) {
	query := `UPDATE submissions SET status = 'running' WHERE id = $1 AND status = 'pending'`

	res, err := r.db.ExecContext(ctx, query, submissionID)
	if err != nil {
		return false, fmt.Errorf("failed to mark submission running: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FinalizeSubmission 종료 상태로 한 번만 갱신
// 이미 종료된 제출이면 false를 반환하고 아무것도 바꾸지 않는다.
func (r *SubmissionRepository) FinalizeSubmission(ctx context.Context, s *models.Submission) (bool, error) {
	if !s.Status.IsTerminal() {
		return false, fmt.Errorf("submission %s: status %s is not terminal", s.ID, s.Status)
	}

	testResults, err := json.Marshal(s.TestResults)
	if err != nil {
		return false, fmt.Errorf("failed to marshal test results: %w", err)
	}
	// jsonb 컬럼에는 문자열로 넘긴다 (pq는 []byte를 bytea로 보낸다)
	var breakdown *string
	if s.ScoreBreakdown != nil {
		raw, err := json.Marshal(s.ScoreBreakdown)
		if err != nil {
			return false, fmt.Errorf("failed to marshal score breakdown: %w", err)
		}
		b := string(raw)
		breakdown = &b
	}

	query := `
		UPDATE submissions
		SET status = $1,
		    execution_time_ms = $2,
		    memory_used_kb = $3,
		    passed_tests = $4,
		    total_tests = $5,
		    test_results = $6,
		    score = $7,
		    score_breakdown = $8,
		    error_message = $9,
		    judged_at = $10
		WHERE id = $11 AND status IN ('pending', 'running')
	`

	res, err := r.db.ExecContext(ctx, query,
		s.Status,
		s.ExecutionTimeMs,
		s.MemoryUsedKb,
		s.PassedTests,
		s.TotalTests,
		string(testResults),
		s.Score,
		breakdown,
		s.ErrorMessage,
		s.JudgedAt,
		s.ID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to finalize submission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func scanSubmission(row rowScanner) (*models.Submission, error) {
	s := &models.Submission{}
	var testResults, breakdown []byte
	err := row.Scan(
		&s.ID,
		&s.MatchID,
		&s.PlayerID,
		&s.ProblemID,
		&s.Code,
		&s.Language,
		&s.Status,
		&s.ExecutionTimeMs,
		&s.MemoryUsedKb,
		&s.PassedTests,
		&s.TotalTests,
		&testResults,
		&s.Score,
		&breakdown,
		&s.ErrorMessage,
		&s.SubmittedAt,
		&s.JudgedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(testResults) > 0 {
		if err := json.Unmarshal(testResults, &s.TestResults); err != nil {
			return nil, fmt.Errorf("failed to decode test results: %w", err)
		}
	}
	if len(breakdown) > 0 {
		s.ScoreBreakdown = &models.ScoreBreakdown{}
		if err := json.Unmarshal(breakdown, s.ScoreBreakdown); err != nil {
			return nil, fmt.Errorf("failed to decode score breakdown: %w", err)
		}
	}
	return s, nil
}

// GetSubmission ID로 제출 찾기
func (r *SubmissionRepository) GetSubmission(ctx context.Context, submissionID string) (*models.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE id = $1`

	s, err := scanSubmission(r.db.QueryRowContext(ctx, query, submissionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("submission %s: %w", submissionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find submission: %w", err)
	}
	return s, nil
}

// ListMatchSubmissions 경기의 제출을 제출 순서대로
func (r *SubmissionRepository) ListMatchSubmissions(ctx context.Context, matchID string) ([]*models.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE match_id = $1 ORDER BY submitted_at, id`

	rows, err := r.db.QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var submissions []*models.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		submissions = append(submissions, s)
	}
	return submissions, rows.Err()
}
