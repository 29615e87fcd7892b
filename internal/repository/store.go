package repository

import (
	"context"
	"errors"
	"time"

	"github.com/rl-arena/code-arena-backend/internal/models"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrNoProblemAvailable = errors.New("no eligible problem available")
	ErrAlreadyScored      = errors.New("match already scored")
)

// MatchStore 경기/참가자 영속화
type MatchStore interface {
	CreateMatch(ctx context.Context, match *models.Match, participants []*models.Participant) error
	// UpdateMatchState 상태, 시작/종료 시각, 종료 사유 저장. 상태는 앞으로만 이동한다.
	UpdateMatchState(ctx context.Context, match *models.Match) error
	AddParticipant(ctx context.Context, p *models.Participant) error
	RemoveParticipant(ctx context.Context, matchID, playerID string) error
	// UpdateParticipantProgress 점수, 제출 수, 마지막 제출 시각 저장
	UpdateParticipantProgress(ctx context.Context, p *models.Participant) error
	GetMatch(ctx context.Context, matchID string) (*models.Match, error)
	ListParticipants(ctx context.Context, matchID string) ([]*models.Participant, error)
	MarkScoringFailed(ctx context.Context, matchID, reason string) error
}

// SubmissionStore 제출 영속화. 상태 전이는 compare-and-set 이다.
type SubmissionStore interface {
	CreateSubmission(ctx context.Context, s *models.Submission) error
	MarkRunning(ctx context.Context, submissionID string) (bool, error)
	FinalizeSubmission(ctx context.Context, s *models.Submission) (bool, error)
	GetSubmission(ctx context.Context, submissionID string) (*models.Submission, error)
	ListMatchSubmissions(ctx context.Context, matchID string) ([]*models.Submission, error)
}

// CatalogStore 외부 CRUD 계층이 소유한 플레이어/문제/시즌 읽기
type CatalogStore interface {
	GetRating(ctx context.Context, playerID string) (*models.RatingRecord, error)
	PickProblem(ctx context.Context, difficulty models.Difficulty) (*models.Problem, error)
	GetProblem(ctx context.Context, problemID string) (*models.Problem, error)
	ActiveSeason(ctx context.Context) (*models.Season, error)
}

// ScoringTx 경기 종료 후 한 번의 트랜잭션 안에서 쓰이는 연산
type ScoringTx interface {
	LockMatch(ctx context.Context, matchID string) (*models.Match, error)
	LoadRatings(ctx context.Context, playerIDs []string) (map[string]*models.RatingRecord, error)
	LoadStats(ctx context.Context, playerIDs []string) (map[string]*models.PlayerStats, error)
	LoadAchievements(ctx context.Context, playerIDs []string) (map[string]map[models.AchievementCode]bool, error)
	SaveParticipantResults(ctx context.Context, participants []*models.Participant) error
	SaveRatings(ctx context.Context, ratings []*models.RatingRecord) error
	SaveStats(ctx context.Context, stats []*models.PlayerStats) error
	AddSeasonPoints(ctx context.Context, seasonID, playerID string, points int) error
	// GrantAchievements 이미 있는 업적은 건너뛰고 실제로 부여된 것만 반환
	GrantAchievements(ctx context.Context, achievements []*models.Achievement) ([]*models.Achievement, error)
	MarkScored(ctx context.Context, matchID string, winnerID *string, at time.Time) error
}

// Store 엔진이 쓰는 전체 저장소 계약
type Store interface {
	MatchStore
	SubmissionStore
	CatalogStore
	// RunScoring fn을 하나의 트랜잭션으로 실행. fn이 에러를 반환하면 아무것도 반영되지 않는다.
	RunScoring(ctx context.Context, fn func(tx ScoringTx) error) error
}
