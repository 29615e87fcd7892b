package models

import "time"

type MatchStatus string

const (
	MatchStatusWaiting    MatchStatus = "waiting"
	MatchStatusInProgress MatchStatus = "in_progress"
	MatchStatusCompleted  MatchStatus = "completed"
)

func (s MatchStatus) order() int {
	switch s {
	case MatchStatusWaiting:
		return 0
	case MatchStatusInProgress:
		return 1
	case MatchStatusCompleted:
		return 2
	}
	return -1
}

// CanTransitionTo 상태는 앞으로만 이동한다 (waiting은 곧바로 completed로 취소될 수 있다)
func (s MatchStatus) CanTransitionTo(next MatchStatus) bool {
	from, to := s.order(), next.order()
	return from >= 0 && to > from
}

type ConclusionReason string

const (
	ConclusionAccepted  ConclusionReason = "accepted"
	ConclusionTimeout   ConclusionReason = "timeout"
	ConclusionForced    ConclusionReason = "forced"
	ConclusionCancelled ConclusionReason = "cancelled"
)

type Match struct {
	ID              string            `json:"id" db:"id"`
	Category        Category          `json:"category" db:"category"`
	ProblemID       string            `json:"problemId" db:"problem_id"`
	Difficulty      Difficulty        `json:"difficulty" db:"difficulty"`
	Status          MatchStatus       `json:"status" db:"status"`
	StartTime       *time.Time        `json:"startTime,omitempty" db:"start_time"`
	EndTime         *time.Time        `json:"endTime,omitempty" db:"end_time"`
	DurationSeconds int               `json:"durationSeconds" db:"duration_seconds"`
	SeasonID        *string           `json:"seasonId,omitempty" db:"season_id"`
	ConcludedReason *ConclusionReason `json:"concludedReason,omitempty" db:"concluded_reason"`
	WinnerID        *string           `json:"winnerId,omitempty" db:"winner_id"`
	CompletedAt     *time.Time        `json:"completedAt,omitempty" db:"completed_at"`
	ScoredAt        *time.Time        `json:"scoredAt,omitempty" db:"scored_at"`
	ScoringError    *string           `json:"scoringError,omitempty" db:"scoring_error"`
	CreatedAt       time.Time         `json:"createdAt" db:"created_at"`
}

// Duration 시작~종료 시각으로 계산한 경기 길이
func (m *Match) Duration() time.Duration {
	if m.StartTime != nil && m.EndTime != nil {
		return m.EndTime.Sub(*m.StartTime)
	}
	return time.Duration(m.DurationSeconds) * time.Second
}

type Participant struct {
	MatchID          string     `json:"matchId" db:"match_id"`
	PlayerID         string     `json:"playerId" db:"player_id"`
	TeamNumber       int        `json:"teamNumber" db:"team_number"`
	Score            int        `json:"score" db:"score"`
	Rank             *int       `json:"rank,omitempty" db:"rank"`
	SubmissionCount  int        `json:"submissionCount" db:"submission_count"`
	LastSubmissionAt *time.Time `json:"lastSubmissionAt,omitempty" db:"last_submission_at"`
	JoinOrder        int        `json:"joinOrder" db:"join_order"`
	JoinedAt         time.Time  `json:"joinedAt" db:"joined_at"`
	RatingBefore     int        `json:"ratingBefore" db:"rating_before"`
	RatingChange     *int       `json:"ratingChange,omitempty" db:"rating_change"`
	Connected        bool       `json:"connected" db:"-"`
}

// Clone 잠금 밖으로 넘길 복사본
func (p *Participant) Clone() *Participant {
	c := *p
	if p.Rank != nil {
		r := *p.Rank
		c.Rank = &r
	}
	if p.LastSubmissionAt != nil {
		t := *p.LastSubmissionAt
		c.LastSubmissionAt = &t
	}
	if p.RatingChange != nil {
		r := *p.RatingChange
		c.RatingChange = &r
	}
	return &c
}

type ScoreboardEntry struct {
	PlayerID         string     `json:"playerId"`
	TeamNumber       int        `json:"teamNumber"`
	Score            int        `json:"score"`
	Rank             int        `json:"rank"`
	SubmissionCount  int        `json:"submissionCount"`
	LastSubmissionAt *time.Time `json:"lastSubmissionAt,omitempty"`
	RatingChange     *int       `json:"ratingChange,omitempty"`
}
