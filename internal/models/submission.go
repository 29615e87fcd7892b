package models

import "time"

type SubmissionStatus string

const (
	SubmissionStatusPending      SubmissionStatus = "pending"
	SubmissionStatusRunning      SubmissionStatus = "running"
	SubmissionStatusAccepted     SubmissionStatus = "accepted"
	SubmissionStatusWrongAnswer  SubmissionStatus = "wrong_answer"
	SubmissionStatusRuntimeError SubmissionStatus = "runtime_error"
)

func (s SubmissionStatus) IsTerminal() bool {
	switch s {
	case SubmissionStatusAccepted, SubmissionStatusWrongAnswer, SubmissionStatusRuntimeError:
		return true
	}
	return false
}

// CanTransitionTo pending→running→terminal, 종료 상태에서는 더 이상 이동하지 않는다
// 채점 시작 전에 실패하는 경우를 위해 pending→terminal도 허용한다.
func (s SubmissionStatus) CanTransitionTo(next SubmissionStatus) bool {
	switch s {
	case SubmissionStatusPending:
		return next == SubmissionStatusRunning || next.IsTerminal()
	case SubmissionStatusRunning:
		return next.IsTerminal()
	}
	return false
}

type TestResult struct {
	Index           int    `json:"index"`
	Passed          bool   `json:"passed"`
	Hidden          bool   `json:"hidden"`
	ExecutionTimeMs int    `json:"executionTimeMs"`
	MemoryUsedKb    int    `json:"memoryUsedKb"`
	Error           string `json:"error,omitempty"`
}

type ScoreBreakdown struct {
	Base              int `json:"base"`
	TimeBonus         int `json:"timeBonus"`
	EfficiencyBonus   int `json:"efficiencyBonus"`
	OptimizationBonus int `json:"optimizationBonus"`
	PartialCredit     int `json:"partialCredit"`
	Total             int `json:"total"`
}

type Submission struct {
	ID              string           `json:"id" db:"id"`
	MatchID         *string          `json:"matchId,omitempty" db:"match_id"`
	PlayerID        string           `json:"playerId" db:"player_id"`
	ProblemID       string           `json:"problemId" db:"problem_id"`
	Code            string           `json:"code" db:"code"`
	Language        string           `json:"language" db:"language"`
	Status          SubmissionStatus `json:"status" db:"status"`
	ExecutionTimeMs *int             `json:"executionTimeMs,omitempty" db:"execution_time_ms"`
	MemoryUsedKb    *int             `json:"memoryUsedKb,omitempty" db:"memory_used_kb"`
	PassedTests     int              `json:"passedTests" db:"passed_tests"`
	TotalTests      int              `json:"totalTests" db:"total_tests"`
	TestResults     []TestResult     `json:"testResults,omitempty" db:"test_results"`
	Score           int              `json:"score" db:"score"`
	ScoreBreakdown  *ScoreBreakdown  `json:"scoreBreakdown,omitempty" db:"score_breakdown"`
	ErrorMessage    *string          `json:"errorMessage,omitempty" db:"error_message"`
	SubmittedAt     time.Time        `json:"submittedAt" db:"submitted_at"`
	JudgedAt        *time.Time       `json:"judgedAt,omitempty" db:"judged_at"`
}
