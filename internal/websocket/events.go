package websocket

import (
	"encoding/json"
	"time"

	"github.com/rl-arena/code-arena-backend/internal/models"
)

// 클라이언트 → 서버 명령
const (
	CommandQueueJoin   = "queue:join"
	CommandQueueLeave  = "queue:leave"
	CommandLobbyJoin   = "lobby:join"
	CommandMatchSubmit = "match:submit"
)

// 서버 → 클라이언트 이벤트
const (
	EventQueueJoined          = "queue:joined"
	EventQueueLeft            = "queue:left"
	EventQueueStats           = "queue:stats"
	EventMatchFound           = "match:found"
	EventMatchStarted         = "match:started"
	EventTimeSync             = "match:time_sync"
	EventSubmissionReceived   = "submission:received"
	EventSubmissionResult     = "submission:result"
	EventScoreboardUpdate     = "match:scoreboard_update"
	EventMatchEnded           = "match:ended"
	EventAchievementsUnlocked = "achievements:unlocked"
	EventError                = "error"
)

// Command 클라이언트가 보내는 메시지
type Command struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type QueueJoinCommand struct {
	Category    models.Category         `json:"category"`
	Preferences models.QueuePreferences `json:"preferences"`
}

type LobbyJoinCommand struct {
	MatchID string `json:"matchId"`
}

type SubmitCommand struct {
	MatchID  string `json:"matchId"`
	Code     string `json:"code"`
	Language string `json:"language"`
}

type QueueJoinedPayload struct {
	Category  models.Category `json:"category"`
	Position  int             `json:"position"`
	QueueSize int             `json:"queueSize"`
}

type QueueLeftPayload struct {
	Removed bool `json:"removed"`
}

type QueueStatsPayload struct {
	Categories []models.CategoryQueueStats `json:"categories"`
	ServerTime time.Time                   `json:"serverTime"`
}

type MatchFoundPayload struct {
	MatchID       string            `json:"matchId"`
	Category      models.Category   `json:"category"`
	Difficulty    models.Difficulty `json:"difficulty"`
	Players       []string          `json:"players"`
	LobbyDeadline time.Time         `json:"lobbyDeadline"`
}

// ParticipantInfo match:started에 실리는 참가자 정보
type ParticipantInfo struct {
	PlayerID     string `json:"playerId"`
	TeamNumber   int    `json:"teamNumber"`
	RatingBefore int    `json:"ratingBefore"`
}

type MatchStartedPayload struct {
	MatchID      string             `json:"matchId"`
	Problem      models.ProblemView `json:"problem"`
	StartTime    time.Time          `json:"startTime"`
	EndTime      time.Time          `json:"endTime"`
	Participants []ParticipantInfo  `json:"participants"`
}

type TimeSyncPayload struct {
	MatchID    string    `json:"matchId"`
	TimeLeftMs int64     `json:"timeLeft"`
	ServerTime time.Time `json:"serverTime"`
}

type SubmissionReceivedPayload struct {
	SubmissionID string `json:"submissionId"`
	MatchID      string `json:"matchId,omitempty"`
}

type SubmissionResultPayload struct {
	SubmissionID    string                  `json:"submissionId"`
	MatchID         string                  `json:"matchId,omitempty"`
	Status          models.SubmissionStatus `json:"status"`
	Score           int                     `json:"score"`
	Breakdown       *models.ScoreBreakdown  `json:"breakdown,omitempty"`
	PassedTests     int                     `json:"passedTests"`
	TotalTests      int                     `json:"totalTests"`
	ExecutionTimeMs *int                    `json:"executionTimeMs,omitempty"`
	MemoryUsedKb    *int                    `json:"memoryUsedKb,omitempty"`
	TestResults     []models.TestResult     `json:"testResults,omitempty"`
	Error           string                  `json:"error,omitempty"`
}

type ScoreboardUpdatePayload struct {
	MatchID    string                   `json:"matchId"`
	Scoreboard []models.ScoreboardEntry `json:"scoreboard"`
}

type MatchEndedPayload struct {
	MatchID         string                   `json:"matchId"`
	Reason          models.ConclusionReason  `json:"reason"`
	FinalScoreboard []models.ScoreboardEntry `json:"finalScoreboard"`
	Winner          *string                  `json:"winner"`
	Scored          bool                     `json:"scored"`
	ScoringError    string                   `json:"scoringError,omitempty"`
}

type AchievementsUnlockedPayload struct {
	MatchID      string               `json:"matchId"`
	Achievements []models.Achievement `json:"achievements"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Command string `json:"command,omitempty"`
}
