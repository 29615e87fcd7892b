package models

import "time"

type Category string

const (
	Category1v1 Category = "1v1"
	Category2v2 Category = "2v2"
	CategoryFFA Category = "ffa"
)

// AllCategories 매칭이 도는 모든 카테고리 (tick 순서)
var AllCategories = []Category{Category1v1, Category2v2, CategoryFFA}

func (c Category) Valid() bool {
	switch c {
	case Category1v1, Category2v2, CategoryFFA:
		return true
	}
	return false
}

// TeamBased 팀 단위로 승패를 가리는 카테고리인지
func (c Category) TeamBased() bool {
	return c == Category2v2
}

type QueuePreferences struct {
	Difficulty Difficulty `json:"difficulty"`
}

type QueueEntry struct {
	PlayerID       string           `json:"playerId"`
	RatingSnapshot int              `json:"ratingSnapshot"`
	Category       Category         `json:"category"`
	Preferences    QueuePreferences `json:"preferences"`
	JoinedAt       time.Time        `json:"joinedAt"`
	ChannelRef     string           `json:"channelRef,omitempty"`
}

// WaitTime now 기준 대기 시간
func (e *QueueEntry) WaitTime(now time.Time) time.Duration {
	if now.Before(e.JoinedAt) {
		return 0
	}
	return now.Sub(e.JoinedAt)
}

type QueuePosition struct {
	Position  int `json:"position"`
	QueueSize int `json:"queueSize"`
}

type QueueStatus struct {
	InQueue    bool     `json:"inQueue"`
	Category   Category `json:"category,omitempty"`
	Position   int      `json:"position,omitempty"`
	QueueSize  int      `json:"queueSize,omitempty"`
	WaitTimeMs int64    `json:"waitTimeMs,omitempty"`
}

type CategoryQueueStats struct {
	Category      Category `json:"category"`
	Count         int      `json:"count"`
	AverageWaitMs int64    `json:"averageWaitMs"`
}
