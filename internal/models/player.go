package models

import "time"

const DefaultRating = 1200

// RatingRecord 플레이어 전역 레이팅
type RatingRecord struct {
	PlayerID     string `json:"playerId" db:"id"`
	Rating       int    `json:"rating" db:"rating"`
	TotalMatches int    `json:"totalMatches" db:"total_matches"`
	Wins         int    `json:"wins" db:"wins"`
	Losses       int    `json:"losses" db:"losses"`
}

// PlayerStats 업적 판정에 쓰이는 누적 통계
type PlayerStats struct {
	PlayerID           string     `json:"playerId" db:"player_id"`
	TotalAccepted      int        `json:"totalAccepted" db:"total_accepted"`
	CurrentWinStreak   int        `json:"currentWinStreak" db:"current_win_streak"`
	ActivityStreakDays int        `json:"activityStreakDays" db:"activity_streak_days"`
	LastActiveDate     *time.Time `json:"lastActiveDate,omitempty" db:"last_active_date"`
}

type AchievementCode string

const (
	AchievementFirstSolve AchievementCode = "first_solve"
	AchievementSpeedDemon AchievementCode = "speed_demon"
	AchievementFirstTry   AchievementCode = "first_try"
	AchievementStreak7    AchievementCode = "streak_7"
	AchievementWinStreak3 AchievementCode = "win_streak_3"
	AchievementMatches10  AchievementCode = "matches_10"
	AchievementMatches50  AchievementCode = "matches_50"
	AchievementMatches100 AchievementCode = "matches_100"
)

type Achievement struct {
	Code      AchievementCode `json:"code" db:"code"`
	PlayerID  string          `json:"playerId" db:"player_id"`
	MatchID   *string         `json:"matchId,omitempty" db:"match_id"`
	AwardedAt time.Time       `json:"awardedAt" db:"awarded_at"`
}
