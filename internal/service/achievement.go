package service

import (
	"time"

	"github.com/rl-arena/code-arena-backend/internal/models"
)

const (
	speedDemonThreshold = 120 * time.Second
	activityStreakGoal  = 7
	winStreakGoal       = 3
)

// 누적 경기 수 업적
var matchMilestones = []struct {
	count int
	code  models.AchievementCode
}{
	{10, models.AchievementMatches10},
	{50, models.AchievementMatches50},
	{100, models.AchievementMatches100},
}

// MatchPerformance 한 경기에서의 플레이어 성과 (제출 기록에서 계산)
type MatchPerformance struct {
	PlayerID string
	Accepted bool
	// SolveTime 첫 accepted 제출까지 걸린 시간
	SolveTime time.Duration
	// Attempts 첫 accepted 제출까지의 제출 수 (포함)
	Attempts int
}

// PerformanceFromSubmissions 경기 제출 기록에서 플레이어별 성과를 만든다
// submissions는 제출 시각 순이어야 한다.
func PerformanceFromSubmissions(playerID string, start time.Time, submissions []*models.Submission) MatchPerformance {
	perf := MatchPerformance{PlayerID: playerID}
	attempts := 0
	for _, s := range submissions {
		if s.PlayerID != playerID {
			continue
		}
		attempts++
		if s.Status == models.SubmissionStatusAccepted {
			perf.Accepted = true
			perf.Attempts = attempts
			perf.SolveTime = s.SubmittedAt.Sub(start)
			return perf
		}
	}
	perf.Attempts = attempts
	return perf
}

// AdvanceStats 경기 결과를 누적 통계에 반영
// 같은 날 두 번째 활동은 연속 일수를 바꾸지 않고, 하루라도 비면 1로 초기화된다.
// 무승부는 연승을 끊지도 늘리지도 않는다.
func AdvanceStats(before models.PlayerStats, perf MatchPerformance, rating RatingResult, at time.Time) models.PlayerStats {
	after := before
	after.PlayerID = perf.PlayerID
	if perf.Accepted {
		after.TotalAccepted++
	}

	switch {
	case rating.Win:
		after.CurrentWinStreak++
	case rating.Loss:
		after.CurrentWinStreak = 0
	}

	day := truncateDay(at)
	switch {
	case before.LastActiveDate == nil:
		after.ActivityStreakDays = 1
	default:
		last := truncateDay(*before.LastActiveDate)
		switch {
		case last.Equal(day):
			if after.ActivityStreakDays == 0 {
				after.ActivityStreakDays = 1
			}
		case last.AddDate(0, 0, 1).Equal(day):
			after.ActivityStreakDays++
		default:
			after.ActivityStreakDays = 1
		}
	}
	after.LastActiveDate = &day
	return after
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AchievementInput 업적 판정 입력
type AchievementInput struct {
	Performance  MatchPerformance
	StatsBefore  models.PlayerStats
	StatsAfter   models.PlayerStats
	TotalMatches int // 이번 경기 반영 후
	Owned        map[models.AchievementCode]bool
}

// EvaluateAchievements 새로 달성한 업적 코드 (이미 가진 업적은 제외)
func EvaluateAchievements(in AchievementInput) []models.AchievementCode {
	var earned []models.AchievementCode
	add := func(code models.AchievementCode, ok bool) {
		if ok && !in.Owned[code] {
			earned = append(earned, code)
		}
	}

	perf := in.Performance
	add(models.AchievementFirstSolve, perf.Accepted && in.StatsBefore.TotalAccepted == 0)
	add(models.AchievementSpeedDemon, perf.Accepted && perf.SolveTime < speedDemonThreshold)
	add(models.AchievementFirstTry, perf.Accepted && perf.Attempts == 1)
	add(models.AchievementStreak7, in.StatsAfter.ActivityStreakDays >= activityStreakGoal)
	add(models.AchievementWinStreak3, in.StatsAfter.CurrentWinStreak >= winStreakGoal)
	for _, m := range matchMilestones {
		add(m.code, in.TotalMatches >= m.count)
	}
	return earned
}
