package service

import (
	"math"
	"time"

	"github.com/rl-arena/code-arena-backend/internal/models"
)

// 난이도별 기본 점수
var basePoints = map[models.Difficulty]int{
	models.DifficultyEasy:   100,
	models.DifficultyMedium: 200,
	models.DifficultyHard:   300,
}

const (
	maxTimeBonusRatio    = 0.5
	partialCreditRatio   = 0.3
	optimizationRatio    = 0.05
	optimizationFraction = 0.25
)

// 1, 2, 3번째 제출의 효율 보너스 비율. 그 이후는 0
var efficiencyRatios = []float64{0.20, 0.10, 0.05}

// ScoreInput 한 제출의 점수 계산에 필요한 값
type ScoreInput struct {
	Difficulty  models.Difficulty
	Status      models.SubmissionStatus
	PassedTests int
	TotalTests  int
	// SolveTime 경기 시작부터 제출까지. 연습 제출은 0
	SolveTime     time.Duration
	MatchDuration time.Duration
	// Attempt 이 플레이어의 몇 번째 제출인지 (1부터)
	Attempt         int
	ExecutionTimeMs int
	MemoryUsedKb    int
	TimeLimitMs     int
	MemoryLimitKb   int
}

// BasePoints 난이도 기본 점수 (알 수 없는 난이도는 medium)
func BasePoints(d models.Difficulty) int {
	if p, ok := basePoints[d]; ok {
		return p
	}
	return basePoints[models.DifficultyMedium]
}

// CalculateSubmissionScore 제출 점수 계산
// accepted: 기본 + 시간 보너스 + 효율 보너스 + 최적화 보너스
// 그 외: 통과한 테스트 비율만큼 기본 점수의 30%까지 부분 점수
func CalculateSubmissionScore(in ScoreInput) models.ScoreBreakdown {
	base := BasePoints(in.Difficulty)
	b := models.ScoreBreakdown{}

	if in.Status != models.SubmissionStatusAccepted {
		if in.TotalTests > 0 && in.PassedTests > 0 {
			passed := in.PassedTests
			if passed > in.TotalTests {
				passed = in.TotalTests
			}
			b.PartialCredit = int(math.Round(float64(base) * partialCreditRatio * float64(passed) / float64(in.TotalTests)))
		}
		b.Total = b.PartialCredit
		return b
	}

	b.Base = base
	b.TimeBonus = timeBonus(base, in.SolveTime, in.MatchDuration)

	if in.Attempt >= 1 && in.Attempt <= len(efficiencyRatios) {
		b.EfficiencyBonus = int(math.Round(float64(base) * efficiencyRatios[in.Attempt-1]))
	}

	if in.TimeLimitMs > 0 && float64(in.ExecutionTimeMs) < float64(in.TimeLimitMs)*optimizationFraction {
		b.OptimizationBonus += int(math.Round(float64(base) * optimizationRatio))
	}
	if in.MemoryLimitKb > 0 && float64(in.MemoryUsedKb) < float64(in.MemoryLimitKb)*optimizationFraction {
		b.OptimizationBonus += int(math.Round(float64(base) * optimizationRatio))
	}

	b.Total = b.Base + b.TimeBonus + b.EfficiencyBonus + b.OptimizationBonus
	return b
}

// timeBonus (1 - solveRatio)^1.5 비율, 기본 점수의 50%가 상한
func timeBonus(base int, solve, duration time.Duration) int {
	if duration <= 0 {
		return 0
	}
	ratio := float64(solve) / float64(duration)
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return int(math.Round(float64(base) * maxTimeBonusRatio * math.Pow(1-ratio, 1.5)))
}
