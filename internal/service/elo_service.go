package service

import (
	"math"
	"sort"

	"github.com/rl-arena/code-arena-backend/internal/models"
)

// ELOService ELO 레이팅 계산 서비스
type ELOService struct{}

// NewELOService ELO 서비스 생성
func NewELOService() *ELOService {
	return &ELOService{}
}

// GetKFactor returns the K-factor for a rating.
// Higher rated players move less:
// - below 1200: K=40
// - below 1600: K=32
// - below 2000: K=24
// - otherwise:  K=16
func (s *ELOService) GetKFactor(rating int) float64 {
	switch {
	case rating < 1200:
		return 40.0
	case rating < 1600:
		return 32.0
	case rating < 2000:
		return 24.0
	}
	return 16.0
}

// CalculateNewRatings 1대1 결과에 따른 새로운 ELO 레이팅 계산
// result: 1.0 (player1 승), 0.5 (무승부), 0.0 (player2 승)
func (s *ELOService) CalculateNewRatings(player1ELO, player2ELO int, result float64) (newPlayer1ELO, newPlayer2ELO, player1Change, player2Change int) {
	// 기대 승률 계산
	expected1 := s.ExpectedScore(player1ELO, player2ELO)
	expected2 := 1.0 - expected1

	player1Change = s.change(player1ELO, result, expected1)
	player2Change = s.change(player2ELO, 1.0-result, expected2)

	newPlayer1ELO = player1ELO + player1Change
	newPlayer2ELO = player2ELO + player2Change
	return
}

// ExpectedScore ELO에 기반한 기대 승률 계산
func (s *ELOService) ExpectedScore(rating, opponent int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(opponent-rating)/400.0))
}

func (s *ELOService) change(rating int, actual, expected float64) int {
	return int(math.Round(s.GetKFactor(rating) * (actual - expected)))
}

// RatingResult 한 참가자의 레이팅 변동
type RatingResult struct {
	PlayerID  string
	OldRating int
	NewRating int
	Change    int
	Expected  float64
	Actual    float64
	Win       bool
	Loss      bool
}

// CalculateMatch 순위가 매겨진 참가자 전체의 레이팅 변동 계산
// ranked는 RankParticipants 결과 순서여야 한다. ratings는 경기 직전 레이팅.
//   - 2명: 1대1 ELO. 점수와 마지막 제출 시각이 같으면 무승부
//   - 팀 모드: 팀 평균 레이팅으로 기대 승률, 팀 총점으로 승패
//   - 3명 이상: 상대 전원에 대한 기대 승률 평균, 실제 점수는 순위에 선형 ((n-rank)/(n-1))
func (s *ELOService) CalculateMatch(ranked []*models.Participant, ratings map[string]int, teamBased bool) []RatingResult {
	n := len(ranked)
	if n < 2 {
		results := make([]RatingResult, 0, n)
		for _, p := range ranked {
			r := ratingOf(ratings, p)
			results = append(results, RatingResult{PlayerID: p.PlayerID, OldRating: r, NewRating: r})
		}
		return results
	}

	if teamBased {
		if results, ok := s.calculateTeams(ranked, ratings); ok {
			return results
		}
	}
	if n == 2 {
		return s.calculateDuel(ranked, ratings)
	}
	return s.calculateFreeForAll(ranked, ratings)
}

func (s *ELOService) calculateDuel(ranked []*models.Participant, ratings map[string]int) []RatingResult {
	first, second := ranked[0], ranked[1]
	r1, r2 := ratingOf(ratings, first), ratingOf(ratings, second)

	result := 1.0
	draw := tiedOnResult(first, second)
	if draw {
		result = 0.5
	}

	new1, new2, c1, c2 := s.CalculateNewRatings(r1, r2, result)
	e1 := s.ExpectedScore(r1, r2)

	return []RatingResult{
		{PlayerID: first.PlayerID, OldRating: r1, NewRating: new1, Change: c1, Expected: e1, Actual: result, Win: !draw},
		{PlayerID: second.PlayerID, OldRating: r2, NewRating: new2, Change: c2, Expected: 1 - e1, Actual: 1 - result, Loss: !draw},
	}
}

func (s *ELOService) calculateFreeForAll(ranked []*models.Participant, ratings map[string]int) []RatingResult {
	n := len(ranked)

	// 결과가 완전히 같은 참가자는 보간된 실제 점수를 나눠 갖는다
	actual := make([]float64, n)
	for i := 0; i < n; {
		j := i + 1
		for j < n && tiedOnResult(ranked[i], ranked[j]) {
			j++
		}
		var sum float64
		for k := i; k < j; k++ {
			sum += float64(n-(k+1)) / float64(n-1)
		}
		for k := i; k < j; k++ {
			actual[k] = sum / float64(j-i)
		}
		i = j
	}

	results := make([]RatingResult, 0, n)
	for i, p := range ranked {
		r := ratingOf(ratings, p)
		var expected float64
		for j, o := range ranked {
			if i != j {
				expected += s.ExpectedScore(r, ratingOf(ratings, o))
			}
		}
		expected /= float64(n - 1)

		change := s.change(r, actual[i], expected)
		results = append(results, RatingResult{
			PlayerID:  p.PlayerID,
			OldRating: r,
			NewRating: r + change,
			Change:    change,
			Expected:  expected,
			Actual:    actual[i],
			Win:       i == 0,
			Loss:      i != 0,
		})
	}
	return results
}

type teamStanding struct {
	number   int
	members  []*models.Participant
	score    int
	bestRank int
	rating   float64
}

// calculateTeams 정확히 두 팀일 때만 팀 단위로 계산한다
func (s *ELOService) calculateTeams(ranked []*models.Participant, ratings map[string]int) ([]RatingResult, bool) {
	byNumber := map[int]*teamStanding{}
	for i, p := range ranked {
		t, ok := byNumber[p.TeamNumber]
		if !ok {
			t = &teamStanding{number: p.TeamNumber, bestRank: i + 1}
			byNumber[p.TeamNumber] = t
		}
		t.members = append(t.members, p)
		t.score += p.Score
		t.rating += float64(ratingOf(ratings, p))
	}
	if len(byNumber) != 2 {
		return nil, false
	}

	teams := make([]*teamStanding, 0, 2)
	for _, t := range byNumber {
		t.rating /= float64(len(t.members))
		teams = append(teams, t)
	}
	// 총점이 높은 팀이 이긴다. 같으면 최고 순위 팀원이 있는 팀
	sort.Slice(teams, func(i, j int) bool {
		if teams[i].score != teams[j].score {
			return teams[i].score > teams[j].score
		}
		return teams[i].bestRank < teams[j].bestRank
	})

	winner, loser := teams[0], teams[1]
	winnerExpected := 1.0 / (1.0 + math.Pow(10, (loser.rating-winner.rating)/400.0))

	results := make([]RatingResult, 0, len(ranked))
	for _, p := range ranked {
		expected, actual := winnerExpected, 1.0
		if p.TeamNumber == loser.number {
			expected, actual = 1-winnerExpected, 0.0
		}
		r := ratingOf(ratings, p)
		change := s.change(r, actual, expected)
		results = append(results, RatingResult{
			PlayerID:  p.PlayerID,
			OldRating: r,
			NewRating: r + change,
			Change:    change,
			Expected:  expected,
			Actual:    actual,
			Win:       actual == 1.0,
			Loss:      actual == 0.0,
		})
	}
	return results, true
}

func ratingOf(ratings map[string]int, p *models.Participant) int {
	if r, ok := ratings[p.PlayerID]; ok {
		return r
	}
	if p.RatingBefore > 0 {
		return p.RatingBefore
	}
	return models.DefaultRating
}
