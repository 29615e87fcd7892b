package service

import (
	"testing"
	"time"

	"github.com/rl-arena/code-arena-backend/internal/models"
)

func TestELOService_GetKFactor(t *testing.T) {
	eloService := NewELOService()

	tests := []struct {
		name      string
		rating    int
		expectedK float64
	}{
		{name: "Low rating", rating: 800, expectedK: 40.0},
		{name: "Just below 1200", rating: 1199, expectedK: 40.0},
		{name: "At 1200", rating: 1200, expectedK: 32.0},
		{name: "Just below 1600", rating: 1599, expectedK: 32.0},
		{name: "At 1600", rating: 1600, expectedK: 24.0},
		{name: "Just below 2000", rating: 1999, expectedK: 24.0},
		{name: "At 2000", rating: 2000, expectedK: 16.0},
		{name: "Top rating", rating: 2800, expectedK: 16.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actualK := eloService.GetKFactor(tt.rating)
			if actualK != tt.expectedK {
				t.Errorf("GetKFactor(%d) = %v, want %v", tt.rating, actualK, tt.expectedK)
			}
		})
	}
}

func TestELOService_CalculateNewRatings(t *testing.T) {
	eloService := NewELOService()

	tests := []struct {
		name            string
		player1ELO      int
		player2ELO      int
		result          float64
		expectedNew1    int
		expectedNew2    int
		expectedChange1 int
		expectedChange2 int
	}{
		{
			name:            "Equal players, player1 wins",
			player1ELO:      1500,
			player2ELO:      1500,
			result:          1.0,
			expectedNew1:    1516,
			expectedNew2:    1484,
			expectedChange1: 16,
			expectedChange2: -16,
		},
		{
			name:            "Equal players draw",
			player1ELO:      1500,
			player2ELO:      1500,
			result:          0.5,
			expectedNew1:    1500,
			expectedNew2:    1500,
			expectedChange1: 0,
			expectedChange2: 0,
		},
		{
			name:            "Underdog upset uses each player's own K",
			player1ELO:      1100, // K=40
			player2ELO:      1700, // K=24
			result:          1.0,
			expectedNew1:    1139,
			expectedNew2:    1677,
			expectedChange1: 39,
			expectedChange2: -23,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			new1, new2, change1, change2 := eloService.CalculateNewRatings(tt.player1ELO, tt.player2ELO, tt.result)

			if new1 != tt.expectedNew1 || new2 != tt.expectedNew2 {
				t.Errorf("new ratings = (%d, %d), want (%d, %d)", new1, new2, tt.expectedNew1, tt.expectedNew2)
			}
			if change1 != tt.expectedChange1 || change2 != tt.expectedChange2 {
				t.Errorf("changes = (%+d, %+d), want (%+d, %+d)", change1, change2, tt.expectedChange1, tt.expectedChange2)
			}
		})
	}
}

func TestELOService_ExpectedScore(t *testing.T) {
	eloService := NewELOService()

	if got := eloService.ExpectedScore(1500, 1500); got != 0.5 {
		t.Errorf("ExpectedScore(1500, 1500) = %v, want 0.5", got)
	}

	stronger := eloService.ExpectedScore(1800, 1400)
	weaker := eloService.ExpectedScore(1400, 1800)
	if stronger <= 0.5 || weaker >= 0.5 {
		t.Errorf("stronger player should be favoured: stronger=%v weaker=%v", stronger, weaker)
	}
	if sum := stronger + weaker; sum < 0.999999 || sum > 1.000001 {
		t.Errorf("expected scores should sum to 1, got %v", sum)
	}
}

func participant(playerID string, team, score, joinOrder int, lastSubmission *time.Time) *models.Participant {
	return &models.Participant{
		PlayerID:         playerID,
		TeamNumber:       team,
		Score:            score,
		JoinOrder:        joinOrder,
		LastSubmissionAt: lastSubmission,
	}
}

func resultsByPlayer(results []RatingResult) map[string]RatingResult {
	out := make(map[string]RatingResult, len(results))
	for _, r := range results {
		out[r.PlayerID] = r
	}
	return out
}

func TestELOService_CalculateMatch_Duel(t *testing.T) {
	eloService := NewELOService()
	at := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)

	ranked := RankParticipants([]*models.Participant{
		participant("b", 2, 0, 2, nil),
		participant("a", 1, 175, 1, &at),
	})
	results := resultsByPlayer(eloService.CalculateMatch(ranked, map[string]int{"a": 1500, "b": 1500}, false))

	if results["a"].NewRating != 1516 || !results["a"].Win {
		t.Errorf("winner = %+v, want 1516 and a win", results["a"])
	}
	if results["b"].NewRating != 1484 || !results["b"].Loss {
		t.Errorf("loser = %+v, want 1484 and a loss", results["b"])
	}
}

func TestELOService_CalculateMatch_DuelDraw(t *testing.T) {
	eloService := NewELOService()

	ranked := RankParticipants([]*models.Participant{
		participant("a", 1, 0, 1, nil),
		participant("b", 2, 0, 2, nil),
	})
	results := eloService.CalculateMatch(ranked, map[string]int{"a": 1300, "b": 1300}, false)

	for _, r := range results {
		if r.Change != 0 {
			t.Errorf("%s change = %d, want 0 on a draw", r.PlayerID, r.Change)
		}
		if r.Win || r.Loss {
			t.Errorf("%s draw should count as neither win nor loss: %+v", r.PlayerID, r)
		}
		if r.Actual != 0.5 {
			t.Errorf("%s actual = %v, want 0.5", r.PlayerID, r.Actual)
		}
	}
}

func TestELOService_CalculateMatch_FreeForAll(t *testing.T) {
	eloService := NewELOService()
	t1 := time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	tests := []struct {
		name    string
		players []*models.Participant
		want    map[string]int
	}{
		{
			name: "distinct results interpolate linearly",
			players: []*models.Participant{
				participant("a", 1, 200, 1, &t1),
				participant("b", 2, 100, 2, &t2),
				participant("c", 3, 0, 3, nil),
			},
			want: map[string]int{"a": 16, "b": 0, "c": -16},
		},
		{
			name: "exact tie shares the interpolated score",
			players: []*models.Participant{
				participant("a", 1, 200, 1, &t1),
				participant("b", 2, 0, 2, nil),
				participant("c", 3, 0, 3, nil),
			},
			want: map[string]int{"a": 16, "b": -8, "c": -8},
		},
	}

	ratings := map[string]int{"a": 1500, "b": 1500, "c": 1500}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := resultsByPlayer(eloService.CalculateMatch(RankParticipants(tt.players), ratings, false))
			for id, want := range tt.want {
				if got := results[id].Change; got != want {
					t.Errorf("%s change = %+d, want %+d", id, got, want)
				}
			}
			if !results["a"].Win || results["b"].Win || !results["c"].Loss {
				t.Errorf("only rank 1 counts as a win: %+v", results)
			}
		})
	}
}

func TestELOService_CalculateMatch_Teams(t *testing.T) {
	eloService := NewELOService()
	at := time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)

	// 1팀 합계 100, 2팀 합계 90 → 개인 최고점은 1팀이지만 승패는 팀 합계로 결정
	ranked := RankParticipants([]*models.Participant{
		participant("p1", 1, 100, 1, &at),
		participant("p2", 1, 0, 2, nil),
		participant("p3", 2, 50, 3, &at),
		participant("p4", 2, 40, 4, &at),
	})
	ratings := map[string]int{"p1": 1500, "p2": 1500, "p3": 1500, "p4": 1500}
	results := resultsByPlayer(eloService.CalculateMatch(ranked, ratings, true))

	for _, id := range []string{"p1", "p2"} {
		if results[id].Change != 16 || !results[id].Win {
			t.Errorf("%s = %+v, want +16 win", id, results[id])
		}
	}
	for _, id := range []string{"p3", "p4"} {
		if results[id].Change != -16 || !results[id].Loss {
			t.Errorf("%s = %+v, want -16 loss", id, results[id])
		}
	}
}

func TestELOService_CalculateMatch_SingleParticipant(t *testing.T) {
	eloService := NewELOService()

	results := eloService.CalculateMatch([]*models.Participant{participant("solo", 1, 100, 1, nil)}, map[string]int{"solo": 1400}, false)
	if len(results) != 1 || results[0].Change != 0 || results[0].NewRating != 1400 {
		t.Errorf("single participant should be unchanged, got %+v", results)
	}
}
