package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/rl-arena/code-arena-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_Tolerance(t *testing.T) {
	m := NewMatcher(DefaultMatcherConfig())

	tests := []struct {
		wait time.Duration
		want int
	}{
		{0, 100},
		{19 * time.Second, 100},
		{20 * time.Second, 150},
		{45 * time.Second, 200},
		{60 * time.Second, 250},
		{80 * time.Second, 300},
		{10 * time.Minute, 300},
	}

	for _, tt := range tests {
		t.Run(tt.wait.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, m.Tolerance(tt.wait))
		})
	}
}

func TestMatcher_PairsWithinBaseTolerance(t *testing.T) {
	m := NewMatcher(DefaultMatcherConfig())
	now := newTestClock().Now()

	groups := m.FindGroups([]*models.QueueEntry{
		entry("p1", 1000, models.Category1v1, models.DifficultyMedium, now),
		entry("p2", 1090, models.Category1v1, models.DifficultyMedium, now),
	}, 2, now)

	require.Len(t, groups, 1)
	assert.Equal(t, []string{"p1", "p2"}, groups[0].PlayerIDs())
	assert.False(t, groups[0].Forced)
	assert.Equal(t, models.DifficultyMedium, groups[0].Difficulty())
}

func TestMatcher_Compatibility(t *testing.T) {
	m := NewMatcher(DefaultMatcherConfig())
	now := newTestClock().Now()

	tests := []struct {
		name string
		a, b *models.QueueEntry
		want bool
	}{
		{
			name: "difficulty differs",
			a:    entry("a", 1000, models.Category1v1, models.DifficultyEasy, now),
			b:    entry("b", 1000, models.Category1v1, models.DifficultyHard, now),
			want: false,
		},
		{
			name: "rating gap above base",
			a:    entry("a", 1000, models.Category1v1, models.DifficultyEasy, now),
			b:    entry("b", 1150, models.Category1v1, models.DifficultyEasy, now),
			want: false,
		},
		{
			name: "longer wait widens the window",
			a:    entry("a", 1000, models.Category1v1, models.DifficultyEasy, now.Add(-25*time.Second)),
			b:    entry("b", 1150, models.Category1v1, models.DifficultyEasy, now),
			want: true,
		},
		{
			name: "exactly at tolerance",
			a:    entry("a", 1000, models.Category1v1, models.DifficultyEasy, now),
			b:    entry("b", 1100, models.Category1v1, models.DifficultyEasy, now),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Compatible(tt.a, tt.b, now))
			assert.Equal(t, tt.want, m.Compatible(tt.b, tt.a, now), "compatibility is symmetric")
		})
	}
}

func TestMatcher_FIFOTieBreak(t *testing.T) {
	m := NewMatcher(DefaultMatcherConfig())
	now := newTestClock().Now()

	// c가 레이팅은 더 가깝지만 b가 먼저 왔다
	groups := m.FindGroups([]*models.QueueEntry{
		entry("c", 1010, models.Category1v1, models.DifficultyEasy, now.Add(-1*time.Second)),
		entry("a", 1000, models.Category1v1, models.DifficultyEasy, now.Add(-3*time.Second)),
		entry("b", 1050, models.Category1v1, models.DifficultyEasy, now.Add(-2*time.Second)),
	}, 2, now)

	require.Len(t, groups, 1)
	assert.Equal(t, []string{"a", "b"}, groups[0].PlayerIDs())
}

func TestMatcher_SeveralGroupsPerTick(t *testing.T) {
	m := NewMatcher(DefaultMatcherConfig())
	now := newTestClock().Now()

	groups := m.FindGroups([]*models.QueueEntry{
		entry("a", 1000, models.Category1v1, models.DifficultyEasy, now.Add(-4*time.Second)),
		entry("b", 1800, models.Category1v1, models.DifficultyEasy, now.Add(-3*time.Second)),
		entry("c", 1020, models.Category1v1, models.DifficultyEasy, now.Add(-2*time.Second)),
		entry("d", 1790, models.Category1v1, models.DifficultyEasy, now.Add(-1*time.Second)),
	}, 2, now)

	require.Len(t, groups, 2)
	assert.Equal(t, []string{"a", "c"}, groups[0].PlayerIDs())
	assert.Equal(t, []string{"b", "d"}, groups[1].PlayerIDs())
}

func TestMatcher_CandidateMustFitWholeGroup(t *testing.T) {
	m := NewMatcher(DefaultMatcherConfig())
	now := newTestClock().Now()

	groups := m.FindGroups([]*models.QueueEntry{
		entry("a", 1000, models.Category2v2, models.DifficultyEasy, now.Add(-5*time.Second)),
		entry("b", 1090, models.Category2v2, models.DifficultyEasy, now.Add(-4*time.Second)),
		entry("c", 1180, models.Category2v2, models.DifficultyEasy, now.Add(-3*time.Second)),
		entry("d", 1050, models.Category2v2, models.DifficultyEasy, now.Add(-2*time.Second)),
		entry("e", 1000, models.Category2v2, models.DifficultyEasy, now.Add(-1*time.Second)),
	}, 4, now)

	require.Len(t, groups, 1)
	assert.Equal(t, []string{"a", "b", "d", "e"}, groups[0].PlayerIDs())
}

func TestMatcher_HardCeilingForcesOldest(t *testing.T) {
	m := NewMatcher(DefaultMatcherConfig())
	now := newTestClock().Now()

	entries := []*models.QueueEntry{
		entry("old", 1000, models.Category1v1, models.DifficultyEasy, now.Add(-61*time.Second)),
		entry("far", 2000, models.Category1v1, models.DifficultyHard, now.Add(-5*time.Second)),
	}

	groups := m.FindGroups(entries, 2, now)
	require.Len(t, groups, 1)
	assert.True(t, groups[0].Forced)
	assert.Equal(t, []string{"old", "far"}, groups[0].PlayerIDs())
	assert.Equal(t, models.DifficultyEasy, groups[0].Difficulty(), "lower median of easy and hard")

	// 최대 대기 시간 전에는 묶이지 않는다
	assert.Empty(t, m.FindGroups(entries, 2, now.Add(-2*time.Second)))
}

func TestMatcher_NotEnoughPlayers(t *testing.T) {
	m := NewMatcher(DefaultMatcherConfig())
	now := newTestClock().Now()

	groups := m.FindGroups([]*models.QueueEntry{
		entry("a", 1000, models.CategoryFFA, models.DifficultyEasy, now.Add(-10*time.Minute)),
		entry("b", 1000, models.CategoryFFA, models.DifficultyEasy, now),
	}, 3, now)
	assert.Empty(t, groups)
}

func TestMatcher_GroupsRespectTolerance(t *testing.T) {
	m := NewMatcher(DefaultMatcherConfig())
	now := newTestClock().Now()

	// 결정적인 의사 난수로 대기열 구성
	var entries []*models.QueueEntry
	seed := 7
	difficulties := []models.Difficulty{models.DifficultyEasy, models.DifficultyMedium, models.DifficultyHard}
	for i := 0; i < 60; i++ {
		seed = (seed*1103515245 + 12345) % 2147483648
		rating := 800 + seed%1200
		wait := time.Duration(seed%90) * time.Second
		entries = append(entries, entry(fmt.Sprintf("p%02d", i), rating, models.Category1v1, difficulties[seed%3], now.Add(-wait)))
	}

	for _, size := range []int{2, 3, 4} {
		seen := map[string]bool{}
		for _, g := range m.FindGroups(entries, size, now) {
			require.Len(t, g.Entries, size)
			for _, e := range g.Entries {
				assert.False(t, seen[e.PlayerID], "player grouped twice")
				seen[e.PlayerID] = true
			}

			if g.Forced {
				assert.Greater(t, g.Entries[0].WaitTime(now), 60*time.Second)
				continue
			}
			for i := range g.Entries {
				for j := i + 1; j < len(g.Entries); j++ {
					assert.True(t, m.Compatible(g.Entries[i], g.Entries[j], now))
				}
			}
		}
	}
}
