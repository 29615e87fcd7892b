package service

import (
	"sort"
	"time"

	"github.com/rl-arena/code-arena-backend/internal/models"
)

type MatcherConfig struct {
	ToleranceBase int
	ToleranceStep int
	ToleranceMax  int
	StepInterval  time.Duration
	HardCeiling   time.Duration
	GroupSizes    map[models.Category]int
}

// DefaultMatcherConfig 기본 허용 범위 100, 20초마다 +50, 최대 300, 60초 후 강제 매칭
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		ToleranceBase: 100,
		ToleranceStep: 50,
		ToleranceMax:  300,
		StepInterval:  20 * time.Second,
		HardCeiling:   60 * time.Second,
		GroupSizes: map[models.Category]int{
			models.Category1v1: 2,
			models.Category2v2: 4,
			models.CategoryFFA: 3,
		},
	}
}

// Matcher 대기열 스냅샷에서 경기 그룹을 고른다. 상태를 갖지 않는다.
type Matcher struct {
	cfg MatcherConfig
}

type MatchGroup struct {
	Entries []*models.QueueEntry
	// Forced 최대 대기 시간을 넘겨 허용 범위를 무시하고 묶인 그룹
	Forced bool
}

func (g MatchGroup) PlayerIDs() []string {
	ids := make([]string, len(g.Entries))
	for i, e := range g.Entries {
		ids[i] = e.PlayerID
	}
	return ids
}

// Difficulty 그룹의 공통 난이도. 강제 그룹은 선호 난이도의 중앙값.
func (g MatchGroup) Difficulty() models.Difficulty {
	if len(g.Entries) == 0 {
		return models.DifficultyMedium
	}
	levels := make([]int, len(g.Entries))
	for i, e := range g.Entries {
		levels[i] = e.Preferences.Difficulty.Level()
	}
	sort.Ints(levels)
	return models.DifficultyFromLevel(levels[(len(levels)-1)/2])
}

func NewMatcher(cfg MatcherConfig) *Matcher {
	return &Matcher{cfg: cfg}
}

// GroupSize 카테고리별 필요 인원
func (m *Matcher) GroupSize(category models.Category) int {
	if n, ok := m.cfg.GroupSizes[category]; ok {
		return n
	}
	return 2
}

// Tolerance 대기 시간에 따른 허용 레이팅 차
func (m *Matcher) Tolerance(wait time.Duration) int {
	tolerance := m.cfg.ToleranceBase
	if m.cfg.StepInterval > 0 && wait > 0 {
		tolerance += m.cfg.ToleranceStep * int(wait/m.cfg.StepInterval)
	}
	if tolerance > m.cfg.ToleranceMax {
		tolerance = m.cfg.ToleranceMax
	}
	return tolerance
}

// Compatible 같은 난이도 선호 + 더 오래 기다린 쪽 기준 허용 범위 이내
func (m *Matcher) Compatible(a, b *models.QueueEntry, now time.Time) bool {
	if a.Preferences.Difficulty != b.Preferences.Difficulty {
		return false
	}

	wait := a.WaitTime(now)
	if w := b.WaitTime(now); w > wait {
		wait = w
	}

	diff := a.RatingSnapshot - b.RatingSnapshot
	if diff < 0 {
		diff = -diff
	}
	return diff <= m.Tolerance(wait)
}

// FindGroups 오래 기다린 순으로 시드를 잡고 호환되는 항목을 탐욕적으로 모은다
// 한 번의 tick에서 여러 그룹이 나올 수 있다. 무작위성은 없다.
func (m *Matcher) FindGroups(entries []*models.QueueEntry, size int, now time.Time) []MatchGroup {
	if size < 1 || len(entries) < size {
		return nil
	}

	sorted := make([]*models.QueueEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].JoinedAt.Before(sorted[j].JoinedAt)
	})

	used := make([]bool, len(sorted))
	var groups []MatchGroup

	for i, seed := range sorted {
		if used[i] {
			continue
		}

		picked := []int{i}
		for j := i + 1; j < len(sorted) && len(picked) < size; j++ {
			if used[j] {
				continue
			}
			if m.compatibleWithAll(sorted, picked, sorted[j], now) {
				picked = append(picked, j)
			}
		}

		forced := false
		if len(picked) < size && seed.WaitTime(now) > m.cfg.HardCeiling {
			// 남은 항목 중 가장 오래 기다린 N명을 그대로 묶는다
			picked = picked[:1]
			for j := i + 1; j < len(sorted) && len(picked) < size; j++ {
				if !used[j] {
					picked = append(picked, j)
				}
			}
			forced = true
		}

		if len(picked) < size {
			continue
		}

		group := MatchGroup{Entries: make([]*models.QueueEntry, 0, size), Forced: forced}
		for _, idx := range picked {
			used[idx] = true
			group.Entries = append(group.Entries, sorted[idx])
		}
		groups = append(groups, group)
	}

	return groups
}

func (m *Matcher) compatibleWithAll(sorted []*models.QueueEntry, picked []int, candidate *models.QueueEntry, now time.Time) bool {
	for _, idx := range picked {
		if !m.Compatible(sorted[idx], candidate, now) {
			return false
		}
	}
	return true
}
