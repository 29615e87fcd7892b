package service

import (
	"testing"
	"time"

	"github.com/rl-arena/code-arena-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func entry(playerID string, rating int, category models.Category, difficulty models.Difficulty, joinedAt time.Time) *models.QueueEntry {
	return &models.QueueEntry{
		PlayerID:       playerID,
		RatingSnapshot: rating,
		Category:       category,
		Preferences:    models.QueuePreferences{Difficulty: difficulty},
		JoinedAt:       joinedAt,
	}
}

func TestQueueStore_JoinAndStatus(t *testing.T) {
	clock := newTestClock()
	q := NewQueueStore(models.AllCategories, clock.Now)

	pos, err := q.Join(entry("p1", 1000, models.Category1v1, models.DifficultyMedium, time.Time{}))
	require.NoError(t, err)
	assert.Equal(t, models.QueuePosition{Position: 1, QueueSize: 1}, pos)

	pos, err = q.Join(entry("p2", 1000, models.Category1v1, models.DifficultyMedium, time.Time{}))
	require.NoError(t, err)
	assert.Equal(t, models.QueuePosition{Position: 2, QueueSize: 2}, pos)

	clock.Advance(3 * time.Second)
	status := q.Status("p2")
	assert.True(t, status.InQueue)
	assert.Equal(t, models.Category1v1, status.Category)
	assert.Equal(t, 2, status.Position)
	assert.Equal(t, 2, status.QueueSize)
	assert.Equal(t, int64(3000), status.WaitTimeMs)

	assert.Equal(t, models.QueueStatus{InQueue: false}, q.Status("nobody"))
}

func TestQueueStore_AlreadyQueuedAcrossCategories(t *testing.T) {
	q := NewQueueStore(models.AllCategories, nil)

	_, err := q.Join(entry("p1", 1000, models.Category1v1, models.DifficultyEasy, time.Time{}))
	require.NoError(t, err)

	_, err = q.Join(entry("p1", 1000, models.CategoryFFA, models.DifficultyEasy, time.Time{}))
	assert.ErrorIs(t, err, ErrAlreadyQueued)
	assert.Equal(t, 0, q.Size(models.CategoryFFA))
}

func TestQueueStore_UnknownCategory(t *testing.T) {
	q := NewQueueStore([]models.Category{models.Category1v1}, nil)

	_, err := q.Join(entry("p1", 1000, models.Category2v2, models.DifficultyEasy, time.Time{}))
	assert.ErrorIs(t, err, ErrInvalidCategory)
}

func TestQueueStore_LeaveIsIdempotent(t *testing.T) {
	q := NewQueueStore(models.AllCategories, nil)
	_, err := q.Join(entry("p1", 1000, models.Category1v1, models.DifficultyEasy, time.Time{}))
	require.NoError(t, err)

	assert.True(t, q.Leave("p1"))
	assert.False(t, q.Leave("p1"))
	assert.False(t, q.IsQueued("p1"))

	// 나간 뒤 다시 줄 설 수 있다
	_, err = q.Join(entry("p1", 1000, models.CategoryFFA, models.DifficultyEasy, time.Time{}))
	assert.NoError(t, err)
}

func TestQueueStore_TakeAndRestorePreserveOrder(t *testing.T) {
	clock := newTestClock()
	q := NewQueueStore(models.AllCategories, clock.Now)
	t0 := clock.Now()

	for i, id := range []string{"a", "b", "c", "d"} {
		_, err := q.Join(entry(id, 1000, models.Category1v1, models.DifficultyEasy, t0.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}

	taken, ok := q.Take(models.Category1v1, []string{"b", "c"})
	require.True(t, ok)
	require.Len(t, taken, 2)
	assert.Equal(t, 2, q.Size(models.Category1v1))

	// 없는 플레이어가 섞이면 아무것도 꺼내지 않는다
	_, ok = q.Take(models.Category1v1, []string{"a", "zzz"})
	assert.False(t, ok)
	assert.Equal(t, 2, q.Size(models.Category1v1))

	q.Restore(models.Category1v1, taken)

	var order []string
	for _, e := range q.Snapshot(models.Category1v1) {
		order = append(order, e.PlayerID)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
	assert.Equal(t, 2, q.Status("b").Position)
}

func TestQueueStore_RestoreSkipsRequeuedPlayers(t *testing.T) {
	q := NewQueueStore(models.AllCategories, nil)
	_, err := q.Join(entry("a", 1000, models.Category1v1, models.DifficultyEasy, time.Time{}))
	require.NoError(t, err)

	taken, ok := q.Take(models.Category1v1, []string{"a"})
	require.True(t, ok)

	_, err = q.Join(entry("a", 1000, models.CategoryFFA, models.DifficultyEasy, time.Time{}))
	require.NoError(t, err)

	q.Restore(models.Category1v1, taken)
	assert.Equal(t, 0, q.Size(models.Category1v1))
	assert.Equal(t, models.CategoryFFA, q.Status("a").Category)
}

func TestQueueStore_Stats(t *testing.T) {
	clock := newTestClock()
	q := NewQueueStore(models.AllCategories, clock.Now)

	_, err := q.Join(entry("a", 1000, models.Category1v1, models.DifficultyEasy, clock.Now()))
	require.NoError(t, err)
	clock.Advance(10 * time.Second)
	_, err = q.Join(entry("b", 1000, models.Category1v1, models.DifficultyEasy, clock.Now()))
	require.NoError(t, err)

	stats := q.Stats()
	require.Len(t, stats, 3)

	byCategory := map[models.Category]models.CategoryQueueStats{}
	for _, s := range stats {
		byCategory[s.Category] = s
	}
	assert.Equal(t, 2, byCategory[models.Category1v1].Count)
	assert.Equal(t, int64(5000), byCategory[models.Category1v1].AverageWaitMs)
	assert.Equal(t, 0, byCategory[models.CategoryFFA].Count)
}
