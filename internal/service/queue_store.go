package service

import (
	"sort"
	"sync"
	"time"

	"github.com/rl-arena/code-arena-backend/internal/models"
)

// QueueStore 카테고리별 대기열
// 한 플레이어는 모든 카테고리를 통틀어 한 번만 대기할 수 있다.
type QueueStore struct {
	mu     sync.Mutex
	queues map[models.Category][]*models.QueueEntry
	index  map[string]models.Category
	now    func() time.Time
}

func NewQueueStore(categories []models.Category, now func() time.Time) *QueueStore {
	if now == nil {
		now = time.Now
	}
	queues := make(map[models.Category][]*models.QueueEntry, len(categories))
	for _, c := range categories {
		queues[c] = nil
	}
	return &QueueStore{
		queues: queues,
		index:  make(map[string]models.Category),
		now:    now,
	}
}

// Join 대기열 맨 뒤에 추가하고 위치(1부터)와 크기 반환
func (q *QueueStore) Join(entry *models.QueueEntry) (models.QueuePosition, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue, ok := q.queues[entry.Category]
	if !ok {
		return models.QueuePosition{}, ErrInvalidCategory
	}
	if _, queued := q.index[entry.PlayerID]; queued {
		return models.QueuePosition{}, ErrAlreadyQueued
	}

	if entry.JoinedAt.IsZero() {
		entry.JoinedAt = q.now()
	}
	c := *entry
	q.queues[entry.Category] = append(queue, &c)
	q.index[entry.PlayerID] = entry.Category

	size := len(q.queues[entry.Category])
	return models.QueuePosition{Position: size, QueueSize: size}, nil
}

// Leave 어느 카테고리에 있든 제거. 없으면 false (에러 아님)
func (q *QueueStore) Leave(playerID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	category, ok := q.index[playerID]
	if !ok {
		return false
	}
	q.removeLocked(category, playerID)
	return true
}

func (q *QueueStore) removeLocked(category models.Category, playerID string) *models.QueueEntry {
	queue := q.queues[category]
	for i, e := range queue {
		if e.PlayerID == playerID {
			q.queues[category] = append(queue[:i:i], queue[i+1:]...)
			delete(q.index, playerID)
			return e
		}
	}
	return nil
}

// Status 플레이어의 대기 상태
func (q *QueueStore) Status(playerID string) models.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	category, ok := q.index[playerID]
	if !ok {
		return models.QueueStatus{InQueue: false}
	}

	queue := q.queues[category]
	for i, e := range queue {
		if e.PlayerID == playerID {
			return models.QueueStatus{
				InQueue:    true,
				Category:   category,
				Position:   i + 1,
				QueueSize:  len(queue),
				WaitTimeMs: e.WaitTime(q.now()).Milliseconds(),
			}
		}
	}
	return models.QueueStatus{InQueue: false}
}

// IsQueued 대기 중인지
func (q *QueueStore) IsQueued(playerID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.index[playerID]
	return ok
}

// Stats 카테고리별 인원과 평균 대기 시간
func (q *QueueStore) Stats() []models.CategoryQueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	stats := make([]models.CategoryQueueStats, 0, len(q.queues))
	for category, queue := range q.queues {
		s := models.CategoryQueueStats{Category: category, Count: len(queue)}
		if len(queue) > 0 {
			var total time.Duration
			for _, e := range queue {
				total += e.WaitTime(now)
			}
			s.AverageWaitMs = (total / time.Duration(len(queue))).Milliseconds()
		}
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Category < stats[j].Category })
	return stats
}

// QueuedPlayers 모든 카테고리의 대기 플레이어 ID
func (q *QueueStore) QueuedPlayers() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make([]string, 0, len(q.index))
	for id := range q.index {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot 도착 순서대로 정렬된 대기열 복사본
func (q *QueueStore) Snapshot(category models.Category) []*models.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.queues[category]
	out := make([]*models.QueueEntry, 0, len(queue))
	for _, e := range queue {
		c := *e
		out = append(out, &c)
	}
	return out
}

// Take playerIDs를 원자적으로 꺼낸다. 하나라도 없으면 아무것도 꺼내지 않는다.
func (q *QueueStore) Take(category models.Category, playerIDs []string) ([]*models.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range playerIDs {
		if c, ok := q.index[id]; !ok || c != category {
			return nil, false
		}
	}

	taken := make([]*models.QueueEntry, 0, len(playerIDs))
	for _, id := range playerIDs {
		taken = append(taken, q.removeLocked(category, id))
	}
	return taken, true
}

// Restore 꺼냈던 항목을 원래 joinedAt 순서 그대로 되돌린다
// 그 사이 다른 카테고리에 다시 줄 선 플레이어는 건너뛴다.
func (q *QueueStore) Restore(category models.Category, entries []*models.QueueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.queues[category]
	for _, e := range entries {
		if _, queued := q.index[e.PlayerID]; queued {
			continue
		}
		queue = append(queue, e)
		q.index[e.PlayerID] = category
	}
	sort.SliceStable(queue, func(i, j int) bool { return queue[i].JoinedAt.Before(queue[j].JoinedAt) })
	q.queues[category] = queue
}

// Size 카테고리 대기 인원
func (q *QueueStore) Size(category models.Category) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[category])
}
