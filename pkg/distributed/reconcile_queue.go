package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReconcileJob 채점에 실패한 경기를 다시 처리하기 위한 작업
type ReconcileJob struct {
	MatchID       string    `json:"matchId"`
	LastError     string    `json:"lastError"`
	Attempts      int       `json:"attempts"`
	MaxAttempts   int       `json:"maxAttempts"`
	NextAttemptAt time.Time `json:"nextAttemptAt"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	// Conclusion 종료 상태 저장까지 실패한 경기면 채점 전에 먼저 기록할 값
	Conclusion *PendingConclusion `json:"conclusion,omitempty"`
}

// PendingConclusion 저장소에 반영되지 못한 경기 종료 상태
type PendingConclusion struct {
	Reason      string    `json:"reason"`
	CompletedAt time.Time `json:"completedAt"`
}

// DeadLetter 재시도 한도를 넘겨 운영자 조치가 필요한 작업
type DeadLetter struct {
	Job     ReconcileJob `json:"job"`
	Reason  string       `json:"reason"`
	MovedAt time.Time    `json:"movedAt"`
}

// ReconcileStats 큐 통계
type ReconcileStats struct {
	Scheduled    int64 `json:"scheduled"`
	Tracked      int64 `json:"tracked"`
	DeadLettered int64 `json:"deadLettered"`
}

// 실행 시각이 된 작업을 원자적으로 꺼낸다. 작업 본문은 완료될 때까지 해시에 남는다.
var dequeueDueScript = redis.NewScript(`
	local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
	local out = {}
	for _, id in ipairs(ids) do
		redis.call('ZREM', KEYS[1], id)
		local data = redis.call('HGET', KEYS[2], id)
		if data then
			table.insert(out, data)
		end
	end
	return out
`)

// ReconcileQueue Redis 기반 지연 재시도 큐
// scheduleKey (Sorted Set, score=다음 실행 시각) + jobsKey (Hash) + dlqKey (List)
type ReconcileQueue struct {
	client      *redis.Client
	scheduleKey string
	jobsKey     string
	dlqKey      string
	now         func() time.Time
}

// NewReconcileQueue 재처리 큐 생성
func NewReconcileQueue(client *redis.Client, name string) *ReconcileQueue {
	return &ReconcileQueue{
		client:      client,
		scheduleKey: fmt.Sprintf("reconcile:%s:schedule", name),
		jobsKey:     fmt.Sprintf("reconcile:%s:jobs", name),
		dlqKey:      fmt.Sprintf("reconcile:%s:dlq", name),
		now:         time.Now,
	}
}

// Enqueue 작업 등록 (같은 경기는 하나의 작업으로 합쳐진다)
func (q *ReconcileQueue) Enqueue(ctx context.Context, job *ReconcileJob) error {
	now := q.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.NextAttemptAt.IsZero() {
		job.NextAttemptAt = now
	}
	job.UpdatedAt = now

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal reconcile job: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobsKey, job.MatchID, data)
		pipe.ZAdd(ctx, q.scheduleKey, redis.Z{
			Score:  float64(job.NextAttemptAt.UnixMilli()),
			Member: job.MatchID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue reconcile job: %w", err)
	}
	return nil
}

// DequeueDue 실행 시각이 지난 작업을 최대 limit개 꺼낸다
func (q *ReconcileQueue) DequeueDue(ctx context.Context, limit int) ([]*ReconcileJob, error) {
	raw, err := dequeueDueScript.Run(ctx, q.client,
		[]string{q.scheduleKey, q.jobsKey},
		q.now().UnixMilli(), limit,
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue reconcile jobs: %w", err)
	}

	jobs := make([]*ReconcileJob, 0, len(raw))
	for _, data := range raw {
		var job ReconcileJob
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// Complete 작업 처리 완료
func (q *ReconcileQueue) Complete(ctx context.Context, matchID string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, q.jobsKey, matchID)
		pipe.ZRem(ctx, q.scheduleKey, matchID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to complete reconcile job: %w", err)
	}
	return nil
}

// Retry 실패한 작업을 backoff 후 다시 예약, 한도를 넘기면 DLQ로 이동
func (q *ReconcileQueue) Retry(ctx context.Context, job *ReconcileJob, lastErr string, backoff time.Duration) error {
	job.Attempts++
	job.LastError = lastErr

	if job.MaxAttempts > 0 && job.Attempts >= job.MaxAttempts {
		return q.MoveToDLQ(ctx, job, "max attempts exceeded")
	}

	// 시도 횟수에 비례해 대기
	job.NextAttemptAt = q.now().Add(backoff * time.Duration(job.Attempts))
	return q.Enqueue(ctx, job)
}

// MoveToDLQ Dead Letter Queue로 이동
func (q *ReconcileQueue) MoveToDLQ(ctx context.Context, job *ReconcileJob, reason string) error {
	now := q.now()
	job.UpdatedAt = now

	data, err := json.Marshal(DeadLetter{Job: *job, Reason: reason, MovedAt: now})
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, q.dlqKey, data)
		pipe.HDel(ctx, q.jobsKey, job.MatchID)
		pipe.ZRem(ctx, q.scheduleKey, job.MatchID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to move job to DLQ: %w", err)
	}
	return nil
}

// RecoverStale 꺼내진 뒤 staleTimeout 동안 완료되지 않은 작업을 다시 예약
// 처리 중 프로세스가 죽은 경우를 복구한다.
func (q *ReconcileQueue) RecoverStale(ctx context.Context, staleTimeout time.Duration) (int, error) {
	items, err := q.client.HGetAll(ctx, q.jobsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list reconcile jobs: %w", err)
	}

	recovered := 0
	now := q.now()

	for matchID, data := range items {
		// 아직 예약 상태면 처리 중이 아님
		if _, err := q.client.ZScore(ctx, q.scheduleKey, matchID).Result(); err == nil {
			continue
		} else if !errors.Is(err, redis.Nil) {
			return recovered, err
		}

		var job ReconcileJob
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			continue
		}
		if now.Sub(job.UpdatedAt) < staleTimeout {
			continue
		}

		job.NextAttemptAt = now
		if err := q.Enqueue(ctx, &job); err != nil {
			return recovered, err
		}
		recovered++
	}

	return recovered, nil
}

// PeekDLQ DLQ에서 아이템 확인 (제거하지 않음)
func (q *ReconcileQueue) PeekDLQ(ctx context.Context, count int64) ([]DeadLetter, error) {
	items, err := q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
	if err != nil {
		return nil, err
	}

	result := make([]DeadLetter, 0, len(items))
	for _, item := range items {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(item), &dl); err != nil {
			continue
		}
		result = append(result, dl)
	}
	return result, nil
}

// Stats 큐 통계 조회
func (q *ReconcileQueue) Stats(ctx context.Context) (*ReconcileStats, error) {
	pipe := q.client.Pipeline()
	scheduled := pipe.ZCard(ctx, q.scheduleKey)
	tracked := pipe.HLen(ctx, q.jobsKey)
	dead := pipe.LLen(ctx, q.dlqKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	return &ReconcileStats{
		Scheduled:    scheduled.Val(),
		Tracked:      tracked.Val(),
		DeadLettered: dead.Val(),
	}, nil
}
