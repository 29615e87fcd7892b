package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rl-arena/code-arena-backend/pkg/distributed"
	"go.uber.org/zap"
)

// ReconcileQueue 재처리 큐 연산 (distributed.ReconcileQueue)
type ReconcileQueue interface {
	ReconcileEnqueuer
	DequeueDue(ctx context.Context, limit int) ([]*distributed.ReconcileJob, error)
	Complete(ctx context.Context, matchID string) error
	Retry(ctx context.Context, job *distributed.ReconcileJob, lastErr string, backoff time.Duration) error
	RecoverStale(ctx context.Context, staleTimeout time.Duration) (int, error)
}

// Rescorer 한 경기를 다시 채점한다
type Rescorer interface {
	Rescore(ctx context.Context, matchID string) (*ScoringResult, error)
	RestoreConclusion(ctx context.Context, matchID string, pending *distributed.PendingConclusion) error
}

type ReconcilerConfig struct {
	Interval     time.Duration
	Backoff      time.Duration
	StaleTimeout time.Duration
	BatchSize    int
}

// Reconciler 채점에 실패한 경기를 주기적으로 다시 처리
// 재시도 한도를 넘긴 경기는 큐가 DLQ로 옮긴다.
type Reconciler struct {
	queue    ReconcileQueue
	scoring  Rescorer
	cfg      ReconcilerConfig
	logger   *zap.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewReconciler(queue ReconcileQueue, scoring Rescorer, cfg ReconcilerConfig, logger *zap.Logger) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		queue:    queue,
		scoring:  scoring,
		cfg:      cfg,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start 재처리 루프 시작
func (r *Reconciler) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	r.logger.Info("Starting Reconciler", zap.Duration("interval", r.cfg.Interval))

	r.wg.Add(1)
	go r.loop()
}

// Stop 재처리 루프 중지
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopChan)
	r.wg.Wait()
	r.logger.Info("Reconciler stopped")
}

func (r *Reconciler) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-r.stopChan
		cancel()
	}()

	// 시작 시 한번 실행
	r.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-r.stopChan:
			return
		}
	}
}

// RunOnce 실행 시각이 된 작업을 처리하고 성공한 경기 수 반환
func (r *Reconciler) RunOnce(ctx context.Context) int {
	if n, err := r.queue.RecoverStale(ctx, r.cfg.StaleTimeout); err != nil {
		r.logger.Error("Failed to recover stale reconcile jobs", zap.Error(err))
	} else if n > 0 {
		r.logger.Warn("Recovered stale reconcile jobs", zap.Int("count", n))
	}

	jobs, err := r.queue.DequeueDue(ctx, r.cfg.BatchSize)
	if err != nil {
		r.logger.Error("Failed to dequeue reconcile jobs", zap.Error(err))
		return 0
	}

	reconciled := 0
	for _, job := range jobs {
		if r.process(ctx, job) {
			reconciled++
		}
	}
	return reconciled
}

func (r *Reconciler) process(ctx context.Context, job *distributed.ReconcileJob) bool {
	result, err := r.rescore(ctx, job)
	if err == nil {
		if err := r.queue.Complete(ctx, job.MatchID); err != nil {
			r.logger.Error("Failed to complete reconcile job", zap.String("matchId", job.MatchID), zap.Error(err))
		}
		r.logger.Info("Match reconciled",
			zap.String("matchId", job.MatchID),
			zap.Bool("alreadyScored", result.AlreadyScored),
			zap.Int("attempts", job.Attempts+1))
		return true
	}

	// 다른 인스턴스가 처리 중이면 시도 횟수를 쓰지 않고 다시 예약
	if errors.Is(err, ErrScoringInProgress) {
		job.NextAttemptAt = time.Now().Add(r.cfg.Backoff)
		if err := r.queue.Enqueue(ctx, job); err != nil {
			r.logger.Error("Failed to reschedule reconcile job", zap.String("matchId", job.MatchID), zap.Error(err))
		}
		return false
	}

	r.logger.Warn("Reconciliation attempt failed",
		zap.String("matchId", job.MatchID),
		zap.Int("attempt", job.Attempts+1),
		zap.Error(err))
	if err := r.queue.Retry(ctx, job, err.Error(), r.cfg.Backoff); err != nil {
		r.logger.Error("Failed to retry reconcile job", zap.String("matchId", job.MatchID), zap.Error(err))
	}
	return false
}

// rescore 종료 상태가 저장되지 않은 경기는 그것부터 기록한 뒤 채점
func (r *Reconciler) rescore(ctx context.Context, job *distributed.ReconcileJob) (*ScoringResult, error) {
	if job.Conclusion != nil {
		if err := r.scoring.RestoreConclusion(ctx, job.MatchID, job.Conclusion); err != nil {
			return nil, err
		}
	}
	return r.scoring.Rescore(ctx, job.MatchID)
}
