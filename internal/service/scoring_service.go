package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rl-arena/code-arena-backend/internal/models"
	"github.com/rl-arena/code-arena-backend/internal/repository"
	"github.com/rl-arena/code-arena-backend/pkg/distributed"
	"github.com/rl-arena/code-arena-backend/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ReconcileEnqueuer 채점 실패 경기를 재처리 큐에 넣는다
type ReconcileEnqueuer interface {
	Enqueue(ctx context.Context, job *distributed.ReconcileJob) error
}

// ScoringLocker 여러 인스턴스가 같은 경기를 동시에 채점하지 않도록 막는다
type ScoringLocker interface {
	WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) error
}

type ScoringConfig struct {
	RetryAttempts        int
	RetryBackoff         time.Duration
	ReconcileMaxAttempts int
	LockTTL              time.Duration
}

func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		RetryAttempts:        3,
		RetryBackoff:         200 * time.Millisecond,
		ReconcileMaxAttempts: 5,
		LockTTL:              30 * time.Second,
	}
}

// ScoringResult 경기 종료 처리 결과
type ScoringResult struct {
	MatchID string
	// Ranked 순위순 참가자 (Rank, RatingChange 포함)
	Ranked       []*models.Participant
	Scoreboard   []models.ScoreboardEntry
	WinnerID     *string
	Ratings      []RatingResult
	Achievements []*models.Achievement
	// AlreadyScored 다른 경로에서 이미 반영된 경기 (아무것도 바뀌지 않음)
	AlreadyScored bool
}

// AchievementsFor 플레이어가 이번 경기에서 새로 얻은 업적
func (r *ScoringResult) AchievementsFor(playerID string) []*models.Achievement {
	var out []*models.Achievement
	for _, a := range r.Achievements {
		if a.PlayerID == playerID {
			out = append(out, a)
		}
	}
	return out
}

// ScoringService 경기 종료 후 순위, 레이팅, 시즌 포인트, 업적을 하나의 트랜잭션으로 반영
type ScoringService struct {
	store     repository.Store
	elo       *ELOService
	reconcile ReconcileEnqueuer
	locks     ScoringLocker
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       ScoringConfig
	now       func() time.Time
}

func NewScoringService(
	store repository.Store,
	elo *ELOService,
	reconcile ReconcileEnqueuer,
	locks ScoringLocker,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg ScoringConfig,
) *ScoringService {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScoringService{
		store:     store,
		elo:       elo,
		reconcile: reconcile,
		locks:     locks,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// ScoreMatch 경기 종료 직후 호출되는 채점 경로
// 실패하면 backoff로 재시도하고, 끝내 실패하면 경기에 scoringError를 남기고 재처리 큐에 넣는다.
// 첫 시도에서 이미 채점된 경기를 만나면 이중 종료이므로 InvariantViolation 이다.
func (s *ScoringService) ScoreMatch(ctx context.Context, matchID string) (*ScoringResult, error) {
	var lastErr error

	for attempt := 1; attempt <= s.cfg.RetryAttempts; attempt++ {
		if attempt > 1 {
			s.metrics.ScoringRetried()
			if err := sleepContext(ctx, s.cfg.RetryBackoff*time.Duration(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}

		result, err := s.scoreOnce(ctx, matchID)
		if err == nil {
			return result, nil
		}

		if errors.Is(err, repository.ErrAlreadyScored) {
			if attempt == 1 {
				s.metrics.InvariantViolation("double_scoring")
				s.logger.Error("invariant_violation: match scored twice",
					zap.String("matchId", matchID))
				return nil, fmt.Errorf("%w: match %s already scored", ErrInvariantViolation, matchID)
			}
			// 앞선 시도가 커밋된 뒤 응답만 실패한 경우
			return &ScoringResult{MatchID: matchID, AlreadyScored: true}, nil
		}
		if errors.Is(err, ErrScoringInProgress) || errors.Is(err, ErrInvariantViolation) {
			return nil, err
		}

		lastErr = err
		s.logger.Warn("Scoring attempt failed",
			zap.String("matchId", matchID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	s.markFailed(ctx, matchID, lastErr, nil)
	return nil, fmt.Errorf("%w: match %s: %w", ErrScoringFailed, matchID, lastErr)
}

// ConclusionUnsaved 종료 상태를 저장하지 못한 경기. 채점하지 않고 표식과 재처리 작업을 남긴다.
// 재처리 작업이 종료 상태를 먼저 기록한 뒤 채점한다.
func (s *ScoringService) ConclusionUnsaved(ctx context.Context, match *models.Match, cause error) error {
	pending := &distributed.PendingConclusion{CompletedAt: s.now()}
	if match.ConcludedReason != nil {
		pending.Reason = string(*match.ConcludedReason)
	}
	if match.CompletedAt != nil {
		pending.CompletedAt = *match.CompletedAt
	}
	s.markFailed(ctx, match.ID, cause, pending)
	return fmt.Errorf("%w: match %s: conclusion not saved: %w", ErrScoringFailed, match.ID, cause)
}

// RestoreConclusion 저장되지 못한 종료 상태를 기록한다. 이미 completed면 아무것도 하지 않는다.
func (s *ScoringService) RestoreConclusion(ctx context.Context, matchID string, pending *distributed.PendingConclusion) error {
	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return external("get match", err)
	}
	if m.Status == models.MatchStatusCompleted {
		return nil
	}
	if m.Status != models.MatchStatusInProgress {
		return fmt.Errorf("%w: restoring conclusion of match %s in status %s", ErrInvariantViolation, matchID, m.Status)
	}

	reason := models.ConclusionReason(pending.Reason)
	at := pending.CompletedAt
	m.Status = models.MatchStatusCompleted
	m.ConcludedReason = &reason
	m.CompletedAt = &at
	if err := s.store.UpdateMatchState(ctx, m); err != nil {
		return external("restore conclusion", err)
	}
	s.logger.Info("Match conclusion restored",
		zap.String("matchId", matchID),
		zap.String("reason", pending.Reason))
	return nil
}

// Rescore 재처리 경로. 한 번만 시도하며 이미 채점된 경기는 성공으로 본다.
func (s *ScoringService) Rescore(ctx context.Context, matchID string) (*ScoringResult, error) {
	result, err := s.scoreOnce(ctx, matchID)
	if errors.Is(err, repository.ErrAlreadyScored) {
		return &ScoringResult{MatchID: matchID, AlreadyScored: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *ScoringService) markFailed(ctx context.Context, matchID string, cause error, pending *distributed.PendingConclusion) {
	s.metrics.ScoringFailed()
	ctx = context.WithoutCancel(ctx)

	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}

	if err := s.store.MarkScoringFailed(ctx, matchID, reason); err != nil {
		s.logger.Error("Failed to mark match as unscored",
			zap.String("matchId", matchID),
			zap.Error(err))
	}

	if s.reconcile == nil {
		s.logger.Error("Match left unscored, no reconciliation queue configured",
			zap.String("matchId", matchID),
			zap.String("reason", reason))
		return
	}

	now := s.now()
	job := &distributed.ReconcileJob{
		MatchID:       matchID,
		LastError:     reason,
		MaxAttempts:   s.cfg.ReconcileMaxAttempts,
		NextAttemptAt: now.Add(s.cfg.RetryBackoff),
		CreatedAt:     now,
		Conclusion:    pending,
	}
	if err := s.reconcile.Enqueue(ctx, job); err != nil {
		s.logger.Error("Failed to enqueue match for reconciliation",
			zap.String("matchId", matchID),
			zap.Error(err))
		return
	}
	s.logger.Warn("Match queued for scoring reconciliation",
		zap.String("matchId", matchID),
		zap.String("reason", reason))
}

func (s *ScoringService) scoreOnce(ctx context.Context, matchID string) (*ScoringResult, error) {
	var result *ScoringResult
	run := func(ctx context.Context) error {
		in, err := s.loadInputs(ctx, matchID)
		if err != nil {
			return err
		}
		return s.store.RunScoring(ctx, func(tx repository.ScoringTx) error {
			r, err := s.apply(ctx, tx, in)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
	}

	if s.locks == nil {
		if err := run(ctx); err != nil {
			return nil, err
		}
		return result, nil
	}

	err := s.locks.WithLock(ctx, "scoring:"+matchID, s.cfg.LockTTL, run)
	if errors.Is(err, distributed.ErrLockNotAcquired) {
		return nil, fmt.Errorf("%w: match %s", ErrScoringInProgress, matchID)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

type scoringInputs struct {
	matchID      string
	participants []*models.Participant
	submissions  []*models.Submission
}

// loadInputs 종료된 경기의 참가자와 제출 기록을 동시에 읽는다
func (s *ScoringService) loadInputs(ctx context.Context, matchID string) (*scoringInputs, error) {
	in := &scoringInputs{matchID: matchID}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		participants, err := s.store.ListParticipants(gctx, matchID)
		if err != nil {
			return external("list participants", err)
		}
		in.participants = participants
		return nil
	})
	g.Go(func() error {
		submissions, err := s.store.ListMatchSubmissions(gctx, matchID)
		if err != nil {
			return external("list submissions", err)
		}
		in.submissions = submissions
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

func (s *ScoringService) apply(ctx context.Context, tx repository.ScoringTx, in *scoringInputs) (*ScoringResult, error) {
	match, err := tx.LockMatch(ctx, in.matchID)
	if err != nil {
		return nil, external("lock match", err)
	}
	if match.ScoredAt != nil {
		return nil, repository.ErrAlreadyScored
	}
	if match.Status != models.MatchStatusCompleted {
		return nil, fmt.Errorf("%w: scoring match %s in status %s", ErrInvariantViolation, match.ID, match.Status)
	}

	participants := make([]*models.Participant, 0, len(in.participants))
	playerIDs := make([]string, 0, len(in.participants))
	bestScore := bestSubmissionScores(in.submissions)
	for _, p := range in.participants {
		c := p.Clone()
		if best := bestScore[c.PlayerID]; best > c.Score {
			c.Score = best
		}
		participants = append(participants, c)
		playerIDs = append(playerIDs, c.PlayerID)
	}

	ratingRecords, err := tx.LoadRatings(ctx, playerIDs)
	if err != nil {
		return nil, external("load ratings", err)
	}
	stats, err := tx.LoadStats(ctx, playerIDs)
	if err != nil {
		return nil, external("load stats", err)
	}
	owned, err := tx.LoadAchievements(ctx, playerIDs)
	if err != nil {
		return nil, external("load achievements", err)
	}

	// 1. 순위
	ranked := RankParticipants(participants)

	// 2. 레이팅
	ratings := make(map[string]int, len(ranked))
	for _, id := range playerIDs {
		rec := ratingRecords[id]
		if rec == nil {
			rec = &models.RatingRecord{PlayerID: id, Rating: models.DefaultRating}
			ratingRecords[id] = rec
		}
		ratings[id] = rec.Rating
	}
	ratingResults := s.elo.CalculateMatch(ranked, ratings, match.Category.TeamBased())

	concludedAt := s.now()
	if match.CompletedAt != nil {
		concludedAt = *match.CompletedAt
	}
	start := concludedAt
	if match.StartTime != nil {
		start = *match.StartTime
	}

	byPlayer := make(map[string]*models.Participant, len(ranked))
	for _, p := range ranked {
		byPlayer[p.PlayerID] = p
	}

	var (
		winnerID     *string
		updated      = make([]*models.RatingRecord, 0, len(ratingResults))
		updatedStats = make([]*models.PlayerStats, 0, len(ratingResults))
		candidates   []*models.Achievement
	)
	for _, rr := range ratingResults {
		p := byPlayer[rr.PlayerID]
		change := rr.Change
		p.RatingChange = &change
		if rr.Win && winnerID == nil {
			id := rr.PlayerID
			winnerID = &id
		}

		rec := *ratingRecords[rr.PlayerID]
		rec.PlayerID = rr.PlayerID
		rec.Rating = rr.NewRating
		rec.TotalMatches++
		if rr.Win {
			rec.Wins++
		}
		if rr.Loss {
			rec.Losses++
		}
		updated = append(updated, &rec)

		// 4. 업적
		before := models.PlayerStats{PlayerID: rr.PlayerID}
		if st := stats[rr.PlayerID]; st != nil {
			before = *st
		}
		perf := PerformanceFromSubmissions(rr.PlayerID, start, in.submissions)
		after := AdvanceStats(before, perf, rr, concludedAt)
		updatedStats = append(updatedStats, &after)

		matchID := match.ID
		for _, code := range EvaluateAchievements(AchievementInput{
			Performance:  perf,
			StatsBefore:  before,
			StatsAfter:   after,
			TotalMatches: rec.TotalMatches,
			Owned:        owned[rr.PlayerID],
		}) {
			candidates = append(candidates, &models.Achievement{
				Code:      code,
				PlayerID:  rr.PlayerID,
				MatchID:   &matchID,
				AwardedAt: concludedAt,
			})
		}
	}

	if err := tx.SaveParticipantResults(ctx, ranked); err != nil {
		return nil, external("save participant results", err)
	}
	if err := tx.SaveRatings(ctx, updated); err != nil {
		return nil, external("save ratings", err)
	}
	if err := tx.SaveStats(ctx, updatedStats); err != nil {
		return nil, external("save stats", err)
	}

	// 3. 시즌 포인트
	if match.SeasonID != nil {
		for _, p := range ranked {
			if err := tx.AddSeasonPoints(ctx, *match.SeasonID, p.PlayerID, p.Score); err != nil {
				return nil, external("add season points", err)
			}
		}
	}

	granted, err := tx.GrantAchievements(ctx, candidates)
	if err != nil {
		return nil, external("grant achievements", err)
	}

	if err := tx.MarkScored(ctx, match.ID, winnerID, s.now()); err != nil {
		if errors.Is(err, repository.ErrAlreadyScored) {
			return nil, err
		}
		return nil, external("mark scored", err)
	}

	return &ScoringResult{
		MatchID:      match.ID,
		Ranked:       ranked,
		Scoreboard:   Scoreboard(ranked),
		WinnerID:     winnerID,
		Ratings:      ratingResults,
		Achievements: granted,
	}, nil
}

// bestSubmissionScores 플레이어별 accepted 제출의 최고 점수
func bestSubmissionScores(submissions []*models.Submission) map[string]int {
	best := make(map[string]int)
	for _, sub := range submissions {
		if sub.Status != models.SubmissionStatusAccepted {
			continue
		}
		if sub.Score > best[sub.PlayerID] {
			best[sub.PlayerID] = sub.Score
		}
	}
	return best
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
