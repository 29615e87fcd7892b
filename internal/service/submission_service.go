package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rl-arena/code-arena-backend/internal/models"
	"github.com/rl-arena/code-arena-backend/internal/repository"
	"github.com/rl-arena/code-arena-backend/internal/websocket"
	"github.com/rl-arena/code-arena-backend/pkg/judge"
	"github.com/rl-arena/code-arena-backend/pkg/metrics"
	"github.com/rl-arena/code-arena-backend/pkg/ratelimit"
	"go.uber.org/zap"
)

// Judge 외부 채점기 (pkg/judge.Client)
type Judge interface {
	ExecuteCode(ctx context.Context, req judge.ExecuteRequest) (*judge.ExecuteResult, error)
}

type SubmissionConfig struct {
	JudgeTimeout time.Duration
	// RatePerMinute 플레이어당 분당 제출 수. 0이면 제한하지 않는다.
	RatePerMinute int
	// StoreTimeout 채점 goroutine 안에서 저장소 호출 하나에 쓰는 시간
	StoreTimeout time.Duration
	// SettleBackoff 확정 저장에 실패한 제출을 다시 저장하기까지의 첫 대기 시간
	SettleBackoff time.Duration
}

// finalizeAttempts 결과 발행 전에 확정 저장을 시도하는 횟수
const finalizeAttempts = 3

func DefaultSubmissionConfig() SubmissionConfig {
	return SubmissionConfig{
		JudgeTimeout:  30 * time.Second,
		RatePerMinute: 10,
		StoreTimeout:  5 * time.Second,
		SettleBackoff: time.Second,
	}
}

// JudgingBudget 제출 하나가 접수부터 결과 발행까지 쓸 수 있는 최대 시간
// (running 전이, 채점, 확정 저장 재시도, 참가자 진행 저장)
func (c SubmissionConfig) JudgingBudget() time.Duration {
	store := c.StoreTimeout
	if store <= 0 {
		store = 5 * time.Second
	}
	return c.JudgeTimeout + time.Duration(finalizeAttempts+2)*store + finalizeBackoffTotal()
}

// SubmissionService 제출 접수, 비동기 채점, 결과 확정과 발행
type SubmissionService struct {
	store     repository.Store
	matches   *MatchService
	judge     Judge
	validator *CodeValidator
	limiter   *ratelimit.RateLimiter
	hub       Broadcaster
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       SubmissionConfig
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	practiceTails map[string]chan struct{}
}

func NewSubmissionService(
	store repository.Store,
	matches *MatchService,
	j Judge,
	hub Broadcaster,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg SubmissionConfig,
) *SubmissionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.SettleBackoff <= 0 {
		cfg.SettleBackoff = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &SubmissionService{
		store:         store,
		matches:       matches,
		judge:         j,
		validator:     NewCodeValidator(),
		hub:           hub,
		metrics:       m,
		logger:        logger,
		cfg:           cfg,
		now:           time.Now,
		ctx:           ctx,
		cancel:        cancel,
		practiceTails: make(map[string]chan struct{}),
	}
	if cfg.RatePerMinute > 0 {
		s.limiter = ratelimit.PerMinute(cfg.RatePerMinute)
	}
	return s
}

func (s *SubmissionService) admit(playerID, code, language string) error {
	if err := s.validator.Validate(code, language); err != nil {
		return err
	}
	if s.limiter != nil && !s.limiter.Allow(playerID) {
		return ErrRateLimited
	}
	return nil
}

// Submit 경기 제출 접수. pending 레코드를 만들고 곧바로 반환하며 채점은 비동기로 진행된다.
func (s *SubmissionService) Submit(ctx context.Context, matchID, playerID, code, language string) (*models.Submission, error) {
	if err := s.admit(playerID, code, language); err != nil {
		return nil, err
	}

	ticket, err := s.matches.BeginSubmission(ctx, matchID, playerID)
	if err != nil {
		return nil, err
	}

	mid := matchID
	sub := &models.Submission{
		ID:          uuid.New().String(),
		MatchID:     &mid,
		PlayerID:    playerID,
		ProblemID:   ticket.Problem.ID,
		Code:        code,
		Language:    language,
		Status:      models.SubmissionStatusPending,
		TotalTests:  len(ticket.Problem.TestCases),
		SubmittedAt: ticket.SubmittedAt,
	}
	if err := s.store.CreateSubmission(ctx, sub); err != nil {
		s.matches.AbortSubmission(ticket)
		return nil, external("create submission", err)
	}

	s.hub.SendToUser(playerID, websocket.EventSubmissionReceived, websocket.SubmissionReceivedPayload{
		SubmissionID: sub.ID,
		MatchID:      matchID,
	})
	s.logger.Info("Submission received",
		zap.String("submissionId", sub.ID),
		zap.String("matchId", matchID),
		zap.String("playerId", playerID),
		zap.Int("attempt", ticket.Attempt))

	job := *sub
	s.wg.Add(1)
	go s.judgeMatchSubmission(ticket, &job)

	return sub, nil
}

func (s *SubmissionService) judgeMatchSubmission(t *SubmissionTicket, sub *models.Submission) {
	defer s.wg.Done()

	final := s.execute(sub, t.Problem, ScoreInput{
		Difficulty:    t.Difficulty,
		SolveTime:     t.SubmittedAt.Sub(t.StartTime),
		MatchDuration: t.MatchDuration,
		Attempt:       t.Attempt,
	})

	// 같은 플레이어의 앞선 제출 결과가 먼저 나간다
	_ = t.WaitTurn(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
	s.matches.CompleteSubmission(ctx, t, final, resultPayload(final))
	cancel()

	if final.Status != models.SubmissionStatusAccepted {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, err := s.matches.Conclude(context.Background(), t.MatchID, models.ConclusionAccepted)
		if err != nil && !errors.Is(err, ErrMatchAlreadyConcluded) {
			s.logger.Error("Failed to conclude match after accepted submission",
				zap.String("matchId", t.MatchID),
				zap.String("submissionId", final.ID),
				zap.Error(err))
		}
	}()
}

// SubmitPractice 경기 밖 연습 제출. 채점과 점수 계산은 같지만 경기 이벤트는 없다.
func (s *SubmissionService) SubmitPractice(ctx context.Context, playerID, problemID, code, language string) (*models.Submission, error) {
	if err := s.admit(playerID, code, language); err != nil {
		return nil, err
	}

	problem, err := s.store.GetProblem(ctx, problemID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrProblemNotFound
	}
	if err != nil {
		return nil, external("get problem", err)
	}

	sub := &models.Submission{
		ID:          uuid.New().String(),
		PlayerID:    playerID,
		ProblemID:   problem.ID,
		Code:        code,
		Language:    language,
		Status:      models.SubmissionStatusPending,
		TotalTests:  len(problem.TestCases),
		SubmittedAt: s.now(),
	}
	if err := s.store.CreateSubmission(ctx, sub); err != nil {
		return nil, external("create submission", err)
	}
	s.hub.SendToUser(playerID, websocket.EventSubmissionReceived, websocket.SubmissionReceivedPayload{
		SubmissionID: sub.ID,
	})

	done := make(chan struct{})
	s.mu.Lock()
	prev := s.practiceTails[playerID]
	s.practiceTails[playerID] = done
	s.mu.Unlock()

	job := *sub
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			close(done)
			s.mu.Lock()
			if s.practiceTails[playerID] == done {
				delete(s.practiceTails, playerID)
			}
			s.mu.Unlock()
		}()

		final := s.execute(&job, problem, ScoreInput{
			Difficulty: problem.Difficulty,
			Attempt:    1,
		})
		if prev != nil {
			<-prev
		}
		s.hub.SendToUser(playerID, websocket.EventSubmissionResult, resultPayload(final))
	}()

	return sub, nil
}

// execute running 전이 → 채점 → 점수 계산 → 종료 상태 확정
// 저장소 실패가 있어도 항상 종료 상태의 제출을 돌려준다.
func (s *SubmissionService) execute(sub *models.Submission, problem *models.Problem, in ScoreInput) *models.Submission {
	log := s.logger.With(zap.String("submissionId", sub.ID), zap.String("playerId", sub.PlayerID))

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
	ok, err := s.store.MarkRunning(ctx, sub.ID)
	cancel()
	switch {
	case err != nil:
		log.Warn("Failed to mark submission running", zap.Error(err))
	case !ok:
		if cur := s.current(sub.ID); cur != nil && cur.Status.IsTerminal() {
			return cur
		}
	}
	sub.Status = models.SubmissionStatusRunning

	req := judge.ExecuteRequest{
		Code:          sub.Code,
		Language:      sub.Language,
		TestCases:     make([]judge.TestCase, len(problem.TestCases)),
		TimeLimitMs:   problem.TimeLimitMs,
		MemoryLimitKb: problem.MemoryLimitKb,
	}
	for i, tc := range problem.TestCases {
		req.TestCases[i] = judge.TestCase{Input: tc.Input, ExpectedOutput: tc.ExpectedOutput}
	}

	jctx, jcancel := context.WithTimeout(s.ctx, s.cfg.JudgeTimeout)
	started := time.Now()
	res, err := s.judge.ExecuteCode(jctx, req)
	jcancel()
	s.metrics.ObserveJudgeLatency(time.Since(started).Seconds())

	applyJudgeResult(sub, problem, res, err)
	if err != nil {
		log.Warn("Judge call failed", zap.Error(err))
	}

	in.Status = sub.Status
	in.PassedTests = sub.PassedTests
	in.TotalTests = sub.TotalTests
	in.TimeLimitMs = problem.TimeLimitMs
	in.MemoryLimitKb = problem.MemoryLimitKb
	if sub.ExecutionTimeMs != nil {
		in.ExecutionTimeMs = *sub.ExecutionTimeMs
	}
	if sub.MemoryUsedKb != nil {
		in.MemoryUsedKb = *sub.MemoryUsedKb
	}
	breakdown := CalculateSubmissionScore(in)
	sub.Score = breakdown.Total
	sub.ScoreBreakdown = &breakdown
	judged := s.now()
	sub.JudgedAt = &judged

	ok, err = s.finalize(sub)
	switch {
	case err != nil:
		log.Error("Failed to finalize submission, retrying in background", zap.Error(err))
		final := *sub
		s.wg.Add(1)
		go s.settle(&final)
	case !ok:
		// 다른 경로가 먼저 확정했다. 저장된 결과가 기준이다.
		if cur := s.current(sub.ID); cur != nil && cur.Status.IsTerminal() {
			return cur
		}
	}

	s.metrics.SubmissionFinalized(string(sub.Status))
	log.Info("Submission judged",
		zap.String("status", string(sub.Status)),
		zap.Int("passed", sub.PassedTests),
		zap.Int("total", sub.TotalTests),
		zap.Int("score", sub.Score))
	return sub
}

// finalize 종료 상태를 저장한다. 저장소 에러가 나면 짧은 backoff로 몇 번 더 시도한다.
func (s *SubmissionService) finalize(sub *models.Submission) (bool, error) {
	var err error
	for attempt := 0; attempt < finalizeAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(finalizeBackoff(attempt))
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
		var ok bool
		ok, err = s.store.FinalizeSubmission(ctx, sub)
		cancel()
		if err == nil {
			return ok, nil
		}
	}
	return false, err
}

func finalizeBackoff(attempt int) time.Duration {
	return time.Duration(attempt) * 50 * time.Millisecond
}

func finalizeBackoffTotal() time.Duration {
	var total time.Duration
	for attempt := 1; attempt < finalizeAttempts; attempt++ {
		total += finalizeBackoff(attempt)
	}
	return total
}

// settle 결과는 이미 발행됐지만 저장되지 않은 제출을 저장될 때까지 다시 확정한다
// 서비스가 멈추면 마지막으로 한 번 더 시도하고 끝낸다.
func (s *SubmissionService) settle(sub *models.Submission) {
	defer s.wg.Done()
	log := s.logger.With(zap.String("submissionId", sub.ID))

	backoff := s.cfg.SettleBackoff
	for {
		stopping := false
		t := time.NewTimer(backoff)
		select {
		case <-t.C:
		case <-s.ctx.Done():
			t.Stop()
			stopping = true
		}

		_, err := s.finalize(sub)
		if err == nil {
			log.Info("Submission finalized after retry", zap.String("status", string(sub.Status)))
			return
		}
		if stopping {
			log.Error("Submission left unfinalized at shutdown", zap.Error(err))
			return
		}
		log.Warn("Submission finalize retry failed", zap.Duration("backoff", backoff), zap.Error(err))
		if backoff < time.Minute {
			backoff *= 2
		}
	}
}

func (s *SubmissionService) current(submissionID string) *models.Submission {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
	defer cancel()
	cur, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		s.logger.Warn("Failed to reload submission", zap.String("submissionId", submissionID), zap.Error(err))
		return nil
	}
	return cur
}

// applyJudgeResult 채점기 응답을 세 가지 종료 상태 중 하나로 옮긴다
// 채점기 오류와 시간 초과는 runtime_error.
func applyJudgeResult(sub *models.Submission, problem *models.Problem, res *judge.ExecuteResult, err error) {
	if err != nil || res == nil {
		msg := "judge unavailable"
		if err != nil {
			msg = fmt.Sprintf("judge unavailable: %v", err)
		}
		sub.Status = models.SubmissionStatusRuntimeError
		sub.ErrorMessage = &msg
		sub.PassedTests = 0
		return
	}

	total := res.TotalTests
	if total == 0 {
		total = len(problem.TestCases)
	}
	sub.TotalTests = total
	sub.PassedTests = res.PassedTests
	if sub.PassedTests > total {
		sub.PassedTests = total
	}
	execMs, memKb := res.ExecutionTimeMs, res.MemoryUsedKb
	sub.ExecutionTimeMs = &execMs
	sub.MemoryUsedKb = &memKb

	sub.TestResults = make([]models.TestResult, len(res.TestResults))
	for i, tr := range res.TestResults {
		hidden := tr.Index >= 0 && tr.Index < len(problem.TestCases) && problem.TestCases[tr.Index].Hidden
		sub.TestResults[i] = models.TestResult{
			Index:           tr.Index,
			Passed:          tr.Passed,
			Hidden:          hidden,
			ExecutionTimeMs: tr.ExecutionTimeMs,
			MemoryUsedKb:    tr.MemoryUsedKb,
			Error:           tr.Error,
		}
	}

	switch res.Status {
	case judge.StatusAccepted:
		if sub.PassedTests == total {
			sub.Status = models.SubmissionStatusAccepted
		} else {
			sub.Status = models.SubmissionStatusWrongAnswer
		}
	case judge.StatusWrongAnswer:
		sub.Status = models.SubmissionStatusWrongAnswer
	default:
		sub.Status = models.SubmissionStatusRuntimeError
	}
	if res.Error != "" {
		msg := res.Error
		sub.ErrorMessage = &msg
	}
}

// resultPayload submission:result 이벤트. 숨김 테스트의 오류 내용은 내보내지 않는다.
func resultPayload(sub *models.Submission) websocket.SubmissionResultPayload {
	p := websocket.SubmissionResultPayload{
		SubmissionID:    sub.ID,
		Status:          sub.Status,
		Score:           sub.Score,
		Breakdown:       sub.ScoreBreakdown,
		PassedTests:     sub.PassedTests,
		TotalTests:      sub.TotalTests,
		ExecutionTimeMs: sub.ExecutionTimeMs,
		MemoryUsedKb:    sub.MemoryUsedKb,
	}
	if sub.MatchID != nil {
		p.MatchID = *sub.MatchID
	}
	if sub.ErrorMessage != nil {
		p.Error = *sub.ErrorMessage
	}
	if len(sub.TestResults) > 0 {
		p.TestResults = make([]models.TestResult, len(sub.TestResults))
		for i, tr := range sub.TestResults {
			if tr.Hidden {
				tr.Error = ""
			}
			p.TestResults[i] = tr
		}
	}
	return p
}

// Get 제출 조회
func (s *SubmissionService) Get(ctx context.Context, submissionID string) (*models.Submission, error) {
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, external("get submission", err)
	}
	return sub, nil
}

// Wait 진행 중인 채점과 그로 인한 경기 종료가 모두 끝날 때까지 대기
func (s *SubmissionService) Wait() {
	s.wg.Wait()
}

// Stop 진행 중인 채점 호출을 취소한다. 취소된 제출은 runtime_error로 확정된다.
func (s *SubmissionService) Stop() {
	s.cancel()
	s.wg.Wait()
	if s.limiter != nil {
		s.limiter.Stop()
	}
	s.logger.Info("SubmissionService stopped")
}
