package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rl-arena/code-arena-backend/internal/models"
	"github.com/rl-arena/code-arena-backend/internal/repository/memory"
	"github.com/rl-arena/code-arena-backend/pkg/judge"
	"github.com/stretchr/testify/require"
)

type sentEvent struct {
	UserID  string
	Type    string
	Payload interface{}
}

// recordingHub 보낸 이벤트를 순서대로 기록하는 Broadcaster
type recordingHub struct {
	mu     sync.Mutex
	events []sentEvent
}

func (h *recordingHub) SendToUser(userID string, msgType string, payload interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, sentEvent{UserID: userID, Type: msgType, Payload: payload})
}

func (h *recordingHub) SendToUsers(userIDs []string, msgType string, payload interface{}) {
	for _, id := range userIDs {
		h.SendToUser(id, msgType, payload)
	}
}

func (h *recordingHub) For(userID string) []sentEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []sentEvent
	for _, e := range h.events {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func (h *recordingHub) Types(userID string) []string {
	var types []string
	for _, e := range h.For(userID) {
		types = append(types, e.Type)
	}
	return types
}

func (h *recordingHub) Count(userID, msgType string) int {
	n := 0
	for _, e := range h.For(userID) {
		if e.Type == msgType {
			n++
		}
	}
	return n
}

func (h *recordingHub) Last(userID, msgType string) (sentEvent, bool) {
	events := h.For(userID)
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == msgType {
			return events[i], true
		}
	}
	return sentEvent{}, false
}

func (h *recordingHub) WaitFor(t *testing.T, userID, msgType string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.Count(userID, msgType) >= n
	}, 2*time.Second, 5*time.Millisecond, "waiting for %d %s events to %s", n, msgType, userID)
}

// fakeJudge 코드 문자열로 결과를 정하는 채점기
type fakeJudge struct {
	mu      sync.Mutex
	calls   int
	results map[string]*judge.ExecuteResult
	errs    map[string]error
	// gates 코드별로 닫힐 때까지 응답을 미룬다
	gates map[string]chan struct{}
}

func newFakeJudge() *fakeJudge {
	return &fakeJudge{
		results: make(map[string]*judge.ExecuteResult),
		errs:    make(map[string]error),
		gates:   make(map[string]chan struct{}),
	}
}

func (j *fakeJudge) On(code string, res *judge.ExecuteResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results[code] = res
}

func (j *fakeJudge) Fail(code string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errs[code] = err
}

func (j *fakeJudge) Hold(code string) chan struct{} {
	j.mu.Lock()
	defer j.mu.Unlock()
	gate := make(chan struct{})
	j.gates[code] = gate
	return gate
}

func (j *fakeJudge) Calls() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.calls
}

func (j *fakeJudge) ExecuteCode(ctx context.Context, req judge.ExecuteRequest) (*judge.ExecuteResult, error) {
	j.mu.Lock()
	j.calls++
	gate := j.gates[req.Code]
	res := j.results[req.Code]
	err := j.errs[req.Code]
	j.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &judge.ExecuteResult{
			Status:      judge.StatusWrongAnswer,
			PassedTests: 0,
			TotalTests:  len(req.TestCases),
		}, nil
	}
	c := *res
	return &c, nil
}

func accepted(total int) *judge.ExecuteResult {
	return &judge.ExecuteResult{
		Status:          judge.StatusAccepted,
		PassedTests:     total,
		TotalTests:      total,
		ExecutionTimeMs: 500,
		MemoryUsedKb:    40000,
	}
}

func wrongAnswer(passed, total int) *judge.ExecuteResult {
	return &judge.ExecuteResult{
		Status:          judge.StatusWrongAnswer,
		PassedTests:     passed,
		TotalTests:      total,
		ExecutionTimeMs: 500,
		MemoryUsedKb:    40000,
	}
}

// Go 코드로 제출하는 테스트용 소스
func goSource(body string) string {
	return "package main\n\nfunc main() {\n\t" + body + "\n}\n"
}

func testProblem(id string, difficulty models.Difficulty) models.Problem {
	return models.Problem{
		ID:            id,
		Title:         "Two Sum",
		Difficulty:    difficulty,
		TimeLimitMs:   1000,
		MemoryLimitKb: 65536,
		TestCases: []models.TestCase{
			{Input: "1 2", ExpectedOutput: "3"},
			{Input: "2 2", ExpectedOutput: "4", Hidden: true},
		},
	}
}

func testLifecycleConfig() LifecycleConfig {
	cfg := DefaultLifecycleConfig()
	cfg.LobbyTimeout = time.Hour
	cfg.TimeSyncInterval = time.Hour
	cfg.ConclusionWait = 2 * time.Second
	return cfg
}

// arena 한 프로세스 안의 경기 엔진 조립
type arena struct {
	store       *memory.Store
	hub         *recordingHub
	judge       *fakeJudge
	scoring     *ScoringService
	matches     *MatchService
	submissions *SubmissionService
}

func newArena(t *testing.T, cfg LifecycleConfig) *arena {
	t.Helper()
	store := memory.New()
	store.PutProblem(testProblem("easy-1", models.DifficultyEasy))
	store.PutProblem(testProblem("medium-1", models.DifficultyMedium))

	a := &arena{store: store, hub: &recordingHub{}, judge: newFakeJudge()}
	a.scoring = NewScoringService(store, &ELOService{}, nil, nil, nil, nil, testScoringConfig())
	a.matches = NewMatchService(store, a.scoring, a.hub, nil, nil, cfg)
	a.submissions = NewSubmissionService(store, a.matches, a.judge, a.hub, nil, nil, SubmissionConfig{
		JudgeTimeout: time.Second,
	})
	t.Cleanup(func() {
		a.submissions.Stop()
		a.matches.Stop()
	})
	return a
}

func queueEntry(playerID string, rating int, category models.Category, difficulty models.Difficulty) *models.QueueEntry {
	return &models.QueueEntry{
		PlayerID:       playerID,
		RatingSnapshot: rating,
		Category:       category,
		Preferences:    models.QueuePreferences{Difficulty: difficulty},
		JoinedAt:       time.Now().Add(-10 * time.Second),
	}
}

// startDuel p1, p2가 로비에 들어와 시작된 1대1 경기
func (a *arena) startDuel(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	a.store.PutPlayer(models.RatingRecord{PlayerID: "p1", Rating: 1500})
	a.store.PutPlayer(models.RatingRecord{PlayerID: "p2", Rating: 1500})

	match, err := a.matches.CreateMatch(ctx, models.Category1v1, MatchGroup{Entries: []*models.QueueEntry{
		queueEntry("p1", 1500, models.Category1v1, models.DifficultyEasy),
		queueEntry("p2", 1500, models.Category1v1, models.DifficultyEasy),
	}})
	require.NoError(t, err)
	require.NoError(t, a.matches.JoinLobby(ctx, match.ID, "p1"))
	require.NoError(t, a.matches.JoinLobby(ctx, match.ID, "p2"))
	return match.ID
}
