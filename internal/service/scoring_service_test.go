package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rl-arena/code-arena-backend/internal/models"
	"github.com/rl-arena/code-arena-backend/internal/repository/memory"
	"github.com/rl-arena/code-arena-backend/pkg/distributed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEnqueuer struct {
	mu   sync.Mutex
	jobs []*distributed.ReconcileJob
}

func (r *recordingEnqueuer) Enqueue(ctx context.Context, job *distributed.ReconcileJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *job
	r.jobs = append(r.jobs, &c)
	return nil
}

func (r *recordingEnqueuer) Jobs() []*distributed.ReconcileJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*distributed.ReconcileJob(nil), r.jobs...)
}

var errBoom = errors.New("boom")

func testScoringConfig() ScoringConfig {
	return ScoringConfig{
		RetryAttempts:        3,
		RetryBackoff:         time.Millisecond,
		ReconcileMaxAttempts: 5,
		LockTTL:              time.Second,
	}
}

// seedConcludedDuel p1이 60초에 맞히고 p2는 절반만 통과한 1대1 경기
func seedConcludedDuel(t *testing.T, store *memory.Store) string {
	t.Helper()
	ctx := context.Background()

	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	end := start.Add(15 * time.Minute)
	completed := start.Add(61 * time.Second)
	season := "season-1"
	reason := models.ConclusionAccepted

	store.PutPlayer(models.RatingRecord{PlayerID: "p1", Rating: 1500})
	store.PutPlayer(models.RatingRecord{PlayerID: "p2", Rating: 1500})
	store.PutSeason(models.Season{ID: season, Name: "Spring", Active: true})

	match := &models.Match{
		ID:              "m1",
		Category:        models.Category1v1,
		ProblemID:       "prob-1",
		Difficulty:      models.DifficultyEasy,
		Status:          models.MatchStatusCompleted,
		StartTime:       &start,
		EndTime:         &end,
		DurationSeconds: 900,
		SeasonID:        &season,
		ConcludedReason: &reason,
		CompletedAt:     &completed,
		CreatedAt:       start.Add(-20 * time.Second),
	}
	require.NoError(t, store.CreateMatch(ctx, match, []*models.Participant{
		{MatchID: "m1", PlayerID: "p1", TeamNumber: 1, JoinOrder: 1, RatingBefore: 1500},
		{MatchID: "m1", PlayerID: "p2", TeamNumber: 2, JoinOrder: 2, RatingBefore: 1500},
	}))

	matchID := "m1"
	require.NoError(t, store.CreateSubmission(ctx, &models.Submission{
		ID: "s1", MatchID: &matchID, PlayerID: "p2", ProblemID: "prob-1",
		Status: models.SubmissionStatusWrongAnswer, Score: 15, SubmittedAt: start.Add(40 * time.Second),
	}))
	require.NoError(t, store.CreateSubmission(ctx, &models.Submission{
		ID: "s2", MatchID: &matchID, PlayerID: "p1", ProblemID: "prob-1",
		Status: models.SubmissionStatusAccepted, Score: 175, SubmittedAt: start.Add(60 * time.Second),
	}))
	return matchID
}

func TestScoringService_ScoreMatch(t *testing.T) {
	store := memory.New()
	matchID := seedConcludedDuel(t, store)
	svc := NewScoringService(store, NewELOService(), nil, nil, nil, nil, testScoringConfig())

	result, err := svc.ScoreMatch(context.Background(), matchID)
	require.NoError(t, err)
	require.False(t, result.AlreadyScored)

	require.Len(t, result.Scoreboard, 2)
	assert.Equal(t, "p1", result.Scoreboard[0].PlayerID)
	assert.Equal(t, 175, result.Scoreboard[0].Score)
	assert.Equal(t, 1, result.Scoreboard[0].Rank)
	assert.Equal(t, 16, *result.Scoreboard[0].RatingChange)
	assert.Equal(t, "p2", result.Scoreboard[1].PlayerID)
	assert.Zero(t, result.Scoreboard[1].Score, "partial credit does not count toward the match score")
	require.NotNil(t, result.WinnerID)
	assert.Equal(t, "p1", *result.WinnerID)

	assert.Equal(t, models.RatingRecord{PlayerID: "p1", Rating: 1516, TotalMatches: 1, Wins: 1}, store.Rating("p1"))
	assert.Equal(t, models.RatingRecord{PlayerID: "p2", Rating: 1484, TotalMatches: 1, Losses: 1}, store.Rating("p2"))
	assert.Equal(t, 175, store.SeasonPoints("season-1", "p1"))
	assert.Zero(t, store.SeasonPoints("season-1", "p2"))

	assert.Equal(t, []models.AchievementCode{
		models.AchievementFirstSolve, models.AchievementFirstTry, models.AchievementSpeedDemon,
	}, store.Achievements("p1"))
	assert.Empty(t, store.Achievements("p2"))
	assert.Len(t, result.AchievementsFor("p1"), 3)

	st := store.Stats("p1")
	assert.Equal(t, 1, st.TotalAccepted)
	assert.Equal(t, 1, st.CurrentWinStreak)
	assert.Equal(t, 1, st.ActivityStreakDays)

	m, err := store.GetMatch(context.Background(), matchID)
	require.NoError(t, err)
	assert.NotNil(t, m.ScoredAt)
	assert.Nil(t, m.ScoringError)

	participants, err := store.ListParticipants(context.Background(), matchID)
	require.NoError(t, err)
	for _, p := range participants {
		require.NotNil(t, p.Rank)
	}
	assert.Equal(t, 1, store.ScoringCommits())
}

func TestScoringService_NeverScoresTwice(t *testing.T) {
	store := memory.New()
	matchID := seedConcludedDuel(t, store)
	svc := NewScoringService(store, NewELOService(), nil, nil, nil, nil, testScoringConfig())
	ctx := context.Background()

	_, err := svc.ScoreMatch(ctx, matchID)
	require.NoError(t, err)

	_, err = svc.ScoreMatch(ctx, matchID)
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.Equal(t, KindInvariantViolation, KindOf(err))

	result, err := svc.Rescore(ctx, matchID)
	require.NoError(t, err)
	assert.True(t, result.AlreadyScored)

	assert.Equal(t, 1516, store.Rating("p1").Rating)
	assert.Equal(t, 1, store.Rating("p1").TotalMatches)
	assert.Equal(t, 175, store.SeasonPoints("season-1", "p1"))
	assert.Equal(t, 1, store.ScoringCommits())
}

func TestScoringService_ConcurrentScoringAppliesOnce(t *testing.T) {
	store := memory.New()
	matchID := seedConcludedDuel(t, store)
	svc := NewScoringService(store, NewELOService(), nil, nil, nil, nil, testScoringConfig())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Rescore(context.Background(), matchID)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.ScoringCommits())
	assert.Equal(t, 1516, store.Rating("p1").Rating)
}

func TestScoringService_RetryAfterPartialFailure(t *testing.T) {
	store := memory.New()
	matchID := seedConcludedDuel(t, store)
	svc := NewScoringService(store, NewELOService(), nil, nil, nil, nil, testScoringConfig())

	// 레이팅 저장 이후 단계에서 실패해도 아무것도 반영되지 않은 채 재시도된다
	store.FailNext("AddSeasonPoints", 1, errBoom)

	_, err := svc.ScoreMatch(context.Background(), matchID)
	require.NoError(t, err)

	assert.Equal(t, 1516, store.Rating("p1").Rating)
	assert.Equal(t, 1, store.Rating("p1").TotalMatches)
	assert.Equal(t, 175, store.SeasonPoints("season-1", "p1"))
	assert.Equal(t, 1, store.ScoringCommits())
}

func TestScoringService_FinalFailureLeavesMatchUnscored(t *testing.T) {
	store := memory.New()
	matchID := seedConcludedDuel(t, store)
	enqueuer := &recordingEnqueuer{}
	svc := NewScoringService(store, NewELOService(), enqueuer, nil, nil, nil, testScoringConfig())

	store.FailNext("GrantAchievements", 3, errBoom)

	_, err := svc.ScoreMatch(context.Background(), matchID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrScoringFailed)
	assert.ErrorIs(t, err, errBoom)

	// 반쯤 반영된 상태가 없어야 한다
	assert.Equal(t, 1500, store.Rating("p1").Rating)
	assert.Equal(t, 0, store.Rating("p1").TotalMatches)
	assert.Equal(t, 0, store.SeasonPoints("season-1", "p1"))
	assert.Empty(t, store.Achievements("p1"))
	assert.Equal(t, 0, store.ScoringCommits())

	m, err := store.GetMatch(context.Background(), matchID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusCompleted, m.Status)
	assert.Nil(t, m.ScoredAt)
	require.NotNil(t, m.ScoringError)
	assert.Contains(t, *m.ScoringError, "boom")

	jobs := enqueuer.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, matchID, jobs[0].MatchID)
	assert.Equal(t, 5, jobs[0].MaxAttempts)

	// 재처리 경로로 복구되면 표식이 지워진다
	result, err := svc.Rescore(context.Background(), matchID)
	require.NoError(t, err)
	assert.False(t, result.AlreadyScored)
	assert.Equal(t, 1516, store.Rating("p1").Rating)

	m, err = store.GetMatch(context.Background(), matchID)
	require.NoError(t, err)
	assert.Nil(t, m.ScoringError)
}

func TestScoringService_CommitFailureIsRetried(t *testing.T) {
	store := memory.New()
	matchID := seedConcludedDuel(t, store)
	svc := NewScoringService(store, NewELOService(), nil, nil, nil, nil, testScoringConfig())

	store.FailNext("Commit", 2, errBoom)

	_, err := svc.ScoreMatch(context.Background(), matchID)
	require.NoError(t, err)
	assert.Equal(t, 1, store.ScoringCommits())
	assert.Equal(t, 1516, store.Rating("p1").Rating)
}

func TestScoringService_LockHeldElsewhere(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memory.New()
	matchID := seedConcludedDuel(t, store)

	other := distributed.NewRedisLockManager(client, "lock:", "instance-b")
	held, err := other.AcquireLock(context.Background(), "scoring:"+matchID, time.Minute)
	require.NoError(t, err)

	locks := distributed.NewRedisLockManager(client, "lock:", "instance-a")
	svc := NewScoringService(store, NewELOService(), nil, locks, nil, nil, testScoringConfig())

	_, err = svc.ScoreMatch(context.Background(), matchID)
	assert.ErrorIs(t, err, ErrScoringInProgress)
	assert.Equal(t, 0, store.ScoringCommits())

	require.NoError(t, held.Release(context.Background()))

	_, err = svc.ScoreMatch(context.Background(), matchID)
	require.NoError(t, err)
	assert.Equal(t, 1, store.ScoringCommits())
	assert.False(t, mr.Exists("lock:scoring:"+matchID))
}

func TestScoringService_FreeForAllSeasonless(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	completed := start.Add(15 * time.Minute)
	matchID := "ffa-1"

	require.NoError(t, store.CreateMatch(ctx, &models.Match{
		ID: matchID, Category: models.CategoryFFA, Difficulty: models.DifficultyMedium,
		Status: models.MatchStatusCompleted, StartTime: &start, CompletedAt: &completed,
	}, []*models.Participant{
		{MatchID: matchID, PlayerID: "a", TeamNumber: 1, JoinOrder: 1},
		{MatchID: matchID, PlayerID: "b", TeamNumber: 2, JoinOrder: 2},
		{MatchID: matchID, PlayerID: "c", TeamNumber: 3, JoinOrder: 3},
	}))
	require.NoError(t, store.CreateSubmission(ctx, &models.Submission{
		ID: "w", MatchID: &matchID, PlayerID: "a", Status: models.SubmissionStatusWrongAnswer,
		Score: 90, SubmittedAt: start.Add(30 * time.Second),
	}))
	require.NoError(t, store.CreateSubmission(ctx, &models.Submission{
		ID: "x", MatchID: &matchID, PlayerID: "c", Status: models.SubmissionStatusAccepted,
		Score: 230, SubmittedAt: start.Add(time.Minute),
	}))

	svc := NewScoringService(store, NewELOService(), nil, nil, nil, nil, testScoringConfig())
	result, err := svc.ScoreMatch(ctx, matchID)
	require.NoError(t, err)

	// c만 맞혔고 a의 부분 점수는 순위에 들어가지 않아 a, b는 입장 순서로 갈린다
	assert.Equal(t, []string{"c", "a", "b"}, []string{
		result.Scoreboard[0].PlayerID, result.Scoreboard[1].PlayerID, result.Scoreboard[2].PlayerID,
	})
	assert.Equal(t, 1, store.Rating("c").Wins)
	assert.Equal(t, 1, store.Rating("a").Losses)
	assert.Equal(t, 1, store.Rating("b").Losses)
	assert.Equal(t, 1216, store.Rating("c").Rating)
}
