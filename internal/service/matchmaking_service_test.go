package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rl-arena/code-arena-backend/internal/models"
	"github.com/rl-arena/code-arena-backend/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMatchmaking(a *arena) *MatchmakingService {
	mm := NewMatchmakingService(
		NewQueueStore(models.AllCategories, nil),
		NewMatcher(DefaultMatcherConfig()),
		a.matches,
		a.store,
		a.hub,
		nil,
		nil,
		time.Hour,
	)
	a.matches.SetRequeuer(mm)
	return mm
}

var medium = models.QueuePreferences{Difficulty: models.DifficultyMedium}

func TestMatchmakingService_JoinValidation(t *testing.T) {
	a := newArena(t, testLifecycleConfig())
	mm := newMatchmaking(a)
	ctx := context.Background()
	a.startDuel(t)

	tests := []struct {
		name     string
		playerID string
		category models.Category
		prefs    models.QueuePreferences
		want     error
	}{
		{"unknown category", "q1", models.Category("3v3"), medium, ErrInvalidCategory},
		{"unknown difficulty", "q1", models.Category1v1, models.QueuePreferences{Difficulty: "insane"}, ErrInvalidPreferences},
		{"already in a match", "p1", models.Category1v1, medium, ErrAlreadyInMatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mm.Join(ctx, tt.playerID, tt.category, tt.prefs)
			if !errors.Is(err, tt.want) {
				t.Errorf("Join() error = %v, want %v", err, tt.want)
			}
		})
	}

	pos, err := mm.Join(ctx, "q1", models.CategoryFFA, models.QueuePreferences{})
	require.NoError(t, err)
	assert.Equal(t, 1, pos.Position)
	assert.Equal(t, models.DifficultyMedium, mm.queue.Snapshot(models.CategoryFFA)[0].Preferences.Difficulty, "difficulty defaults to medium")

	_, err = mm.Join(ctx, "q1", models.Category1v1, medium)
	assert.True(t, errors.Is(err, ErrAlreadyQueued))
	assert.Equal(t, KindConflict, KindOf(err))
}

func TestMatchmakingService_PairsCloseRatings(t *testing.T) {
	a := newArena(t, testLifecycleConfig())
	mm := newMatchmaking(a)
	ctx := context.Background()
	a.store.PutPlayer(models.RatingRecord{PlayerID: "r1", Rating: 1000})
	a.store.PutPlayer(models.RatingRecord{PlayerID: "r2", Rating: 1090})

	_, err := mm.Join(ctx, "r1", models.Category1v1, medium)
	require.NoError(t, err)
	pos, err := mm.Join(ctx, "r2", models.Category1v1, medium)
	require.NoError(t, err)
	assert.Equal(t, models.QueuePosition{Position: 2, QueueSize: 2}, pos)

	assert.Equal(t, 1, mm.RunOnce(ctx))

	ev, ok := a.hub.Last("r1", websocket.EventMatchFound)
	require.True(t, ok)
	found := ev.Payload.(websocket.MatchFoundPayload)
	assert.Equal(t, []string{"r1", "r2"}, found.Players)
	assert.Equal(t, models.DifficultyMedium, found.Difficulty)

	view, err := a.matches.Get(ctx, found.MatchID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusWaiting, view.Match.Status)
	require.Len(t, view.Participants, 2)
	assert.Equal(t, 1000, view.Participants[0].RatingBefore)
	assert.Equal(t, 1090, view.Participants[1].RatingBefore)

	assert.False(t, mm.Status("r1").InQueue)
	assert.Zero(t, mm.queue.Size(models.Category1v1))

	_, err = mm.Join(ctx, "r1", models.Category1v1, medium)
	assert.True(t, errors.Is(err, ErrAlreadyInMatch))
}

func TestMatchmakingService_RestoresOnCreationFailure(t *testing.T) {
	a := newArena(t, testLifecycleConfig())
	mm := newMatchmaking(a)
	ctx := context.Background()
	hard := models.QueuePreferences{Difficulty: models.DifficultyHard}

	_, err := mm.Join(ctx, "h1", models.Category1v1, hard)
	require.NoError(t, err)
	_, err = mm.Join(ctx, "h2", models.Category1v1, hard)
	require.NoError(t, err)

	assert.Zero(t, mm.RunOnce(ctx), "no hard problem is registered")

	snapshot := mm.queue.Snapshot(models.Category1v1)
	require.Len(t, snapshot, 2)
	assert.Equal(t, "h1", snapshot[0].PlayerID)
	assert.Equal(t, "h2", snapshot[1].PlayerID)
	assert.False(t, a.matches.IsInActiveMatch("h1"))

	a.store.PutProblem(testProblem("hard-1", models.DifficultyHard))
	assert.Equal(t, 1, mm.RunOnce(ctx), "retried on the next tick")
}

func TestMatchmakingService_BroadcastsQueueStats(t *testing.T) {
	a := newArena(t, testLifecycleConfig())
	mm := newMatchmaking(a)
	ctx := context.Background()

	_, err := mm.Join(ctx, "solo", models.CategoryFFA, medium)
	require.NoError(t, err)
	mm.RunOnce(ctx)

	ev, ok := a.hub.Last("solo", websocket.EventQueueStats)
	require.True(t, ok)
	stats := ev.Payload.(websocket.QueueStatsPayload)
	require.Len(t, stats.Categories, len(models.AllCategories))
	for _, c := range stats.Categories {
		if c.Category == models.CategoryFFA {
			assert.Equal(t, 1, c.Count)
		}
	}
}

func TestMatchmakingService_LeaveIsIdempotent(t *testing.T) {
	a := newArena(t, testLifecycleConfig())
	mm := newMatchmaking(a)

	_, err := mm.Join(context.Background(), "l1", models.Category1v1, medium)
	require.NoError(t, err)

	assert.True(t, mm.Leave("l1"))
	assert.False(t, mm.Leave("l1"))
	assert.Equal(t, []string{websocket.EventQueueJoined, websocket.EventQueueLeft, websocket.EventQueueLeft}, a.hub.Types("l1"))

	ev, _ := a.hub.Last("l1", websocket.EventQueueLeft)
	assert.False(t, ev.Payload.(websocket.QueueLeftPayload).Removed)
}

func TestMatchmakingService_CancelledLobbyRequeues(t *testing.T) {
	cfg := testLifecycleConfig()
	cfg.LobbyTimeout = 30 * time.Millisecond
	a := newArena(t, cfg)
	mm := newMatchmaking(a)
	ctx := context.Background()

	_, err := mm.Join(ctx, "c1", models.Category1v1, medium)
	require.NoError(t, err)
	joinedAt := mm.queue.Snapshot(models.Category1v1)[0].JoinedAt
	_, err = mm.Join(ctx, "c2", models.Category1v1, medium)
	require.NoError(t, err)
	require.Equal(t, 1, mm.RunOnce(ctx))

	ev, _ := a.hub.Last("c1", websocket.EventMatchFound)
	require.NoError(t, a.matches.JoinLobby(ctx, ev.Payload.(websocket.MatchFoundPayload).MatchID, "c1"))

	require.Eventually(t, func() bool { return mm.Status("c1").InQueue }, time.Second, 5*time.Millisecond)
	assert.False(t, mm.Status("c2").InQueue)
	assert.Equal(t, joinedAt, mm.queue.Snapshot(models.Category1v1)[0].JoinedAt, "original join time is kept")
}

func TestMatchmakingService_StartStop(t *testing.T) {
	a := newArena(t, testLifecycleConfig())
	mm := newMatchmaking(a)
	mm.interval = 10 * time.Millisecond
	ctx := context.Background()

	_, err := mm.Join(ctx, "s1", models.Category1v1, medium)
	require.NoError(t, err)
	_, err = mm.Join(ctx, "s2", models.Category1v1, medium)
	require.NoError(t, err)

	mm.Start()
	mm.Start()
	a.hub.WaitFor(t, "s1", websocket.EventMatchFound, 1)
	mm.Stop()
	mm.Stop()
}

func TestMatchmakingService_ConflictingPlayerIsNotRestored(t *testing.T) {
	a := newArena(t, testLifecycleConfig())
	mm := newMatchmaking(a)
	ctx := context.Background()
	a.startDuel(t)
	a.store.PutPlayer(models.RatingRecord{PlayerID: "w1", Rating: 1500})
	a.store.PutPlayer(models.RatingRecord{PlayerID: "w2", Rating: 1500})

	// 경기 중인 p1이 어떤 경로로든 대기열에 남아 있는 경우
	_, err := mm.queue.Join(queueEntry("p1", 1500, models.Category1v1, models.DifficultyMedium))
	require.NoError(t, err)
	_, err = mm.Join(ctx, "w1", models.Category1v1, medium)
	require.NoError(t, err)

	assert.Zero(t, mm.RunOnce(ctx))
	snapshot := mm.queue.Snapshot(models.Category1v1)
	require.Len(t, snapshot, 1)
	assert.Equal(t, "w1", snapshot[0].PlayerID)

	_, err = mm.Join(ctx, "w2", models.Category1v1, medium)
	require.NoError(t, err)
	assert.Equal(t, 1, mm.RunOnce(ctx), "the remaining player is matched on the next tick")
}

func TestMatchmakingService_JoinRecheckedAfterRatingLookup(t *testing.T) {
	a := newArena(t, testLifecycleConfig())
	mm := newMatchmaking(a)
	matchID := a.startDuel(t)

	// 레이팅 조회 중 경기에 묶인 것과 같은 상황
	err := a.matches.AdmitToQueue("p1", func() error {
		t.Fatal("enqueue must not run for a player in a match")
		return nil
	})
	assert.True(t, errors.Is(err, ErrAlreadyInMatch))

	_, err = a.matches.ForceEnd(context.Background(), matchID)
	require.NoError(t, err)
	_, err = mm.Join(context.Background(), "p1", models.Category1v1, medium)
	require.NoError(t, err)
	assert.True(t, mm.Status("p1").InQueue)
}
