package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rl-arena/code-arena-backend/internal/models"
	"github.com/rl-arena/code-arena-backend/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMatch(t *testing.T, s *Store) *models.Match {
	t.Helper()
	match := &models.Match{ID: "m1", Category: models.Category1v1, Status: models.MatchStatusCompleted}
	require.NoError(t, s.CreateMatch(context.Background(), match, []*models.Participant{
		{MatchID: "m1", PlayerID: "a", JoinOrder: 1},
		{MatchID: "m1", PlayerID: "b", JoinOrder: 2},
	}))
	return match
}

func TestStore_RunScoringRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedMatch(t, s)
	s.PutSeason(models.Season{ID: "s1", Active: true})

	boom := errors.New("boom")
	err := s.RunScoring(ctx, func(tx repository.ScoringTx) error {
		require.NoError(t, tx.SaveRatings(ctx, []*models.RatingRecord{{PlayerID: "a", Rating: 1516}}))
		require.NoError(t, tx.AddSeasonPoints(ctx, "s1", "a", 150))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, models.DefaultRating, s.Rating("a").Rating)
	assert.Equal(t, 0, s.SeasonPoints("s1", "a"))
	assert.Equal(t, 0, s.ScoringCommits())
}

func TestStore_RunScoringCommitsAll(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedMatch(t, s)

	err := s.RunScoring(ctx, func(tx repository.ScoringTx) error {
		if err := tx.SaveRatings(ctx, []*models.RatingRecord{{PlayerID: "a", Rating: 1516, TotalMatches: 1, Wins: 1}}); err != nil {
			return err
		}
		if err := tx.AddSeasonPoints(ctx, "s1", "a", 150); err != nil {
			return err
		}
		granted, err := tx.GrantAchievements(ctx, []*models.Achievement{
			{PlayerID: "a", Code: models.AchievementFirstSolve},
			{PlayerID: "a", Code: models.AchievementFirstSolve},
		})
		if err != nil {
			return err
		}
		assert.Len(t, granted, 1)
		return tx.MarkScored(ctx, "m1", nil, time.Now())
	})
	require.NoError(t, err)

	assert.Equal(t, 1516, s.Rating("a").Rating)
	assert.Equal(t, 150, s.SeasonPoints("s1", "a"))
	assert.Equal(t, []models.AchievementCode{models.AchievementFirstSolve}, s.Achievements("a"))

	// 두 번째 채점은 scoredAt 가드에 막힌다
	err = s.RunScoring(ctx, func(tx repository.ScoringTx) error {
		return tx.MarkScored(ctx, "m1", nil, time.Now())
	})
	assert.ErrorIs(t, err, repository.ErrAlreadyScored)
	assert.Equal(t, 1, s.ScoringCommits())
}

func TestStore_FinalizeSubmissionOnce(t *testing.T) {
	s := New()
	ctx := context.Background()

	sub := &models.Submission{ID: "s1", PlayerID: "a", Status: models.SubmissionStatusPending}
	require.NoError(t, s.CreateSubmission(ctx, sub))

	ok, err := s.MarkRunning(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	accepted := *sub
	accepted.Status = models.SubmissionStatusAccepted
	ok, err = s.FinalizeSubmission(ctx, &accepted)
	require.NoError(t, err)
	assert.True(t, ok)

	// 종료 상태에서 되돌릴 수 없음
	again := *sub
	again.Status = models.SubmissionStatusRuntimeError
	ok, err = s.FinalizeSubmission(ctx, &again)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.MarkRunning(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := s.GetSubmission(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusAccepted, stored.Status)
}

func TestStore_PickProblem(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.PickProblem(ctx, models.DifficultyEasy)
	assert.ErrorIs(t, err, repository.ErrNoProblemAvailable)

	tests := []models.TestCase{{Input: "1", ExpectedOutput: "1"}}
	s.PutProblem(models.Problem{ID: "p1", Difficulty: models.DifficultyEasy, TestCases: tests})
	s.PutProblem(models.Problem{ID: "p2", Difficulty: models.DifficultyEasy, TestCases: tests})
	s.PutProblem(models.Problem{ID: "p3", Difficulty: models.DifficultyHard, TestCases: tests})

	first, err := s.PickProblem(ctx, models.DifficultyEasy)
	require.NoError(t, err)
	second, err := s.PickProblem(ctx, models.DifficultyEasy)
	require.NoError(t, err)

	assert.Equal(t, "p1", first.ID)
	assert.Equal(t, "p2", second.ID)
}

func TestStore_MatchStatusMovesForward(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.CreateMatch(ctx, &models.Match{ID: "m1", Status: models.MatchStatusWaiting}, nil))

	require.NoError(t, s.UpdateMatchState(ctx, &models.Match{ID: "m1", Status: models.MatchStatusInProgress}))
	require.NoError(t, s.UpdateMatchState(ctx, &models.Match{ID: "m1", Status: models.MatchStatusCompleted}))
	assert.Error(t, s.UpdateMatchState(ctx, &models.Match{ID: "m1", Status: models.MatchStatusInProgress}))
}
