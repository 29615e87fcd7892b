package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rl-arena/code-arena-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedRepository_UpsertProblem(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSeedRepository(db)

	p := models.Problem{
		ID:            "two-sum",
		Title:         "Two Sum",
		Difficulty:    models.DifficultyEasy,
		TimeLimitMs:   1000,
		MemoryLimitKb: 65536,
		TestCases:     []models.TestCase{{Input: "1 2", ExpectedOutput: "3"}},
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO problems")).
		WithArgs("two-sum", "Two Sum", "", models.DifficultyEasy, 1000, 65536,
			[]byte(`[{"input":"1 2","expectedOutput":"3","hidden":false}]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpsertProblem(context.Background(), p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedRepository_ActivateSeasonRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSeedRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE seasons SET active = FALSE")).
		WithArgs("s2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO seasons")).
		WithArgs("s2", "Season 2").
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err := repo.ActivateSeason(context.Background(), models.Season{ID: "s2", Name: "Season 2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS players")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}
