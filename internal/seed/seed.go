// Package seed 개발 환경에서 쓰는 기본 문제와 시즌
package seed

import (
	"context"
	"fmt"

	"github.com/rl-arena/code-arena-backend/internal/models"
)

// Season 기본 활성 시즌
var Season = models.Season{ID: "season-1", Name: "Season 1", Active: true}

// Problems 난이도마다 최소 한 문제씩 있는 기본 문제 세트
func Problems() []models.Problem {
	return []models.Problem{
		{
			ID:            "sum-two-numbers",
			Title:         "Sum of Two Numbers",
			Description:   "Read two integers a and b and print a + b.",
			Difficulty:    models.DifficultyEasy,
			TimeLimitMs:   1000,
			MemoryLimitKb: 65536,
			TestCases: []models.TestCase{
				{Input: "1 2\n", ExpectedOutput: "3\n"},
				{Input: "-5 5\n", ExpectedOutput: "0\n"},
				{Input: "1000000000 1000000000\n", ExpectedOutput: "2000000000\n", Hidden: true},
			},
		},
		{
			ID:            "reverse-words",
			Title:         "Reverse Words",
			Description:   "Print the words of the input line in reverse order.",
			Difficulty:    models.DifficultyEasy,
			TimeLimitMs:   1000,
			MemoryLimitKb: 65536,
			TestCases: []models.TestCase{
				{Input: "hello world\n", ExpectedOutput: "world hello\n"},
				{Input: "a\n", ExpectedOutput: "a\n", Hidden: true},
			},
		},
		{
			ID:            "balanced-brackets",
			Title:         "Balanced Brackets",
			Description:   "Print YES if the bracket string is balanced, otherwise NO.",
			Difficulty:    models.DifficultyMedium,
			TimeLimitMs:   2000,
			MemoryLimitKb: 131072,
			TestCases: []models.TestCase{
				{Input: "([]{})\n", ExpectedOutput: "YES\n"},
				{Input: "([)]\n", ExpectedOutput: "NO\n"},
				{Input: "((((((((((\n", ExpectedOutput: "NO\n", Hidden: true},
			},
		},
		{
			ID:            "shortest-path",
			Title:         "Shortest Path",
			Description:   "Given a weighted directed graph, print the shortest distance from node 1 to node n or -1.",
			Difficulty:    models.DifficultyHard,
			TimeLimitMs:   3000,
			MemoryLimitKb: 262144,
			TestCases: []models.TestCase{
				{Input: "3 3\n1 2 4\n2 3 1\n1 3 7\n", ExpectedOutput: "5\n"},
				{Input: "2 0\n", ExpectedOutput: "-1\n"},
				{Input: "4 4\n1 2 1\n2 3 1\n3 4 1\n1 4 5\n", ExpectedOutput: "3\n", Hidden: true},
			},
		},
	}
}

// Catalog 기본 데이터를 받는 저장소
type Catalog interface {
	UpsertProblem(ctx context.Context, p models.Problem) error
	ActivateSeason(ctx context.Context, s models.Season) error
}

// Load 기본 문제와 시즌을 catalog에 등록
func Load(ctx context.Context, catalog Catalog) (int, error) {
	problems := Problems()
	for _, p := range problems {
		if err := catalog.UpsertProblem(ctx, p); err != nil {
			return 0, fmt.Errorf("seed problem %s: %w", p.ID, err)
		}
	}
	if err := catalog.ActivateSeason(ctx, Season); err != nil {
		return 0, fmt.Errorf("seed season: %w", err)
	}
	return len(problems), nil
}
