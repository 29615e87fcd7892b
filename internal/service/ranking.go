package service

import (
	"sort"

	"github.com/rl-arena/code-arena-backend/internal/models"
)

// RankParticipants 점수 내림차순, 마지막 제출이 빠른 순, 입장 순으로 순위를 매긴다
// 입력 순서와 무관하게 같은 결과가 나온다. 반환값은 정렬된 슬라이스이며 Rank가 채워져 있다.
func RankParticipants(participants []*models.Participant) []*models.Participant {
	ranked := make([]*models.Participant, len(participants))
	copy(ranked, participants)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if c := compareSubmissionTime(a, b); c != 0 {
			return c < 0
		}
		return a.JoinOrder < b.JoinOrder
	})

	for i, p := range ranked {
		rank := i + 1
		p.Rank = &rank
	}
	return ranked
}

// compareSubmissionTime 제출 기록이 없는 쪽이 뒤로 간다
func compareSubmissionTime(a, b *models.Participant) int {
	switch {
	case a.LastSubmissionAt == nil && b.LastSubmissionAt == nil:
		return 0
	case a.LastSubmissionAt == nil:
		return 1
	case b.LastSubmissionAt == nil:
		return -1
	case a.LastSubmissionAt.Before(*b.LastSubmissionAt):
		return -1
	case b.LastSubmissionAt.Before(*a.LastSubmissionAt):
		return 1
	}
	return 0
}

// tiedOnResult 점수와 마지막 제출 시각이 모두 같은지 (입장 순서로만 갈린 경우)
func tiedOnResult(a, b *models.Participant) bool {
	return a.Score == b.Score && compareSubmissionTime(a, b) == 0
}

// Scoreboard 순위가 매겨진 참가자로 스코어보드 생성
func Scoreboard(ranked []*models.Participant) []models.ScoreboardEntry {
	board := make([]models.ScoreboardEntry, 0, len(ranked))
	for i, p := range ranked {
		rank := i + 1
		if p.Rank != nil {
			rank = *p.Rank
		}
		board = append(board, models.ScoreboardEntry{
			PlayerID:         p.PlayerID,
			TeamNumber:       p.TeamNumber,
			Score:            p.Score,
			Rank:             rank,
			SubmissionCount:  p.SubmissionCount,
			LastSubmissionAt: p.LastSubmissionAt,
			RatingChange:     p.RatingChange,
		})
	}
	return board
}

// sortByStoredRank 채점 때 저장된 순위대로 정렬 (순위가 없으면 뒤로)
func sortByStoredRank(participants []*models.Participant) {
	sort.SliceStable(participants, func(i, j int) bool {
		a, b := participants[i].Rank, participants[j].Rank
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return *a < *b
	})
}
