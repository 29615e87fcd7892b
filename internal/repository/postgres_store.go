package repository

import "github.com/rl-arena/code-arena-backend/pkg/database"

// PostgresStore Store 계약의 PostgreSQL 구현
type PostgresStore struct {
	*MatchRepository
	*SubmissionRepository
	*CatalogRepository
	*ScoringRepository
}

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{
		MatchRepository:      NewMatchRepository(db),
		SubmissionRepository: NewSubmissionRepository(db),
		CatalogRepository:    NewCatalogRepository(db),
		ScoringRepository:    NewScoringRepository(db),
	}
}

var _ Store = (*PostgresStore)(nil)
