package repository

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/rl-arena/code-arena-backend/pkg/database"
)

//go:embed schema.sql
var schemaSQL string

// Migrate 엔진이 쓰는 테이블 생성. 모든 문장이 IF NOT EXISTS 라서 반복 실행해도 된다.
func Migrate(ctx context.Context, db *database.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
