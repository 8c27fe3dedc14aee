package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
)

//go:embed 2025010102_create_outbox.sql
var createOutboxSQL string

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, createOutboxSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `
				DROP TABLE IF EXISTS user_achievements;
				DROP TABLE IF EXISTS points_log;
				DROP TABLE IF EXISTS question_reports;
				DROP TABLE IF EXISTS notifications`)
			return err
		},
	)
}
