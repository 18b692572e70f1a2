package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// Execer is the subset of pgxpool.Pool used by migrations.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type migration struct {
	name string
	sql  string
}

// Every statement is idempotent so Migrate can run on each start.
var migrations = []migration{
	{
		name: "players table",
		sql: `
			CREATE TABLE IF NOT EXISTS players (
				user_id BIGINT NOT NULL,
				group_id BIGINT NOT NULL DEFAULT 0,
				username VARCHAR(255) NOT NULL DEFAULT '',
				kir BIGINT NOT NULL DEFAULT 0,
				last_use TIMESTAMPTZ,
				last_random TIMESTAMPTZ,
				last_emergency TIMESTAMPTZ,
				win_streak BIGINT NOT NULL DEFAULT 0,
				longest_kir BIGINT,
				shortest_kir BIGINT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (user_id, group_id)
			);
			CREATE INDEX IF NOT EXISTS idx_players_group_kir ON players(group_id, kir DESC, user_id);
		`,
	},
	{
		name: "loans table",
		sql: `
			CREATE TABLE IF NOT EXISTS loans (
				id BIGSERIAL PRIMARY KEY,
				lender_id BIGINT NOT NULL,
				borrower_id BIGINT NOT NULL,
				group_id BIGINT NOT NULL DEFAULT 0,
				amount BIGINT NOT NULL CHECK (amount > 0),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_loans_group_time ON loans(group_id, created_at DESC);
		`,
	},
}

// Migrate applies the database schema.
func Migrate(ctx context.Context, db Execer) error {
	log.Info().Msg("Running database migrations...")

	for i, m := range migrations {
		if _, err := db.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d (%s): %w", i+1, m.name, err)
		}
		log.Info().Int("step", i+1).Str("name", m.name).Msg("Migration applied")
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
