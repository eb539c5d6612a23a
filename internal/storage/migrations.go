package storage

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS keys (
		serial       CHAR(16) PRIMARY KEY,
		order_id     TEXT NOT NULL DEFAULT '',
		key_duration INTERVAL,
		claimed_at   TIMESTAMPTZ,
		linked_to    TEXT,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_keys_order_id ON keys(order_id)`,
	`CREATE INDEX IF NOT EXISTS idx_keys_linked_to ON keys(linked_to)`,
	`CREATE TABLE IF NOT EXISTS users (
		discord_id  TEXT PRIMARY KEY,
		lrm_serial  TEXT NOT NULL,
		expires_at  BIGINT,
		is_banned   BOOLEAN NOT NULL DEFAULT FALSE,
		user_status TEXT NOT NULL DEFAULT '',
		last_sync   BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS cron_state (
		name       TEXT PRIMARY KEY,
		last_step  INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate creates the schema if it does not exist
func (db *DB) Migrate(ctx context.Context) error {
	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
