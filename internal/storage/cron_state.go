package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// CronState is the persisted checkpoint of a scheduled job
type CronState struct {
	Name      string    `json:"name"`
	LastStep  int       `json:"last_step"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CronStateRepository persists scheduled job checkpoints
type CronStateRepository struct {
	db *DB
}

// NewCronStateRepository creates a cron state repository
func NewCronStateRepository(db *DB) *CronStateRepository {
	return &CronStateRepository{db: db}
}

// Get returns the checkpoint for name; a job that never ran starts at step 0
func (r *CronStateRepository) Get(ctx context.Context, name string) (CronState, error) {
	state := CronState{Name: name}
	err := r.db.QueryRowContext(ctx,
		`SELECT last_step, updated_at FROM cron_state WHERE name = $1`, name,
	).Scan(&state.LastStep, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	}
	return state, err
}

// SaveStep records the next step to run for name
func (r *CronStateRepository) SaveStep(ctx context.Context, name string, step int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cron_state (name, last_step, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET last_step = EXCLUDED.last_step, updated_at = NOW()
	`, name, step)
	return err
}
