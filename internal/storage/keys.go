package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const keyColumns = `serial, order_id, (EXTRACT(EPOCH FROM key_duration) / 60)::bigint, claimed_at, linked_to, created_at`

// KeyRepository persists serial keys
type KeyRepository struct {
	db *DB
}

// NewKeyRepository creates a key repository
func NewKeyRepository(db *DB) *KeyRepository {
	return &KeyRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanKey(row rowScanner) (*SerialKey, error) {
	var (
		k         SerialKey
		minutes   sql.NullInt64
		claimedAt sql.NullTime
		linkedTo  sql.NullString
	)
	if err := row.Scan(&k.Serial, &k.OrderID, &minutes, &claimedAt, &linkedTo, &k.CreatedAt); err != nil {
		return nil, err
	}
	k.Serial = strings.TrimSpace(k.Serial)
	if minutes.Valid {
		m := int(minutes.Int64)
		k.DurationMinutes = &m
	}
	if claimedAt.Valid {
		k.ClaimedAt = &claimedAt.Time
	}
	if linkedTo.Valid {
		k.LinkedTo = &linkedTo.String
	}
	return &k, nil
}

// intervalArg renders a duration for a $n::interval placeholder; nil stores NULL
func intervalArg(minutes *int) interface{} {
	if minutes == nil {
		return nil
	}
	return fmt.Sprintf("%d minutes", *minutes)
}

// Insert stores the keys in one transaction. A primary key collision aborts
// the whole batch.
func (r *KeyRepository) Insert(ctx context.Context, keys []SerialKey) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO keys (serial, order_id, key_duration)
		VALUES ($1, $2, $3::interval)
		RETURNING created_at
	`
	for i := range keys {
		k := &keys[i]
		if err := tx.QueryRowContext(ctx, query, k.Serial, k.OrderID, intervalArg(k.DurationMinutes)).Scan(&k.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert key %s: %w", k.Serial, err)
		}
	}

	return tx.Commit()
}

// Get returns a key regardless of claim state
func (r *KeyRepository) Get(ctx context.Context, serial string) (*SerialKey, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM keys WHERE serial = $1`, serial)
	k, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return k, err
}

// FindRedeemable returns the key only while it is unclaimed
func (r *KeyRepository) FindRedeemable(ctx context.Context, serial string) (*SerialKey, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM keys WHERE serial = $1 AND linked_to IS NULL`, serial)
	k, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return k, err
}

// Claim links an unclaimed key to account. ErrNotFound means another
// request claimed it first or it does not exist.
func (r *KeyRepository) Claim(ctx context.Context, serial, account string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE keys SET claimed_at = $2, linked_to = $3 WHERE serial = $1 AND linked_to IS NULL`,
		serial, at, account,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns keys newest first
func (r *KeyRepository) List(ctx context.Context, f KeyFilter) ([]SerialKey, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Claimed != nil {
		if *f.Claimed {
			where = append(where, "linked_to IS NOT NULL")
		} else {
			where = append(where, "linked_to IS NULL")
		}
	}
	if f.OrderID != "" {
		args = append(args, f.OrderID)
		where = append(where, fmt.Sprintf("order_id = $%d", len(args)))
	}

	query := `SELECT ` + keyColumns + ` FROM keys`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, serial`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	keys := []SerialKey{}
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

// Delete removes a key
func (r *KeyRepository) Delete(ctx context.Context, serial string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM keys WHERE serial = $1`, serial)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats counts keys by state
func (r *KeyRepository) Stats(ctx context.Context) (KeyStats, error) {
	var s KeyStats
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(linked_to),
		       COUNT(*) FILTER (WHERE key_duration IS NULL)
		FROM keys
	`).Scan(&s.Total, &s.Claimed, &s.Lifetime)
	if err != nil {
		return s, fmt.Errorf("failed to count keys: %w", err)
	}
	s.Unclaimed = s.Total - s.Claimed
	return s, nil
}
