package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// SubscriptionRepository persists the local mirror of licensing API users
type SubscriptionRepository struct {
	db *DB
}

// NewSubscriptionRepository creates a subscription repository
func NewSubscriptionRepository(db *DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Get returns the subscription mirrored for discordID
func (r *SubscriptionRepository) Get(ctx context.Context, discordID string) (*Subscription, error) {
	var (
		s         Subscription
		expiresAt sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT discord_id, lrm_serial, expires_at, is_banned, user_status, last_sync
		FROM users WHERE discord_id = $1
	`, discordID).Scan(&s.DiscordID, &s.LRMSerial, &expiresAt, &s.IsBanned, &s.UserStatus, &s.LastSync)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		s.ExpiresAt = &expiresAt.Int64
	}
	return &s, nil
}

// Upsert writes one subscription unconditionally
func (r *SubscriptionRepository) Upsert(ctx context.Context, s Subscription) error {
	var expiresAt interface{}
	if s.ExpiresAt != nil {
		expiresAt = *s.ExpiresAt
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (discord_id, lrm_serial, expires_at, is_banned, user_status, last_sync)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (discord_id) DO UPDATE SET
			lrm_serial  = EXCLUDED.lrm_serial,
			expires_at  = EXCLUDED.expires_at,
			is_banned   = EXCLUDED.is_banned,
			user_status = EXCLUDED.user_status,
			last_sync   = EXCLUDED.last_sync
	`, s.DiscordID, s.LRMSerial, expiresAt, s.IsBanned, s.UserStatus, s.LastSync)
	return err
}

const bulkUpsertQuery = `
	INSERT INTO users (discord_id, lrm_serial, expires_at, is_banned, user_status, last_sync)
	SELECT u.discord_id, u.lrm_serial, u.expires_at, u.is_banned, u.user_status, $6
	FROM unnest($1::text[], $2::text[], $3::bigint[], $4::boolean[], $5::text[])
		AS u(discord_id, lrm_serial, expires_at, is_banned, user_status)
	ON CONFLICT (discord_id) DO UPDATE SET
		lrm_serial  = EXCLUDED.lrm_serial,
		expires_at  = EXCLUDED.expires_at,
		is_banned   = EXCLUDED.is_banned,
		user_status = EXCLUDED.user_status,
		last_sync   = EXCLUDED.last_sync
	WHERE (users.lrm_serial, users.expires_at, users.is_banned, users.user_status)
		IS DISTINCT FROM
		(EXCLUDED.lrm_serial, EXCLUDED.expires_at, EXCLUDED.is_banned, EXCLUDED.user_status)
`

// BulkUpsert writes subs in one statement and returns the number of rows
// inserted or changed; rows whose mirrored fields are unchanged are skipped.
// Every sub must carry a non-nil ExpiresAt. Duplicate discord ids keep the
// last occurrence, since Postgres rejects updating one row twice per statement.
func (r *SubscriptionRepository) BulkUpsert(ctx context.Context, subs []Subscription, syncedAt int64) (int64, error) {
	subs = dedupeByDiscordID(subs)
	if len(subs) == 0 {
		return 0, nil
	}

	var (
		ids      = make([]string, len(subs))
		serials  = make([]string, len(subs))
		expires  = make([]int64, len(subs))
		banned   = make([]bool, len(subs))
		statuses = make([]string, len(subs))
	)
	for i, s := range subs {
		if s.ExpiresAt == nil {
			return 0, fmt.Errorf("subscription %s has no expiry", s.DiscordID)
		}
		ids[i] = s.DiscordID
		serials[i] = s.LRMSerial
		expires[i] = *s.ExpiresAt
		banned[i] = s.IsBanned
		statuses[i] = s.UserStatus
	}

	res, err := r.db.ExecContext(ctx, bulkUpsertQuery,
		pq.Array(ids), pq.Array(serials), pq.Array(expires), pq.Array(banned), pq.Array(statuses), syncedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("bulk upsert failed: %w", err)
	}
	return res.RowsAffected()
}

func dedupeByDiscordID(subs []Subscription) []Subscription {
	index := make(map[string]int, len(subs))
	out := make([]Subscription, 0, len(subs))
	for _, s := range subs {
		if i, ok := index[s.DiscordID]; ok {
			out[i] = s
			continue
		}
		index[s.DiscordID] = len(out)
		out = append(out, s)
	}
	return out
}

// Count returns the number of mirrored subscriptions
func (r *SubscriptionRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}
