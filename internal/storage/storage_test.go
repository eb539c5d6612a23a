package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
	})
	return &DB{conn}, mock
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

var keyRowColumns = []string{"serial", "order_id", "minutes", "claimed_at", "linked_to", "created_at"}

func TestMigrate(t *testing.T) {
	db, mock := newMockDB(t)
	for range migrations {
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, db.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateStopsOnError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS keys").WillReturnError(errors.New("permission denied"))

	err := db.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration 0 failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyRepository_Insert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewKeyRepository(db)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	keys := []SerialKey{
		{Serial: "AAAAAAAAAAAAAAAA", OrderID: "ord-1", DurationMinutes: intPtr(43200)},
		{Serial: "BBBBBBBBBBBBBBBB", OrderID: "ord-1"},
	}

	insert := regexp.QuoteMeta("INSERT INTO keys (serial, order_id, key_duration)")
	mock.ExpectBegin()
	mock.ExpectQuery(insert).
		WithArgs("AAAAAAAAAAAAAAAA", "ord-1", "43200 minutes").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))
	mock.ExpectQuery(insert).
		WithArgs("BBBBBBBBBBBBBBBB", "ord-1", nil).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))
	mock.ExpectCommit()

	require.NoError(t, repo.Insert(context.Background(), keys))
	assert.Equal(t, created, keys[0].CreatedAt)
	assert.Equal(t, created, keys[1].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyRepository_InsertRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewKeyRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO keys").
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "keys_pkey"`))
	mock.ExpectRollback()

	err := repo.Insert(context.Background(), []SerialKey{{Serial: "AAAAAAAAAAAAAAAA"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keys_pkey")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyRepository_FindRedeemable(t *testing.T) {
	created := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		rows     *sqlmock.Rows
		wantErr  error
		wantLife bool
		wantMins int
	}{
		{
			name: "timed key",
			rows: sqlmock.NewRows(keyRowColumns).
				AddRow("AAAAAAAAAAAAAAAA", "ord", int64(1440), nil, nil, created),
			wantMins: 1440,
		},
		{
			name: "lifetime key",
			rows: sqlmock.NewRows(keyRowColumns).
				AddRow("AAAAAAAAAAAAAAAA", "", nil, nil, nil, created),
			wantLife: true,
		},
		{
			name:    "missing or claimed",
			rows:    sqlmock.NewRows(keyRowColumns),
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectQuery(regexp.QuoteMeta("WHERE serial = $1 AND linked_to IS NULL")).
				WithArgs("AAAAAAAAAAAAAAAA").
				WillReturnRows(tt.rows)

			key, err := NewKeyRepository(db).FindRedeemable(context.Background(), "AAAAAAAAAAAAAAAA")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLife, key.Lifetime())
			assert.False(t, key.Claimed())
			if !tt.wantLife {
				assert.Equal(t, tt.wantMins, *key.DurationMinutes)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestKeyRepository_Get(t *testing.T) {
	db, mock := newMockDB(t)
	claimed := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM keys WHERE serial = $1")).
		WithArgs("AAAAAAAAAAAAAAAA").
		WillReturnRows(sqlmock.NewRows(keyRowColumns).
			AddRow("AAAAAAAAAAAAAAAA", "ord", int64(60), claimed, "123456789", claimed))

	key, err := NewKeyRepository(db).Get(context.Background(), "AAAAAAAAAAAAAAAA")
	require.NoError(t, err)
	assert.True(t, key.Claimed())
	assert.Equal(t, "123456789", *key.LinkedTo)
	assert.Equal(t, claimed, *key.ClaimedAt)
}

func TestKeyRepository_Claim(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		affected int64
		execErr  error
		wantErr  error
	}{
		{name: "claimed", affected: 1},
		{name: "lost the race", affected: 0, wantErr: ErrNotFound},
		{name: "database error", execErr: errors.New("conn reset")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			exp := mock.ExpectExec(regexp.QuoteMeta("UPDATE keys SET claimed_at = $2, linked_to = $3 WHERE serial = $1 AND linked_to IS NULL")).
				WithArgs("AAAAAAAAAAAAAAAA", at, "42")
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(sqlmock.NewResult(0, tt.affected))
			}

			err := NewKeyRepository(db).Claim(context.Background(), "AAAAAAAAAAAAAAAA", "42", at)
			switch {
			case tt.execErr != nil:
				assert.ErrorIs(t, err, tt.execErr)
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			default:
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestKeyRepository_List(t *testing.T) {
	unclaimed := false
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		filter    KeyFilter
		wantQuery string
		args      []driver.Value
	}{
		{
			name:      "no filter",
			filter:    KeyFilter{},
			wantQuery: "FROM keys ORDER BY created_at DESC, serial",
		},
		{
			name:      "unclaimed by order with paging",
			filter:    KeyFilter{Claimed: &unclaimed, OrderID: "ord-9", Limit: 10, Offset: 20},
			wantQuery: "WHERE linked_to IS NULL AND order_id = $1 ORDER BY created_at DESC, serial LIMIT $2 OFFSET $3",
			args:      []driver.Value{"ord-9", 10, 20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			q := mock.ExpectQuery(regexp.QuoteMeta(tt.wantQuery))
			if len(tt.args) > 0 {
				q.WithArgs(tt.args...)
			}
			q.WillReturnRows(sqlmock.NewRows(keyRowColumns).
				AddRow("AAAAAAAAAAAAAAAA", "ord-9", int64(60), nil, nil, created).
				AddRow("BBBBBBBBBBBBBBBB", "ord-9", nil, nil, nil, created))

			keys, err := NewKeyRepository(db).List(context.Background(), tt.filter)
			require.NoError(t, err)
			assert.Len(t, keys, 2)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestKeyRepository_Delete(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewKeyRepository(db)

	mock.ExpectExec("DELETE FROM keys").WithArgs("AAAAAAAAAAAAAAAA").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM keys").WithArgs("ZZZZZZZZZZZZZZZZ").WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.Delete(context.Background(), "AAAAAAAAAAAAAAAA"))
	assert.ErrorIs(t, repo.Delete(context.Background(), "ZZZZZZZZZZZZZZZZ"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyRepository_Stats(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"total", "claimed", "lifetime"}).AddRow(10, 4, 3))

	stats, err := NewKeyRepository(db).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, KeyStats{Total: 10, Claimed: 4, Unclaimed: 6, Lifetime: 3}, stats)
}

func TestSubscriptionRepository_Get(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSubscriptionRepository(db)
	cols := []string{"discord_id", "lrm_serial", "expires_at", "is_banned", "user_status", "last_sync"}

	mock.ExpectQuery("FROM users WHERE discord_id").WithArgs("42").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("42", "lrm-key", int64(-1), false, "active", int64(100)))
	mock.ExpectQuery("FROM users WHERE discord_id").WithArgs("43").
		WillReturnRows(sqlmock.NewRows(cols))

	sub, err := repo.Get(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), *sub.ExpiresAt)
	assert.Equal(t, "lrm-key", sub.LRMSerial)

	_, err = repo.Get(context.Background(), "43")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubscriptionRepository_Upsert(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("ON CONFLICT \\(discord_id\\) DO UPDATE").
		WithArgs("42", "lrm-key", nil, true, "banned", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewSubscriptionRepository(db).Upsert(context.Background(), Subscription{
		DiscordID: "42", LRMSerial: "lrm-key", IsBanned: true, UserStatus: "banned", LastSync: 5,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepository_BulkUpsert(t *testing.T) {
	t.Run("empty batch skips the database", func(t *testing.T) {
		db, mock := newMockDB(t)
		n, err := NewSubscriptionRepository(db).BulkUpsert(context.Background(), nil, 1)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns changed rows", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(regexp.QuoteMeta("IS DISTINCT FROM")).
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(99)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		subs := []Subscription{
			{DiscordID: "1", LRMSerial: "a", ExpiresAt: int64Ptr(1000)},
			{DiscordID: "2", LRMSerial: "b", ExpiresAt: int64Ptr(-1)},
		}
		n, err := NewSubscriptionRepository(db).BulkUpsert(context.Background(), subs, 99)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects missing expiry", func(t *testing.T) {
		db, _ := newMockDB(t)
		_, err := NewSubscriptionRepository(db).BulkUpsert(context.Background(), []Subscription{{DiscordID: "1"}}, 1)
		assert.Error(t, err)
	})
}

func TestDedupeByDiscordID(t *testing.T) {
	subs := []Subscription{
		{DiscordID: "1", LRMSerial: "old"},
		{DiscordID: "2", LRMSerial: "b"},
		{DiscordID: "1", LRMSerial: "new"},
	}

	out := dedupeByDiscordID(subs)
	require.Len(t, out, 2)
	assert.Equal(t, "new", out[0].LRMSerial)
	assert.Equal(t, "b", out[1].LRMSerial)
}

func TestCronStateRepository(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCronStateRepository(db)
	updated := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM cron_state").WithArgs("sync").
		WillReturnRows(sqlmock.NewRows([]string{"last_step", "updated_at"}))
	mock.ExpectExec("INSERT INTO cron_state").WithArgs("sync", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM cron_state").WithArgs("sync").
		WillReturnRows(sqlmock.NewRows([]string{"last_step", "updated_at"}).AddRow(3, updated))

	state, err := repo.Get(context.Background(), "sync")
	require.NoError(t, err)
	assert.Equal(t, 0, state.LastStep)

	require.NoError(t, repo.SaveStep(context.Background(), "sync", 3))

	state, err = repo.Get(context.Background(), "sync")
	require.NoError(t, err)
	assert.Equal(t, 3, state.LastStep)
	assert.Equal(t, updated, state.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
