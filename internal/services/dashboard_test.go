package services

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"obsidian/internal/auth"
	apierrors "obsidian/internal/errors"
	"obsidian/internal/kv"
	"obsidian/internal/notify"
	"obsidian/internal/storage"
)

func TestOverviewService_Get(t *testing.T) {
	keys := new(mockKeyStore)
	subs := new(mockSubscriptionStore)
	cron := new(mockCronStore)
	keys.On("Stats", mock.Anything).Return(storage.KeyStats{Total: 10, Claimed: 4, Unclaimed: 6}, nil)
	subs.On("Count", mock.Anything).Return(int64(3), nil)
	cron.On("Get", mock.Anything, CronSyncJob).Return(storage.CronState{LastStep: 1}, nil)

	mr := miniredis.RunT(t)
	store := kv.Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer store.Close()

	svc := NewOverviewService(
		NewKeyService(keys, nil, nil, nil, discardLogger()),
		NewTelemetryService(store, 0, nil, discardLogger()),
		newSyncService(new(mockLicensingAPI), subs, cron, nil),
		discardLogger(),
	)

	out, err := svc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), out.Keys.Total)
	assert.Equal(t, int64(0), out.TelemetryEvents)
	assert.Equal(t, int64(3), out.Sync.Subscriptions)
	assert.Equal(t, 1, out.Sync.Cron.LastStep)
}

func TestOverviewService_GetFails(t *testing.T) {
	keys := new(mockKeyStore)
	subs := new(mockSubscriptionStore)
	cron := new(mockCronStore)
	keys.On("Stats", mock.Anything).Return(storage.KeyStats{}, errors.New("too many connections"))
	subs.On("Count", mock.Anything).Return(int64(0), nil).Maybe()
	cron.On("Get", mock.Anything, CronSyncJob).Return(storage.CronState{}, nil).Maybe()

	mr := miniredis.RunT(t)
	store := kv.Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer store.Close()

	svc := NewOverviewService(
		NewKeyService(keys, nil, nil, nil, discardLogger()),
		NewTelemetryService(store, 0, nil, discardLogger()),
		newSyncService(new(mockLicensingAPI), subs, cron, nil),
		discardLogger(),
	)

	_, err := svc.Get(context.Background())
	require.Error(t, err)
	assert.Equal(t, "too many connections", err.Error())
}

func TestChangelogService_Announce(t *testing.T) {
	req := ChangelogRequest{Version: "1.4.0", Changes: []string{"Faster injection", "New theme"}}

	t.Run("disabled", func(t *testing.T) {
		n := new(mockNotifier)
		n.On("Enabled", notify.KindChangelog).Return(false)
		err := NewChangelogService(n, discardLogger()).Announce(context.Background(), req)
		assert.ErrorIs(t, err, apierrors.ErrNotifierMissing)
	})

	t.Run("nil notifier", func(t *testing.T) {
		err := NewChangelogService(nil, discardLogger()).Announce(context.Background(), req)
		assert.ErrorIs(t, err, apierrors.ErrNotifierMissing)
	})

	t.Run("delivered", func(t *testing.T) {
		n := new(mockNotifier)
		n.On("Enabled", notify.KindChangelog).Return(true)
		n.On("Send", mock.Anything, notify.KindChangelog, mock.MatchedBy(func(e interface{}) bool {
			return e != nil
		})).Return(nil)

		require.NoError(t, NewChangelogService(n, discardLogger()).Announce(context.Background(), req))
		n.AssertExpectations(t)
	})

	t.Run("webhook failure", func(t *testing.T) {
		n := new(mockNotifier)
		n.On("Enabled", notify.KindChangelog).Return(true)
		n.On("Send", mock.Anything, notify.KindChangelog, mock.Anything).Return(errors.New("HTTP 404 Not Found"))

		err := NewChangelogService(n, discardLogger()).Announce(context.Background(), req)
		var apiErr *apierrors.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "HTTP 404 Not Found", apiErr.Message)
	})
}

func TestSessionService_AdminLogin(t *testing.T) {
	hash, err := auth.HashPassword("correct horse")
	require.NoError(t, err)
	sessions, err := auth.NewSessions("secret", 0)
	require.NoError(t, err)
	svc := NewSessionService(sessions, hash, discardLogger())

	_, err = svc.AdminLogin(context.Background(), "wrong")
	assert.ErrorIs(t, err, apierrors.ErrInvalidCredentials)

	session, err := svc.AdminLogin(context.Background(), "correct horse")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, session.Role)

	claims, err := svc.Verify(session.Token)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin())
}

func TestSessionService_UserSession(t *testing.T) {
	sessions, err := auth.NewSessions("secret", 0)
	require.NoError(t, err)
	svc := NewSessionService(sessions, "", discardLogger())

	_, err = svc.UserSession(context.Background(), "")
	assert.ErrorIs(t, err, apierrors.ErrMissingParameter)

	session, err := svc.UserSession(context.Background(), testAccount)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleUser, session.Role)

	claims, err := svc.Verify(session.Token)
	require.NoError(t, err)
	assert.False(t, claims.IsAdmin())
	assert.Equal(t, testAccount, claims.DiscordID)
}

func TestHealthService_Readiness(t *testing.T) {
	svc := NewHealthService("1.4.0", "", map[string]HealthCheckFunc{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}, discardLogger())

	status := svc.ReadinessCheck(context.Background())
	assert.Equal(t, "not_ready", status.Status)
	assert.Equal(t, "ready", status.Services["database"].Status)
	assert.Equal(t, "not_ready", status.Services["redis"].Status)
	assert.Equal(t, "connection refused", status.Services["redis"].Message)

	assert.Equal(t, "ok", svc.HealthCheck(context.Background()).Status)
	assert.Equal(t, "alive", svc.LivenessCheck(context.Background()).Status)
	assert.Equal(t, "1.4.0", svc.Version()["version"])
}
