package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/mock"

	"obsidian/internal/lrm"
	"obsidian/internal/notify"
	"obsidian/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intPtr(v int) *int { return &v }

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type mockKeyStore struct {
	mock.Mock
}

func (m *mockKeyStore) Insert(ctx context.Context, keys []storage.SerialKey) error {
	return m.Called(ctx, keys).Error(0)
}

func (m *mockKeyStore) Get(ctx context.Context, serial string) (*storage.SerialKey, error) {
	args := m.Called(ctx, serial)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.SerialKey), args.Error(1)
}

func (m *mockKeyStore) FindRedeemable(ctx context.Context, serial string) (*storage.SerialKey, error) {
	args := m.Called(ctx, serial)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.SerialKey), args.Error(1)
}

func (m *mockKeyStore) Claim(ctx context.Context, serial, account string, at time.Time) error {
	return m.Called(ctx, serial, account, at).Error(0)
}

func (m *mockKeyStore) List(ctx context.Context, f storage.KeyFilter) ([]storage.SerialKey, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.SerialKey), args.Error(1)
}

func (m *mockKeyStore) Delete(ctx context.Context, serial string) error {
	return m.Called(ctx, serial).Error(0)
}

func (m *mockKeyStore) Stats(ctx context.Context) (storage.KeyStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(storage.KeyStats), args.Error(1)
}

type mockSubscriptionStore struct {
	mock.Mock
}

func (m *mockSubscriptionStore) Get(ctx context.Context, discordID string) (*storage.Subscription, error) {
	args := m.Called(ctx, discordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Subscription), args.Error(1)
}

func (m *mockSubscriptionStore) Upsert(ctx context.Context, s storage.Subscription) error {
	return m.Called(ctx, s).Error(0)
}

func (m *mockSubscriptionStore) BulkUpsert(ctx context.Context, subs []storage.Subscription, syncedAt int64) (int64, error) {
	args := m.Called(ctx, subs, syncedAt)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSubscriptionStore) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type mockCronStore struct {
	mock.Mock
}

func (m *mockCronStore) Get(ctx context.Context, name string) (storage.CronState, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(storage.CronState), args.Error(1)
}

func (m *mockCronStore) SaveStep(ctx context.Context, name string, step int) error {
	return m.Called(ctx, name, step).Error(0)
}

type mockLicensingAPI struct {
	mock.Mock
}

func (m *mockLicensingAPI) ListUsers(ctx context.Context, from, until int) ([]lrm.User, error) {
	args := m.Called(ctx, from, until)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]lrm.User), args.Error(1)
}

func (m *mockLicensingAPI) GetUsersByDiscordID(ctx context.Context, discordID string) ([]lrm.User, error) {
	args := m.Called(ctx, discordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]lrm.User), args.Error(1)
}

func (m *mockLicensingAPI) CreateUser(ctx context.Context, req lrm.CreateUserRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockLicensingAPI) UpdateUser(ctx context.Context, req lrm.UpdateUserRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *mockLicensingAPI) DeleteUser(ctx context.Context, userKey string) error {
	return m.Called(ctx, userKey).Error(0)
}

func (m *mockLicensingAPI) ResetHWID(ctx context.Context, userKey string) error {
	return m.Called(ctx, userKey).Error(0)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Enabled(kind notify.Kind) bool {
	return m.Called(kind).Bool(0)
}

func (m *mockNotifier) Send(ctx context.Context, kind notify.Kind, embed *discordgo.MessageEmbed) error {
	return m.Called(ctx, kind, embed).Error(0)
}

func (m *mockNotifier) SendAsync(ctx context.Context, kind notify.Kind, embed *discordgo.MessageEmbed) {
	m.Called(ctx, kind, embed)
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) AppendKeys(ctx context.Context, keys []storage.SerialKey) error {
	return m.Called(ctx, keys).Error(0)
}

// recordingHub captures broadcasts; it is safe for concurrent use.
type recordingHub struct {
	mu       sync.Mutex
	messages []string
	payloads []interface{}
}

func (h *recordingHub) Broadcast(_ context.Context, messageType string, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, messageType)
	h.payloads = append(h.payloads, data)
}

func (h *recordingHub) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.messages...)
}
