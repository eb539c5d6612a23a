package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"obsidian/internal/auth"
	apierrors "obsidian/internal/errors"
	"obsidian/internal/middleware"
	"obsidian/internal/services"
	"obsidian/internal/storage"
)

const testDiscordID = "123456789012345678"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDeps() (*middleware.Validator, *apierrors.ErrorHandler, *slog.Logger) {
	logger := discardLogger()
	return middleware.NewValidator(logger), apierrors.NewErrorHandler(logger, false), logger
}

func withUser(ctx context.Context, discordID string) context.Context {
	return auth.WithClaims(ctx, &auth.Claims{DiscordID: discordID, Role: auth.RoleUser})
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

type MockKeyService struct {
	mock.Mock
}

func (m *MockKeyService) Generate(ctx context.Context, req services.GenerateRequest, source string) ([]storage.SerialKey, error) {
	args := m.Called(req, source)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.SerialKey), args.Error(1)
}

func (m *MockKeyService) Get(ctx context.Context, serial string) (*storage.SerialKey, error) {
	args := m.Called(serial)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.SerialKey), args.Error(1)
}

func (m *MockKeyService) List(ctx context.Context, f storage.KeyFilter) ([]storage.SerialKey, error) {
	args := m.Called(f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.SerialKey), args.Error(1)
}

func (m *MockKeyService) Delete(ctx context.Context, serial string) error {
	return m.Called(serial).Error(0)
}

func (m *MockKeyService) Stats(ctx context.Context) (storage.KeyStats, error) {
	args := m.Called()
	return args.Get(0).(storage.KeyStats), args.Error(1)
}

type MockRedemptionService struct {
	mock.Mock
}

func (m *MockRedemptionService) Redeem(ctx context.Context, serial, discordID string) (*services.RedeemResult, error) {
	args := m.Called(serial, discordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.RedeemResult), args.Error(1)
}

type MockAccountService struct {
	mock.Mock
}

func (m *MockAccountService) Subscription(ctx context.Context, discordID string) (*storage.Subscription, error) {
	args := m.Called(discordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Subscription), args.Error(1)
}

func (m *MockAccountService) ResetHWID(ctx context.Context, discordID string) (*storage.Subscription, error) {
	args := m.Called(discordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Subscription), args.Error(1)
}

type MockTelemetryService struct {
	mock.Mock
}

func (m *MockTelemetryService) Record(ctx context.Context, ev services.TelemetryEvent) (*services.TelemetryEvent, error) {
	args := m.Called(ev)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.TelemetryEvent), args.Error(1)
}

func (m *MockTelemetryService) Summary(ctx context.Context) (*services.TelemetrySummary, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.TelemetrySummary), args.Error(1)
}

type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) HandleEvent(ctx context.Context, ev services.PaymentEvent) (*services.PaymentResult, error) {
	args := m.Called(ev)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.PaymentResult), args.Error(1)
}

type MockSyncService struct {
	mock.Mock
}

func (m *MockSyncService) RunBatch(ctx context.Context, step int) (*services.BatchResult, error) {
	args := m.Called(step)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.BatchResult), args.Error(1)
}

func (m *MockSyncService) RunAll(ctx context.Context) (*services.RunReport, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.RunReport), args.Error(1)
}

func (m *MockSyncService) RunScheduled(ctx context.Context) (*services.RunReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.RunReport), args.Error(1)
}

func (m *MockSyncService) State(ctx context.Context) (*services.SyncState, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SyncState), args.Error(1)
}

type MockOverviewService struct {
	mock.Mock
}

func (m *MockOverviewService) Get(ctx context.Context) (*services.Overview, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Overview), args.Error(1)
}

type MockChangelogService struct {
	mock.Mock
}

func (m *MockChangelogService) Announce(ctx context.Context, req services.ChangelogRequest) error {
	return m.Called(req).Error(0)
}

type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) AdminLogin(ctx context.Context, password string) (*services.Session, error) {
	args := m.Called(password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Session), args.Error(1)
}

func (m *MockSessionService) UserSession(ctx context.Context, discordID string) (*services.Session, error) {
	args := m.Called(discordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Session), args.Error(1)
}

func (m *MockSessionService) Verify(token string) (*auth.Claims, error) {
	args := m.Called(token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Claims), args.Error(1)
}
