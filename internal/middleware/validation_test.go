package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "obsidian/internal/errors"
	"obsidian/internal/shared/testutil"
)

type redeemBody struct {
	Serial    string   `json:"serial" validate:"required,serial"`
	DiscordID string   `json:"discord_id" validate:"required,snowflake"`
	Note      string   `json:"note,omitempty" validate:"max=8"`
	Tags      []string `json:"tags,omitempty" validate:"max=2"`
}

func TestValidatorDecodeJSON(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	v := NewValidator(logger)

	tests := []struct {
		name      string
		body      string
		wantCode  string
		wantField string
		wantMsg   string
	}{
		{name: "valid", body: `{"serial":"abcd-efgh-jkmn-pqrs","discord_id":"123456789012345678"}`},
		{name: "empty body", body: ``, wantCode: "VALIDATION_FAILED"},
		{name: "malformed json", body: `{"serial":`, wantCode: "INVALID_REQUEST"},
		{name: "unknown field", body: `{"serial":"ABCDEFGHJKMNPQRS","discord_id":"123456789012345678","extra":1}`, wantCode: "INVALID_REQUEST"},
		{name: "trailing data", body: `{"serial":"ABCDEFGHJKMNPQRS","discord_id":"123456789012345678"} {}`, wantCode: "VALIDATION_FAILED"},
		{name: "bad serial", body: `{"serial":"short","discord_id":"123456789012345678"}`, wantCode: "VALIDATION_FAILED", wantField: "serial", wantMsg: "serial must be 16 letters or digits"},
		{name: "bad discord id", body: `{"serial":"ABCDEFGHJKMNPQRS","discord_id":"42"}`, wantCode: "VALIDATION_FAILED", wantField: "discord_id", wantMsg: "discord_id must be a Discord id"},
		{name: "missing serial", body: `{"discord_id":"123456789012345678"}`, wantCode: "VALIDATION_FAILED", wantField: "serial", wantMsg: "serial is required"},
		{name: "long note", body: `{"serial":"ABCDEFGHJKMNPQRS","discord_id":"123456789012345678","note":"way too long"}`, wantCode: "VALIDATION_FAILED", wantField: "note", wantMsg: "note must be at most 8 characters"},
		{name: "too many tags", body: `{"serial":"ABCDEFGHJKMNPQRS","discord_id":"123456789012345678","tags":["a","b","c"]}`, wantCode: "VALIDATION_FAILED", wantField: "tags", wantMsg: "tags must contain at most 2 items"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst redeemBody
			err := v.DecodeJSON(req, &dst)

			if tt.wantCode == "" {
				require.NoError(t, err)
				return
			}

			var apiErr *apierrors.APIError
			require.True(t, errors.As(err, &apiErr), "got %v", err)
			assert.Equal(t, tt.wantCode, apiErr.ErrorCode)
			assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

			if tt.wantField != "" {
				details, ok := apiErr.Details.(apierrors.ValidationErrors)
				require.True(t, ok)
				require.NotEmpty(t, details.Errors)
				assert.Equal(t, tt.wantField, details.Errors[0].Field)
				assert.Equal(t, tt.wantMsg, details.Errors[0].Message)
			}
		})
	}
}

func TestIsSnowflake(t *testing.T) {
	tests := map[string]bool{
		"123456789012345678":   true,
		"12345678901234567":    true,
		"12345678901234567890": true,
		"1234567890123456":     false,
		"12345678901234567a":   false,
		"":                     false,
	}
	for in, want := range tests {
		assert.Equal(t, want, IsSnowflake(in), in)
	}
}

func TestContentTypeValidator(t *testing.T) {
	h := ContentTypeValidator("application/json")(http.HandlerFunc(okHandler))

	tests := []struct {
		name        string
		method      string
		contentType string
		body        string
		wantStatus  int
	}{
		{name: "json", method: http.MethodPost, contentType: "application/json; charset=utf-8", body: "{}", wantStatus: http.StatusOK},
		{name: "form", method: http.MethodPost, contentType: "application/x-www-form-urlencoded", body: "a=b", wantStatus: http.StatusUnsupportedMediaType},
		{name: "missing", method: http.MethodPost, body: "{}", wantStatus: http.StatusUnsupportedMediaType},
		{name: "get", method: http.MethodGet, wantStatus: http.StatusOK},
		{name: "empty post", method: http.MethodPost, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestQueryParamValidator(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	v := NewQueryParamValidator(apierrors.NewErrorHandler(logger, false))

	tests := []struct {
		name   string
		query  string
		want   int
		wantOK bool
	}{
		{name: "default", query: "", want: 50, wantOK: true},
		{name: "in range", query: "?limit=10", want: 10, wantOK: true},
		{name: "not a number", query: "?limit=ten", wantOK: false},
		{name: "too large", query: "?limit=1001", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			got, ok := v.ValidateInt(rec, httptest.NewRequest(http.MethodGet, "/"+tt.query, nil), "limit", 1, 1000, 50)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			} else {
				assert.Equal(t, http.StatusBadRequest, rec.Code)
			}
		})
	}

	rec := httptest.NewRecorder()
	got, ok := v.ValidateEnum(rec, httptest.NewRequest(http.MethodGet, "/?status=claimed", nil), "status", []string{"all", "claimed", "unclaimed"}, "all")
	assert.True(t, ok)
	assert.Equal(t, "claimed", got)

	rec = httptest.NewRecorder()
	_, ok = v.ValidateEnum(rec, httptest.NewRequest(http.MethodGet, "/?status=lost", nil), "status", []string{"all", "claimed", "unclaimed"}, "all")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
