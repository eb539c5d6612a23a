package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIErrorIdentity(t *testing.T) {
	wrapped := fmt.Errorf("lookup serial ABC: %w", ErrSerialNotFound)

	assert.True(t, errors.Is(wrapped, ErrSerialNotFound))
	assert.False(t, errors.Is(wrapped, ErrKeyNotFound))

	var apiErr *APIError
	require.True(t, errors.As(wrapped, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Database(cause)

	assert.Equal(t, "connection refused", err.Error())
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, http.StatusInternalServerError, err.StatusCode)
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, NewValidationErrors([]ValidationError{{Field: "exec", Message: "is required"}}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp struct {
		Success bool `json:"success"`
		Error   struct {
			ErrorCode string `json:"error_code"`
			Details   struct {
				Errors []ValidationError `json:"errors"`
			} `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "VALIDATION_FAILED", resp.Error.ErrorCode)
	require.Len(t, resp.Error.Details.Errors, 1)
	assert.Equal(t, "exec", resp.Error.Details.Errors[0].Field)
}

func TestProblemDetailsMarshal(t *testing.T) {
	problem := NewProblemDetails(http.StatusConflict, TypeConflict, "Conflict", "busy", "/sync").
		WithExtension("error_code", "SYNC_IN_PROGRESS").
		WithExtension("status", "overridden?")

	data, err := json.Marshal(problem)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, float64(http.StatusConflict), body["status"], "standard members win over extensions")
	assert.Equal(t, "SYNC_IN_PROGRESS", body["error_code"])
	assert.Equal(t, "/sync", body["instance"])
}

func TestProblemTypeMapping(t *testing.T) {
	tests := []struct {
		err  *APIError
		want string
	}{
		{ErrInvalidSignature, TypeUnauthorized},
		{ErrAdminRequired, TypeForbidden},
		{ErrSyncInProgress, TypeConflict},
		{ErrNotifierMissing, TypeServiceDown},
		{ErrUnknownProduct, TypeValidation},
		{Upstream(errors.New("x")), TypeUpstream},
		{ErrInternalServer, TypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.err.ErrorCode, func(t *testing.T) {
			assert.Equal(t, tt.want, problemType(tt.err))
		})
	}
}
