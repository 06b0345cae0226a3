package errors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensor/internal/shared/testutil"
)

func TestErrorHandler_HandleError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, TypeTimeout},
		{"api error", ErrInvalidRequest, http.StatusBadRequest, TypeValidation},
		{"expired", ErrLicenseExpired, http.StatusForbidden, TypeLicenseExpired},
		{"store", NewLicenseError(CategoryStoreUnavailable, "persist", nil), http.StatusServiceUnavailable, TypeLicenseStore},
		{"unknown", assert.AnError, http.StatusInternalServerError, TypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logs := testutil.NewTestLogger(t)
			h := NewErrorHandler(logger, false)

			r := httptest.NewRequest(http.MethodGet, "/license/status", nil)
			w := httptest.NewRecorder()
			h.HandleError(w, r, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantType, body["type"])
			assert.True(t, logs.ContainsMessage("request failed"))
		})
	}
}

func TestErrorHandler_NilErrorWritesNothing(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger, false)

	w := httptest.NewRecorder()
	h.HandleError(w, httptest.NewRequest(http.MethodGet, "/", nil), nil)

	assert.Equal(t, 0, w.Body.Len())
	assert.Equal(t, 0, logs.Count())
}

func TestRecoveryMiddleware(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger, true)

	r := chi.NewRouter()
	r.Use(RecoveryMiddleware(h))
	r.Get("/boom", func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "kaboom")
	assert.True(t, logs.ContainsMessage("panic recovered"))
}

func TestErrorMiddlewareLogsStatus(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	m := NewErrorMiddleware(NewErrorHandler(logger, false), logger)

	r := chi.NewRouter()
	r.Use(m.Handler)
	r.NotFound(NewErrorHandler(logger, false).NotFound)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.True(t, logs.ContainsAttr("status", int64(http.StatusNotFound)))
}

func TestWebSocketUpgradeError(t *testing.T) {
	err := WebSocketUpgradeError(http.StatusForbidden)
	assert.Equal(t, http.StatusForbidden, err.StatusCode)
	assert.Equal(t, "WEBSOCKET_UPGRADE_FAILED", err.ErrorCode)
	assert.Equal(t, http.StatusInternalServerError, ErrWebSocketUpgrade.StatusCode, "shared value must not change")

	w := httptest.NewRecorder()
	WriteError(w, err)
	assert.Equal(t, http.StatusForbidden, w.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "WEBSOCKET_UPGRADE_FAILED", body.Error.ErrorCode)
}
