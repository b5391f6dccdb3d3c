package httputil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/dataroom/pkg/contextkeys"
	"github.com/platinummonkey/dataroom/pkg/observability"
)

func TestRequestContextMiddleware(t *testing.T) {
	var captured struct {
		requestID string
		userID    string
		client    contextkeys.Client
	}

	handler := RequestContextMiddleware(observability.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.requestID = contextkeys.GetRequestID(r.Context())
		captured.userID = contextkeys.GetUserID(r.Context())
		captured.client = contextkeys.GetClient(r.Context())
	}))

	t.Run("propagates identity and client", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(HeaderUserID, "user-1")
		r.Header.Set(HeaderRequestID, "req-1")
		r.Header.Set("User-Agent", "test-agent")
		r.RemoteAddr = "10.0.0.1:5555"
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)

		assert.Equal(t, "req-1", captured.requestID)
		assert.Equal(t, "user-1", captured.userID)
		assert.Equal(t, "10.0.0.1", captured.client.IPAddress)
		assert.Equal(t, "test-agent", captured.client.UserAgent)
		assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
	})

	t.Run("generates request id", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)

		assert.NotEmpty(t, captured.requestID)
		assert.Empty(t, captured.userID)
		assert.Equal(t, captured.requestID, w.Header().Get(HeaderRequestID))
	})
}

func TestRequireUser(t *testing.T) {
	called := false
	handler := RequestContextMiddleware(observability.Discard())(RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, called)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderUserID, "user-1")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.True(t, called)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.2"}, "10.0.0.3:80", "203.0.113.5"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.7"}, "10.0.0.3:80", "198.51.100.7"},
		{"remote addr", nil, "192.0.2.1:1234", "192.0.2.1"},
		{"remote addr without port", nil, "192.0.2.1", "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &buf)

	handler := Chain(
		RequestContextMiddleware(logger),
		LoggingMiddleware,
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	r := httptest.NewRequest(http.MethodGet, "/brew", nil)
	r.Header.Set(HeaderRequestID, "req-9")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "HTTP request", entry["msg"])
	assert.Equal(t, "/brew", entry["path"])
	assert.Equal(t, float64(http.StatusTeapot), entry["status"])
	assert.Equal(t, "req-9", entry["request_id"])
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(observability.WithLogger(r.Context(), observability.Discard()))
	w := httptest.NewRecorder()

	assert.NotPanics(t, func() { handler.ServeHTTP(w, r) })
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMaxBytesMiddleware(t *testing.T) {
	handler := MaxBytesMiddleware(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var v interface{}
		if !ParseJSONOrError(w, r, &v) {
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"too":"long"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
