package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vodarr/internal/observability"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("generates_when_missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Len(t, seen, 36)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	})

	t.Run("reuses_client_id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "player-42")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "player-42", seen)
		assert.Equal(t, "player-42", rec.Header().Get(RequestIDHeader))
	})

	t.Run("replaces_unprintable_or_long_ids", func(t *testing.T) {
		for _, id := range []string{"bad id", strings.Repeat("a", maxRequestIDLength+1), "line\nbreak"} {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(RequestIDHeader, id)
			handler.ServeHTTP(httptest.NewRecorder(), req)
			assert.NotEqual(t, id, seen)
			assert.Len(t, seen, 36)
		}
	})
}

func TestCORS(t *testing.T) {
	t.Run("preflight", func(t *testing.T) {
		handler := CORSWithConfig(DefaultCORSConfig())(http.HandlerFunc(okHandler))

		req := httptest.NewRequest(http.MethodOptions, "/stream/abc/0.ts", nil)
		req.Header.Set("Origin", "http://player.example")
		req.Header.Set("Access-Control-Request-Method", "GET")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Range")
		assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
	})

	t.Run("restricted_origins", func(t *testing.T) {
		cfg := DefaultCORSConfig()
		cfg.AllowedOrigins = []string{"http://allowed.example"}
		handler := CORSWithConfig(cfg)(http.HandlerFunc(okHandler))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
		req.Header.Set("Origin", "http://allowed.example")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, "http://allowed.example", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "Content-Range")

		req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
		req.Header.Set("Origin", "http://other.example")
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	t.Run("panic_becomes_500", func(t *testing.T) {
		handler := Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("kaboom")
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/encoder", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, buf.String(), "panic recovered")
		assert.Contains(t, buf.String(), "kaboom")
	})

	t.Run("abort_handler_is_reraised", func(t *testing.T) {
		handler := Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic(http.ErrAbortHandler)
		}))

		assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		})
	})
}

func TestLoggingMiddleware(t *testing.T) {
	newLogger := func(buf *bytes.Buffer) *slog.Logger {
		return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	t.Run("logs_status_and_request_id", func(t *testing.T) {
		var buf bytes.Buffer
		handler := RequestID(NewLoggingMiddleware(newLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/x", nil)
		req.Header.Set(RequestIDHeader, "req-1")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		out := buf.String()
		assert.Contains(t, out, `"status":404`)
		assert.Contains(t, out, `"level":"WARN"`)
		assert.Contains(t, out, `"request_id":"req-1"`)
	})

	t.Run("segment_fetches_log_at_debug", func(t *testing.T) {
		var buf bytes.Buffer
		handler := NewLoggingMiddleware(newLogger(&buf))(http.HandlerFunc(okHandler))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/stream/abc/3.ts", nil))
		assert.Empty(t, buf.String())
	})

	t.Run("context_carries_request_logger", func(t *testing.T) {
		var buf bytes.Buffer
		handler := RequestID(NewLoggingMiddleware(newLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			observability.LoggerFromContext(r.Context()).Info("inside handler")
			assert.Equal(t, "req-2", observability.RequestIDFromContext(r.Context()))
		})))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/encoder", nil)
		req.Header.Set(RequestIDHeader, "req-2")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], "inside handler")
		assert.Contains(t, lines[0], `"request_id":"req-2"`)
	})
}

func TestSkipCompressionForMedia(t *testing.T) {
	compressed := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Compressed", "yes")
			next.ServeHTTP(w, r)
		})
	}
	handler := SkipCompressionForMedia(compressed)(http.HandlerFunc(okHandler))

	tests := []struct {
		path       string
		compressed bool
	}{
		{"/api/v1/sessions", true},
		{"/health", true},
		{"/stream/abc/index.m3u8", false},
		{"/stream/abc/12.ts", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.compressed, rec.Header().Get("X-Compressed") == "yes")
		})
	}
}
