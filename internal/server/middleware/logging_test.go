package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
)

func TestLoggingWithSkip_LogsRequest(t *testing.T) {
	tests := []struct {
		name          string
		method        string
		path          string
		expectedLevel string
		status        int
	}{
		{name: "ok request", method: http.MethodGet, path: "/api/v1/me", status: http.StatusOK, expectedLevel: "level=INFO"},
		{name: "client error", method: http.MethodPost, path: "/api/v1/auth/login", status: http.StatusUnauthorized, expectedLevel: "level=WARN"},
		{name: "server error", method: http.MethodGet, path: "/api/v1/sessions", status: http.StatusInternalServerError, expectedLevel: "level=ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logBuffer strings.Builder
			logger := slog.New(slog.NewTextHandler(&logBuffer, &slog.HandlerOptions{Level: slog.LevelDebug}))
			rec := &recordingMetrics{}

			handler := LoggingWithSkip(logger, rec, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("body"))
			}))

			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("Authorization", "Bearer secret-token-value")
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			logOutput := logBuffer.String()
			assert.Contains(t, logOutput, "HTTP request")
			assert.Contains(t, logOutput, tt.expectedLevel)
			assert.Contains(t, logOutput, "path="+tt.path)
			assert.Contains(t, logOutput, "method="+tt.method)
			assert.Contains(t, logOutput, "bytes_written=4")
			assert.NotContains(t, logOutput, "secret-token-value")

			assert.Equal(t, []int{tt.status}, rec.statuses)
		})
	}
}

func TestLoggingWithSkip_DefaultStatus(t *testing.T) {
	var logBuffer strings.Builder
	logger := slog.New(slog.NewTextHandler(&logBuffer, nil))
	rec := &recordingMetrics{}

	handler := LoggingWithSkip(logger, rec, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("implicit 200"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Contains(t, logBuffer.String(), "status=200")
	assert.Equal(t, []int{http.StatusOK}, rec.statuses)
}

func TestLoggingWithSkip_RequestID(t *testing.T) {
	var logBuffer strings.Builder
	logger := slog.New(slog.NewTextHandler(&logBuffer, nil))

	handler := chimw.RequestID(LoggingWithSkip(logger, &recordingMetrics{}, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(chimw.RequestIDHeader, "req-abc-1")

	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, logBuffer.String(), "request_id=req-abc-1")
}

func TestLoggingWithSkip(t *testing.T) {
	var logBuffer strings.Builder
	logger := slog.New(slog.NewTextHandler(&logBuffer, nil))
	rec := &recordingMetrics{}

	handler := LoggingWithSkip(logger, rec, []string{"/api/v1/health"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Empty(t, logBuffer.String())

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))
	assert.Contains(t, logBuffer.String(), "path=/api/v1/me")

	// Метрики считаются и для пропущенных путей
	assert.Len(t, rec.statuses, 2)
}
