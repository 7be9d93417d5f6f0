package middleware

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/authgate/internal/server/tokens"
)

// setupTestLogger creates a logger for testing
func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeClock управляемые часы для проверки границ окна без sleep
type fakeClock struct {
	now time.Time
	mu  sync.Mutex
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubVerifier принимает только токены из map
type stubVerifier struct {
	valid map[string]string
	err   error
}

func (v stubVerifier) VerifyAccessToken(token string) (string, error) {
	if userID, ok := v.valid[token]; ok {
		return userID, nil
	}
	if v.err != nil {
		return "", v.err
	}
	return "", tokens.ErrMalformedToken
}

// recordingMetrics запоминает вызовы для проверок
type recordingMetrics struct {
	rateLimited  []string
	authFailures []string
	statuses     []int
	mu           sync.Mutex
}

func (m *recordingMetrics) RecordHTTPStatus(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, code)
}

func (m *recordingMetrics) RecordRequestDuration(time.Duration) {}

func (m *recordingMetrics) RecordRateLimited(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimited = append(m.rateLimited, kind)
}

func (m *recordingMetrics) RecordAuthFailure(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authFailures = append(m.authFailures, reason)
}

func (m *recordingMetrics) RecordTokenIssued(string) {}
func (m *recordingMetrics) RecordRefresh(string)     {}
