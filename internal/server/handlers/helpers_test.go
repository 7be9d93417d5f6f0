package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iudanet/authgate/internal/server/credentials"
	"github.com/iudanet/authgate/internal/server/ledger"
	"github.com/iudanet/authgate/internal/server/storage/sqlite"
	"github.com/iudanet/authgate/internal/server/tokens"
	"github.com/iudanet/authgate/pkg/api"
)

// setupTestLogger creates a logger for testing
func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// countingMetrics считает вызовы metrics.Recorder
type countingMetrics struct {
	issued       map[string]int
	refreshes    map[string]int
	authFailures map[string]int
	mu           sync.Mutex
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		issued:       map[string]int{},
		refreshes:    map[string]int{},
		authFailures: map[string]int{},
	}
}

func (m *countingMetrics) RecordHTTPStatus(int)                {}
func (m *countingMetrics) RecordRequestDuration(time.Duration) {}
func (m *countingMetrics) RecordRateLimited(string)            {}

func (m *countingMetrics) RecordAuthFailure(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authFailures[reason]++
}

func (m *countingMetrics) RecordTokenIssued(tokenType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued[tokenType]++
}

func (m *countingMetrics) RecordRefresh(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes[outcome]++
}

type testEnv struct {
	store    *sqlite.Storage
	issuer   *tokens.Issuer
	ledger   *ledger.Ledger
	creds    *credentials.Store
	metrics  *countingMetrics
	auth     *AuthHandler
	accounts *AccountHandler
}

func setupTestEnv(t *testing.T, opts ...ledger.Option) *testEnv {
	t.Helper()

	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	issuer, err := tokens.NewIssuer([]byte("handlers-test-secret"))
	require.NoError(t, err)

	logger := setupTestLogger()
	l := ledger.New(store, issuer, logger, opts...)
	creds := credentials.New(store, bcrypt.MinCost, logger)
	rec := newCountingMetrics()

	return &testEnv{
		store:    store,
		issuer:   issuer,
		ledger:   l,
		creds:    creds,
		metrics:  rec,
		auth:     NewAuthHandler(logger, creds, l, issuer, rec),
		accounts: NewAccountHandler(logger, creds, l),
	}
}

// register создает пользователя через handler и возвращает ответ
func (e *testEnv) register(t *testing.T, email, deviceID string) api.AuthResponse {
	t.Helper()

	w := doJSON(e.auth.Register, http.MethodPost, "/api/v1/auth/register", api.RegisterRequest{
		Email:    email,
		Password: "Secret123",
		DeviceID: deviceID,
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp api.AuthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

// doJSON выполняет handler с JSON телом и необязательным access token
func doJSON(h http.HandlerFunc, method, path string, body any, accessToken string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	w := httptest.NewRecorder()
	h(w, req)
	return w
}

// doAuthed выполняет handler так, как его вызвал бы AuthMiddleware
func doAuthed(h http.HandlerFunc, req *http.Request, userID string) *httptest.ResponseRecorder {
	req = req.WithContext(WithUserID(req.Context(), userID))
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()

	var resp api.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}
