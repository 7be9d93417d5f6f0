package httperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/authgate/internal/server/credentials"
	"github.com/iudanet/authgate/internal/server/ledger"
	"github.com/iudanet/authgate/internal/server/tokens"
	"github.com/iudanet/authgate/internal/validation"
	"github.com/iudanet/authgate/pkg/api"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		name   string
		code   string
		status int
	}{
		{name: "missing token", err: tokens.ErrMissingToken, status: http.StatusUnauthorized, code: CodeMissingToken},
		{name: "malformed token", err: fmt.Errorf("%w: bad signature", tokens.ErrMalformedToken), status: http.StatusUnauthorized, code: CodeMalformedToken},
		{name: "expired token", err: tokens.ErrTokenExpired, status: http.StatusUnauthorized, code: CodeTokenExpired},
		{name: "refresh not found", err: ledger.ErrNotFound, status: http.StatusUnauthorized, code: CodeRefreshNotFound},
		{name: "refresh revoked", err: ledger.ErrRevokedOrExpired, status: http.StatusUnauthorized, code: CodeRefreshInvalid},
		{name: "invalid credentials", err: credentials.ErrInvalidCredentials, status: http.StatusUnauthorized, code: CodeInvalidCredentials},
		{name: "invalid email", err: fmt.Errorf("%w: nope", validation.ErrInvalidEmail), status: http.StatusBadRequest, code: CodeInvalidEmail},
		{name: "weak password", err: validation.ErrWeakPassword, status: http.StatusBadRequest, code: CodeWeakPassword},
		{name: "bad device id", err: validation.ErrInvalidDeviceID, status: http.StatusBadRequest, code: CodeInvalidDeviceID},
		{name: "bad body", err: fmt.Errorf("%w: unexpected EOF", ErrBadRequest), status: http.StatusBadRequest, code: CodeInvalidRequest},
		{name: "email taken", err: credentials.ErrEmailTaken, status: http.StatusConflict, code: CodeEmailTaken},
		{name: "user not found", err: credentials.ErrUserNotFound, status: http.StatusNotFound, code: CodeNotFound},
		{name: "rate limited", err: ErrRateLimited, status: http.StatusTooManyRequests, code: CodeRateLimited},
		{name: "unknown", err: errors.New("disk on fire"), status: http.StatusInternalServerError, code: CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Classify(tt.err)
			assert.Equal(t, tt.status, p.Status)
			assert.Equal(t, tt.code, p.Code)
			assert.NotEmpty(t, p.Message)
		})
	}
}

func TestClassify_RevokedAndExpiredAreIndistinguishable(t *testing.T) {
	p := Classify(ledger.ErrRevokedOrExpired)
	assert.NotContains(t, p.Message, "revoked only")
	assert.Equal(t, "refresh token revoked or expired", p.Message)
}

func TestWrite_InternalErrorHidesDetails(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	w := httptest.NewRecorder()

	Write(w, req, logger, errors.New("pq: password authentication failed for user admin"))

	resp := w.Result()
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body api.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Internal Server Error", body.Error)
	assert.Equal(t, CodeInternal, body.Code)
	assert.NotContains(t, body.Message, "password")
}

func TestWrite_ValidationMessage(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", nil)
	w := httptest.NewRecorder()

	Write(w, req, logger, fmt.Errorf("%w: password must be at least 8 characters long", validation.ErrWeakPassword))

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body api.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, CodeWeakPassword, body.Code)
	assert.Contains(t, body.Message, "at least 8 characters")
}
