package tokens

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key")

// fixedClock returns a clock and a setter for it
func fixedClock(start time.Time) (func() time.Time, func(time.Time)) {
	current := start
	return func() time.Time { return current }, func(t time.Time) { current = t }
}

func TestNewIssuer_MissingSecret(t *testing.T) {
	issuer, err := NewIssuer(nil)
	assert.Nil(t, issuer)
	assert.ErrorIs(t, err, ErrMissingSigningKey)

	issuer, err = NewIssuer([]byte{})
	assert.Nil(t, issuer)
	assert.ErrorIs(t, err, ErrMissingSigningKey)
}

func TestIssuer_RoundTrip(t *testing.T) {
	issuer, err := NewIssuer(testSecret)
	require.NoError(t, err)

	for _, userID := range []string{"user123", "7f1c2d6e-2c59-4b1e-9d0a-3b7a9f0e1c55", "42"} {
		t.Run(userID, func(t *testing.T) {
			token, expiresIn, err := issuer.IssueAccessToken(userID)
			require.NoError(t, err)
			assert.Equal(t, int64(3600), expiresIn)

			got, err := issuer.VerifyAccessToken(token)
			require.NoError(t, err)
			assert.Equal(t, userID, got)
		})
	}
}

func TestIssuer_IssueAccessToken_Claims(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock, _ := fixedClock(start)
	issuer, err := NewIssuer(testSecret, WithClock(clock))
	require.NoError(t, err)

	token, _, err := issuer.IssueAccessToken("user123")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3, "compact header.claims.signature format")

	claims := &Claims{}
	_, _, err = jwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)

	assert.Equal(t, "user123", claims.Subject)
	assert.Equal(t, "user123", claims.UserID)
	assert.Equal(t, start.Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, start.Unix()+3600, claims.ExpiresAt.Unix())
}

func TestIssuer_IssueAccessToken_EmptyUser(t *testing.T) {
	issuer, err := NewIssuer(testSecret)
	require.NoError(t, err)

	_, _, err = issuer.IssueAccessToken("")
	assert.Error(t, err)
}

func TestIssuer_VerifyAccessToken_ExpiryBoundary(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock, set := fixedClock(start)
	issuer, err := NewIssuer(testSecret, WithClock(clock))
	require.NoError(t, err)

	token, _, err := issuer.IssueAccessToken("user123")
	require.NoError(t, err)

	tests := []struct {
		now     time.Time
		wantErr error
		name    string
	}{
		{name: "just issued", now: start},
		{name: "one nanosecond before exp", now: start.Add(time.Hour - time.Nanosecond)},
		{name: "exactly at exp", now: start.Add(time.Hour), wantErr: ErrTokenExpired},
		{name: "after exp", now: start.Add(2 * time.Hour), wantErr: ErrTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set(tt.now)
			userID, err := issuer.VerifyAccessToken(token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, userID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "user123", userID)
		})
	}
}

func TestIssuer_VerifyAccessToken_Malformed(t *testing.T) {
	issuer, err := NewIssuer(testSecret)
	require.NoError(t, err)

	valid, _, err := issuer.IssueAccessToken("user123")
	require.NoError(t, err)

	other, err := NewIssuer([]byte("another-secret"))
	require.NoError(t, err)
	foreign, _, err := other.IssueAccessToken("user123")
	require.NoError(t, err)

	parts := strings.Split(valid, ".")
	forgedClaims := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"admin","user_id":"admin","iat":1,"exp":99999999999}`))
	tampered := parts[0] + "." + forgedClaims + "." + parts[2]

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	noneToken, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	noSubjectToken, err := noSubject.SignedString(testSecret)
	require.NoError(t, err)

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user123"},
	})
	noExpiryToken, err := noExpiry.SignedString(testSecret)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "two segments", token: "abc.def"},
		{name: "signed with another key", token: foreign},
		{name: "tampered claims", token: tampered},
		{name: "alg none", token: noneToken},
		{name: "missing subject", token: noSubjectToken},
		{name: "missing exp", token: noExpiryToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID, err := issuer.VerifyAccessToken(tt.token)
			assert.ErrorIs(t, err, ErrMalformedToken)
			assert.NotErrorIs(t, err, ErrTokenExpired)
			assert.Empty(t, userID)
		})
	}
}

func TestIssuer_VerifyAccessToken_SubjectIsAuthoritative(t *testing.T) {
	issuer, err := NewIssuer(testSecret)
	require.NoError(t, err)

	// user_id справочное поле, идентичность берется только из sub
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: "someone-else",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	tokenString, err := token.SignedString(testSecret)
	require.NoError(t, err)

	userID, err := issuer.VerifyAccessToken(tokenString)
	require.NoError(t, err)
	assert.Equal(t, "user123", userID)
}

func TestIssuer_VerifyAccessToken_Empty(t *testing.T) {
	issuer, err := NewIssuer(testSecret)
	require.NoError(t, err)

	_, err = issuer.VerifyAccessToken("")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestIssuer_IssueRefreshSecret(t *testing.T) {
	issuer, err := NewIssuer(testSecret)
	require.NoError(t, err)

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		secret, err := issuer.IssueRefreshSecret()
		require.NoError(t, err)

		raw, err := base64.URLEncoding.DecodeString(secret)
		require.NoError(t, err)
		assert.Len(t, raw, RefreshSecretSize)

		_, dup := seen[secret]
		assert.False(t, dup, "refresh secrets must be unique")
		seen[secret] = struct{}{}
	}
}

func TestRandomSecrets(t *testing.T) {
	var src RandomSecrets

	first, err := src.IssueRefreshSecret()
	require.NoError(t, err)
	second, err := src.IssueRefreshSecret()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	raw, err := base64.URLEncoding.DecodeString(first)
	require.NoError(t, err)
	assert.Len(t, raw, RefreshSecretSize)
}
