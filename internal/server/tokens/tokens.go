// Package tokens issues and verifies access tokens and generates opaque refresh secrets.
package tokens

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenTTL is the fixed lifetime of an access token.
const AccessTokenTTL = time.Hour

// RefreshSecretSize is the number of random bytes in a refresh secret (256 bits).
const RefreshSecretSize = 32

var (
	// ErrMissingSigningKey is returned when the issuer is built without a secret.
	ErrMissingSigningKey = errors.New("jwt signing key is not configured")

	// ErrMissingToken indicates that the request carries no access token.
	ErrMissingToken = errors.New("missing access token")

	// ErrMalformedToken covers every decode and signature failure.
	ErrMalformedToken = errors.New("malformed access token")

	// ErrTokenExpired indicates that now >= exp.
	ErrTokenExpired = errors.New("access token expired")
)

// Claims represents access token claims
type Claims struct {
	UserID string `json:"user_id"` // копия sub для клиентов, при проверке не читается
	jwt.RegisteredClaims
}

// Verifier validates access tokens and returns the caller's user id
type Verifier interface {
	VerifyAccessToken(token string) (string, error)
}

// Issuer provides access token generation and validation
type Issuer struct {
	now    func() time.Time
	secret []byte
}

// Option configures Issuer
type Option func(*Issuer)

// WithClock overrides the time source (used in tests)
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// NewIssuer creates a new token issuer.
// secret must be non-empty: a server without a signing key must not start.
func NewIssuer(secret []byte, opts ...Option) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSigningKey
	}

	i := &Issuer{
		secret: append([]byte(nil), secret...),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}

	return i, nil
}

// IssueAccessToken creates a new HS256 access token for userID.
// Returns the token and its lifetime in seconds.
func (i *Issuer) IssueAccessToken(userID string) (string, int64, error) {
	if userID == "" {
		return "", 0, fmt.Errorf("user id cannot be empty")
	}

	now := i.now()

	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(i.secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, int64(AccessTokenTTL.Seconds()), nil
}

// VerifyAccessToken validates the signature and expiry of token and returns its subject.
// Expiry is the only claim checked: a token is rejected as soon as now >= exp.
func (i *Issuer) VerifyAccessToken(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrMissingToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Проверяем что используется правильный алгоритм подписи
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if !token.Valid || claims.Subject == "" || claims.ExpiresAt == nil {
		return "", ErrMalformedToken
	}

	if !i.now().Before(claims.ExpiresAt.Time) {
		return "", ErrTokenExpired
	}

	return claims.Subject, nil
}

// IssueRefreshSecret creates a new random refresh secret.
// The secret carries no claims: it is 32 random bytes, base64 URL encoded.
func (i *Issuer) IssueRefreshSecret() (string, error) {
	return NewRefreshSecret()
}

// RandomSecrets generates refresh secrets without a signing key (operator tooling)
type RandomSecrets struct{}

// IssueRefreshSecret implements ledger.SecretSource
func (RandomSecrets) IssueRefreshSecret() (string, error) {
	return NewRefreshSecret()
}

// NewRefreshSecret returns RefreshSecretSize random bytes, base64 URL encoded
func NewRefreshSecret() (string, error) {
	// Генерируем случайные 32 байта
	tokenBytes := make([]byte, RefreshSecretSize)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}

	// Кодируем в base64
	return base64.URLEncoding.EncodeToString(tokenBytes), nil
}
