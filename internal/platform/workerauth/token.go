// Package workerauth signs and verifies the bearer tokens exchanged between
// the api process and distributed workers.
package workerauth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Audience is the only audience a worker accepts.
const Audience = "abp-worker"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid worker token")
)

type claims struct {
	jwt.RegisteredClaims
	Node string `json:"node,omitempty"`
}

// Issuer mints short-lived tokens for a coordinator.
type Issuer struct {
	Secret []byte
	Node   string
	TTL    time.Duration
	Now    func() time.Time
}

func (i Issuer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

// Token returns a signed HS256 token.
func (i Issuer) Token() (string, error) {
	if len(i.Secret) == 0 {
		return "", nil
	}
	ttl := i.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	now := i.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "abp-api",
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Node: i.Node,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.Secret)
	if err != nil {
		return "", fmt.Errorf("sign worker token: %w", err)
	}
	return signed, nil
}

// Header returns the Authorization header for a dial, or nil without a secret.
func (i Issuer) Header() (http.Header, error) {
	token, err := i.Token()
	if err != nil || token == "" {
		return nil, err
	}
	return http.Header{"Authorization": []string{"Bearer " + token}}, nil
}

// Verify checks a token signed with secret and returns the caller's node name.
func Verify(secret []byte, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	var parsed claims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return parsed.Node, nil
}

// FromRequest extracts the bearer token from r.
func FromRequest(r *http.Request) string {
	raw := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(raw, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
