package zoom

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenLifetime is the validity window of a minted bearer token.
const tokenLifetime = 5 * time.Minute

// reissueMargin forces a fresh token when less than this much lifetime remains.
const reissueMargin = time.Second

// TokenSource mints short-lived HS256 bearer tokens for the Zoom API and for
// authenticated media downloads. Reissuance happens under the lock.
type TokenSource struct {
	key    string
	secret string

	mu     sync.Mutex
	cached string
	expiry time.Time
	now    func() time.Time
}

// NewTokenSource builds a source from the configured API key/secret pair.
func NewTokenSource(key, secret string) *TokenSource {
	return &TokenSource{key: key, secret: secret, now: time.Now}
}

// Token returns a bearer token with at least reissueMargin of lifetime left.
func (t *TokenSource) Token() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.cached != "" && now.Add(reissueMargin).Before(t.expiry) {
		return t.cached, nil
	}

	expiry := now.Add(tokenLifetime)
	claims := jwt.MapClaims{
		"iss": t.key,
		"exp": expiry.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(t.secret))
	if err != nil {
		return "", fmt.Errorf("zoom: sign token: %w", err)
	}
	t.cached = signed
	t.expiry = expiry
	return signed, nil
}
