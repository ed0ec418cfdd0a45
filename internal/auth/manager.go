// Package auth implements the gateway's Token Manager: constant-time
// bearer-key authentication for inbound requests, and a per-provider OAuth2
// client-credentials token cache for outbound AI Core calls.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/acrgw/aicore-gateway/internal/tenant"
)

// Skew is subtracted from a token's reported expiry so refreshes happen
// before the upstream UAA server would actually reject the token.
const Skew = 30 * time.Second

// Manager authenticates inbound requests against a static API-key set and
// maintains one cached access token per configured provider, coalescing
// concurrent refreshes for the same provider via singleflight.
type Manager struct {
	apiKeyHashes [][32]byte

	mu    sync.RWMutex
	cache map[string]tenant.AccessToken

	sf singleflight.Group

	exchangers map[string]exchanger
	now        func() time.Time
}

// exchanger performs the OAuth2 client-credentials exchange for one
// provider. Satisfied by *clientcredentials.Config in production and by a
// stub in tests.
type exchanger interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// New builds a Manager for the given API keys and providers. Token URLs are
// expected to already be normalized (see config.normalizeTokenURL).
func New(apiKeys []string, providers []tenant.Provider) *Manager {
	m := &Manager{
		cache:      make(map[string]tenant.AccessToken),
		exchangers: make(map[string]exchanger),
		now:        time.Now,
	}
	for _, k := range apiKeys {
		m.apiKeyHashes = append(m.apiKeyHashes, sha256.Sum256([]byte(k)))
	}
	for _, p := range providers {
		m.exchangers[p.Name] = &clientcredentials.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			TokenURL:     p.TokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		}
	}
	return m
}

// Authenticate reports whether bearer matches one of the configured API
// keys. Keys are compared by fixed-length digest rather than raw bytes so
// every comparison runs in constant time regardless of the candidate
// key's own length, and every configured key is checked so the position
// of a match never shows up in timing.
func (m *Manager) Authenticate(bearer []byte) bool {
	digest := sha256.Sum256(bearer)
	var match int
	for _, h := range m.apiKeyHashes {
		match |= subtle.ConstantTimeCompare(h[:], digest[:])
	}
	return match == 1
}

// AccessToken returns a live bearer token for provider, refreshing it if
// the cached entry is missing or within Skew of expiry. Concurrent callers
// for the same provider share one in-flight refresh via singleflight, so a
// burst of requests against an expired token triggers exactly one UAA call.
func (m *Manager) AccessToken(ctx context.Context, provider string) (string, error) {
	if tok, ok := m.cached(provider); ok {
		return tok.Value, nil
	}

	v, err, _ := m.sf.Do(provider, func() (any, error) {
		if tok, ok := m.cached(provider); ok {
			return tok.Value, nil
		}

		ex, ok := m.exchangers[provider]
		if !ok {
			return "", fmt.Errorf("auth: unknown provider %q", provider)
		}

		raw, err := ex.Token(ctx)
		if err != nil {
			return "", fmt.Errorf("auth: token exchange for provider %q: %w", provider, err)
		}

		tok := tenant.AccessToken{Value: raw.AccessToken, ExpiresAt: raw.Expiry.Add(-Skew)}
		m.mu.Lock()
		m.cache[provider] = tok
		m.mu.Unlock()

		return tok.Value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token for provider, forcing the next
// AccessToken call to refresh.
func (m *Manager) Invalidate(provider string) {
	m.mu.Lock()
	delete(m.cache, provider)
	m.mu.Unlock()
}

func (m *Manager) cached(provider string) (tenant.AccessToken, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.cache[provider]
	if !ok || tok.Expired(m.now()) {
		return tenant.AccessToken{}, false
	}
	return tok, true
}
