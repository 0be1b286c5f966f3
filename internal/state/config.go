package state

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Riboost-Studio/printer-bridge/internal/model"
)

// ConfigStore coordinates concurrent access to the agent configuration.
type ConfigStore struct {
	mu  sync.RWMutex
	cfg model.Config
}

func NewConfigStore(cfg model.Config) *ConfigStore {
	return &ConfigStore{cfg: cfg}
}

// Get returns a copy of the current configuration.
func (s *ConfigStore) Get() model.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *ConfigStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.APIToken
}

// SetToken stores a refreshed API token. A JWT issued before the current
// one is rejected so a slow refresh cannot overwrite a newer token; opaque
// tokens are last-writer-wins. Reports whether the token was applied.
func (s *ConfigStore) SetToken(token string) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !newerToken(token, s.cfg.APIToken) {
		return false
	}
	s.cfg.APIToken = token
	return true
}

// Reload replaces the configuration with one read from disk. The runtime
// token survives unless the file carries a token at least as new.
func (s *ConfigStore) Reload(cfg model.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.cfg.APIToken
	if cfg.APIToken == "" || !newerToken(cfg.APIToken, current) {
		cfg.APIToken = current
	}
	s.cfg = cfg
}

func newerToken(candidate, current string) bool {
	if candidate == current {
		return false
	}
	if current == "" {
		return true
	}
	next, okNext := issuedAt(candidate)
	prev, okPrev := issuedAt(current)
	if okNext && okPrev {
		return !next.Before(prev)
	}
	return true
}

// TokenExpired reports whether token is a JWT whose exp claim lies before
// now. Opaque tokens never expire locally; the API answers 401 instead.
func TokenExpired(token string, now time.Time) bool {
	claims, ok := parseClaims(token)
	if !ok {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.After(now)
}

func issuedAt(token string) (time.Time, bool) {
	claims, ok := parseClaims(token)
	if !ok {
		return time.Time{}, false
	}
	iat, err := claims.GetIssuedAt()
	if err != nil || iat == nil {
		return time.Time{}, false
	}
	return iat.Time, true
}

// parseClaims reads the claims without verifying the signature; the agent
// does not hold the signing key and only uses them for ordering and expiry.
func parseClaims(token string) (jwt.MapClaims, bool) {
	if token == "" {
		return nil, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return claims, true
}
