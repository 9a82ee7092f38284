package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

// secretStore holds the token served in the page. It can be swapped at any
// time; readers always see a complete value.
type secretStore struct {
	current atomic.Pointer[string]
	path    string
	clock   clockwork.Clock
	log     *slog.Logger
}

// newSecretStore starts with literal, or with the contents of path when path
// is set.
func newSecretStore(literal, path string, clock clockwork.Clock, logger *slog.Logger) (*secretStore, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &secretStore{path: path, clock: clock, log: logger}
	if path != "" {
		if err := s.Reload(); err != nil {
			return nil, err
		}
		return s, nil
	}
	s.Set(literal)
	return s, nil
}

func (s *secretStore) Secret() string {
	if p := s.current.Load(); p != nil {
		return *p
	}
	return ""
}

// Set replaces the token and logs anything suspicious about it.
func (s *secretStore) Set(secret string) {
	s.current.Store(&secret)

	info, err := inspectSecret(secret, s.clock.Now())
	switch {
	case secret == "":
		s.log.Warn("secret_empty", "message", "no token configured; the page will load without one")
	case err != nil:
		s.log.Warn("secret_not_jwt", "error", err)
	case info.expired:
		s.log.Warn("secret_expired", "subject", info.subject, "expired_at", info.expiresAt)
	default:
		s.log.Info("secret_loaded", "subject", info.subject, "expires_at", info.expiresAt)
	}
}

// Reload re-reads the token file. Without a file there is nothing to do.
func (s *secretStore) Reload() error {
	if s.path == "" {
		return nil
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read secret file: %w", err)
	}
	s.Set(strings.TrimSpace(string(b)))
	return nil
}

type secretInfo struct {
	subject   string
	expiresAt time.Time
	expired   bool
}

// inspectSecret decodes the token's claims without verifying its signature;
// this process never holds the signing key.
func inspectSecret(secret string, now time.Time) (secretInfo, error) {
	var info secretInfo
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(secret, claims); err != nil {
		return info, fmt.Errorf("token is not a JWT: %w", err)
	}
	info.subject = claims.Subject
	if claims.ExpiresAt != nil {
		info.expiresAt = claims.ExpiresAt.Time
		info.expired = !now.Before(info.expiresAt)
	}
	return info, nil
}
