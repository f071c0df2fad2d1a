package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotauth/internal/metrics"
	"github.com/desertthunder/spotauth/internal/shared"
)

// Persisted key names.
const (
	KeyAccessToken = "spotify_access_token"
	KeyTokenExpiry = "spotify_token_expiry"
)

const (
	// TokenLifetime is how long Spotify honours an access token.
	TokenLifetime = time.Hour
	// ExpiryBuffer is subtracted from TokenLifetime so a request never leaves with a token about to lapse.
	ExpiryBuffer = 5 * time.Minute
	// DefaultTTL is the lifetime recorded for newly received tokens.
	DefaultTTL = TokenLifetime - ExpiryBuffer
)

// ErrCorruptCredential is returned by Load when the stored expiry cannot be parsed.
var ErrCorruptCredential = errors.New("stored credential is corrupt")

// Credential is a bearer token and the instant it should be treated as expired.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether now is at or past ExpiresAt.
func (c Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Backend is origin-scoped key/value persistence.
type Backend interface {
	// Get returns the values present for keys; missing keys are simply absent from the map.
	Get(ctx context.Context, keys ...string) (map[string]string, error)
	// Put writes all values, as a unit where the backend allows it.
	Put(ctx context.Context, values map[string]string) error
	// Delete removes keys; missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// CredentialStore saves, loads, and clears the [Credential] in a [Backend].
type CredentialStore struct {
	backend Backend
	now     func() time.Time
	logger  *log.Logger
}

// NewCredentialStore wraps backend. A nil clock uses [time.Now]; a nil logger discards.
func NewCredentialStore(backend Backend, now func() time.Time, logger *log.Logger) *CredentialStore {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &CredentialStore{backend: backend, now: now, logger: logger}
}

// Save records token as expiring ttl from now, overwriting any previous credential.
func (s *CredentialStore) Save(ctx context.Context, token string, ttl time.Duration) error {
	expiresAt := s.now().Add(ttl)
	values := map[string]string{
		KeyAccessToken: token,
		KeyTokenExpiry: strconv.FormatInt(expiresAt.UnixMilli(), 10),
	}

	if err := s.backend.Put(ctx, values); err != nil {
		metrics.StoreErrors.WithLabelValues("save").Inc()
		s.logger.Error("failed to save credential", "error", err)
		return fmt.Errorf("%w: %v", shared.ErrStorage, err)
	}

	s.logger.Debug("credential saved", "token", shared.MaskToken(token), "expires_at", expiresAt)
	return nil
}

// Load returns the stored credential. ok is false when nothing usable is stored; err explains
// a read failure or corrupt data and is never accompanied by ok.
func (s *CredentialStore) Load(ctx context.Context) (cred Credential, ok bool, err error) {
	values, err := s.backend.Get(ctx, KeyAccessToken, KeyTokenExpiry)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("load").Inc()
		s.logger.Error("failed to load credential", "error", err)
		return Credential{}, false, fmt.Errorf("%w: %v", shared.ErrStorage, err)
	}

	token, expiry := values[KeyAccessToken], values[KeyTokenExpiry]
	if token == "" || expiry == "" {
		return Credential{}, false, nil
	}

	ms, err := strconv.ParseInt(expiry, 10, 64)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("load").Inc()
		s.logger.Error("stored expiry is not a timestamp", "value", expiry)
		return Credential{}, false, fmt.Errorf("%w: expiry %q", ErrCorruptCredential, expiry)
	}

	return Credential{Token: token, ExpiresAt: time.UnixMilli(ms)}, true, nil
}

// Clear removes the credential. Clearing an empty store succeeds.
func (s *CredentialStore) Clear(ctx context.Context) error {
	if err := s.backend.Delete(ctx, KeyAccessToken, KeyTokenExpiry); err != nil {
		metrics.StoreErrors.WithLabelValues("clear").Inc()
		s.logger.Error("failed to clear credential", "error", err)
		return fmt.Errorf("%w: %v", shared.ErrStorage, err)
	}
	return nil
}
