package store

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/desertthunder/spotauth/internal/shared"
)

// Open builds the backend named by cfg.Session.Store. The returned closer releases connections and is never nil.
func Open(ctx context.Context, cfg *shared.Config) (Backend, io.Closer, error) {
	scope := cfg.Session.Scope
	if scope == "" {
		scope = "default"
	}

	switch strings.ToLower(cfg.Session.Store) {
	case "", "sqlite":
		b, err := OpenSQLite(cfg.Database, scope)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	case "redis":
		b, err := OpenRedis(ctx, cfg.Redis, scope)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	case "keyring":
		b, err := OpenKeyring(cfg.Keyring, scope)
		if err != nil {
			return nil, nil, err
		}
		return b, nopCloser{}, nil
	case "memory":
		return NewMemoryBackend(), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown store %q", shared.ErrInvalidConfig, cfg.Session.Store)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
