package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/desertthunder/spotauth/internal/shared"
	"github.com/desertthunder/spotauth/internal/store"
	"github.com/urfave/cli/v3"
)

// resetter is implemented by backends that can wipe every scope at once.
type resetter interface {
	Reset() error
}

// Setup writes config.toml from the embedded template when missing and initializes the
// configured credential store (running migrations for sqlite). With --reset the store is emptied.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	configPath := r.configPath
	if configPath == "" {
		configPath = "config.toml"
	}

	if _, err := os.Stat(configPath); err != nil {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			return err
		}
		r.logger.Info("config file created", "path", configPath)

		config, err := shared.ResolveConfig(configPath)
		if err != nil {
			return err
		}
		if r.config != nil && r.config.Session.Store != "" {
			config.Session.Store = r.config.Session.Store
		}
		r.config = config
	}

	r.logger.Info("initializing credential store", "store", r.config.Session.Store)

	backend, closer := r.backend, io.Closer(closerFunc(func() error { return nil }))
	if backend == nil {
		var err error
		if backend, closer, err = store.Open(ctx, r.config); err != nil {
			return fmt.Errorf("failed to initialize credential store: %w", err)
		}
	}
	defer closer.Close()

	if cmd.Bool("reset") {
		if err := resetStore(ctx, backend, r); err != nil {
			return fmt.Errorf("failed to reset credential store: %w", err)
		}
		r.writePlain("✓ Credential store reset: %s\n", r.config.Session.Store)
	}

	r.writePlain("✓ Config file: %s\n", configPath)
	r.writePlain("✓ Credential store ready: %s\n", r.config.Session.Store)
	if !r.config.Credentials.Spotify.Configured() {
		r.writePlainln("Next steps:")
		r.writePlain("1. Set credentials.spotify.client_id and client_secret in %s\n", configPath)
		r.writePlain("2. Run 'spotauth login'\n")
	}

	return nil
}

// resetStore wipes sqlite through its migrations; other backends only lose this scope's credential.
func resetStore(ctx context.Context, backend store.Backend, r *Runner) error {
	if rs, ok := backend.(resetter); ok {
		r.logger.Info("resetting credential store schema", "store", r.config.Session.Store)
		return rs.Reset()
	}
	return store.NewCredentialStore(backend, nil, r.logger).Clear(ctx)
}
