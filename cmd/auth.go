package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/spotauth/internal/session"
	"github.com/desertthunder/spotauth/internal/shared"
	"github.com/urfave/cli/v3"
)

const loginTimeout = 2 * time.Minute

// Serve runs the controller and the callback/message endpoint, logging every state change until
// the process is interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	return r.withSession(ctx, listenHTTP, func(ctx context.Context, st *stack) error {
		updates, unsubscribe := st.controller.Subscribe()
		defer unsubscribe()

		for {
			select {
			case <-ctx.Done():
				r.logger.Info("shutting down")
				return nil
			case state, ok := <-updates:
				if !ok {
					return nil
				}
				r.logState(state)
			}
		}
	})
}

// Login clears any stored session, opens the Spotify consent page and waits for the callback to
// deliver a token or an error.
func (r *Runner) Login(ctx context.Context, cmd *cli.Command) error {
	if !r.config.Credentials.Spotify.Configured() {
		return fmt.Errorf("%w: Spotify client_id and client_secret must be set in %s or the environment",
			shared.ErrMissingCredentials, r.configPath)
	}

	timeout := cmd.Duration("timeout")
	if timeout <= 0 {
		timeout = loginTimeout
	}

	return r.withSession(ctx, listenHTTP, func(ctx context.Context, st *stack) error {
		r.writePlain("→ Opening browser for Spotify authorization...\n")
		if err := st.controller.Login(ctx); err != nil {
			return fmt.Errorf("failed to start authorization: %w", err)
		}

		updates, unsubscribe := st.controller.Subscribe()
		defer unsubscribe()

		r.writePlain("→ Waiting for authorization (%v timeout)...\n", timeout)
		state, err := awaitLogin(ctx, updates, timeout)
		if err != nil {
			return err
		}

		r.logState(state)
		r.writePlainln("✓ Authorization successful")
		r.writePlain("You can now use: spotauth me\n")
		return nil
	})
}

// awaitLogin returns the first authenticated state, or an error for a failed or abandoned flow.
func awaitLogin(ctx context.Context, updates <-chan session.State, timeout time.Duration) (session.State, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case state, ok := <-updates:
			if !ok {
				return session.State{}, session.ErrStopped
			}
			if state.Error != "" {
				return state, fmt.Errorf("%w: %s", shared.ErrAuthFailed, state.Error)
			}
			if state.IsAuthenticated {
				return state, nil
			}
		case <-timer.C:
			return session.State{}, fmt.Errorf("%w: authorization timed out after %v", shared.ErrTimeout, timeout)
		case <-ctx.Done():
			return session.State{}, ctx.Err()
		}
	}
}

// Logout removes the stored credential.
func (r *Runner) Logout(ctx context.Context, cmd *cli.Command) error {
	return r.withSession(ctx, 0, func(ctx context.Context, st *stack) error {
		if err := st.controller.Logout(ctx); err != nil {
			return fmt.Errorf("failed to clear session: %w", err)
		}
		r.writePlain("✓ Signed out\n")
		return nil
	})
}

// Status restores the stored session, validates it against the API and prints the result.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	useJSON := cmd.Bool("json")
	pretty := cmd.Bool("pretty")

	return r.withSession(ctx, 0, func(ctx context.Context, st *stack) error {
		state := st.controller.State()
		if useJSON {
			return r.writeJSON(state, pretty)
		}

		r.writePlainHeader("Spotify session")
		r.writePlain("Status:  %s\n", state.Phase())
		r.writePlain("Store:   %s\n", r.config.Session.Store)
		if token := st.slot.Current(); token != "" {
			r.writePlain("Token:   %s\n", shared.MaskToken(token))
		}
		if state.Error != "" {
			r.writePlain("Error:   %s\n", state.Error)
		}
		return nil
	})
}

func (r *Runner) logState(state session.State) {
	if state.Error != "" {
		r.logger.Warn("session changed", "status", state.Phase(), "error", state.Error)
		return
	}
	r.logger.Info("session changed", "status", state.Phase())
}
