package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/desertthunder/spotauth/internal/server"
	"github.com/desertthunder/spotauth/internal/services"
	"github.com/desertthunder/spotauth/internal/session"
	"github.com/desertthunder/spotauth/internal/shared"
	"github.com/desertthunder/spotauth/internal/store"
)

const shutdownTimeout = 5 * time.Second

// sessionMode tunes [Runner.withSession].
type sessionMode int

const (
	// listenHTTP serves the callback, message, state and metrics routes.
	listenHTTP sessionMode = 1 << iota
	// skipReady calls fn without waiting for startup validation.
	skipReady
)

// stack is one fully wired session: store, slot, API client, controller and HTTP routes.
type stack struct {
	closer     io.Closer
	slot       *services.TokenSlot
	spotify    *services.SpotifyService
	inbox      *session.ChannelInbox
	callback   *server.CallbackHandler
	controller *session.Controller
	router     http.Handler
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func (r *Runner) newStack(ctx context.Context) (*stack, error) {
	cfg := r.config

	backend, closer := r.backend, io.Closer(closerFunc(func() error { return nil }))
	if backend == nil {
		var err error
		if backend, closer, err = store.Open(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to open credential store: %w", err)
		}
	}

	client := *r.httpClient
	if cfg.HTTP.Timeout > 0 {
		client.Timeout = time.Duration(cfg.HTTP.Timeout) * time.Second
	}

	slot := services.NewTokenSlot()
	opts := []services.Option{
		services.WithHTTPClient(&client),
		services.WithRateLimit(cfg.HTTP.RateLimit),
		services.WithLogger(shared.WithLogger(r.logger, "component", "spotify")),
	}
	if r.apiBaseURL != "" {
		opts = append(opts, services.WithBaseURL(r.apiBaseURL))
	}
	spotify := services.NewSpotifyService(slot, opts...)

	inbox := session.NewChannelInbox(16)
	callback := server.NewCallbackHandler(server.CallbackOptions{
		Config:     services.NewOAuthConfig(cfg.Credentials.Spotify),
		Inbox:      inbox,
		Logger:     shared.WithLogger(r.logger, "component", "callback"),
		HTTPClient: &client,
		Open:       r.openURL,
		Fallback:   r.announce,
	})

	controller, err := session.NewController(session.Options{
		Store:      store.NewCredentialStore(backend, nil, shared.WithLogger(r.logger, "component", "store")),
		Slot:       slot,
		Validator:  session.NewValidator(slot, spotify, shared.WithLogger(r.logger, "component", "validator")),
		Authorizer: callback,
		Inbox:      inbox,
		Logger:     shared.WithLogger(r.logger, "component", "session"),
	})
	if err != nil {
		closer.Close()
		return nil, err
	}
	spotify.OnUnauthorized(controller.Unauthorized)

	router := server.NewRouter(server.Handlers{
		Callback: callback,
		Messages: server.NewMessageHandler(inbox, shared.WithLogger(r.logger, "component", "messages"), nil),
		State:    server.NewStateHandler(controller),
		Logger:   shared.WithLogger(r.logger, "component", "http"),
	})

	return &stack{
		closer:     closer,
		slot:       slot,
		spotify:    spotify,
		inbox:      inbox,
		callback:   callback,
		controller: controller,
		router:     router,
	}, nil
}

// withSession builds a stack, runs the controller (and the HTTP endpoint with listenHTTP), waits for
// startup to resolve unless skipReady is set, and then calls fn. Everything is torn down when fn returns.
func (r *Runner) withSession(ctx context.Context, mode sessionMode, fn func(context.Context, *stack) error) error {
	st, err := r.newStack(ctx)
	if err != nil {
		return err
	}
	defer st.closer.Close()

	ctx, cancel := context.WithCancel(ctx)
	errs := make(chan error, 2)
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		if err := st.controller.Run(ctx); err != nil && ctx.Err() == nil {
			errs <- err
		}
	}()
	defer func() {
		cancel()
		<-stopped
	}()

	if mode&listenHTTP != 0 {
		addr := r.config.Server.Addr()
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}

		srv := server.NewHTTPServer(addr, st.router)
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("server error: %w", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				r.logger.Warn("error shutting down server", "error", err)
			}
		}()

		r.logger.Infof("listening on %v", ln.Addr())
	}

	if mode&skipReady != 0 {
		return fn(ctx, st)
	}

	select {
	case <-st.controller.Ready():
	case err := <-errs:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}

	return fn(ctx, st)
}

// requireSession fails with [shared.ErrNotAuthenticated] unless the resolved state is authenticated.
func requireSession(st *stack) error {
	state := st.controller.State()
	if state.IsAuthenticated {
		return nil
	}
	if state.Error != "" {
		return fmt.Errorf("%w: %s", shared.ErrNotAuthenticated, state.Error)
	}
	return fmt.Errorf("%w: run 'spotauth login' first", shared.ErrNotAuthenticated)
}
