package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/spotauth/internal/metrics"
	"github.com/desertthunder/spotauth/internal/services"
	"github.com/desertthunder/spotauth/internal/shared"
	"github.com/desertthunder/spotauth/internal/store"
)

// Human-readable failures surfaced through State.Error.
const (
	ErrMsgStoreToken     = "Failed to store authentication token"
	ErrMsgRestoreSession = "Failed to restore previous session"
	ErrMsgAuthorization  = "Authorization failed"
)

var ErrStopped = errors.New("session controller stopped")

// Authorizer opens the external authorization surface. The resulting credential arrives later
// through the [Inbox], never as a return value.
type Authorizer interface {
	Authorize(ctx context.Context) error
}

// Options wires a [Controller] to its collaborators. Store, Slot and Validator are required.
type Options struct {
	Store      *store.CredentialStore
	Slot       *services.TokenSlot
	Validator  *Validator
	Authorizer Authorizer
	Inbox      Inbox
	Logger     *log.Logger
	Clock      func() time.Time
	// MailboxSize bounds queued events. Zero means 16.
	MailboxSize int
}

type clearRequest struct{ reply chan error }

type syncRequest struct{ done chan struct{} }

// unauthorizedEvent reports a 401 for token.
type unauthorizedEvent struct{ token string }

// verdictEvent carries the startup probe result back into the loop. generation is the slot
// generation the probe started under.
type verdictEvent struct {
	token      string
	generation uint64
	verdict Verdict
	failed  bool
}

// Controller is the single writer of the session. See the package documentation.
type Controller struct {
	store      *store.CredentialStore
	slot       *services.TokenSlot
	validator  *Validator
	authorizer Authorizer
	inbox      Inbox
	logger     *log.Logger
	now        func() time.Time

	// generation counts slot writes. Only the Run goroutine touches it.
	generation uint64

	mailbox chan any
	done    chan struct{}
	running atomic.Bool

	mu     sync.RWMutex
	state  State
	subs   map[int]chan State
	nextID int

	ready     chan struct{}
	readyOnce sync.Once
}

// NewController builds a controller in the Initializing state and hooks it to the validator's
// rejection callback.
func NewController(opts Options) (*Controller, error) {
	if opts.Store == nil || opts.Slot == nil || opts.Validator == nil {
		return nil, fmt.Errorf("%w: store, slot and validator are required", shared.ErrInvalidArgument)
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = 16
	}

	c := &Controller{
		store:      opts.Store,
		slot:       opts.Slot,
		validator:  opts.Validator,
		authorizer: opts.Authorizer,
		inbox:      opts.Inbox,
		logger:     opts.Logger,
		now:        opts.Clock,
		mailbox:    make(chan any, opts.MailboxSize),
		done:       make(chan struct{}),
		state:      State{IsLoading: true},
		subs:       map[int]chan State{},
		ready:      make(chan struct{}),
	}
	c.validator.OnRejected(c.Unauthorized)
	return c, nil
}

// Run performs startup and then processes events in arrival order until ctx is cancelled.
// It may be called once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("session controller already running")
	}
	defer close(c.done)

	var messages <-chan []byte
	if c.inbox != nil {
		messages = c.inbox.Messages()
	}

	c.startup(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("session controller stopping", "reason", ctx.Err())
			return ctx.Err()
		case ev := <-c.mailbox:
			c.handle(ctx, ev)
		case raw := <-messages:
			c.handleMessage(ctx, raw)
		}
	}
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Subscribe returns a channel that always holds the most recent state. The current state is
// delivered immediately. Slow readers miss intermediate states but never block the controller.
func (c *Controller) Subscribe() (<-chan State, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	ch := make(chan State, 1)
	ch <- c.state
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
			close(ch)
		})
	}
}

// Ready is closed once startup has fully resolved.
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

// Login tears down any existing session, then opens the authorization surface. When the store
// cannot be cleared the surface is not opened.
func (c *Controller) Login(ctx context.Context) error {
	if err := c.teardown(ctx); err != nil {
		return err
	}
	if c.authorizer == nil {
		return fmt.Errorf("%w: no authorizer configured", shared.ErrMissingConfig)
	}
	return c.authorizer.Authorize(ctx)
}

// Logout tears down the session.
func (c *Controller) Logout(ctx context.Context) error {
	return c.teardown(ctx)
}

// Unauthorized reports that token was rejected by the Web API. It is a no-op unless token is
// still the active credential when the event is processed.
func (c *Controller) Unauthorized(token string) {
	c.post(context.Background(), unauthorizedEvent{token: token})
}

// Sync returns after every event queued before it has been processed.
func (c *Controller) Sync(ctx context.Context) error {
	req := syncRequest{done: make(chan struct{})}
	if err := c.post(ctx, req); err != nil {
		return err
	}
	select {
	case <-req.done:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) teardown(ctx context.Context) error {
	req := clearRequest{reply: make(chan error, 1)}
	if err := c.post(ctx, req); err != nil {
		return err
	}
	select {
	case err := <-req.reply:
		return err
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) post(ctx context.Context, ev any) error {
	select {
	case c.mailbox <- ev:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) handle(ctx context.Context, ev any) {
	switch ev := ev.(type) {
	case clearRequest:
		err := c.clearSession(ctx)
		next := c.State()
		next.IsAuthenticated = false
		next.Error = ""
		c.setState(next)
		ev.reply <- err
	case unauthorizedEvent:
		c.handleUnauthorized(ctx, ev)
	case verdictEvent:
		c.handleVerdict(ctx, ev)
	case syncRequest:
		close(ev.done)
	default:
		c.logger.Warn("unknown session event", "type", fmt.Sprintf("%T", ev))
	}
}

// startup restores the stored credential. When a probe is needed it runs on its own goroutine and
// the state stays loading until its verdict is handled.
func (c *Controller) startup(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("session restore panicked", "panic", r)
			c.clearSession(ctx)
			c.setState(State{Error: ErrMsgRestoreSession})
		}
	}()

	cred, ok, err := c.store.Load(ctx)
	switch {
	case errors.Is(err, store.ErrCorruptCredential):
		c.logger.Warn("stored credential is unreadable", "err", err)
		c.clearSession(ctx)
		c.setState(State{Error: ErrMsgRestoreSession})
		return
	case err != nil:
		c.logger.Warn("could not read stored credential", "err", err)
	}

	if !ok {
		c.logger.Debug("no stored credential")
		c.setState(State{})
		return
	}

	if cred.Expired(c.now()) {
		c.logger.Info("stored credential expired", "expired_at", cred.ExpiresAt)
		c.clearSession(ctx)
		c.setState(State{})
		return
	}

	c.setToken(cred.Token)
	c.logger.Debug("validating stored credential", "token", shared.MaskToken(cred.Token), "expires_at", cred.ExpiresAt)

	go c.probe(ctx, cred.Token, c.generation)
}

func (c *Controller) probe(ctx context.Context, token string, generation uint64) {
	ev := verdictEvent{token: token, generation: generation}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("session validation panicked", "panic", r)
			ev.failed = true
		}
		c.post(ctx, ev)
	}()
	ev.verdict = c.validator.probe(ctx, token)
}

func (c *Controller) handleVerdict(ctx context.Context, ev verdictEvent) {
	next := c.State()
	next.IsLoading = false

	switch {
	case ev.generation != c.generation:
		// The slot was written since the probe started, even if with the same token.
		c.logger.Debug("dropping stale verdict", "verdict", ev.verdict, "token", shared.MaskToken(ev.token))
	case ev.failed:
		c.clearSession(ctx)
		next = State{Error: ErrMsgRestoreSession}
	case ev.verdict == Accepted:
		next.IsAuthenticated = true
		next.Error = ""
	case ev.verdict == Unauthorized:
		c.clearSession(ctx)
		next.IsAuthenticated = false
		next.Error = ""
	default:
		// Store and slot keep the credential so a later start can retry.
		next.IsAuthenticated = false
	}

	c.setState(next)
}

func (c *Controller) handleUnauthorized(ctx context.Context, ev unauthorizedEvent) {
	if ev.token == "" || ev.token != c.slot.Current() {
		return
	}
	c.logger.Info("credential rejected, clearing session", "token", shared.MaskToken(ev.token))
	c.clearSession(ctx)

	next := c.State()
	next.IsAuthenticated = false
	next.Error = ""
	c.setState(next)
}

func (c *Controller) handleMessage(ctx context.Context, raw []byte) {
	msg, ok := DecodeMessage(raw)
	if !ok {
		c.logger.Debug("ignoring message", "bytes", len(raw))
		return
	}
	metrics.CompletionMessages.WithLabelValues(string(msg.Kind)).Inc()

	next := c.State()
	switch msg.Kind {
	case KindToken:
		if err := c.store.Save(ctx, msg.Token, store.DefaultTTL); err != nil {
			c.logger.Error("could not store credential", "err", err)
			next.Error = ErrMsgStoreToken
			break
		}
		c.setToken(msg.Token)
		next.IsAuthenticated = true
		next.Error = ""
		c.logger.Info("authenticated", "token", shared.MaskToken(msg.Token))
	case KindError:
		c.logger.Warn("authorization failed", "error", msg.Error)
		next.Error = msg.Error
		if next.Error == "" {
			next.Error = ErrMsgAuthorization
		}
	}
	c.setState(next)
}

// clearSession empties the store and the slot. The slot is emptied even when the store fails.
func (c *Controller) clearSession(ctx context.Context) error {
	c.setToken("")
	if err := c.store.Clear(ctx); err != nil {
		c.logger.Error("could not clear stored credential", "err", err)
		return err
	}
	return nil
}

func (c *Controller) setToken(token string) {
	c.slot.Set(token)
	c.generation++
}

func (c *Controller) setState(next State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !next.IsLoading {
		c.readyOnce.Do(func() { close(c.ready) })
	}
	if next == c.state {
		return
	}

	prev := c.state
	c.state = next
	metrics.SessionTransitions.WithLabelValues(next.Phase().String()).Inc()
	c.logger.Debug("session state changed", "from", prev.Phase(), "to", next.Phase(), "loading", next.IsLoading, "error", next.Error)

	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
}
