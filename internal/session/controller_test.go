package session

import (
	"context"
	"errors"
	"maps"
	"strconv"
	"testing"
	"time"

	"github.com/desertthunder/spotauth/internal/services"
	"github.com/desertthunder/spotauth/internal/store"
	tu "github.com/desertthunder/spotauth/internal/testing"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

type fixture struct {
	backend *tu.FailingBackend
	slot    *services.TokenSlot
	prober  *fakeProber
	auth    *tu.FakeAuthorizer
	inbox   *ChannelInbox
	ctrl    *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		backend: tu.NewFailingBackend(),
		slot:    services.NewTokenSlot(),
		auth:    &tu.FakeAuthorizer{},
		inbox:   NewChannelInbox(8),
	}
	f.prober = &fakeProber{slot: f.slot}

	ctrl, err := NewController(Options{
		Store:      store.NewCredentialStore(f.backend, func() time.Time { return fixedNow }, nil),
		Slot:       f.slot,
		Validator:  NewValidator(f.slot, f.prober, nil),
		Authorizer: f.auth,
		Inbox:      f.inbox,
		Clock:      func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	f.ctrl = ctrl
	return f
}

// seed stores a credential expiring offset from fixedNow.
func (f *fixture) seed(token string, offset time.Duration) {
	f.backend.Set(store.KeyAccessToken, token)
	f.backend.Set(store.KeyTokenExpiry, strconv.FormatInt(fixedNow.Add(offset).UnixMilli(), 10))
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- f.ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errc
	})
}

// settle waits for startup to resolve and for queued events to drain.
func (f *fixture) settle(t *testing.T) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	select {
	case <-f.ctrl.Ready():
	case <-ctx.Done():
		t.Fatalf("startup did not resolve, state %+v", f.ctrl.State())
	}
	f.sync(t)
	return f.ctrl.State()
}

func (f *fixture) sync(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.ctrl.Sync(ctx); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
}

func (f *fixture) post(t *testing.T, raw string) {
	t.Helper()
	if err := f.inbox.Post(context.Background(), []byte(raw)); err != nil {
		t.Fatalf("post failed: %v", err)
	}
}

// drain processes posted messages. Inbox and mailbox are separate queues, so a single Sync
// is not enough to guarantee a message has been handled.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(f.inbox.ch) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("inbox did not drain")
		}
		time.Sleep(time.Millisecond)
	}
	f.sync(t)
}

// explodingBackend panics on every read.
type explodingBackend struct{ *tu.FailingBackend }

func (explodingBackend) Get(context.Context, ...string) (map[string]string, error) {
	panic("backend exploded")
}

func (f *fixture) storeEmpty() bool {
	return len(f.backend.Items()) == 0
}

func TestControllerStartup(t *testing.T) {
	t.Run("empty store", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)

		got := f.settle(t)
		if got != (State{}) {
			t.Errorf("expected {false false \"\"}, got %+v", got)
		}
		if len(f.prober.calls()) != 0 {
			t.Error("probe should not run without a credential")
		}
	})

	t.Run("expired credential is cleared without probing", func(t *testing.T) {
		for _, offset := range []time.Duration{-time.Second, 0, -24 * time.Hour} {
			t.Run(offset.String(), func(t *testing.T) {
				f := newFixture(t)
				f.seed("abc", offset)
				f.start(t)

				got := f.settle(t)
				if got.IsAuthenticated || got.IsLoading {
					t.Errorf("expected unauthenticated, got %+v", got)
				}
				if !f.storeEmpty() {
					t.Errorf("expected empty store, got %v", f.backend.Items())
				}
				if f.slot.Current() != "" {
					t.Errorf("expected empty slot, got %q", f.slot.Current())
				}
				if len(f.prober.calls()) != 0 {
					t.Error("expired credential should not be probed")
				}
			})
		}
	})

	t.Run("expired credential stays cleared whatever the validator says", func(t *testing.T) {
		for _, err := range []error{nil, errUnauthorized, errNetwork} {
			f := newFixture(t)
			f.prober.err = err
			f.seed("abc", -time.Millisecond)
			f.start(t)

			if got := f.settle(t); got.IsAuthenticated || !f.storeEmpty() {
				t.Errorf("prober err %v: expected cleared session, got %+v store %v", err, got, f.backend.Items())
			}
		}
	})

	t.Run("valid credential confirmed", func(t *testing.T) {
		f := newFixture(t)
		f.seed("abc", time.Second)
		f.start(t)

		got := f.settle(t)
		if got != (State{IsAuthenticated: true}) {
			t.Errorf("expected authenticated, got %+v", got)
		}
		if f.slot.Current() != "abc" {
			t.Errorf("expected slot abc, got %q", f.slot.Current())
		}
		if seen := f.prober.calls(); len(seen) != 1 || seen[0] != "abc" {
			t.Errorf("expected one probe with abc, got %v", seen)
		}
	})

	t.Run("valid credential rejected", func(t *testing.T) {
		f := newFixture(t)
		f.prober.err = errUnauthorized
		f.seed("abc", time.Hour)
		f.start(t)

		got := f.settle(t)
		if got != (State{}) {
			t.Errorf("expected unauthenticated with no error, got %+v", got)
		}
		if !f.storeEmpty() {
			t.Errorf("expected empty store, got %v", f.backend.Items())
		}
		if f.slot.Current() != "" {
			t.Errorf("expected empty slot, got %q", f.slot.Current())
		}
	})

	t.Run("inconclusive probe keeps the credential", func(t *testing.T) {
		f := newFixture(t)
		f.prober.err = errNetwork
		f.seed("abc", time.Hour)
		before := f.backend.Items()
		f.start(t)

		got := f.settle(t)
		if got.IsAuthenticated || got.IsLoading {
			t.Errorf("expected unauthenticated, got %+v", got)
		}
		if !maps.Equal(before, f.backend.Items()) {
			t.Errorf("store should be untouched, got %v", f.backend.Items())
		}
	})

	t.Run("loading until the probe resolves", func(t *testing.T) {
		f := newFixture(t)
		f.prober.gate = make(chan struct{})
		f.seed("abc", time.Hour)
		f.start(t)

		f.sync(t)
		if got := f.ctrl.State(); !got.IsLoading || got.IsAuthenticated {
			t.Errorf("expected loading, got %+v", got)
		}
		select {
		case <-f.ctrl.Ready():
			t.Fatal("Ready closed before validation finished")
		default:
		}
		if f.slot.Current() != "abc" {
			t.Errorf("slot should hold abc while validating, got %q", f.slot.Current())
		}

		close(f.prober.gate)
		if got := f.settle(t); got != (State{IsAuthenticated: true}) {
			t.Errorf("expected authenticated, got %+v", got)
		}
	})

	t.Run("unreadable expiry", func(t *testing.T) {
		f := newFixture(t)
		f.backend.Set(store.KeyAccessToken, "abc")
		f.backend.Set(store.KeyTokenExpiry, "tomorrow")
		f.start(t)

		got := f.settle(t)
		if got != (State{Error: ErrMsgRestoreSession}) {
			t.Errorf("expected restore failure, got %+v", got)
		}
		if !f.storeEmpty() {
			t.Errorf("expected empty store, got %v", f.backend.Items())
		}
	})

	t.Run("validation panic", func(t *testing.T) {
		f := newFixture(t)
		f.prober.panic = true
		f.seed("abc", time.Hour)
		f.start(t)

		got := f.settle(t)
		if got != (State{Error: ErrMsgRestoreSession}) {
			t.Errorf("expected restore failure, got %+v", got)
		}
		if !f.storeEmpty() || f.slot.Current() != "" {
			t.Error("expected session to be cleared")
		}
	})

	t.Run("store panic during restore", func(t *testing.T) {
		f := newFixture(t)
		f.seed("abc", time.Hour)
		ctrl, err := NewController(Options{
			Store:     store.NewCredentialStore(explodingBackend{f.backend}, func() time.Time { return fixedNow }, nil),
			Slot:      f.slot,
			Validator: NewValidator(f.slot, f.prober, nil),
			Clock:     func() time.Time { return fixedNow },
		})
		if err != nil {
			t.Fatalf("failed to create controller: %v", err)
		}
		f.ctrl = ctrl
		f.start(t)

		got := f.settle(t)
		if got != (State{Error: ErrMsgRestoreSession}) {
			t.Errorf("expected restore failure, got %+v", got)
		}
		if !f.storeEmpty() || f.slot.Current() != "" {
			t.Error("expected session to be cleared")
		}
		if len(f.prober.calls()) != 0 {
			t.Error("probe should not run after a failed restore")
		}
	})

	t.Run("store read failure reads as absent", func(t *testing.T) {
		f := newFixture(t)
		f.backend.GetErr = errors.New("disk unavailable")
		f.start(t)

		if got := f.settle(t); got != (State{}) {
			t.Errorf("expected unauthenticated, got %+v", got)
		}
	})

	t.Run("Run twice", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)
		f.settle(t)

		if err := f.ctrl.Run(context.Background()); err == nil {
			t.Error("expected error on second Run")
		}
	})
}

func TestControllerMessages(t *testing.T) {
	t.Run("token while unauthenticated", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)
		f.settle(t)

		f.post(t, `{"type":"SPOTIFY_TOKEN","token":"xyz"}`)
		f.drain(t)

		if got := f.ctrl.State(); got != (State{IsAuthenticated: true}) {
			t.Errorf("expected authenticated, got %+v", got)
		}
		items := f.backend.Items()
		if items[store.KeyAccessToken] != "xyz" {
			t.Errorf("expected stored xyz, got %v", items)
		}
		wantExpiry := strconv.FormatInt(fixedNow.UnixMilli()+3_300_000, 10)
		if items[store.KeyTokenExpiry] != wantExpiry {
			t.Errorf("expected expiry %s, got %s", wantExpiry, items[store.KeyTokenExpiry])
		}
		if f.slot.Current() != "xyz" {
			t.Errorf("expected slot xyz, got %q", f.slot.Current())
		}
	})

	t.Run("token clears a previous error", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)
		f.settle(t)

		f.post(t, `{"type":"SPOTIFY_ERROR","error":"access_denied"}`)
		f.post(t, `{"type":"SPOTIFY_TOKEN","token":"xyz"}`)
		f.drain(t)

		if got := f.ctrl.State(); got != (State{IsAuthenticated: true}) {
			t.Errorf("expected authenticated with no error, got %+v", got)
		}
	})

	t.Run("token replaces an active credential", func(t *testing.T) {
		f := newFixture(t)
		f.seed("abc", time.Hour)
		f.start(t)
		f.settle(t)

		f.post(t, `{"type":"SPOTIFY_TOKEN","token":"xyz"}`)
		f.drain(t)

		if f.slot.Current() != "xyz" || f.backend.Items()[store.KeyAccessToken] != "xyz" {
			t.Errorf("expected xyz everywhere, slot %q store %v", f.slot.Current(), f.backend.Items())
		}
	})

	t.Run("token save failure", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)
		f.settle(t)
		f.backend.FailPuts(errors.New("quota exceeded"))

		f.post(t, `{"type":"SPOTIFY_TOKEN","token":"xyz"}`)
		f.drain(t)

		got := f.ctrl.State()
		if got != (State{Error: ErrMsgStoreToken}) {
			t.Errorf("expected store failure, got %+v", got)
		}
		if f.slot.Current() != "" {
			t.Errorf("slot should be unchanged, got %q", f.slot.Current())
		}
	})

	t.Run("token save failure while authenticated", func(t *testing.T) {
		f := newFixture(t)
		f.seed("abc", time.Hour)
		f.start(t)
		f.settle(t)
		f.backend.FailPuts(errors.New("quota exceeded"))

		f.post(t, `{"type":"SPOTIFY_TOKEN","token":"xyz"}`)
		f.drain(t)

		if got := f.ctrl.State(); got != (State{IsAuthenticated: true, Error: ErrMsgStoreToken}) {
			t.Errorf("expected authenticated with store failure, got %+v", got)
		}
		if f.slot.Current() != "abc" {
			t.Errorf("slot should keep abc, got %q", f.slot.Current())
		}
	})

	t.Run("error while unauthenticated", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)
		f.settle(t)

		f.post(t, `{"type":"SPOTIFY_ERROR","error":"access_denied"}`)
		f.drain(t)

		if got := f.ctrl.State(); got != (State{Error: "access_denied"}) {
			t.Errorf("expected access_denied, got %+v", got)
		}
	})

	t.Run("error without a message", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)
		f.settle(t)

		f.post(t, `{"type":"SPOTIFY_ERROR"}`)
		f.drain(t)

		if got := f.ctrl.State(); got != (State{Error: ErrMsgAuthorization}) {
			t.Errorf("expected generic authorization error, got %+v", got)
		}
	})

	t.Run("error while authenticated", func(t *testing.T) {
		f := newFixture(t)
		f.seed("abc", time.Hour)
		f.start(t)
		f.settle(t)

		f.post(t, `{"type":"SPOTIFY_ERROR","error":"server_error"}`)
		f.drain(t)

		if got := f.ctrl.State(); got != (State{IsAuthenticated: true, Error: "server_error"}) {
			t.Errorf("expected authenticated with error, got %+v", got)
		}
		if f.slot.Current() != "abc" {
			t.Error("error message must not touch the slot")
		}
	})

	t.Run("unknown messages have no effect", func(t *testing.T) {
		f := newFixture(t)
		f.seed("abc", time.Hour)
		f.start(t)
		before := f.settle(t)
		storeBefore := f.backend.Items()

		updates, unsubscribe := f.ctrl.Subscribe()
		defer unsubscribe()
		<-updates

		for i := 0; i < 5; i++ {
			f.post(t, `{"type":"UNKNOWN"}`)
			f.post(t, `{"token":"xyz"}`)
			f.post(t, `not json`)
		}
		f.drain(t)

		if got := f.ctrl.State(); got != before {
			t.Errorf("state changed from %+v to %+v", before, got)
		}
		if !maps.Equal(storeBefore, f.backend.Items()) {
			t.Errorf("store changed from %v to %v", storeBefore, f.backend.Items())
		}
		select {
		case s := <-updates:
			t.Errorf("unexpected update %+v", s)
		default:
		}
	})

	t.Run("token during startup validation", func(t *testing.T) {
		f := newFixture(t)
		f.prober.gate = make(chan struct{})
		f.prober.err = errUnauthorized
		f.seed("abc", time.Hour)
		f.start(t)

		f.post(t, `{"type":"SPOTIFY_TOKEN","token":"xyz"}`)
		f.drain(t)

		if got := f.ctrl.State(); got != (State{IsAuthenticated: true, IsLoading: true}) {
			t.Errorf("expected authenticated and still loading, got %+v", got)
		}

		// The late rejection refers to abc and must not undo the newer credential.
		close(f.prober.gate)
		got := f.settle(t)
		if got != (State{IsAuthenticated: true}) {
			t.Errorf("expected authenticated, got %+v", got)
		}
		if f.slot.Current() != "xyz" || f.backend.Items()[store.KeyAccessToken] != "xyz" {
			t.Errorf("expected xyz to survive, slot %q store %v", f.slot.Current(), f.backend.Items())
		}
	})
}

func TestControllerSameTokenDuringValidation(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"inconclusive", errNetwork},
		{"accepted", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.prober.gate = make(chan struct{})
			f.prober.err = tt.err
			f.seed("abc", time.Hour)
			f.start(t)

			f.post(t, `{"type":"SPOTIFY_TOKEN","token":"abc"}`)
			f.drain(t)
			if got := f.ctrl.State(); got != (State{IsAuthenticated: true, IsLoading: true}) {
				t.Fatalf("expected authenticated and still loading, got %+v", got)
			}

			// The verdict predates the message, so it only ends the loading window.
			close(f.prober.gate)
			if got := f.settle(t); got != (State{IsAuthenticated: true}) {
				t.Errorf("expected authenticated, got %+v", got)
			}
			if f.slot.Current() != "abc" || f.backend.Items()[store.KeyAccessToken] != "abc" {
				t.Errorf("expected abc to survive, slot %q store %v", f.slot.Current(), f.backend.Items())
			}
		})
	}
}

func TestControllerLoginLogout(t *testing.T) {
	ctx := context.Background()

	t.Run("login tears down before opening the surface", func(t *testing.T) {
		f := newFixture(t)
		f.seed("t1", time.Hour)
		f.start(t)
		f.settle(t)

		var storeAtOpen map[string]string
		var slotAtOpen string
		var stateAtOpen State
		f.auth.OnAuthorize = func() {
			storeAtOpen = f.backend.Items()
			slotAtOpen = f.slot.Current()
			stateAtOpen = f.ctrl.State()
		}

		if err := f.ctrl.Login(ctx); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if f.auth.Calls() != 1 {
			t.Errorf("expected one authorize call, got %d", f.auth.Calls())
		}
		if len(storeAtOpen) != 0 || slotAtOpen != "" {
			t.Errorf("session not cleared before opening: store %v slot %q", storeAtOpen, slotAtOpen)
		}
		if stateAtOpen != (State{}) {
			t.Errorf("expected unauthenticated at open, got %+v", stateAtOpen)
		}
	})

	t.Run("login clears a previous error", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)
		f.settle(t)
		f.post(t, `{"type":"SPOTIFY_ERROR","error":"access_denied"}`)
		f.drain(t)

		if err := f.ctrl.Login(ctx); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got := f.ctrl.State(); got.Error != "" {
			t.Errorf("expected error cleared, got %+v", got)
		}
	})

	t.Run("login returns the authorizer error", func(t *testing.T) {
		f := newFixture(t)
		f.auth.Err = errors.New("no browser")
		f.start(t)
		f.settle(t)

		if err := f.ctrl.Login(ctx); err == nil || err.Error() != "no browser" {
			t.Errorf("expected authorizer error, got %v", err)
		}
	})

	t.Run("login does not open the surface when the store cannot be cleared", func(t *testing.T) {
		f := newFixture(t)
		f.seed("t1", time.Hour)
		f.start(t)
		f.settle(t)
		f.backend.FailDeletes(errors.New("locked"))

		if err := f.ctrl.Login(ctx); err == nil {
			t.Error("expected error")
		}
		if f.auth.Calls() != 0 {
			t.Error("authorizer should not be called")
		}
		if f.slot.Current() != "" {
			t.Error("slot should still be emptied")
		}
	})

	t.Run("login then token completes the flow", func(t *testing.T) {
		f := newFixture(t)
		f.auth.OnAuthorize = func() {
			_ = f.inbox.Post(ctx, EncodeToken("fresh"))
		}
		f.start(t)
		f.settle(t)

		if err := f.ctrl.Login(ctx); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		f.drain(t)

		if got := f.ctrl.State(); got != (State{IsAuthenticated: true}) {
			t.Errorf("expected authenticated, got %+v", got)
		}
	})

	t.Run("logout", func(t *testing.T) {
		f := newFixture(t)
		f.seed("abc", time.Hour)
		f.start(t)
		f.settle(t)

		if err := f.ctrl.Logout(ctx); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got := f.ctrl.State(); got != (State{}) {
			t.Errorf("expected unauthenticated, got %+v", got)
		}
		if !f.storeEmpty() || f.slot.Current() != "" {
			t.Error("expected session cleared")
		}
		if f.auth.Calls() != 0 {
			t.Error("logout must not open anything")
		}

		if err := f.ctrl.Logout(ctx); err != nil {
			t.Errorf("second logout should succeed, got %v", err)
		}
	})

	t.Run("logout during startup validation", func(t *testing.T) {
		f := newFixture(t)
		f.prober.gate = make(chan struct{})
		f.seed("abc", time.Hour)
		f.start(t)

		if err := f.ctrl.Logout(ctx); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got := f.ctrl.State(); !got.IsLoading {
			t.Errorf("expected loading until validation resolves, got %+v", got)
		}

		close(f.prober.gate)
		if got := f.settle(t); got != (State{}) {
			t.Errorf("accepted verdict for a logged out token must be dropped, got %+v", got)
		}
	})

	t.Run("stopped controller", func(t *testing.T) {
		f := newFixture(t)
		runCtx, cancel := context.WithCancel(ctx)
		errc := make(chan error, 1)
		go func() { errc <- f.ctrl.Run(runCtx) }()
		cancel()
		<-errc

		if err := f.ctrl.Logout(ctx); !errors.Is(err, ErrStopped) {
			t.Errorf("expected ErrStopped, got %v", err)
		}
	})
}

func TestControllerUnauthorized(t *testing.T) {
	t.Run("rejection of the active token clears the session", func(t *testing.T) {
		f := newFixture(t)
		f.seed("abc", time.Hour)
		f.start(t)
		f.settle(t)

		f.ctrl.Unauthorized("abc")
		f.sync(t)

		if got := f.ctrl.State(); got != (State{}) {
			t.Errorf("expected unauthenticated, got %+v", got)
		}
		if !f.storeEmpty() || f.slot.Current() != "" {
			t.Error("expected session cleared")
		}
	})

	t.Run("rejection of an old token is ignored", func(t *testing.T) {
		f := newFixture(t)
		f.seed("abc", time.Hour)
		f.start(t)
		f.settle(t)

		f.ctrl.Unauthorized("old")
		f.ctrl.Unauthorized("")
		f.sync(t)

		if got := f.ctrl.State(); got != (State{IsAuthenticated: true}) {
			t.Errorf("expected authenticated, got %+v", got)
		}
		if f.slot.Current() != "abc" {
			t.Errorf("expected slot abc, got %q", f.slot.Current())
		}
	})
}

func TestControllerSubscribe(t *testing.T) {
	f := newFixture(t)
	f.prober.gate = make(chan struct{})
	f.seed("abc", time.Hour)

	updates, unsubscribe := f.ctrl.Subscribe()
	if s := <-updates; s != (State{IsLoading: true}) {
		t.Errorf("expected initial loading state, got %+v", s)
	}

	f.start(t)
	close(f.prober.gate)
	f.settle(t)

	select {
	case s := <-updates:
		if s != (State{IsAuthenticated: true}) {
			t.Errorf("expected latest state authenticated, got %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}

	unsubscribe()
	unsubscribe()
	if _, ok := <-updates; ok {
		t.Error("expected channel to be closed")
	}

	if err := f.ctrl.Logout(context.Background()); err != nil {
		t.Fatalf("logout after unsubscribe should not block, got %v", err)
	}
}

func TestNewControllerRequiresCollaborators(t *testing.T) {
	if _, err := NewController(Options{}); err == nil {
		t.Error("expected error")
	}
}
