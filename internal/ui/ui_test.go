package ui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/spotauth/internal/services"
	"github.com/desertthunder/spotauth/internal/session"
)

type fakeSession struct {
	mu           sync.Mutex
	state        session.State
	updates      chan session.State
	logins       int
	logouts      int
	loginErr     error
	unsubscribed bool
}

func newFakeSession(s session.State) *fakeSession {
	return &fakeSession{state: s, updates: make(chan session.State, 1)}
}

func (f *fakeSession) State() session.State { return f.state }

func (f *fakeSession) Subscribe() (<-chan session.State, func()) {
	return f.updates, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubscribed = true
	}
}

func (f *fakeSession) Login(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	return f.loginErr
}

func (f *fakeSession) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return nil
}

type fakeLibrary struct {
	playlists []services.Playlist
	err       error
}

func (l fakeLibrary) AllPlaylists(context.Context) ([]services.Playlist, error) {
	return l.playlists, l.err
}

func press(m *Model, k string) tea.Cmd {
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)})
	return cmd
}

func TestModel(t *testing.T) {
	ctx := context.Background()

	t.Run("renders each phase", func(t *testing.T) {
		tests := []struct {
			state session.State
			want  string
		}{
			{session.State{IsLoading: true}, "Restoring previous session"},
			{session.State{}, "Not connected"},
			{session.State{IsAuthenticated: true}, "Connected to Spotify"},
			{session.State{Error: "access_denied"}, "Error: access_denied"},
		}

		for _, tt := range tests {
			m := NewModel(ctx, newFakeSession(tt.state), nil)
			if view := m.View(); !strings.Contains(view, tt.want) {
				t.Errorf("%+v: expected %q in view:\n%s", tt.state, tt.want, view)
			}
		}
	})

	t.Run("follows state changes", func(t *testing.T) {
		sess := newFakeSession(session.State{IsLoading: true})
		m := NewModel(ctx, sess, nil)

		sess.updates <- session.State{IsAuthenticated: true}
		msg := m.waitForState()()
		_, cmd := m.Update(msg)

		if !m.state.IsAuthenticated {
			t.Error("expected model to track authenticated state")
		}
		if cmd == nil {
			t.Error("expected to keep listening for changes")
		}
	})

	t.Run("closed subscription stops listening", func(t *testing.T) {
		sess := newFakeSession(session.State{})
		m := NewModel(ctx, sess, nil)
		close(sess.updates)

		_, cmd := m.Update(m.waitForState()())
		if cmd != nil {
			t.Error("expected no further commands")
		}
	})

	t.Run("login key", func(t *testing.T) {
		sess := newFakeSession(session.State{})
		m := NewModel(ctx, sess, nil)

		cmd := press(m, "l")
		if cmd == nil {
			t.Fatal("expected login command")
		}
		if !strings.Contains(m.View(), "browser") {
			t.Error("expected a notice while waiting for the browser")
		}

		m.Update(cmd())
		if sess.logins != 1 {
			t.Errorf("expected 1 login, got %d", sess.logins)
		}
	})

	t.Run("login failure is shown", func(t *testing.T) {
		sess := newFakeSession(session.State{})
		sess.loginErr = errors.New("could not open browser")
		m := NewModel(ctx, sess, nil)

		m.Update(press(m, "l")())
		if !strings.Contains(m.View(), "could not open browser") {
			t.Errorf("expected error in view:\n%s", m.View())
		}
	})

	t.Run("logout key", func(t *testing.T) {
		sess := newFakeSession(session.State{IsAuthenticated: true})
		m := NewModel(ctx, sess, nil)

		m.Update(press(m, "o")())
		if sess.logouts != 1 {
			t.Errorf("expected 1 logout, got %d", sess.logouts)
		}
	})

	t.Run("playlists require a session", func(t *testing.T) {
		m := NewModel(ctx, newFakeSession(session.State{}), fakeLibrary{})
		if cmd := press(m, "p"); cmd != nil {
			t.Error("playlists should not load while signed out")
		}
	})

	t.Run("playlists view", func(t *testing.T) {
		sess := newFakeSession(session.State{IsAuthenticated: true})
		lib := fakeLibrary{playlists: []services.Playlist{{ID: "p1", Name: "Road Trip", TrackCount: 12}}}
		m := NewModel(ctx, sess, lib)
		m.Update(tea.WindowSizeMsg{Width: 80, Height: 40})

		m.Update(press(m, "p")())
		if m.view != PlaylistView {
			t.Fatalf("expected playlist view, got %v", m.view)
		}
		if !strings.Contains(m.View(), "Road Trip") {
			t.Errorf("expected playlist in view:\n%s", m.View())
		}

		m.Update(stateChangedMsg(session.State{}))
		if m.view != StatusView {
			t.Error("losing the session should return to the status view")
		}
	})

	t.Run("playlist fetch failure", func(t *testing.T) {
		m := NewModel(ctx, newFakeSession(session.State{IsAuthenticated: true}), fakeLibrary{err: errors.New("rate limited")})

		m.Update(press(m, "p")())
		if m.view != StatusView || !strings.Contains(m.View(), "rate limited") {
			t.Errorf("expected error on status view:\n%s", m.View())
		}
	})

	t.Run("quit unsubscribes", func(t *testing.T) {
		sess := newFakeSession(session.State{})
		m := NewModel(ctx, sess, nil)

		cmd := press(m, "q")
		if cmd == nil {
			t.Fatal("expected quit command")
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Error("expected tea.QuitMsg")
		}
		if !sess.unsubscribed {
			t.Error("expected unsubscribe on quit")
		}
	})
}
