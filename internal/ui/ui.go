package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/spotauth/internal/services"
	"github.com/desertthunder/spotauth/internal/session"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	StatusView ViewState = iota
	PlaylistView
)

// Session is the part of [session.Controller] the TUI drives.
type Session interface {
	State() session.State
	Subscribe() (<-chan session.State, func())
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
}

// Library lists the user's playlists. [services.SpotifyService] satisfies it.
type Library interface {
	AllPlaylists(ctx context.Context) ([]services.Playlist, error)
}

// Model represents the TUI application state.
type Model struct {
	ctx         context.Context
	view        ViewState
	session     Session
	library     Library
	state       session.State
	updates     <-chan session.State
	unsubscribe func()
	spinner     spinner.Model
	list        list.Model
	notice      string
	err         error
	width       int
	height      int
	help        help.Model
	keys        keyMap
}

// NewModel subscribes to sess. The subscription ends when the user quits.
func NewModel(ctx context.Context, sess Session, library Library) *Model {
	updates, unsubscribe := sess.Subscribe()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.title.UnsetMarginBottom()

	return &Model{
		ctx:         ctx,
		view:        StatusView,
		session:     sess,
		library:     library,
		state:       sess.State(),
		updates:     updates,
		unsubscribe: unsubscribe,
		spinner:     sp,
		help:        help.New(),
		keys:        newKeyMap(),
	}
}

// Init starts the spinner and listens for session changes.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForState())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.view == PlaylistView {
			m.list.SetSize(msg.Width-4, msg.Height-8)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.quit) && !(m.view == PlaylistView && m.list.FilterState() == list.Filtering) {
			m.unsubscribe()
			return m, tea.Quit
		}
		switch m.view {
		case StatusView:
			return m.handleStatusKeys(msg)
		case PlaylistView:
			return m.handlePlaylistKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	if m.view == PlaylistView {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgStateChanged:
		m.state = msg.data.(session.State)
		if m.state.IsAuthenticated {
			m.notice = ""
		} else if m.view == PlaylistView {
			m.view = StatusView
		}
		return m, m.waitForState()

	case MsgSubscriptionClosed:
		return m, nil

	case MsgActionDone:
		res := msg.data.(actionResult)
		m.err = res.err
		if res.err != nil {
			m.notice = ""
		}
		return m, nil

	case MsgPlaylistsFetched:
		res := msg.data.(playlistsResult)
		if res.err != nil {
			m.err = res.err
			return m, nil
		}
		items := make([]list.Item, len(res.playlists))
		for i, pl := range res.playlists {
			items[i] = playlistItem{playlist: pl}
		}
		m.list = list.New(items, list.NewDefaultDelegate(), 0, 0)
		m.list.Title = "Spotify Playlists"
		m.list.SetSize(m.width-4, m.height-8)
		m.view = PlaylistView
		return m, nil
	}
	return m, nil
}

func (m *Model) handleStatusKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.login):
		m.err = nil
		m.notice = "Complete the authorization in your browser…"
		return m, m.run("login", m.session.Login)
	case key.Matches(msg, m.keys.logout):
		m.err = nil
		m.notice = ""
		return m, m.run("logout", m.session.Logout)
	case key.Matches(msg, m.keys.playlists):
		if !m.state.IsAuthenticated || m.library == nil {
			return m, nil
		}
		m.err = nil
		return m, m.fetchPlaylists()
	}
	return m, nil
}

func (m *Model) handlePlaylistKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.back) && m.list.FilterState() == list.Unfiltered {
		m.view = StatusView
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *Model) waitForState() tea.Cmd {
	return func() tea.Msg {
		s, ok := <-m.updates
		if !ok {
			return subscriptionClosedMsg()
		}
		return stateChangedMsg(s)
	}
}

func (m *Model) run(action string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg(action, fn(m.ctx))
	}
}

func (m *Model) fetchPlaylists() tea.Cmd {
	return func() tea.Msg {
		playlists, err := m.library.AllPlaylists(m.ctx)
		return playlistsFetchedMsg(playlists, err)
	}
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case PlaylistView:
		helpView := m.help.ShortHelpView([]key.Binding{m.keys.back, m.keys.quit})
		return fmt.Sprintf("%s\n\n%s", m.list.View(), helpView)
	default:
		return m.renderStatus()
	}
}

func (m *Model) renderStatus() string {
	var b strings.Builder
	b.WriteString(styles.title.Render("Spotify Session"))
	b.WriteString("\n")

	switch m.state.Phase() {
	case session.Initializing:
		fmt.Fprintf(&b, "%s Restoring previous session…\n", m.spinner.View())
	case session.Authenticated:
		b.WriteString(styles.ok.Render("✓ Connected to Spotify"))
		b.WriteString("\n")
	default:
		b.WriteString(styles.warn.Render("✗ Not connected"))
		b.WriteString("\n")
	}

	if m.state.Error != "" {
		b.WriteString(styles.err.Render("Error: " + m.state.Error))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(styles.err.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	}
	if m.notice != "" {
		b.WriteString(styles.help.Render(m.notice))
		b.WriteString("\n")
	}

	bindings := []key.Binding{m.keys.login, m.keys.logout}
	if m.state.IsAuthenticated {
		bindings = append(bindings, m.keys.playlists)
	}
	bindings = append(bindings, m.keys.quit)

	b.WriteString("\n")
	b.WriteString(m.help.ShortHelpView(bindings))
	return b.String()
}
