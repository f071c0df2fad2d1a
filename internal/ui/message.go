package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/spotauth/internal/services"
	"github.com/desertthunder/spotauth/internal/session"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgStateChanged MsgKind = iota
	MsgSubscriptionClosed
	MsgPlaylistsFetched
	MsgActionDone
)

type playlistsResult struct {
	playlists []services.Playlist
	err       error
}

type actionResult struct {
	action string
	err    error
}

// stateChangedMsg is the constructor for [MsgStateChanged]
func stateChangedMsg(s session.State) Msg {
	return Msg{kind: MsgStateChanged, data: s}
}

// subscriptionClosedMsg is the constructor for [MsgSubscriptionClosed]
func subscriptionClosedMsg() Msg {
	return Msg{kind: MsgSubscriptionClosed}
}

// playlistsFetchedMsg is the constructor for [MsgPlaylistsFetched]
func playlistsFetchedMsg(playlists []services.Playlist, err error) Msg {
	return Msg{kind: MsgPlaylistsFetched, data: playlistsResult{playlists, err}}
}

// actionDoneMsg is the constructor for [MsgActionDone]
func actionDoneMsg(action string, err error) Msg {
	return Msg{kind: MsgActionDone, data: actionResult{action, err}}
}
