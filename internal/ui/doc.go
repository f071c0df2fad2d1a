// Package ui implements an interactive terminal view of the Spotify session using bubbletea's Elm architecture.
//
// The TUI has two views:
//  1. [StatusView] : session state, with a spinner while a stored credential is being validated
//  2. [PlaylistView] : the signed-in user's playlists
//
// The (view) [Model] subscribes to the session controller and receives every state change as a Msg, so the
// screen follows logins completed in the browser, logouts and rejected credentials without polling.
//
// Keys: l login, o logout, p playlists, esc back, q quit, with contextual help displayed via charmbracelet/bubbles/help.
package ui
