// package services binds the Spotify Web API to the session's bearer credential
package services

import (
	"golang.org/x/oauth2"

	"github.com/desertthunder/spotauth/internal/shared"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"
)

// Scopes requested during authorization. Read-only: the session never writes to the library.
var Scopes = []string{
	"user-read-private",
	"user-read-email",
	"playlist-read-private",
	"playlist-read-collaborative",
	"user-library-read",
}

// NewOAuthConfig builds the authorization-code configuration for the configured Spotify app.
func NewOAuthConfig(cfg shared.SpotifyConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}
}

// Playlist is the flattened summary printed by the CLI.
type Playlist struct {
	ID         string
	Name       string
	Owner      string
	TrackCount int
	Public     bool
}

// Track is a flattened track record handed to callers as-is.
type Track struct {
	ID       string
	Title    string
	Artist   string
	Album    string
	Duration int // seconds
	ISRC     string
}

// PlaylistExport is a playlist with its tracks, ready for the formatter.
type PlaylistExport struct {
	Playlist    Playlist
	Description string
	Tracks      []Track
}

func toPlaylist(sp SpotifySimplePlaylist) Playlist {
	return Playlist{
		ID:         sp.ID,
		Name:       sp.Name,
		Owner:      sp.Owner.DisplayName,
		TrackCount: sp.Tracks.Total,
		Public:     sp.Public,
	}
}

func toTrack(st SpotifyTrack) Track {
	t := Track{
		ID:       st.ID,
		Title:    st.Name,
		Album:    st.Album.Name,
		Duration: st.DurationMS / 1000,
		ISRC:     st.ExternalIDs.ISRC,
	}
	if len(st.Artists) > 0 {
		t.Artist = st.Artists[0].Name
	}
	return t
}
