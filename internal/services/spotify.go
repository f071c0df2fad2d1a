// Spotify Web API client bound to a [TokenSlot]
//
// Response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/desertthunder/spotauth/internal/metrics"
	"github.com/desertthunder/spotauth/internal/shared"
)

type followers struct {
	Total int `json:"total"`
}

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Email       string         `json:"email"`
	Country     string         `json:"country"`
	Product     string         `json:"product"` // premium, free, etc.
	Followers   followers      `json:"followers"`
	Images      []SpotifyImage `json:"images"`
}

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type externalIDs struct {
	ISRC string `json:"isrc"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Artists     []SpotifyArtist `json:"artists"`
	Album       SpotifyAlbum    `json:"album"`
	DurationMS  int             `json:"duration_ms"`
	Explicit    bool            `json:"explicit"`
	ExternalIDs externalIDs     `json:"external_ids"`
	Popularity  int             `json:"popularity"`
	URI         string          `json:"uri"`
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Genres []string       `json:"genres"`
	Images []SpotifyImage `json:"images"`
	URI    string         `json:"uri"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Artists     []SpotifyArtist `json:"artists"`
	ReleaseDate string          `json:"release_date"`
	TotalTracks int             `json:"total_tracks"`
	Images      []SpotifyImage  `json:"images"`
	URI         string          `json:"uri"`
}

type Owner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type playlistTrack struct {
	Total int                    `json:"total"`
	Items []SpotifyPlaylistTrack `json:"items"`
}

// SpotifyPlaylist represents a Spotify playlist.
type SpotifyPlaylist struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Owner       Owner          `json:"owner"`
	Public      bool           `json:"public"`
	Tracks      playlistTrack  `json:"tracks"`
	Images      []SpotifyImage `json:"images"`
	URI         string         `json:"uri"`
}

// SpotifyPlaylistTrack represents a track within a playlist context.
type SpotifyPlaylistTrack struct {
	AddedAt string       `json:"added_at"`
	Track   SpotifyTrack `json:"track"`
}

// SpotifyPaginatedTracks represents a paginated response of saved tracks.
type SpotifyPaginatedTracks struct {
	Items    []SpotifySavedTrack `json:"items"`
	Total    int                 `json:"total"`
	Limit    int                 `json:"limit"`
	Offset   int                 `json:"offset"`
	Next     *string             `json:"next"`
	Previous *string             `json:"previous"`
}

// SpotifySavedTrack represents a track saved in the user's library.
type SpotifySavedTrack struct {
	AddedAt string       `json:"added_at"`
	Track   SpotifyTrack `json:"track"`
}

// SpotifyPaginatedPlaylists represents a paginated response of playlists.
type SpotifyPaginatedPlaylists struct {
	Items    []SpotifySimplePlaylist `json:"items"`
	Total    int                     `json:"total"`
	Limit    int                     `json:"limit"`
	Offset   int                     `json:"offset"`
	Next     *string                 `json:"next"`
	Previous *string                 `json:"previous"`
}

type simplePlaylistTrack struct {
	Total int `json:"total"`
}

// SpotifySimplePlaylist represents a simplified playlist object (used in lists).
type SpotifySimplePlaylist struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Owner       Owner               `json:"owner"`
	Public      bool                `json:"public"`
	Tracks      simplePlaylistTrack `json:"tracks"`
	Images      []SpotifyImage      `json:"images"`
	URI         string              `json:"uri"`
}

// APIError is a non-2xx answer from the Web API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("spotify API error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("spotify API error: status %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the status onto a shared sentinel. 401 means the bearer credential was rejected.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return shared.ErrTokenExpired
	case e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500:
		return shared.ErrServiceUnavailable
	default:
		return shared.ErrAPIRequest
	}
}

// SpotifyService issues Web API calls with whatever credential the slot holds when the call starts.
type SpotifyService struct {
	slot       *TokenSlot
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	logger     *log.Logger

	mu             sync.RWMutex
	onUnauthorized func(token string)
}

// Option configures a [SpotifyService].
type Option func(*SpotifyService)

// WithHTTPClient sets the base client. Its transport and timeout are kept; authorization is layered on top.
func WithHTTPClient(c *http.Client) Option {
	return func(s *SpotifyService) { s.httpClient = c }
}

// WithBaseURL points the service at another API root.
func WithBaseURL(u string) Option {
	return func(s *SpotifyService) { s.baseURL = u }
}

// WithRateLimit paces outbound calls to rps per second. rps <= 0 disables pacing.
func WithRateLimit(rps float64) Option {
	return func(s *SpotifyService) {
		if rps <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *SpotifyService) { s.logger = l }
}

// NewSpotifyService creates a client that authorizes through slot.
func NewSpotifyService(slot *TokenSlot, opts ...Option) *SpotifyService {
	s := &SpotifyService{
		slot:       slot,
		httpClient: http.DefaultClient,
		baseURL:    spotifyBaseURL,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		logger:     log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnUnauthorized registers fn to run whenever a call is answered with 401. fn receives the token that
// was sent, which may already have been replaced in the slot.
func (s *SpotifyService) OnUnauthorized(fn func(token string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUnauthorized = fn
}

func (s *SpotifyService) unauthorized(token string) {
	s.mu.RLock()
	fn := s.onUnauthorized
	s.mu.RUnlock()
	if fn != nil {
		fn(token)
	}
}

// doRequest performs an authenticated GET against the Web API and decodes the body into result.
func (s *SpotifyService) doRequest(ctx context.Context, name, endpoint string, result any) error {
	tok, err := s.slot.Token()
	if err != nil {
		return err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := withSource(s.httpClient, oauth2.StaticTokenSource(tok))

	started := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		metrics.APIRequestDuration.WithLabelValues(name, "error").Observe(time.Since(started).Seconds())
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	metrics.APIRequestDuration.WithLabelValues(name, strconv.Itoa(resp.StatusCode)).Observe(time.Since(started).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
		s.logger.Debug("spotify request rejected", "endpoint", name, "status", resp.StatusCode, "token", shared.MaskToken(tok.AccessToken))
		if resp.StatusCode == http.StatusUnauthorized {
			s.unauthorized(tok.AccessToken)
		}
		return apiErr
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// errorMessage pulls error.message out of a Web API error object, or the OAuth-style error_description.
func errorMessage(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil || !gjson.ValidBytes(body) {
		return ""
	}
	res := gjson.GetManyBytes(body, "error.message", "error_description", "error")
	for _, v := range res {
		if v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

// UserProfile retrieves the current user's profile. It doubles as the identity probe.
func (s *SpotifyService) UserProfile(ctx context.Context) (*SpotifyUser, error) {
	var user SpotifyUser
	if err := s.doRequest(ctx, "me", "/me", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Track retrieves a single track by ID.
func (s *SpotifyService) Track(ctx context.Context, trackID string) (*SpotifyTrack, error) {
	if trackID == "" {
		return nil, fmt.Errorf("%w: track id", shared.ErrMissingArgument)
	}
	var track SpotifyTrack
	if err := s.doRequest(ctx, "track", "/tracks/"+trackID, &track); err != nil {
		return nil, err
	}
	return &track, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return min(limit, 50)
}

// SavedTracks retrieves one page of the user's saved tracks.
func (s *SpotifyService) SavedTracks(ctx context.Context, limit, offset int) (*SpotifyPaginatedTracks, error) {
	endpoint := fmt.Sprintf("/me/tracks?limit=%d&offset=%d", clampLimit(limit), offset)

	var response SpotifyPaginatedTracks
	if err := s.doRequest(ctx, "saved_tracks", endpoint, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// UserPlaylists retrieves one page of the current user's playlists.
func (s *SpotifyService) UserPlaylists(ctx context.Context, limit, offset int) (*SpotifyPaginatedPlaylists, error) {
	endpoint := fmt.Sprintf("/me/playlists?limit=%d&offset=%d", clampLimit(limit), offset)

	var response SpotifyPaginatedPlaylists
	if err := s.doRequest(ctx, "playlists", endpoint, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// Playlist retrieves a playlist by ID.
func (s *SpotifyService) Playlist(ctx context.Context, playlistID string) (*SpotifyPlaylist, error) {
	if playlistID == "" {
		return nil, fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}
	var playlist SpotifyPlaylist
	if err := s.doRequest(ctx, "playlist", "/playlists/"+playlistID, &playlist); err != nil {
		return nil, err
	}
	return &playlist, nil
}

// AllPlaylists walks every page of the user's playlists.
func (s *SpotifyService) AllPlaylists(ctx context.Context) ([]Playlist, error) {
	var all []Playlist
	limit, offset := 50, 0

	for {
		response, err := s.UserPlaylists(ctx, limit, offset)
		if err != nil {
			return nil, err
		}
		for _, sp := range response.Items {
			all = append(all, toPlaylist(sp))
		}
		if response.Next == nil || len(response.Items) == 0 {
			break
		}
		offset += limit
	}

	return all, nil
}

// ExportPlaylist fetches a playlist and flattens it with the first page of its tracks.
func (s *SpotifyService) ExportPlaylist(ctx context.Context, playlistID string) (*PlaylistExport, error) {
	sp, err := s.Playlist(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	export := &PlaylistExport{
		Playlist: Playlist{
			ID:         sp.ID,
			Name:       sp.Name,
			Owner:      sp.Owner.DisplayName,
			TrackCount: sp.Tracks.Total,
			Public:     sp.Public,
		},
		Description: sp.Description,
		Tracks:      make([]Track, 0, len(sp.Tracks.Items)),
	}
	for _, item := range sp.Tracks.Items {
		export.Tracks = append(export.Tracks, toTrack(item.Track))
	}
	return export, nil
}

// PlaylistTracks flattens the first page of a playlist's tracks.
func (s *SpotifyService) PlaylistTracks(ctx context.Context, playlistID string) ([]Track, error) {
	export, err := s.ExportPlaylist(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	return export.Tracks, nil
}

// IsUnauthorized reports whether err is a rejected-credential answer.
func IsUnauthorized(err error) bool {
	return errors.Is(err, shared.ErrTokenExpired)
}
