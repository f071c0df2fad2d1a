// Package services binds the Spotify Web API to the session's bearer credential.
//
// # Token Slot
//
// [TokenSlot] is the single place the active access token lives. It implements [oauth2.TokenSource], so any
// client built over it sends "Authorization: Bearer <token>" with whatever the slot holds at send time. An
// empty slot fails every call with [shared.ErrNotAuthenticated] before anything reaches the network.
//
// # Spotify Client
//
// [SpotifyService] snapshots the slot once per call, so the token that produced a response is always known.
// A 401 is surfaced as an [APIError] that unwraps to [shared.ErrTokenExpired] and is reported to the
// [SpotifyService.OnUnauthorized] hook along with that token. Calls are paced with a [rate.Limiter].
//
// No refresh-token grant is performed: an expired or revoked credential means a new authorization.
package services
