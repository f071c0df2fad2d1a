// Package session owns the Spotify session: its state, the messages that change it, and the
// validation of a restored credential.
//
// # Controller
//
// [Controller] is the single writer of [State], the [store.CredentialStore] and the [services.TokenSlot].
// Everything that can change the session is an event on its mailbox, processed one at a time by
// [Controller.Run]:
//
//   - the startup sequence (restore, expire or validate the stored credential)
//   - completion messages from the authorization window, read from an [Inbox]
//   - login and logout requests
//   - unauthorized answers from the Web API, reported with the token that was rejected
//
// A store write and the state change it implies happen inside one event, so no reader ever sees a
// saved token with an unauthenticated state or the reverse. Results that refer to a token the slot
// no longer holds are dropped.
//
// Readers use [Controller.State], [Controller.Subscribe] or [Controller.Ready].
//
// # Messages
//
// [DecodeMessage] turns raw JSON from the authorization window into a [CompletionMessage]:
//
//	{"type":"SPOTIFY_TOKEN","token":"..."}
//	{"type":"SPOTIFY_ERROR","error":"access_denied"}
//
// Anything else is ignored.
package session
