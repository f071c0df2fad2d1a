// Package server provides the HTTP side of the session: routing, the OAuth callback and the message endpoint.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # OAuth Callback
//
// [CallbackHandler] is the [session.Authorizer] used by the CLI. It opens the Spotify consent page with a
// fresh state and, on GET /callback, validates that state once, exchanges the code and posts a completion
// message to the session inbox. It never touches the session directly.
//
// # Message Endpoint
//
// [MessageHandler] accepts completion messages from any other context over POST /message or a websocket at
// /ws. Requests from a foreign Origin are refused, and POST bodies must be application/json. Bodies are
// forwarded verbatim; unrecognised messages are dropped by the session controller.
//
// # Observability
//
// GET /state returns the current session snapshot and GET /metrics exposes Prometheus collectors.
package server
