package server

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/desertthunder/spotauth/internal/session"
	"github.com/desertthunder/spotauth/internal/shared"
)

// CallbackOptions configures a [CallbackHandler].
type CallbackOptions struct {
	Config *oauth2.Config
	Inbox  Poster
	Logger *log.Logger
	// HTTPClient is used for the code exchange. Nil means [http.DefaultClient].
	HTTPClient *http.Client
	// Open launches the authorization URL. Nil means [shared.OpenBrowser].
	Open func(url string) error
	// Fallback receives the URL when Open fails so it can be shown to the user.
	Fallback func(url string)
}

// CallbackHandler runs the authorization-code flow for the session. [CallbackHandler.Authorize]
// opens the consent page; GET /callback finishes the flow by posting a completion message.
//
// Only the state issued by the latest Authorize is accepted, and only once.
type CallbackHandler struct {
	config     *oauth2.Config
	inbox      Poster
	logger     *log.Logger
	httpClient *http.Client
	open       func(string) error
	fallback   func(string)

	mu    sync.Mutex
	state string
}

func NewCallbackHandler(opts CallbackOptions) *CallbackHandler {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Open == nil {
		opts.Open = shared.OpenBrowser
	}
	return &CallbackHandler{
		config:     opts.Config,
		inbox:      opts.Inbox,
		logger:     opts.Logger,
		httpClient: opts.HTTPClient,
		open:       opts.Open,
		fallback:   opts.Fallback,
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *CallbackHandler) Routes() []string {
	return []string{"/callback"}
}

// AuthURL issues a fresh state, replacing any outstanding one, and returns the consent URL.
func (h *CallbackHandler) AuthURL() (string, error) {
	state, err := shared.GenerateState()
	if err != nil {
		return "", fmt.Errorf("failed to generate state token: %w", err)
	}

	h.mu.Lock()
	h.state = state
	h.mu.Unlock()

	return h.config.AuthCodeURL(state, oauth2.SetAuthURLParam("show_dialog", "true")), nil
}

// Authorize implements [session.Authorizer]. A browser that cannot be opened is not an error: the URL
// goes to the fallback and the flow can still complete.
func (h *CallbackHandler) Authorize(ctx context.Context) error {
	authURL, err := h.AuthURL()
	if err != nil {
		return err
	}

	if err := h.open(authURL); err != nil {
		h.logger.Warn("failed to open browser automatically", "error", err)
		if h.fallback == nil {
			return err
		}
		h.fallback(authURL)
		return nil
	}

	h.logger.Info("opened authorization page")
	return nil
}

// consume reports whether state matches the outstanding one and retires it.
func (h *CallbackHandler) consume(state string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == "" || state != h.state {
		return false
	}
	h.state = ""
	return true
}

func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if !h.consume(q.Get("state")) {
		h.logger.Warn("callback rejected", "error", shared.ErrInvalidState)
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	if errParam := q.Get("error"); errParam != "" {
		h.logger.Warn("authorization denied", "error", errParam, "description", q.Get("error_description"))
		h.deliver(r.Context(), session.EncodeError(errParam))
		h.render(w, http.StatusOK, titleFailed, "Spotify reported: "+errParam)
		return
	}

	code := q.Get("code")
	if code == "" {
		h.deliver(r.Context(), session.EncodeError("missing authorization code"))
		h.render(w, http.StatusBadRequest, titleFailed, "No authorization code was returned.")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, h.httpClient)

	token, err := h.config.Exchange(ctx, code)
	if err != nil {
		h.logger.Error("token exchange failed", "error", err)
		h.deliver(r.Context(), session.EncodeError("token exchange failed"))
		h.render(w, http.StatusBadGateway, titleFailed, "The authorization code could not be exchanged.")
		return
	}

	h.deliver(r.Context(), session.EncodeToken(token.AccessToken))
	h.render(w, http.StatusOK, titleSuccess, "You can close this window and return to the terminal.")
}

func (h *CallbackHandler) deliver(ctx context.Context, raw []byte) {
	if err := h.inbox.Post(ctx, raw); err != nil {
		h.logger.Error("failed to deliver completion message", "error", err)
	}
}

const (
	titleSuccess = "Authorization Successful"
	titleFailed  = "Authorization Failed"
)

var page = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f5f5f5; }
        .container { text-align: center; background: white; padding: 2rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: {{.Color}}; margin: 0 0 1rem 0; }
        p { color: #666; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <p>{{.Detail}}</p>
    </div>
</body>
</html>
`))

func (h *CallbackHandler) render(w http.ResponseWriter, status int, title, detail string) {
	color := template.CSS("#1DB954")
	if status != http.StatusOK || title != titleSuccess {
		color = template.CSS("#E22134")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	data := map[string]any{"Title": title, "Detail": detail, "Color": color}
	if err := page.Execute(w, data); err != nil {
		h.logger.Warn("failed to render callback page", "error", err)
	}
}
