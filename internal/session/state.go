package session

import "encoding/json"

// Phase is the coarse lifecycle position derived from a [State].
type Phase int

const (
	Initializing Phase = iota
	Unauthenticated
	Authenticated
)

func (p Phase) String() string {
	switch p {
	case Initializing:
		return "initializing"
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// State is the snapshot published to the rest of the application. An empty Error means none.
type State struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	IsLoading       bool   `json:"isLoading"`
	Error           string `json:"error"`
}

// Phase reports Authenticated whenever a credential is active, even while startup validation is
// still pending behind a newer token.
func (s State) Phase() Phase {
	switch {
	case s.IsAuthenticated:
		return Authenticated
	case s.IsLoading:
		return Initializing
	default:
		return Unauthenticated
	}
}

// MarshalJSON encodes an empty Error as null.
func (s State) MarshalJSON() ([]byte, error) {
	var errField *string
	if s.Error != "" {
		errField = &s.Error
	}
	return json.Marshal(struct {
		IsAuthenticated bool    `json:"isAuthenticated"`
		IsLoading       bool    `json:"isLoading"`
		Error           *string `json:"error"`
	}{s.IsAuthenticated, s.IsLoading, errField})
}
