package session

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Wire tags used by the authorization window.
const (
	TypeToken = "SPOTIFY_TOKEN"
	TypeError = "SPOTIFY_ERROR"
)

type MessageKind string

const (
	KindToken MessageKind = "token"
	KindError MessageKind = "error"
)

// CompletionMessage is the decoded outcome of an authorization attempt.
type CompletionMessage struct {
	Kind  MessageKind
	Token string
	Error string
}

// DecodeMessage reads a completion message. ok is false for anything that is not a recognised,
// well-formed message; such input must be ignored.
func DecodeMessage(raw []byte) (msg CompletionMessage, ok bool) {
	if !gjson.ValidBytes(raw) {
		return CompletionMessage{}, false
	}

	fields := gjson.GetManyBytes(raw, "type", "token", "error")
	typ, token, errMsg := fields[0], fields[1], fields[2]
	if typ.Type != gjson.String {
		return CompletionMessage{}, false
	}

	switch typ.Str {
	case TypeToken:
		if token.Type != gjson.String || token.Str == "" {
			return CompletionMessage{}, false
		}
		return CompletionMessage{Kind: KindToken, Token: token.Str}, true
	case TypeError:
		msg := CompletionMessage{Kind: KindError}
		if errMsg.Type == gjson.String {
			msg.Error = errMsg.Str
		}
		return msg, true
	default:
		return CompletionMessage{}, false
	}
}

type wireMessage struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
	Error string `json:"error,omitempty"`
}

// EncodeToken builds a SPOTIFY_TOKEN message.
func EncodeToken(token string) []byte {
	b, _ := json.Marshal(wireMessage{Type: TypeToken, Token: token})
	return b
}

// EncodeError builds a SPOTIFY_ERROR message.
func EncodeError(message string) []byte {
	b, _ := json.Marshal(wireMessage{Type: TypeError, Error: message})
	return b
}
