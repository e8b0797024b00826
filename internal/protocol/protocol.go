// Package protocol defines the named events exchanged with the remote
// assistant service and normalizes inbound payloads into canonical types.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Outbound events.
const (
	EventIdentify      = "identify"
	EventCommand       = "command"
	EventAudioUpload   = "audio-upload"
	EventActionConfirm = "action-confirm"
)

// Inbound events. Some servers use the identify-* names for the auth-*
// events; both are accepted.
const (
	EventAuthSuccess     = "auth-success"
	EventIdentifySuccess = "identify-success"
	EventAuthFail        = "auth-fail"
	EventIdentifyFail    = "identify-fail"
	EventCommandResponse = "command-response"
	EventUserSpeech      = "user-speech"
)

// Response types carried in command-response.type.
const (
	TypeSimple  = "simple"
	TypeConfirm = "confirm"
)

// IdentifyRequest submits one camera frame for identification.
type IdentifyRequest struct {
	Image string `json:"image"`
	Lang  string `json:"lang"`
}

// AuthSuccess carries the identity confirmed by the remote service.
type AuthSuccess struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Command submits a textual command for the identified user.
type Command struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
}

// AudioUpload submits one recorded utterance.
type AudioUpload struct {
	AudioData string `json:"audioData"`
	Format    string `json:"format"`
	UserID    string `json:"userId"`
}

// ActionConfirm confirms the action token of a confirmable response.
type ActionConfirm struct {
	UserID  string `json:"userId"`
	Command string `json:"command"`
}

// UserSpeech is a server-pushed transcript sent before the response.
type UserSpeech struct {
	Text string `json:"text"`
}

// Response is the canonical form of a command-response payload.
type Response struct {
	Text           string
	Confirmable    bool
	ActionToken    string
	RecognizedText string
}

type wireResponse struct {
	Text           string          `json:"text"`
	Type           string          `json:"type"`
	Meta           json.RawMessage `json:"meta,omitempty"`
	RecognizedText string          `json:"recognized_text,omitempty"`
}

type wireMeta struct {
	RecognizedText string `json:"recognized_text"`
	Command        string `json:"command"`
	Action         string `json:"action"`
}

// DecodeResponse parses a command-response payload. recognized_text may
// arrive top-level or nested under meta; the top-level value wins. meta is
// either the action token itself (string) or an object holding it.
func DecodeResponse(data []byte) (Response, error) {
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return Response{}, fmt.Errorf("decode command-response: %w", err)
	}

	r := Response{
		Text:           w.Text,
		Confirmable:    strings.EqualFold(strings.TrimSpace(w.Type), TypeConfirm),
		RecognizedText: strings.TrimSpace(w.RecognizedText),
	}

	meta := bytes.TrimSpace(w.Meta)
	switch {
	case len(meta) == 0 || bytes.Equal(meta, []byte("null")):
	case meta[0] == '"':
		var token string
		if err := json.Unmarshal(meta, &token); err != nil {
			return Response{}, fmt.Errorf("decode command-response meta: %w", err)
		}
		r.ActionToken = token
	case meta[0] == '{':
		var m wireMeta
		if err := json.Unmarshal(meta, &m); err != nil {
			return Response{}, fmt.Errorf("decode command-response meta: %w", err)
		}
		if r.RecognizedText == "" {
			r.RecognizedText = strings.TrimSpace(m.RecognizedText)
		}
		r.ActionToken = m.Command
		if r.ActionToken == "" {
			r.ActionToken = m.Action
		}
		if r.ActionToken == "" && r.Confirmable {
			// the object is the token; hand it back verbatim
			r.ActionToken = string(meta)
		}
	default:
		r.ActionToken = string(meta)
	}

	if !r.Confirmable {
		r.ActionToken = ""
	}
	return r, nil
}

// DecodeAuthSuccess parses an auth-success payload.
func DecodeAuthSuccess(data []byte) (AuthSuccess, error) {
	var a AuthSuccess
	if err := json.Unmarshal(data, &a); err != nil {
		return AuthSuccess{}, fmt.Errorf("decode auth-success: %w", err)
	}
	if a.ID == "" {
		return AuthSuccess{}, fmt.Errorf("decode auth-success: missing id")
	}
	return a, nil
}

// DecodeUserSpeech parses a user-speech payload.
func DecodeUserSpeech(data []byte) (UserSpeech, error) {
	var u UserSpeech
	if err := json.Unmarshal(data, &u); err != nil {
		return UserSpeech{}, fmt.Errorf("decode user-speech: %w", err)
	}
	return u, nil
}
