// Package locale holds the user-facing phrases of the concierge per language.
package locale

import (
	"fmt"
	"strings"
)

const (
	Korean  = "ko-KR"
	English = "en-US"
)

// Default is used when no supported language matches.
const Default = Korean

// Phrases is one language's status lines, acknowledgments and announcements.
type Phrases struct {
	Tag string

	LookAtCamera     string
	AuthFailed       string
	CameraPermission string
	welcome          string
	greeting         string

	Idle          string
	Processing    string
	Thinking      string
	Listening     string
	Executing     string
	Failed        string
	SendFailed    string
	NotConnected  string
	NoResponse    string
	MicPermission string

	Accept    string
	Decline   string
	Cancelled string

	EscalationPrompt    string
	EscalationSent      string
	EscalationAck       string
	EscalationCancelled string
	EscalationStatus    string
	// EscalationCommand is the fixed command text sent to the service.
	EscalationCommand string
}

// Welcome is announced when identification succeeds.
func (p Phrases) Welcome(name string) string { return fmt.Sprintf(p.welcome, name) }

// Greeting opens a dialogue session.
func (p Phrases) Greeting(name string) string { return fmt.Sprintf(p.greeting, name) }

var korean = Phrases{
	Tag:              Korean,
	LookAtCamera:     "카메라를 바라봐 주세요...",
	AuthFailed:       "인증에 실패했습니다. 다시 시도해 주세요.",
	CameraPermission: "카메라 권한을 허용해 주세요.",
	welcome:          "%s님, 환영합니다.",
	greeting:         "%s님, 무엇을 도와드릴까요?",

	Idle:          "대기 중",
	Processing:    "처리 중...",
	Thinking:      "생각 중...",
	Listening:     "듣고 있어요...",
	Executing:     "실행 중...",
	Failed:        "오류 발생",
	SendFailed:    "전송 실패",
	NotConnected:  "서버 연결 안 됨",
	NoResponse:    "응답이 없습니다. 다시 시도해 주세요.",
	MicPermission: "마이크 권한을 허용해 주세요.",

	Accept:    "네, 해주세요.",
	Decline:   "아니요.",
	Cancelled: "취소했습니다.",

	EscalationPrompt:    "긴급 호출을 하시겠습니까?",
	EscalationSent:      "🚨 긴급 호출이 발송되었습니다.",
	EscalationAck:       "긴급 호출이 발송되었습니다.",
	EscalationCancelled: "취소되었습니다.",
	EscalationStatus:    "긴급 상황",
	EscalationCommand:   "SOS 긴급 호출",
}

var english = Phrases{
	Tag:              English,
	LookAtCamera:     "Please look at the camera...",
	AuthFailed:       "Identification failed. Please try again.",
	CameraPermission: "Please allow camera access.",
	welcome:          "Welcome, %s.",
	greeting:         "%s, how can I help?",

	Idle:          "Idle",
	Processing:    "Processing...",
	Thinking:      "Thinking...",
	Listening:     "Listening...",
	Executing:     "Executing...",
	Failed:        "Error",
	SendFailed:    "Send failed",
	NotConnected:  "Not connected to server",
	NoResponse:    "No response. Please try again.",
	MicPermission: "Please allow microphone access.",

	Accept:    "Yes, please.",
	Decline:   "No.",
	Cancelled: "Cancelled.",

	EscalationPrompt:    "Do you want to send an emergency call?",
	EscalationSent:      "🚨 Emergency call sent.",
	EscalationAck:       "Emergency call sent.",
	EscalationCancelled: "Cancelled.",
	EscalationStatus:    "Emergency",
	EscalationCommand:   "SOS emergency call",
}

// For returns the phrases for tag. Matching is on the primary language
// subtag, so "en", "en-GB" and "en-US" all select English.
func For(tag string) Phrases {
	lang := strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		lang = lang[:i]
	}
	switch lang {
	case "en":
		return english
	case "ko":
		return korean
	}
	return For(Default)
}

// Supported reports whether tag selects a language other than by fallback.
func Supported(tag string) bool {
	lang := strings.ToLower(strings.TrimSpace(tag))
	return strings.HasPrefix(lang, "en") || strings.HasPrefix(lang, "ko")
}
