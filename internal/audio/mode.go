// Package audio owns the single audio subsystem shared by microphone capture
// and spoken playback.
package audio

import (
	"encoding/json"
	"fmt"
)

// Mode is the committed state of the audio subsystem.
type Mode int

const (
	ModeIdle Mode = iota
	ModeCapturing
	ModePlaying
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeCapturing:
		return "capturing"
	case ModePlaying:
		return "playing"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MarshalJSON encodes the mode as its name.
func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// Settings is the hardware configuration applied on a mode transition.
type Settings struct {
	AllowsRecording         bool
	StaysActiveInBackground bool
	PlaysInSilentMode       bool
	// DuckOthers lowers other audio instead of stopping it.
	DuckOthers bool
	// ForceSpeaker routes output to the loudspeaker, never the earpiece.
	ForceSpeaker bool
}

// CaptureSettings enables recording while keeping speaker routing.
func CaptureSettings() Settings {
	return Settings{
		AllowsRecording:         true,
		StaysActiveInBackground: true,
		PlaysInSilentMode:       true,
		DuckOthers:              true,
		ForceSpeaker:            true,
	}
}

// PlaybackSettings disables recording so the platform leaves call routing.
func PlaybackSettings() Settings {
	return Settings{
		AllowsRecording:         false,
		StaysActiveInBackground: true,
		PlaysInSilentMode:       true,
		DuckOthers:              true,
		ForceSpeaker:            true,
	}
}
