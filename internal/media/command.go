package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/audio"
)

// splitCommand turns a configured command line into argv.
func splitCommand(line string) []string {
	return strings.Fields(line)
}

func runCommand(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return errNoCommand
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// HookEngine drives the audio session through configured shell commands,
// for example pactl calls that switch profiles or mute the source. Empty
// hooks are skipped.
type HookEngine struct {
	CaptureHook  string
	PlaybackHook string
	DisableHook  string
	EnableHook   string

	logger zerolog.Logger
}

// NewHookEngine returns an engine running the given hooks.
func NewHookEngine(capture, playback, disable, enable string, logger zerolog.Logger) *HookEngine {
	return &HookEngine{
		CaptureHook:  capture,
		PlaybackHook: playback,
		DisableHook:  disable,
		EnableHook:   enable,
		logger:       logger.With().Str("component", "audio-hooks").Logger(),
	}
}

// Apply runs the capture or playback hook depending on s.
func (e *HookEngine) Apply(ctx context.Context, s audio.Settings) error {
	hook := e.PlaybackHook
	if s.AllowsRecording {
		hook = e.CaptureHook
	}
	return e.run(ctx, hook)
}

// SetEnabled runs the enable or disable hook.
func (e *HookEngine) SetEnabled(ctx context.Context, enabled bool) error {
	if enabled {
		return e.run(ctx, e.EnableHook)
	}
	return e.run(ctx, e.DisableHook)
}

func (e *HookEngine) run(ctx context.Context, line string) error {
	argv := splitCommand(line)
	if len(argv) == 0 {
		return nil
	}
	e.logger.Debug().Strs("argv", argv).Msg("hook")
	return runCommand(ctx, argv)
}

// CommandSpeaker speaks through a local synthesizer such as espeak-ng. The
// text is appended as the last argument; {voice} in the command line is
// replaced by the voice configured for the locale.
type CommandSpeaker struct {
	Command string
	Voices  map[string]string
}

// NewCommandSpeaker returns a speaker running command.
func NewCommandSpeaker(command string) *CommandSpeaker {
	return &CommandSpeaker{
		Command: command,
		Voices:  map[string]string{"ko-KR": "ko", "en-US": "en-us"},
	}
}

// Speak blocks until the synthesizer exits. Cancelling ctx kills it.
func (s *CommandSpeaker) Speak(ctx context.Context, text, locale string) error {
	voice := s.Voices[locale]
	if voice == "" {
		voice = locale
	}
	argv := splitCommand(strings.ReplaceAll(s.Command, "{voice}", voice))
	if len(argv) == 0 {
		return errNoCommand
	}
	return runCommand(ctx, append(argv, text))
}
