package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/locale"
)

// Identification interval bounds.
const (
	MinInterval = 1500 * time.Millisecond
	MaxInterval = 5 * time.Second
)

// Shortest settle delays the audio hardware tolerates. Shorter values are
// raised to these.
const (
	MinCaptureSettle  = 100 * time.Millisecond
	MinPlaybackSettle = 300 * time.Millisecond
	MinResetPause     = 50 * time.Millisecond
)

// TTS providers.
const (
	ProviderElevenLabs = "elevenlabs"
	ProviderDeepgram   = "deepgram"
	ProviderCommand    = "command"
)

// Config holds application configuration.
type Config struct {
	ServerURL      string
	ControlAddress string
	Locale         string
	LogLevel       string

	IdentifyInterval time.Duration
	FrameMaxWidth    int
	FrameQuality     int

	CaptureSettle   time.Duration
	PlaybackSettle  time.Duration
	ResetPause      time.Duration
	ReleaseDelay    time.Duration
	LeadIn          time.Duration
	ResponseTimeout time.Duration
	ReconnectDelay  time.Duration

	CameraDevice    string
	MicDevice       string
	RecordingFormat string

	TTSProvider       string
	DeepgramKey       string
	DeepgramModel     string
	ElevenLabsKey     string
	ElevenLabsVoiceID string
	SpeechCommand     string

	CaptureHook  string
	PlaybackHook string
	DisableHook  string
	EnableHook   string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	GuardianPhone    string

	Greeting bool
}

// fileConfig mirrors Config in the YAML file. Durations are strings
// such as "300ms".
type fileConfig struct {
	ServerURL      string `yaml:"server_url"`
	ControlAddress string `yaml:"control_address"`
	Locale         string `yaml:"locale"`
	LogLevel       string `yaml:"log_level"`

	Identify struct {
		Interval string `yaml:"interval"`
		MaxWidth int    `yaml:"max_width"`
		Quality  int    `yaml:"quality"`
	} `yaml:"identify"`

	Audio struct {
		CaptureSettle  string `yaml:"capture_settle"`
		PlaybackSettle string `yaml:"playback_settle"`
		ResetPause     string `yaml:"reset_pause"`
		ReleaseDelay   string `yaml:"release_delay"`
		LeadIn         string `yaml:"lead_in"`
		CaptureHook    string `yaml:"capture_hook"`
		PlaybackHook   string `yaml:"playback_hook"`
		DisableHook    string `yaml:"disable_hook"`
		EnableHook     string `yaml:"enable_hook"`
	} `yaml:"audio"`

	ResponseTimeout string `yaml:"response_timeout"`
	ReconnectDelay  string `yaml:"reconnect_delay"`

	Devices struct {
		Camera          string `yaml:"camera"`
		Microphone      string `yaml:"microphone"`
		RecordingFormat string `yaml:"recording_format"`
	} `yaml:"devices"`

	TTS struct {
		Provider          string `yaml:"provider"`
		DeepgramKey       string `yaml:"deepgram_api_key"`
		DeepgramModel     string `yaml:"deepgram_model"`
		ElevenLabsKey     string `yaml:"elevenlabs_api_key"`
		ElevenLabsVoiceID string `yaml:"elevenlabs_voice_id"`
		Command           string `yaml:"command"`
	} `yaml:"tts"`

	Twilio struct {
		AccountSID string `yaml:"account_sid"`
		AuthToken  string `yaml:"auth_token"`
		From       string `yaml:"from"`
		Guardian   string `yaml:"guardian"`
	} `yaml:"twilio"`

	Greeting *bool `yaml:"greeting"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ServerURL:        "ws://localhost:3000/ws",
		ControlAddress:   ":8080",
		Locale:           locale.Default,
		LogLevel:         "info",
		IdentifyInterval: MaxInterval,
		FrameMaxWidth:    640,
		FrameQuality:     20,
		CaptureSettle:    100 * time.Millisecond,
		PlaybackSettle:   300 * time.Millisecond,
		ResetPause:       50 * time.Millisecond,
		ReleaseDelay:     200 * time.Millisecond,
		LeadIn:           300 * time.Millisecond,
		ResponseTimeout:  20 * time.Second,
		ReconnectDelay:   2 * time.Second,
		RecordingFormat:  "m4a",
		TTSProvider:      ProviderElevenLabs,
		DeepgramModel:    "aura-2-thalia-en",
		SpeechCommand:    "espeak-ng -v {voice}",
	}
}

// Load reads .env, then the YAML file named by CONCIERGE_CONFIG (or
// path when non-empty), then environment variables, and returns the
// validated result.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("error loading .env file")
	}

	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("CONCIERGE_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = "concierge.yaml"
	}
	if err := cfg.loadFile(path, explicit); err != nil {
		return Config{}, err
	}

	cfg.loadEnv()
	cfg.warnMissing()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return c.merge(fc)
}

func (c *Config) merge(fc fileConfig) error {
	setString(&c.ServerURL, fc.ServerURL)
	setString(&c.ControlAddress, fc.ControlAddress)
	setString(&c.Locale, fc.Locale)
	setString(&c.LogLevel, fc.LogLevel)
	setInt(&c.FrameMaxWidth, fc.Identify.MaxWidth)
	setInt(&c.FrameQuality, fc.Identify.Quality)

	durations := []struct {
		dst *time.Duration
		key string
		raw string
	}{
		{&c.IdentifyInterval, "identify.interval", fc.Identify.Interval},
		{&c.CaptureSettle, "audio.capture_settle", fc.Audio.CaptureSettle},
		{&c.PlaybackSettle, "audio.playback_settle", fc.Audio.PlaybackSettle},
		{&c.ResetPause, "audio.reset_pause", fc.Audio.ResetPause},
		{&c.ReleaseDelay, "audio.release_delay", fc.Audio.ReleaseDelay},
		{&c.LeadIn, "audio.lead_in", fc.Audio.LeadIn},
		{&c.ResponseTimeout, "response_timeout", fc.ResponseTimeout},
		{&c.ReconnectDelay, "reconnect_delay", fc.ReconnectDelay},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}

	setString(&c.CaptureHook, fc.Audio.CaptureHook)
	setString(&c.PlaybackHook, fc.Audio.PlaybackHook)
	setString(&c.DisableHook, fc.Audio.DisableHook)
	setString(&c.EnableHook, fc.Audio.EnableHook)
	setString(&c.CameraDevice, fc.Devices.Camera)
	setString(&c.MicDevice, fc.Devices.Microphone)
	setString(&c.RecordingFormat, fc.Devices.RecordingFormat)
	setString(&c.TTSProvider, fc.TTS.Provider)
	setString(&c.DeepgramKey, fc.TTS.DeepgramKey)
	setString(&c.DeepgramModel, fc.TTS.DeepgramModel)
	setString(&c.ElevenLabsKey, fc.TTS.ElevenLabsKey)
	setString(&c.ElevenLabsVoiceID, fc.TTS.ElevenLabsVoiceID)
	setString(&c.SpeechCommand, fc.TTS.Command)
	setString(&c.TwilioAccountSID, fc.Twilio.AccountSID)
	setString(&c.TwilioAuthToken, fc.Twilio.AuthToken)
	setString(&c.TwilioFrom, fc.Twilio.From)
	setString(&c.GuardianPhone, fc.Twilio.Guardian)
	if fc.Greeting != nil {
		c.Greeting = *fc.Greeting
	}
	return nil
}

func (c *Config) loadEnv() {
	setString(&c.ServerURL, os.Getenv("CONCIERGE_SERVER_URL"))
	setString(&c.ControlAddress, os.Getenv("HTTP_ADDRESS"))
	setString(&c.Locale, os.Getenv("CONCIERGE_LOCALE"))
	setString(&c.LogLevel, os.Getenv("LOG_LEVEL"))

	envDuration(&c.IdentifyInterval, "IDENTIFY_INTERVAL")
	envInt(&c.FrameMaxWidth, "FRAME_MAX_WIDTH")
	envInt(&c.FrameQuality, "FRAME_QUALITY")
	envDuration(&c.CaptureSettle, "CAPTURE_SETTLE")
	envDuration(&c.PlaybackSettle, "PLAYBACK_SETTLE")
	envDuration(&c.ResetPause, "RESET_PAUSE")
	envDuration(&c.ReleaseDelay, "RELEASE_DELAY")
	envDuration(&c.LeadIn, "ANNOUNCER_LEAD_IN")
	envDuration(&c.ResponseTimeout, "RESPONSE_TIMEOUT")
	envDuration(&c.ReconnectDelay, "RECONNECT_DELAY")

	setString(&c.CameraDevice, os.Getenv("CAMERA_DEVICE"))
	setString(&c.MicDevice, os.Getenv("MIC_DEVICE"))
	setString(&c.RecordingFormat, os.Getenv("RECORDING_FORMAT"))

	setString(&c.TTSProvider, os.Getenv("TTS_PROVIDER"))
	setString(&c.DeepgramKey, os.Getenv("DEEPGRAM_API_KEY"))
	setString(&c.DeepgramModel, os.Getenv("DEEPGRAM_MODEL"))
	setString(&c.ElevenLabsKey, os.Getenv("ELEVENLABS_API_KEY"))
	setString(&c.ElevenLabsVoiceID, os.Getenv("ELEVENLABS_VOICE_ID"))
	setString(&c.SpeechCommand, os.Getenv("SPEECH_COMMAND"))

	setString(&c.CaptureHook, os.Getenv("AUDIO_CAPTURE_HOOK"))
	setString(&c.PlaybackHook, os.Getenv("AUDIO_PLAYBACK_HOOK"))
	setString(&c.DisableHook, os.Getenv("AUDIO_DISABLE_HOOK"))
	setString(&c.EnableHook, os.Getenv("AUDIO_ENABLE_HOOK"))

	setString(&c.TwilioAccountSID, os.Getenv("TWILIO_ACCOUNT_SID"))
	setString(&c.TwilioAuthToken, os.Getenv("TWILIO_AUTH_TOKEN"))
	setString(&c.TwilioFrom, os.Getenv("TWILIO_FROM_NUMBER"))
	setString(&c.GuardianPhone, os.Getenv("GUARDIAN_PHONE"))

	if v := os.Getenv("CONCIERGE_GREETING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Greeting = b
		} else {
			log.Warn().Str("value", v).Msg("CONCIERGE_GREETING is not a boolean, ignoring")
		}
	}
}

func (c *Config) warnMissing() {
	switch c.TTSProvider {
	case ProviderElevenLabs:
		if c.ElevenLabsKey == "" {
			log.Warn().Msg("ELEVENLABS_API_KEY not set - announcements will not be spoken")
		}
		if c.ElevenLabsVoiceID == "" {
			log.Warn().Msg("ELEVENLABS_VOICE_ID not set - set a concrete voice ID from your ElevenLabs dashboard")
		}
	case ProviderDeepgram:
		if c.DeepgramKey == "" {
			log.Warn().Msg("DEEPGRAM_API_KEY not set - announcements will not be spoken")
		}
	}
	if c.GuardianPhone != "" && (c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFrom == "") {
		log.Warn().Msg("GUARDIAN_PHONE set without full Twilio credentials - guardian will not be notified")
	}
}

// Validate rejects unusable values and clamps tunables into range.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("config: server url is required")
	}
	if !strings.HasPrefix(c.ServerURL, "ws://") && !strings.HasPrefix(c.ServerURL, "wss://") {
		return fmt.Errorf("config: server url %q must use ws:// or wss://", c.ServerURL)
	}
	switch c.TTSProvider {
	case ProviderElevenLabs, ProviderDeepgram, ProviderCommand:
	default:
		return fmt.Errorf("config: unknown tts provider %q", c.TTSProvider)
	}
	switch c.RecordingFormat {
	case "m4a", "wav":
	default:
		return fmt.Errorf("config: unsupported recording format %q", c.RecordingFormat)
	}
	if !locale.Supported(c.Locale) {
		log.Warn().Str("locale", c.Locale).Msgf("unsupported locale, using %s", locale.Default)
		c.Locale = locale.Default
	}

	if c.IdentifyInterval < MinInterval {
		c.IdentifyInterval = MinInterval
	}
	if c.IdentifyInterval > MaxInterval {
		c.IdentifyInterval = MaxInterval
	}
	if c.FrameMaxWidth <= 0 {
		c.FrameMaxWidth = 640
	}
	if c.FrameQuality < 1 || c.FrameQuality > 100 {
		c.FrameQuality = 20
	}
	clampMin("CAPTURE_SETTLE", &c.CaptureSettle, MinCaptureSettle)
	clampMin("PLAYBACK_SETTLE", &c.PlaybackSettle, MinPlaybackSettle)
	clampMin("RESET_PAUSE", &c.ResetPause, MinResetPause)
	clampMin("RELEASE_DELAY", &c.ReleaseDelay, 0)
	clampMin("ANNOUNCER_LEAD_IN", &c.LeadIn, 0)
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = 20 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("not an integer, ignoring")
		return
	}
	*dst = n
}

func envDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("not a duration, ignoring")
		return
	}
	*dst = d
}

func clampMin(key string, d *time.Duration, floor time.Duration) {
	if *d < floor {
		log.Warn().Str("key", key).Dur("value", *d).Dur("min", floor).Msg("below minimum, raising")
		*d = floor
	}
}
