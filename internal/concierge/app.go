// Package concierge wires the event channel, audio controller, announcer,
// identification loop and dialogue session into one client.
package concierge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/announcer"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/audio"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/channel"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/dialogue"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/identify"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/locale"
)

var (
	// ErrNotReady is returned by dialogue operations before a session exists.
	ErrNotReady = errors.New("concierge: no active session")
	// ErrSessionActive is returned when identification is requested while a
	// user is already being served.
	ErrSessionActive = errors.New("concierge: session already active")
)

// Phase of the client.
type Phase int

const (
	PhaseIdentifying Phase = iota
	PhaseWelcoming
	PhaseSession
)

func (p Phase) String() string {
	switch p {
	case PhaseIdentifying:
		return "identifying"
	case PhaseWelcoming:
		return "welcoming"
	case PhaseSession:
		return "session"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalJSON encodes the phase as its name.
func (p Phase) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

// Deps are the devices and services the client drives. Notifier may be nil.
type Deps struct {
	Bus      channel.Bus
	Engine   audio.Engine
	Camera   identify.Camera
	Recorder dialogue.Recorder
	Speaker  announcer.Speaker
	Notifier dialogue.Notifier
}

// Config groups the per-component settings.
type Config struct {
	Locale    string
	Audio     audio.Config
	Announcer announcer.Config
	Identify  identify.Config
	Dialogue  dialogue.Config
}

// DefaultConfig returns production settings for the default locale.
func DefaultConfig() Config {
	return Config{
		Locale:    locale.Default,
		Audio:     audio.DefaultConfig(),
		Announcer: announcer.DefaultConfig(),
		Identify:  identify.DefaultConfig(),
		Dialogue:  dialogue.DefaultConfig(),
	}
}

// State is a snapshot for the presentation layer.
type State struct {
	Phase          Phase              `json:"phase"`
	Connected      bool               `json:"connected"`
	AudioMode      audio.Mode         `json:"audioMode"`
	Speaking       bool               `json:"speaking"`
	Identification identify.State     `json:"identification"`
	AuthStatus     string             `json:"authStatus"`
	Identity       *identify.Identity `json:"identity,omitempty"`
	Session        *dialogue.Snapshot `json:"session,omitempty"`
}

// App is the client orchestrator. The identification loop runs until a user
// is recognized; the welcome is spoken; then a dialogue session starts.
type App struct {
	deps   Deps
	cfg    Config
	base   zerolog.Logger
	logger zerolog.Logger

	audio     *audio.Controller
	announcer *announcer.Announcer
	loop      *identify.Loop
	scope     *channel.Scope

	mu         sync.Mutex
	phase      Phase
	authStatus string
	identity   *identify.Identity
	session    *dialogue.Session
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the client. Nothing runs until StartIdentification.
func New(deps Deps, cfg Config, logger zerolog.Logger) *App {
	if cfg.Locale == "" {
		cfg.Locale = locale.Default
	}
	cfg.Identify.Locale = cfg.Locale
	cfg.Dialogue.Locale = cfg.Locale

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		deps:   deps,
		cfg:    cfg,
		base:   logger,
		logger: logger.With().Str("component", "concierge").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}

	a.audio = audio.NewController(deps.Engine, cfg.Audio, audio.Hooks{
		OnFault: func(op string, err error) {
			a.logger.Warn().Err(err).Str("op", op).Msg("audio fault, continuing")
		},
	}, logger)
	a.announcer = announcer.New(a.audio, deps.Speaker, cfg.Announcer, logger)
	a.audio.SetInterrupter(a.announcer.StopAll)

	a.loop = identify.New(deps.Bus, deps.Camera, cfg.Identify, identify.Hooks{
		OnIdentified: a.onIdentified,
		OnStatus:     a.setAuthStatus,
	}, logger)

	a.scope = channel.NewScope(deps.Bus)
	a.scope.On(channel.EventConnect, func(json.RawMessage) {
		a.logger.Info().Msg("channel connected")
	})
	a.scope.On(channel.EventDisconnect, func(json.RawMessage) {
		a.logger.Warn().Msg("channel disconnected")
	})
	return a
}

// Audio exposes the shared mode controller.
func (a *App) Audio() *audio.Controller { return a.audio }

// Announcer exposes the shared announcer.
func (a *App) Announcer() *announcer.Announcer { return a.announcer }

// StartIdentification starts the camera loop.
func (a *App) StartIdentification(ctx context.Context) error {
	a.mu.Lock()
	if a.phase != PhaseIdentifying {
		a.mu.Unlock()
		return ErrSessionActive
	}
	a.mu.Unlock()
	return a.loop.Start(ctx)
}

// StopIdentification stops the camera loop.
func (a *App) StopIdentification() { a.loop.Stop() }

// SetFocus forwards focus changes to the loop while identifying.
func (a *App) SetFocus(ctx context.Context, focused bool) error {
	a.mu.Lock()
	identifying := a.phase == PhaseIdentifying
	a.mu.Unlock()
	if !identifying {
		return nil
	}
	return a.loop.SetFocus(ctx, focused)
}

// Session returns the active dialogue session.
func (a *App) Session() (*dialogue.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil, ErrNotReady
	}
	return a.session, nil
}

// State returns a snapshot of the whole client.
func (a *App) State() State {
	a.mu.Lock()
	st := State{
		Phase:      a.phase,
		AuthStatus: a.authStatus,
	}
	if a.identity != nil {
		id := *a.identity
		st.Identity = &id
	}
	session := a.session
	a.mu.Unlock()

	st.Connected = a.deps.Bus.Connected()
	st.AudioMode = a.audio.Mode()
	st.Speaking = a.announcer.Speaking()
	st.Identification = a.loop.State()
	if session != nil {
		snap := session.Snapshot()
		st.Session = &snap
	}
	return st
}

// Close tears everything down. It is safe to call more than once.
func (a *App) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	session := a.session
	a.mu.Unlock()

	a.cancel()
	a.loop.Close()
	a.scope.Close()
	a.wg.Wait()
	if session != nil {
		session.Close()
	}
	a.announcer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.audio.Release(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("release audio")
	}
	a.logger.Info().Msg("closed")
}

func (a *App) setAuthStatus(s string) {
	a.mu.Lock()
	a.authStatus = s
	a.mu.Unlock()
}

// onIdentified runs once the loop has stopped. The session starts after the
// welcome finishes so the two never overlap on the speaker.
func (a *App) onIdentified(id identify.Identity) {
	a.mu.Lock()
	if a.closed || a.phase != PhaseIdentifying {
		a.mu.Unlock()
		return
	}
	a.phase = PhaseWelcoming
	a.identity = &id
	// counted under the lock so Close cannot start waiting before the add
	a.wg.Add(1)
	a.mu.Unlock()

	welcome := locale.For(a.cfg.Locale).Welcome(id.DisplayName)
	u := a.announcer.Announce(welcome, a.cfg.Locale)

	go func() {
		defer a.wg.Done()
		err := u.Wait(a.ctx)
		if a.ctx.Err() != nil {
			return
		}
		if err != nil {
			a.logger.Warn().Err(err).Msg("welcome announcement failed")
		}
		a.startSession(id)
	}()
}

func (a *App) startSession(id identify.Identity) {
	a.mu.Lock()
	if a.closed || a.session != nil {
		a.mu.Unlock()
		return
	}
	deps := dialogue.Deps{
		Bus:       a.deps.Bus,
		Audio:     a.audio,
		Recorder:  a.deps.Recorder,
		Announcer: a.announcer,
		Notifier:  a.deps.Notifier,
	}
	s := dialogue.NewSession(id, deps, a.cfg.Dialogue, a.base)
	a.session = s
	a.phase = PhaseSession
	a.mu.Unlock()

	s.Start()
	a.logger.Info().Str("user", id.ID).Msg("dialogue session started")
}
