// Package identify runs the periodic camera identification loop that precedes
// a dialogue session.
package identify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/channel"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/locale"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/protocol"
)

// State of the loop.
type State int

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalJSON encodes the state as its name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Identity is the user confirmed by the remote service.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
}

// Camera grabs still frames.
type Camera interface {
	// Permission returns nil when the camera may be used.
	Permission(ctx context.Context) error
	Capture(ctx context.Context) ([]byte, error)
}

// Config tunes the loop.
type Config struct {
	Interval time.Duration
	MaxWidth int
	Quality  int
	Locale   string
}

// DefaultConfig returns a 5s cadence with small, low-quality frames.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Second,
		MaxWidth: 640,
		Quality:  20,
		Locale:   locale.Default,
	}
}

// Hooks observes the loop. Hooks run outside the loop's lock.
type Hooks struct {
	OnIdentified  func(Identity)
	OnStatus      func(string)
	OnStateChange func(State)
}

// Loop captures a frame every Interval and submits it for identification
// until the service confirms an identity or the loop is stopped. A tick that
// fires while the previous capture is still pending is skipped.
type Loop struct {
	bus     channel.Bus
	camera  Camera
	cfg     Config
	hooks   Hooks
	phrases locale.Phrases
	logger  zerolog.Logger

	mu       sync.Mutex
	state    State
	gen      uint64
	cancel   context.CancelFunc
	scope    *channel.Scope
	identity *Identity
	closed   bool

	sent    atomic.Int64
	skipped atomic.Int64
	wg      sync.WaitGroup
}

// New returns a stopped loop.
func New(bus channel.Bus, camera Camera, cfg Config, hooks Hooks, logger zerolog.Logger) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Loop{
		bus:     bus,
		camera:  camera,
		cfg:     cfg,
		hooks:   hooks,
		phrases: locale.For(cfg.Locale),
		logger:  logger.With().Str("component", "identify").Logger(),
	}
}

// State returns the current loop state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Identity returns the identity bound by the last success, if any.
func (l *Loop) Identity() (Identity, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.identity == nil {
		return Identity{}, false
	}
	return *l.identity, true
}

// Sent reports how many identify events were emitted.
func (l *Loop) Sent() int64 { return l.sent.Load() }

// Skipped reports how many ticks were skipped because a cycle was pending.
func (l *Loop) Skipped() int64 { return l.skipped.Load() }

// Start begins the loop. Without camera permission the loop stays stopped
// and the permission status is reported. Starting a running loop is a no-op.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.state == StateRunning || l.closed {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	if err := l.camera.Permission(ctx); err != nil {
		l.logger.Warn().Err(err).Msg("camera permission missing")
		l.status(l.phrases.CameraPermission)
		return fmt.Errorf("camera permission: %w", err)
	}

	l.mu.Lock()
	if l.state == StateRunning || l.closed {
		l.mu.Unlock()
		return nil
	}
	l.gen++
	gen := l.gen
	runCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.scope = channel.NewScope(l.bus)
	for _, ev := range []string{protocol.EventAuthSuccess, protocol.EventIdentifySuccess} {
		l.scope.On(ev, l.onSuccess(gen))
	}
	for _, ev := range []string{protocol.EventAuthFail, protocol.EventIdentifyFail} {
		l.scope.On(ev, l.onFail(gen))
	}
	l.state = StateRunning
	l.wg.Add(1)
	go l.run(runCtx, gen, new(atomic.Bool))
	l.mu.Unlock()

	l.logger.Info().Dur("interval", l.cfg.Interval).Msg("identification started")
	l.stateChanged(StateRunning)
	l.status(l.phrases.LookAtCamera)
	return nil
}

// Stop ends the loop. Results of a cycle still in flight are discarded.
func (l *Loop) Stop() {
	l.mu.Lock()
	stopped := l.stopLocked()
	l.mu.Unlock()
	if stopped {
		l.logger.Info().Msg("identification stopped")
		l.stateChanged(StateStopped)
	}
}

// SetFocus starts the loop on focus gain and stops it on focus loss.
func (l *Loop) SetFocus(ctx context.Context, focused bool) error {
	if focused {
		return l.Start(ctx)
	}
	l.Stop()
	return nil
}

// Close stops the loop for good and waits for pending cycles to exit.
func (l *Loop) Close() {
	l.Stop()
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.wg.Wait()
}

// stopLocked is the single cancellation point for success, explicit stop
// and focus loss.
func (l *Loop) stopLocked() bool {
	if l.state != StateRunning {
		return false
	}
	l.gen++
	l.cancel()
	l.cancel = nil
	l.scope.Close()
	l.scope = nil
	l.state = StateStopped
	return true
}

// run drives one generation. busy belongs to that generation, so a cycle
// left over from a previous run never causes ticks of this one to be skipped.
func (l *Loop) run(ctx context.Context, gen uint64, busy *atomic.Bool) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx, gen, busy)
		}
	}
}

func (l *Loop) tick(ctx context.Context, gen uint64, busy *atomic.Bool) {
	if !busy.CompareAndSwap(false, true) {
		l.skipped.Add(1)
		l.logger.Debug().Msg("previous cycle pending, skipping tick")
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer busy.Store(false)
		l.cycle(ctx, gen)
	}()
}

func (l *Loop) cycle(ctx context.Context, gen uint64) {
	frame, err := l.camera.Capture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.logger.Error().Err(err).Msg("capture failed")
		l.status(l.phrases.Failed)
		return
	}
	img, err := Transform(frame, l.cfg.MaxWidth, l.cfg.Quality)
	if err != nil {
		l.logger.Error().Err(err).Msg("frame transform failed")
		l.status(l.phrases.Failed)
		return
	}
	req := protocol.IdentifyRequest{Image: base64.StdEncoding.EncodeToString(img), Lang: l.cfg.Locale}

	if !l.current(gen) {
		l.logger.Debug().Msg("loop stopped during capture, discarding frame")
		return
	}
	if !l.bus.Connected() {
		l.logger.Debug().Msg("channel not connected, frame dropped")
		l.status(l.phrases.NotConnected)
		return
	}
	// The write may block on the network, so it runs outside the lock. A
	// reply to a frame that raced Stop is dropped with the closed scope.
	err = l.bus.Emit(protocol.EventIdentify, req)
	if err != nil {
		l.logger.Warn().Err(err).Msg("identify emit failed")
		return
	}
	l.sent.Add(1)
	l.logger.Debug().Int("bytes", len(img)).Msg("frame submitted")
}

func (l *Loop) onSuccess(gen uint64) channel.Handler {
	return func(payload json.RawMessage) {
		a, err := protocol.DecodeAuthSuccess(payload)
		if err != nil {
			l.logger.Warn().Err(err).Msg("ignoring auth-success")
			return
		}
		id := Identity{ID: a.ID, DisplayName: a.Name}

		l.mu.Lock()
		if l.gen != gen || l.state != StateRunning {
			l.mu.Unlock()
			return
		}
		l.identity = &id
		l.stopLocked()
		l.mu.Unlock()

		l.logger.Info().Str("user", id.ID).Msg("identified")
		l.stateChanged(StateStopped)
		l.status(l.phrases.Welcome(id.DisplayName))
		if l.hooks.OnIdentified != nil {
			l.hooks.OnIdentified(id)
		}
	}
}

func (l *Loop) onFail(gen uint64) channel.Handler {
	return func(json.RawMessage) {
		if l.current(gen) {
			l.status(l.phrases.AuthFailed)
		}
	}
}

// current reports whether gen is the running generation.
func (l *Loop) current(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen == gen && l.state == StateRunning
}

func (l *Loop) status(s string) {
	if l.hooks.OnStatus != nil {
		l.hooks.OnStatus(s)
	}
}

func (l *Loop) stateChanged(s State) {
	if l.hooks.OnStateChange != nil {
		l.hooks.OnStateChange(s)
	}
}
