package audio

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Engine is the platform audio API the controller drives.
type Engine interface {
	// Apply reconfigures the audio session for the next mode.
	Apply(ctx context.Context, s Settings) error
	// SetEnabled turns the whole audio engine off or on.
	SetEnabled(ctx context.Context, enabled bool) error
}

// Config holds the settle delays. The hardware needs time after each
// reconfiguration before the new routing is reliable.
type Config struct {
	CaptureSettle  time.Duration
	PlaybackSettle time.Duration
	ResetPause     time.Duration
}

// DefaultConfig returns the delays measured on real devices.
func DefaultConfig() Config {
	return Config{
		CaptureSettle:  100 * time.Millisecond,
		PlaybackSettle: 300 * time.Millisecond,
		ResetPause:     50 * time.Millisecond,
	}
}

// Hooks observes the controller. All fields are optional.
type Hooks struct {
	OnModeChange func(from, to Mode)
	OnFault      func(op string, err error)
}

// Controller serializes every transition of the shared audio subsystem as
// acquire, configure, settle, commit. Exactly one Controller exists per
// process; capture and playback paths receive it by reference.
type Controller struct {
	engine Engine
	cfg    Config
	hooks  Hooks
	logger zerolog.Logger

	// sem is the transition queue: one slot, held for a whole transition.
	sem chan struct{}

	mu          sync.Mutex
	mode        Mode
	needsReset  bool
	interrupter func()
}

// NewController returns a controller in ModeIdle.
func NewController(engine Engine, cfg Config, hooks Hooks, logger zerolog.Logger) *Controller {
	return &Controller{
		engine: engine,
		cfg:    cfg,
		hooks:  hooks,
		logger: logger.With().Str("component", "audio").Logger(),
		sem:    make(chan struct{}, 1),
	}
}

// Mode returns the last committed mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetInterrupter registers the function that silences in-flight playback
// before capture begins. It must not block.
func (c *Controller) SetInterrupter(fn func()) {
	c.mu.Lock()
	c.interrupter = fn
	c.mu.Unlock()
}

// EnterCapture switches to ModeCapturing, stopping playback first.
func (c *Controller) EnterCapture(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	c.mu.Lock()
	cur, interrupt := c.mode, c.interrupter
	c.mu.Unlock()
	if cur == ModeCapturing {
		return nil
	}
	if cur == ModePlaying && interrupt != nil {
		interrupt()
	}
	return c.transition(ctx, ModeCapturing, CaptureSettings(), c.cfg.CaptureSettle)
}

// EnterPlayback switches to ModePlaying. A capture session that was not
// followed by ResetHardware is reset here first.
func (c *Controller) EnterPlayback(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	c.mu.Lock()
	cur, dirty := c.mode, c.needsReset
	c.mu.Unlock()
	if cur == ModePlaying {
		return nil
	}
	if dirty {
		if err := c.reset(ctx); err != nil {
			return err
		}
	}
	return c.transition(ctx, ModePlaying, PlaybackSettings(), c.cfg.PlaybackSettle)
}

// ResetHardware disables and re-enables the engine to drop sticky capture
// routing. The committed mode is unchanged.
func (c *Controller) ResetHardware(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()
	return c.reset(ctx)
}

// Release returns to ModeIdle, resetting the hardware if a capture left
// it dirty.
func (c *Controller) Release(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	c.mu.Lock()
	cur, dirty := c.mode, c.needsReset
	c.mu.Unlock()
	if cur == ModeIdle && !dirty {
		return nil
	}
	if dirty {
		if err := c.reset(ctx); err != nil {
			return err
		}
	}
	c.commit(ModeIdle)
	return nil
}

func (c *Controller) reset(ctx context.Context) error {
	if err := c.engine.SetEnabled(ctx, false); err != nil {
		c.fault("disable", err)
	}
	if err := sleep(ctx, c.cfg.ResetPause); err != nil {
		return err
	}
	if err := c.engine.SetEnabled(ctx, true); err != nil {
		c.fault("enable", err)
	}
	c.mu.Lock()
	c.needsReset = false
	c.mu.Unlock()
	c.logger.Debug().Msg("hardware reset")
	return nil
}

// transition runs configure, settle and commit. A failed configure keeps the
// previous mode and is not returned: callers continue optimistically.
// Cancellation during settle leaves the previous mode committed.
func (c *Controller) transition(ctx context.Context, to Mode, s Settings, settle time.Duration) error {
	if err := c.engine.Apply(ctx, s); err != nil {
		c.fault("apply "+to.String(), err)
		return nil
	}
	if err := sleep(ctx, settle); err != nil {
		return err
	}
	c.commit(to)
	return nil
}

func (c *Controller) commit(to Mode) {
	c.mu.Lock()
	from := c.mode
	c.mode = to
	if to == ModeCapturing {
		c.needsReset = true
	}
	c.mu.Unlock()

	c.logger.Debug().Stringer("from", from).Stringer("to", to).Msg("mode committed")
	if c.hooks.OnModeChange != nil {
		c.hooks.OnModeChange(from, to)
	}
}

func (c *Controller) fault(op string, err error) {
	c.logger.Warn().Err(err).Str("op", op).Msg("audio configuration failed")
	if c.hooks.OnFault != nil {
		c.hooks.OnFault(op, err)
	}
}

// acquire takes the transition slot. A caller cancelled while queued gets
// its error even if the slot freed up at the same moment, so a preempted
// announcement never reconfigures hardware that capture has just claimed.
func (c *Controller) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		c.release()
		return err
	}
	return nil
}

func (c *Controller) release() { <-c.sem }

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
