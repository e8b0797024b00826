package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeEngine struct {
	mu       sync.Mutex
	calls    []string
	applyErr error

	busy    atomic.Bool
	overlap atomic.Bool
}

func (f *fakeEngine) Apply(ctx context.Context, s Settings) error {
	if !f.busy.CompareAndSwap(false, true) {
		f.overlap.Store(true)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.AllowsRecording {
		f.calls = append(f.calls, "apply:capture")
	} else {
		f.calls = append(f.calls, "apply:playback")
	}
	if f.applyErr != nil {
		f.busy.Store(false)
	}
	return f.applyErr
}

func (f *fakeEngine) SetEnabled(ctx context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if enabled {
		f.calls = append(f.calls, "enable")
	} else {
		f.calls = append(f.calls, "disable")
	}
	return nil
}

func (f *fakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func fastConfig() Config {
	return Config{CaptureSettle: 5 * time.Millisecond, PlaybackSettle: 10 * time.Millisecond, ResetPause: 2 * time.Millisecond}
}

func newTestController(e *fakeEngine, cfg Config, hooks Hooks) *Controller {
	prev := hooks.OnModeChange
	hooks.OnModeChange = func(from, to Mode) {
		e.busy.Store(false)
		if prev != nil {
			prev(from, to)
		}
	}
	return NewController(e, cfg, hooks, zerolog.Nop())
}

func equalCalls(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestController_CaptureThenPlaybackResets(t *testing.T) {
	e := &fakeEngine{}
	c := newTestController(e, fastConfig(), Hooks{})
	ctx := context.Background()

	if c.Mode() != ModeIdle {
		t.Fatalf("initial mode = %v", c.Mode())
	}
	if err := c.EnterCapture(ctx); err != nil {
		t.Fatalf("EnterCapture: %v", err)
	}
	if c.Mode() != ModeCapturing {
		t.Fatalf("mode = %v, want capturing", c.Mode())
	}
	if err := c.EnterPlayback(ctx); err != nil {
		t.Fatalf("EnterPlayback: %v", err)
	}
	if c.Mode() != ModePlaying {
		t.Fatalf("mode = %v, want playing", c.Mode())
	}
	want := []string{"apply:capture", "disable", "enable", "apply:playback"}
	if got := e.Calls(); !equalCalls(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestController_ExplicitResetIsNotRepeated(t *testing.T) {
	e := &fakeEngine{}
	c := newTestController(e, fastConfig(), Hooks{})
	ctx := context.Background()

	_ = c.EnterCapture(ctx)
	if err := c.ResetHardware(ctx); err != nil {
		t.Fatalf("ResetHardware: %v", err)
	}
	if c.Mode() != ModeCapturing {
		t.Fatalf("reset changed mode to %v", c.Mode())
	}
	_ = c.EnterPlayback(ctx)
	want := []string{"apply:capture", "disable", "enable", "apply:playback"}
	if got := e.Calls(); !equalCalls(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestController_Idempotent(t *testing.T) {
	e := &fakeEngine{}
	c := newTestController(e, fastConfig(), Hooks{})
	ctx := context.Background()

	_ = c.EnterCapture(ctx)
	_ = c.EnterCapture(ctx)
	_ = c.EnterPlayback(ctx)
	_ = c.EnterPlayback(ctx)
	want := []string{"apply:capture", "disable", "enable", "apply:playback"}
	if got := e.Calls(); !equalCalls(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestController_WaitsSettleDelay(t *testing.T) {
	e := &fakeEngine{}
	cfg := fastConfig()
	cfg.PlaybackSettle = 40 * time.Millisecond
	c := newTestController(e, cfg, Hooks{})

	start := time.Now()
	if err := c.EnterPlayback(context.Background()); err != nil {
		t.Fatalf("EnterPlayback: %v", err)
	}
	if elapsed := time.Since(start); elapsed < cfg.PlaybackSettle {
		t.Fatalf("EnterPlayback returned after %v, want >= %v", elapsed, cfg.PlaybackSettle)
	}
}

func TestController_TransitionsSerialize(t *testing.T) {
	e := &fakeEngine{}
	var mu sync.Mutex
	var commits []Mode
	c := newTestController(e, fastConfig(), Hooks{OnModeChange: func(_, to Mode) {
		mu.Lock()
		commits = append(commits, to)
		mu.Unlock()
	}})

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = c.EnterCapture(context.Background())
			} else {
				_ = c.EnterPlayback(context.Background())
			}
			switch m := c.Mode(); m {
			case ModeCapturing, ModePlaying:
			default:
				t.Errorf("observed mode %v", m)
			}
		}(i)
	}
	wg.Wait()

	if e.overlap.Load() {
		t.Fatalf("a transition started before the previous one committed")
	}
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(commits); i++ {
		if commits[i] == commits[i-1] {
			t.Fatalf("commit %d repeated mode %v: %v", i, commits[i], commits)
		}
	}
}

func TestController_ApplyFailureKeepsMode(t *testing.T) {
	e := &fakeEngine{applyErr: errors.New("session denied")}
	var faults atomic.Int32
	c := newTestController(e, fastConfig(), Hooks{OnFault: func(op string, err error) { faults.Add(1) }})

	if err := c.EnterPlayback(context.Background()); err != nil {
		t.Fatalf("EnterPlayback returned %v, want nil", err)
	}
	if c.Mode() != ModeIdle {
		t.Fatalf("mode = %v, want idle", c.Mode())
	}
	if faults.Load() != 1 {
		t.Fatalf("faults = %d, want 1", faults.Load())
	}
}

func TestController_CaptureInterruptsPlayback(t *testing.T) {
	e := &fakeEngine{}
	c := newTestController(e, fastConfig(), Hooks{})
	var interrupted atomic.Int32
	c.SetInterrupter(func() { interrupted.Add(1) })
	ctx := context.Background()

	_ = c.EnterCapture(ctx)
	if interrupted.Load() != 0 {
		t.Fatalf("interrupted from idle")
	}
	_ = c.EnterPlayback(ctx)
	_ = c.EnterCapture(ctx)
	if interrupted.Load() != 1 {
		t.Fatalf("interrupted = %d, want 1", interrupted.Load())
	}
}

func TestController_CancelDuringSettle(t *testing.T) {
	e := &fakeEngine{}
	cfg := fastConfig()
	cfg.PlaybackSettle = time.Second
	c := newTestController(e, cfg, Hooks{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.EnterPlayback(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("EnterPlayback = %v, want deadline exceeded", err)
	}
	if c.Mode() != ModeIdle {
		t.Fatalf("mode = %v, want idle", c.Mode())
	}

	// the queue is free again
	e.busy.Store(false)
	cfg2 := fastConfig()
	c.cfg = cfg2
	if err := c.EnterCapture(context.Background()); err != nil {
		t.Fatalf("EnterCapture after cancel: %v", err)
	}
	if c.Mode() != ModeCapturing {
		t.Fatalf("mode = %v, want capturing", c.Mode())
	}
}

func TestMode_String(t *testing.T) {
	if ModeCapturing.String() != "capturing" || Mode(9).String() != "mode(9)" {
		t.Fatalf("unexpected names")
	}
	b, _ := ModePlaying.MarshalJSON()
	if string(b) != `"playing"` {
		t.Fatalf("MarshalJSON = %s", b)
	}
}

func TestController_ReleaseAfterCapture(t *testing.T) {
	e := &fakeEngine{}
	c := newTestController(e, fastConfig(), Hooks{})
	ctx := context.Background()

	if err := c.Release(ctx); err != nil {
		t.Fatalf("Release idle: %v", err)
	}
	if len(e.Calls()) != 0 {
		t.Fatalf("idle release touched engine: %v", e.Calls())
	}

	if err := c.EnterCapture(ctx); err != nil {
		t.Fatalf("EnterCapture: %v", err)
	}
	if err := c.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if c.Mode() != ModeIdle {
		t.Fatalf("mode = %v, want idle", c.Mode())
	}
	want := []string{"apply:capture", "disable", "enable"}
	if got := e.Calls(); !equalCalls(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestController_CancelledWaiterDoesNotApply(t *testing.T) {
	e := &fakeEngine{}
	c := newTestController(e, fastConfig(), Hooks{})
	if err := c.acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.EnterPlayback(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()
	c.release()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("EnterPlayback = %v, want canceled", err)
	}
	if got := e.Calls(); len(got) != 0 {
		t.Fatalf("calls = %v, want none", got)
	}
	if c.Mode() != ModeIdle {
		t.Fatalf("mode = %v, want idle", c.Mode())
	}
}
