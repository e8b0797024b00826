// Package announcer speaks short utterances through the shared audio
// subsystem. At most one utterance is audible; a new one preempts the old.
package announcer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Speaker renders text as audible speech. Speak blocks until playback
// finished or ctx is cancelled; on cancel it must stop sound promptly.
type Speaker interface {
	Speak(ctx context.Context, text, locale string) error
}

// Playback switches the audio subsystem to playback before speaking.
type Playback interface {
	EnterPlayback(ctx context.Context) error
}

// Config tunes the announcer.
type Config struct {
	// LeadIn is waited after the playback switch so the first syllable is
	// not clipped by late speaker routing.
	LeadIn time.Duration
}

// DefaultConfig returns the production lead-in.
func DefaultConfig() Config {
	return Config{LeadIn: 300 * time.Millisecond}
}

// Utterance is one announce request.
type Utterance struct {
	Text   string
	Locale string

	done chan struct{}
	err  error
}

// Done is closed once the utterance finished, failed or was cancelled.
func (u *Utterance) Done() <-chan struct{} { return u.done }

// Err is valid after Done: nil when spoken to completion, context.Canceled
// when preempted or stopped, otherwise the speaker error.
func (u *Utterance) Err() error {
	<-u.done
	return u.err
}

// Wait blocks until the utterance is done or ctx ends.
func (u *Utterance) Wait(ctx context.Context) error {
	select {
	case <-u.done:
		return u.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Announcer owns the single audible utterance.
type Announcer struct {
	playback Playback
	speaker  Speaker
	cfg      Config
	logger   zerolog.Logger

	mu         sync.Mutex
	current    *Utterance
	cancel     context.CancelFunc
	speaking   bool
	onSpeaking func(bool)
	closed     bool

	wg sync.WaitGroup
}

// New returns an idle announcer.
func New(playback Playback, speaker Speaker, cfg Config, logger zerolog.Logger) *Announcer {
	return &Announcer{
		playback: playback,
		speaker:  speaker,
		cfg:      cfg,
		logger:   logger.With().Str("component", "announcer").Logger(),
	}
}

// OnSpeakingChange registers a callback for speaking transitions. It runs
// under the announcer's lock: it must not block or call back into a.
func (a *Announcer) OnSpeakingChange(fn func(bool)) {
	a.mu.Lock()
	a.onSpeaking = fn
	a.mu.Unlock()
}

// Speaking reports whether speech is audible right now.
func (a *Announcer) Speaking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.speaking
}

// Announce cancels the current utterance and starts speaking text. It
// never blocks; wait on the returned Utterance for completion. Blank text
// completes immediately without touching the audio subsystem.
func (a *Announcer) Announce(text, locale string) *Utterance {
	u := &Utterance{Text: strings.TrimSpace(text), Locale: locale, done: make(chan struct{})}

	a.mu.Lock()
	a.stopLocked()
	if u.Text == "" || a.closed {
		a.mu.Unlock()
		if u.Text != "" {
			u.err = context.Canceled
		}
		close(u.done)
		return u
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.current = u
	a.cancel = cancel
	a.wg.Add(1)
	a.mu.Unlock()

	go a.run(ctx, u)
	return u
}

// StopAll silences any utterance. It does not wait for the speaker to
// return, so it is safe to call while holding the audio transition queue.
func (a *Announcer) StopAll() {
	a.mu.Lock()
	a.stopLocked()
	a.mu.Unlock()
}

// Close stops speech, rejects further announcements and waits for the
// speaking goroutines to exit.
func (a *Announcer) Close() {
	a.mu.Lock()
	a.closed = true
	a.stopLocked()
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *Announcer) stopLocked() {
	if a.cancel != nil {
		a.cancel()
	}
	a.current = nil
	a.cancel = nil
	a.setSpeakingLocked(false)
}

func (a *Announcer) run(ctx context.Context, u *Utterance) {
	defer a.wg.Done()
	defer close(u.done)

	err := a.speak(ctx, u)
	if ctx.Err() != nil {
		err = context.Canceled
	} else if err != nil {
		a.logger.Error().Err(err).Str("text", u.Text).Msg("speech failed")
	}
	u.err = err

	a.mu.Lock()
	if a.current == u {
		a.cancel()
		a.current = nil
		a.cancel = nil
		a.setSpeakingLocked(false)
	}
	a.mu.Unlock()
}

func (a *Announcer) speak(ctx context.Context, u *Utterance) error {
	if err := a.playback.EnterPlayback(ctx); err != nil {
		return err
	}
	if err := sleep(ctx, a.cfg.LeadIn); err != nil {
		return err
	}

	a.mu.Lock()
	if a.current != u {
		a.mu.Unlock()
		return context.Canceled
	}
	a.setSpeakingLocked(true)
	a.mu.Unlock()

	a.logger.Debug().Str("locale", u.Locale).Str("text", u.Text).Msg("speaking")
	return a.speaker.Speak(ctx, u.Text, u.Locale)
}

func (a *Announcer) setSpeakingLocked(v bool) {
	if a.speaking == v {
		return
	}
	a.speaking = v
	if a.onSpeaking != nil {
		a.onSpeaking(v)
	}
}

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
