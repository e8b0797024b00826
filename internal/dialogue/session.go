// Package dialogue runs the turn-based conversation with the remote assistant
// once a user has been identified.
package dialogue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/announcer"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/channel"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/identify"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/locale"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/protocol"
)

var (
	// ErrUnknownTurn is returned by ConfirmTurn for an id not in the transcript.
	ErrUnknownTurn = errors.New("dialogue: unknown turn")
	// ErrClosed is returned once the session has been torn down.
	ErrClosed = errors.New("dialogue: session closed")
	// ErrEmptyRecording is returned when a capture produced no audio.
	ErrEmptyRecording = errors.New("dialogue: empty recording")
)

// Announcer speaks agent replies and local acknowledgments.
type Announcer interface {
	Announce(text, locale string) *announcer.Utterance
	StopAll()
}

// AudioModes is the shared audio mode controller.
type AudioModes interface {
	EnterCapture(ctx context.Context) error
	ResetHardware(ctx context.Context) error
	EnterPlayback(ctx context.Context) error
}

// Recorder captures one utterance at a time from the microphone.
type Recorder interface {
	Permission(ctx context.Context) error
	Start(ctx context.Context) error
	// Stop ends the capture and returns the encoded audio and its format.
	Stop(ctx context.Context) (data []byte, format string, err error)
}

// Notifier alerts a guardian when an escalation is confirmed.
type Notifier interface {
	Notify(ctx context.Context, who identify.Identity, text string) error
}

// Deps are the collaborators of a session. Notifier may be nil.
type Deps struct {
	Bus       channel.Bus
	Audio     AudioModes
	Recorder  Recorder
	Announcer Announcer
	Notifier  Notifier
}

// Config tunes a session.
type Config struct {
	Locale string
	// ReleaseDelay is waited after stopping the recorder before the
	// hardware reset, so the platform lets go of the microphone.
	ReleaseDelay time.Duration
	// ResponseTimeout bounds the wait for a command-response.
	ResponseTimeout time.Duration
	// FallbackDelay precedes the local "not connected" turn.
	FallbackDelay time.Duration
	// StopTimeout bounds stopping the recorder, handing the audio back to
	// playback and uploading. It does not depend on the caller's context.
	StopTimeout   time.Duration
	Greeting      bool
	GreetingDelay time.Duration
	NotifyTimeout time.Duration
}

// DefaultConfig returns production timings.
func DefaultConfig() Config {
	return Config{
		Locale:          locale.Default,
		ReleaseDelay:    200 * time.Millisecond,
		ResponseTimeout: 20 * time.Second,
		FallbackDelay:   500 * time.Millisecond,
		StopTimeout:     5 * time.Second,
		GreetingDelay:   800 * time.Millisecond,
		NotifyTimeout:   15 * time.Second,
	}
}

// Snapshot is a copy of the session state for presentation.
type Snapshot struct {
	Identity          identify.Identity `json:"identity"`
	Turns             []Turn            `json:"turns"`
	Status            Status            `json:"status"`
	Recording         bool              `json:"recording"`
	AwaitingResponse  bool              `json:"awaitingResponse"`
	RetryAvailable    bool              `json:"retryAvailable"`
	EscalationPending bool              `json:"escalationPending"`
}

type request struct {
	event   string
	payload any
}

type captureSession struct {
	startedAt time.Time
}

// Session is the dialogue with one identified user. The transcript is
// append-only and lives only as long as the session.
type Session struct {
	identity identify.Identity
	deps     Deps
	cfg      Config
	phrases  locale.Phrases
	logger   zerolog.Logger

	mu         sync.Mutex
	turns      []Turn
	status     Status
	capture    *captureSession
	starting   bool
	stopping   bool
	deferred   string
	escalation bool
	pending    *request
	retryable  *request
	timer      *time.Timer
	seq        uint64
	scope      *channel.Scope
	closed     bool

	wg sync.WaitGroup
}

// NewSession returns an idle session for identity. Call Start to subscribe.
func NewSession(identity identify.Identity, deps Deps, cfg Config, logger zerolog.Logger) *Session {
	p := locale.For(cfg.Locale)
	return &Session{
		identity: identity,
		deps:     deps,
		cfg:      cfg,
		phrases:  p,
		status:   Status{Text: p.Idle, Mood: Happy},
		logger:   logger.With().Str("component", "dialogue").Str("user", identity.ID).Logger(),
	}
}

// Start subscribes to the service's replies.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.scope != nil {
		return
	}
	s.scope = channel.NewScope(s.deps.Bus)
	s.scope.On(protocol.EventCommandResponse, s.onCommandResponse)
	s.scope.On(protocol.EventUserSpeech, s.onUserSpeech)
	if s.cfg.Greeting {
		time.AfterFunc(s.cfg.GreetingDelay, s.greet)
	}
	s.logger.Info().Msg("session started")
}

// Close unsubscribes, silences speech and discards any capture in progress.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.scope != nil {
		s.scope.Close()
	}
	s.clearPendingLocked()
	capture := s.capture
	s.capture = nil
	s.deferred = ""
	s.mu.Unlock()

	s.deps.Announcer.StopAll()
	if capture != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if _, _, err := s.deps.Recorder.Stop(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("discard recording")
		}
		cancel()
	}
	s.wg.Wait()
	s.logger.Info().Msg("session closed")
}

// Identity returns the user of this session.
func (s *Session) Identity() identify.Identity { return s.identity }

// Turns returns a copy of the transcript.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.turns...)
}

// Status returns the current status line.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Recording reports whether a capture session is open.
func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture != nil
}

// Snapshot copies the full session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Identity:          s.identity,
		Turns:             append([]Turn{}, s.turns...),
		Status:            s.status,
		Recording:         s.capture != nil,
		AwaitingResponse:  s.pending != nil,
		RetryAvailable:    s.retryable != nil,
		EscalationPending: s.escalation,
	}
}

// SubmitText sends a typed command. Blank input is ignored and reported
// as false.
func (s *Session) SubmitText(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.appendLocked(User, text, Simple, "")
	s.setStatusLocked(s.phrases.Processing, Thinking)
	err := s.emitLocked(protocol.EventCommand, protocol.Command{UserID: s.identity.ID, Text: text}, true)
	s.mu.Unlock()

	if err != nil {
		s.emitFailed(protocol.EventCommand, err)
	}
	return true
}

// StartRecording opens a capture session: speech is silenced, the audio
// subsystem switches to capture and the recorder starts. A start while
// recording, or while the previous capture is still being handed back, is
// a no-op.
func (s *Session) StartRecording(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.holdingLocked() {
		s.mu.Unlock()
		return nil
	}
	s.starting = true
	s.mu.Unlock()

	err := s.startRecording(ctx)

	s.mu.Lock()
	s.starting = false
	if err != nil {
		s.flushLocked()
		s.mu.Unlock()
		return err
	}
	if s.closed {
		s.mu.Unlock()
		_, _, _ = s.deps.Recorder.Stop(ctx)
		return ErrClosed
	}
	s.capture = &captureSession{startedAt: time.Now()}
	s.setStatusLocked(s.phrases.Listening, Listening)
	s.mu.Unlock()
	return nil
}

func (s *Session) startRecording(ctx context.Context) error {
	s.deps.Announcer.StopAll()

	if err := s.deps.Recorder.Permission(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("microphone permission missing")
		s.setStatus(s.phrases.MicPermission, Troubled)
		return fmt.Errorf("microphone permission: %w", err)
	}
	if err := s.deps.Audio.EnterCapture(ctx); err != nil {
		return err
	}
	if err := s.deps.Recorder.Start(ctx); err != nil {
		s.logger.Error().Err(err).Msg("recording failed to start")
		s.setStatus(s.phrases.Failed, Troubled)
		return fmt.Errorf("start recording: %w", err)
	}
	s.logger.Debug().Msg("recording")
	return nil
}

// StopRecording closes the capture session, restores playback routing and
// uploads the utterance. Without an open capture it is a no-op. The work
// runs on a context detached from ctx: once the capture is closed the
// hardware is always handed back and the status never stays "processing".
func (s *Session) StopRecording(ctx context.Context) error {
	s.mu.Lock()
	c := s.capture
	s.capture = nil
	if c == nil {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	s.setStatusLocked(s.phrases.Processing, Thinking)
	s.mu.Unlock()

	timeout := s.cfg.StopTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().StopTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	data, format, stopErr := s.deps.Recorder.Stop(ctx)

	// hand the hardware back to playback whatever the recorder returned
	if err := s.handBack(ctx); err != nil {
		s.logger.Error().Err(err).Msg("audio hand-back failed")
		s.failStop()
		return fmt.Errorf("restore playback: %w", err)
	}

	if stopErr != nil {
		s.logger.Error().Err(stopErr).Msg("recording failed")
		s.failStop()
		return fmt.Errorf("stop recording: %w", stopErr)
	}
	if len(data) == 0 {
		s.logger.Warn().Msg("recording was empty")
		s.failStop()
		return ErrEmptyRecording
	}

	upload := protocol.AudioUpload{
		AudioData: base64.StdEncoding.EncodeToString(data),
		Format:    format,
		UserID:    s.identity.ID,
	}
	s.mu.Lock()
	s.stopping = false
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	err := s.emitLocked(protocol.EventAudioUpload, upload, true)
	s.flushLocked()
	s.mu.Unlock()
	if err != nil {
		s.emitFailed(protocol.EventAudioUpload, err)
		return nil
	}
	s.logger.Info().Dur("duration", time.Since(c.startedAt)).Int("bytes", len(data)).Str("format", format).Msg("utterance uploaded")
	return nil
}

func (s *Session) handBack(ctx context.Context) error {
	if err := sleep(ctx, s.cfg.ReleaseDelay); err != nil {
		return err
	}
	if err := s.deps.Audio.ResetHardware(ctx); err != nil {
		return err
	}
	return s.deps.Audio.EnterPlayback(ctx)
}

// failStop reports a capture that produced nothing to upload and speaks
// whatever was held back while recording.
func (s *Session) failStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopping = false
	if s.closed {
		return
	}
	s.setStatusLocked(s.phrases.SendFailed, Troubled)
	s.flushLocked()
}

// ToggleRecording starts a capture when none is open and stops it otherwise.
func (s *Session) ToggleRecording(ctx context.Context) error {
	s.mu.Lock()
	recording, starting := s.capture != nil, s.starting
	s.mu.Unlock()
	switch {
	case starting:
		return nil
	case recording:
		return s.StopRecording(ctx)
	default:
		return s.StartRecording(ctx)
	}
}

// ConfirmTurn answers a confirmable turn. Answering a resolved or simple
// turn again does nothing.
func (s *Session) ConfirmTurn(id string, accepted bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return ErrUnknownTurn
	}
	if !s.turns[idx].Actionable() {
		s.mu.Unlock()
		return nil
	}
	s.turns[idx].Resolved = true
	token := s.turns[idx].ActionToken

	if !accepted {
		s.appendLocked(User, s.phrases.Decline, Simple, "")
		s.setStatusLocked(s.phrases.Idle, Happy)
		s.mu.Unlock()
		s.announce(s.phrases.Cancelled)
		return nil
	}

	s.appendLocked(User, s.phrases.Accept, Simple, "")
	s.setStatusLocked(s.phrases.Executing, Thinking)
	err := s.emitLocked(protocol.EventActionConfirm, protocol.ActionConfirm{UserID: s.identity.ID, Command: token}, true)
	s.mu.Unlock()
	if err != nil {
		s.emitFailed(protocol.EventActionConfirm, err)
	}
	return nil
}

// TriggerEscalation opens the emergency confirmation and announces the prompt.
func (s *Session) TriggerEscalation() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.escalation = true
	s.mu.Unlock()
	s.announce(s.phrases.EscalationPrompt)
}

// ConfirmEscalation sends the emergency command and alerts the guardian. It
// reports false when no escalation was pending.
func (s *Session) ConfirmEscalation() bool {
	s.mu.Lock()
	if s.closed || !s.escalation {
		s.mu.Unlock()
		return false
	}
	s.escalation = false
	s.appendLocked(System, s.phrases.EscalationSent, Simple, "")
	s.setStatusLocked(s.phrases.EscalationStatus, Urgent)
	err := s.emitLocked(protocol.EventCommand, protocol.Command{UserID: s.identity.ID, Text: s.phrases.EscalationCommand}, false)
	if s.deps.Notifier != nil {
		s.wg.Add(1)
		go s.notifyGuardian()
	}
	s.mu.Unlock()

	if err != nil {
		// the status stays urgent; the guardian notice does not need the channel
		s.logger.Error().Err(err).Msg("escalation command not sent")
	}
	s.logger.Warn().Msg("escalation confirmed")
	s.announce(s.phrases.EscalationAck)
	return true
}

// CancelEscalation closes the emergency confirmation without sending.
func (s *Session) CancelEscalation() bool {
	s.mu.Lock()
	if s.closed || !s.escalation {
		s.mu.Unlock()
		return false
	}
	s.escalation = false
	s.mu.Unlock()
	s.announce(s.phrases.EscalationCancelled)
	return true
}

// Retry re-sends the request that timed out. It reports false when there
// is nothing to retry.
func (s *Session) Retry() bool {
	s.mu.Lock()
	req := s.retryable
	if s.closed || req == nil {
		s.mu.Unlock()
		return false
	}
	s.retryable = nil
	s.setStatusLocked(s.phrases.Processing, Thinking)
	err := s.emitLocked(req.event, req.payload, true)
	s.mu.Unlock()
	if err != nil {
		s.emitFailed(req.event, err)
	}
	return true
}

// HandleResponse renders a reply from the service and speaks it.
func (s *Session) HandleResponse(resp protocol.Response) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.clearPendingLocked()
	s.retryable = nil
	if resp.RecognizedText != "" {
		s.appendLocked(User, resp.RecognizedText, Simple, "")
	}
	if resp.Confirmable {
		s.appendLocked(Agent, resp.Text, Confirmable, resp.ActionToken)
	} else {
		s.appendLocked(Agent, resp.Text, Simple, "")
	}
	s.setStatusLocked(s.phrases.Idle, Happy)
	s.mu.Unlock()

	s.announce(resp.Text)
}

func (s *Session) onCommandResponse(payload json.RawMessage) {
	resp, err := protocol.DecodeResponse(payload)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ignoring command-response")
		return
	}
	s.HandleResponse(resp)
}

func (s *Session) onUserSpeech(payload json.RawMessage) {
	u, err := protocol.DecodeUserSpeech(payload)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ignoring user-speech")
		return
	}
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.appendLocked(User, text, Simple, "")
	s.setStatusLocked(s.phrases.Thinking, Thinking)
}

func (s *Session) greet() {
	text := s.phrases.Greeting(s.identity.DisplayName)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.appendLocked(Agent, text, Simple, "")
	s.mu.Unlock()
	s.announce(text)
}

func (s *Session) notifyGuardian() {
	defer s.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.NotifyTimeout)
	defer cancel()
	if err := s.deps.Notifier.Notify(ctx, s.identity, s.phrases.EscalationCommand); err != nil {
		s.logger.Error().Err(err).Msg("guardian notification failed")
		return
	}
	s.logger.Info().Msg("guardian notified")
}

// emitLocked sends one event. When await is set the response timer is armed
// and the request is kept for Retry.
func (s *Session) emitLocked(event string, payload any, await bool) error {
	if err := s.deps.Bus.Emit(event, payload); err != nil {
		return err
	}
	if await {
		s.armLocked(&request{event: event, payload: payload})
	}
	return nil
}

func (s *Session) armLocked(req *request) {
	s.clearPendingLocked()
	s.retryable = nil
	s.seq++
	seq := s.seq
	s.pending = req
	if s.cfg.ResponseTimeout > 0 {
		s.timer = time.AfterFunc(s.cfg.ResponseTimeout, func() { s.onTimeout(seq) })
	}
}

func (s *Session) clearPendingLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = nil
}

func (s *Session) onTimeout(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pending == nil || s.seq != seq {
		return
	}
	s.logger.Warn().Str("event", s.pending.event).Dur("timeout", s.cfg.ResponseTimeout).Msg("no response")
	s.retryable = s.pending
	s.pending = nil
	s.timer = nil
	s.setStatusLocked(s.phrases.NoResponse, Troubled)
}

// emitFailed surfaces a failed emission. Without a connection a local
// agent turn says so after a short delay.
func (s *Session) emitFailed(event string, err error) {
	if !errors.Is(err, channel.ErrNotConnected) {
		s.logger.Error().Err(err).Str("event", event).Msg("emit failed")
		s.setStatus(s.phrases.SendFailed, Troubled)
		return
	}
	s.logger.Warn().Str("event", event).Msg("not connected")
	s.setStatus(s.phrases.NotConnected, Troubled)
	time.AfterFunc(s.cfg.FallbackDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		s.appendLocked(Agent, s.phrases.NotConnected, Simple, "")
	})
}

func (s *Session) appendLocked(o Originator, text string, kind Kind, token string) Turn {
	t := Turn{
		ID:          uuid.NewString(),
		Originator:  o,
		Text:        text,
		Kind:        kind,
		ActionToken: token,
		Resolved:    kind != Confirmable,
		At:          time.Now(),
	}
	s.turns = append(s.turns, t)
	return t
}

func (s *Session) indexLocked(id string) int {
	for i := range s.turns {
		if s.turns[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) setStatus(text string, mood Mood) {
	s.mu.Lock()
	s.setStatusLocked(text, mood)
	s.mu.Unlock()
}

func (s *Session) setStatusLocked(text string, mood Mood) {
	s.status = Status{Text: text, Mood: mood}
}

// announce speaks text unless the microphone holds the audio subsystem,
// in which case the text waits for StopRecording. Only the latest held
// text is kept since a newer announcement would preempt it anyway.
func (s *Session) announce(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.holdingLocked() {
		s.deferred = text
		s.logger.Debug().Msg("announcement held until recording stops")
		return
	}
	s.deps.Announcer.Announce(text, s.cfg.Locale)
}

// holdingLocked reports whether the microphone side owns the audio
// subsystem: a capture is starting, open, or being handed back.
func (s *Session) holdingLocked() bool {
	return s.capture != nil || s.starting || s.stopping
}

// flushLocked speaks the held announcement once nothing holds the audio
// subsystem. A capture that reopened in the meantime keeps it held.
func (s *Session) flushLocked() {
	if s.deferred == "" || s.closed || s.holdingLocked() {
		return
	}
	text := s.deferred
	s.deferred = ""
	s.deps.Announcer.Announce(text, s.cfg.Locale)
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
