package tts

import (
	"context"
	"errors"
	"fmt"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
	"github.com/rs/zerolog"
)

const (
	deepgramDefaultModel = "aura-2-thalia-en"
	deepgramIdleWindow   = 400 * time.Millisecond
	deepgramMaxDuration  = 12 * time.Second
)

// DeepgramClient synthesizes announcements over Deepgram's speak WebSocket.
type DeepgramClient struct {
	apiKey string
	model  string
	logger zerolog.Logger
}

// NewDeepgramClient returns a client for model, or the default Aura voice.
func NewDeepgramClient(apiKey, model string, logger zerolog.Logger) *DeepgramClient {
	if model == "" {
		model = deepgramDefaultModel
	}
	return &DeepgramClient{
		apiKey: apiKey,
		model:  model,
		logger: logger.With().Str("component", "deepgram").Logger(),
	}
}

// Synthesize streams linear16 audio for text. The socket gives no end of
// utterance marker, so the stream ends once audio has stopped arriving for
// deepgramIdleWindow, or at deepgramMaxDuration.
func (d *DeepgramClient) Synthesize(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcm := make(chan []byte, 4096)
	errc := make(chan error, 1)

	go func() {
		defer close(pcm)
		defer close(errc)
		if d.apiKey == "" {
			errc <- errors.New("deepgram: api key missing")
			return
		}
		if text == "" {
			return
		}
		if err := d.synthesize(ctx, text, pcm); err != nil {
			errc <- err
		}
	}()
	return pcm, errc
}

func (d *DeepgramClient) synthesize(ctx context.Context, text string, pcm chan<- []byte) error {
	arrived := make(chan struct{}, 1)
	cb := &speakCallback{onAudio: func(data []byte) {
		select {
		case pcm <- append([]byte(nil), data...):
		case <-ctx.Done():
			return
		}
		select {
		case arrived <- struct{}{}:
		default:
		}
	}}

	opts := &clientinterfaces.WSSpeakOptions{
		Model:      d.model,
		Encoding:   "linear16",
		SampleRate: SampleRate,
	}
	ws, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, opts, cb)
	if err != nil {
		return fmt.Errorf("deepgram: new client: %w", err)
	}
	defer ws.Stop()

	if !ws.Connect() {
		return errors.New("deepgram: connect failed")
	}
	if err := ws.SpeakWithText(text); err != nil {
		return fmt.Errorf("deepgram: speak: %w", err)
	}
	if err := ws.Flush(); err != nil {
		d.logger.Warn().Err(err).Msg("flush")
	}

	capTimer := time.NewTimer(deepgramMaxDuration)
	defer capTimer.Stop()
	// idle is armed by the first audio frame
	var idle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-arrived:
			idle = time.After(deepgramIdleWindow)
		case <-idle:
			return nil
		case <-capTimer.C:
			d.logger.Warn().Str("model", d.model).Msg("synthesis hit duration cap")
			return nil
		}
	}
}

// speakCallback forwards binary frames; the other socket messages are
// not needed for playback.
type speakCallback struct{ onAudio func([]byte) }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }

func (s *speakCallback) Binary(data []byte) error {
	if len(data) > 0 {
		s.onAudio(data)
	}
	return nil
}
