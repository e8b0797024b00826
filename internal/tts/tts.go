// Package tts turns announcement text into PCM audio and plays it.
package tts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// SampleRate is the PCM rate produced by every Streamer: 48kHz mono s16le.
const SampleRate = 48000

const bytesPerSample = 2

// Streamer synthesizes text into 48kHz PCM mono audio.
type Streamer interface {
	Synthesize(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// Sink consumes 48kHz PCM bytes and plays them.
type Sink interface {
	WritePCM(pcm []byte) error
	// FlushTail pushes out buffered audio at the end of an utterance.
	FlushTail() error
	// Reset drops queued audio immediately.
	Reset() error
}

// Speaker streams text chunk by chunk into a sink and returns once the
// audio has had time to play out.
type Speaker struct {
	stream Streamer
	sink   Sink
	logger zerolog.Logger
}

// NewSpeaker pairs a streamer with a sink.
func NewSpeaker(stream Streamer, sink Sink, logger zerolog.Logger) *Speaker {
	return &Speaker{stream: stream, sink: sink, logger: logger.With().Str("component", "tts").Logger()}
}

// Speak plays text. On cancel the sink is reset so sound stops at once.
// The locale is chosen by the configured voice, not per call.
func (s *Speaker) Speak(ctx context.Context, text, locale string) error {
	start := time.Now()
	var written int64

	for _, chunk := range chunkReply(text) {
		n, err := s.streamChunk(ctx, chunk)
		written += n
		if ctx.Err() != nil {
			_ = s.sink.Reset()
			return ctx.Err()
		}
		if err != nil {
			_ = s.sink.Reset()
			return err
		}
	}
	if err := s.sink.FlushTail(); err != nil {
		s.logger.Warn().Err(err).Msg("flush tail")
	}

	// the sink buffers; wait until the written audio has played
	remaining := pcmDuration(written) - time.Since(start)
	if remaining <= 0 {
		return nil
	}
	t := time.NewTimer(remaining)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		_ = s.sink.Reset()
		return ctx.Err()
	}
}

func (s *Speaker) streamChunk(ctx context.Context, chunk string) (int64, error) {
	pcmCh, errCh := s.stream.Synthesize(ctx, chunk)
	var written int64
	var streamErr error
	openPCM, openErr := true, true
	for openPCM || openErr {
		select {
		case b, ok := <-pcmCh:
			if !ok {
				openPCM = false
				pcmCh = nil
				continue
			}
			if len(b) == 0 {
				continue
			}
			if err := s.sink.WritePCM(b); err != nil {
				return written, fmt.Errorf("write pcm: %w", err)
			}
			written += int64(len(b))
		case e, ok := <-errCh:
			if ok && e != nil {
				streamErr = e
			}
			if !ok {
				openErr = false
				errCh = nil
			}
		case <-ctx.Done():
			return written, ctx.Err()
		}
	}
	if streamErr != nil && written == 0 {
		return written, streamErr
	}
	if streamErr != nil {
		s.logger.Warn().Err(streamErr).Msg("tts stream ended with error")
	}
	return written, nil
}

func pcmDuration(n int64) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(SampleRate*bytesPerSample)
}

// chunkReply splits text on sentence boundaries; each sentence is
// synthesized by its own request.
func chunkReply(reply string) []string {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil
	}
	var chunks []string
	var b strings.Builder
	for _, r := range reply {
		b.WriteRune(r)
		switch r {
		case '.', '!', '?', '。', '！', '？':
			if c := strings.TrimSpace(b.String()); c != "" {
				chunks = append(chunks, c)
			}
			b.Reset()
		}
	}
	if c := strings.TrimSpace(b.String()); c != "" {
		chunks = append(chunks, c)
	}
	return chunks
}
