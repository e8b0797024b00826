package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

const (
	elevenLabsBaseURL = "https://api.elevenlabs.io"
	// multilingual, so Korean and English voices share one model
	elevenLabsModel = "eleven_flash_v2_5"
	// matches SampleRate
	elevenLabsFormat = "pcm_48000"
)

// ElevenLabsClient synthesizes announcements with the ElevenLabs streaming
// endpoint. BaseURL and HTTP may be replaced before first use.
type ElevenLabsClient struct {
	APIKey  string
	VoiceID string
	Model   string
	BaseURL string
	HTTP    *http.Client

	logger zerolog.Logger
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	SpeakerBoost    bool    `json:"use_speaker_boost"`
}

type elevenLabsRequest struct {
	ModelID  string        `json:"model_id"`
	Text     string        `json:"text"`
	Settings voiceSettings `json:"voice_settings"`
}

// NewElevenLabsClient returns a client for voiceID.
func NewElevenLabsClient(apiKey, voiceID string, logger zerolog.Logger) *ElevenLabsClient {
	return &ElevenLabsClient{
		APIKey:  apiKey,
		VoiceID: voiceID,
		Model:   elevenLabsModel,
		BaseURL: elevenLabsBaseURL,
		HTTP:    &http.Client{},
		logger:  logger.With().Str("component", "elevenlabs").Logger(),
	}
}

// Synthesize streams PCM for text as the response body arrives.
func (e *ElevenLabsClient) Synthesize(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcm := make(chan []byte, 64)
	errc := make(chan error, 1)
	go func() {
		defer close(pcm)
		defer close(errc)
		if e.APIKey == "" || e.VoiceID == "" {
			errc <- errors.New("elevenlabs: api key or voice id missing")
			return
		}
		if err := e.stream(ctx, text, pcm); err != nil && ctx.Err() == nil {
			errc <- err
		}
	}()
	return pcm, errc
}

func (e *ElevenLabsClient) endpoint() (string, error) {
	u, err := url.Parse(strings.TrimRight(e.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(e.VoiceID) + "/stream")
	if err != nil {
		return "", fmt.Errorf("elevenlabs: base url: %w", err)
	}
	q := u.Query()
	q.Set("model_id", e.Model)
	q.Set("output_format", elevenLabsFormat)
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (e *ElevenLabsClient) stream(ctx context.Context, text string, pcm chan<- []byte) error {
	endpoint, err := e.endpoint()
	if err != nil {
		return err
	}
	body, err := json.Marshal(elevenLabsRequest{
		ModelID:  e.Model,
		Text:     text,
		Settings: voiceSettings{Stability: 0.4, SimilarityBoost: 0.7, SpeakerBoost: true},
	})
	if err != nil {
		return fmt.Errorf("elevenlabs: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	client := e.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("elevenlabs: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	buf := make([]byte, 4096)
	var total int
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			select {
			case pcm <- append([]byte(nil), buf[:n]...):
			case <-ctx.Done():
				return ctx.Err()
			}
			total += n
		}
		if errors.Is(rerr, io.EOF) {
			e.logger.Debug().Int("bytes", total).Msg("stream complete")
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("elevenlabs: read: %w", rerr)
		}
	}
}
