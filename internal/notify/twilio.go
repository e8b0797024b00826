// Package notify alerts a guardian over SMS when the user confirms an
// emergency escalation.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/identify"
)

// Config holds Twilio credentials and the guardian's number.
type Config struct {
	AccountSID string
	AuthToken  string
	From       string
	To         string
}

// Enabled reports whether every field needed to send is set.
func (c Config) Enabled() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.From != "" && c.To != ""
}

// messageCreator is the part of the Twilio REST API used here.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioNotifier sends escalation notices as SMS.
type TwilioNotifier struct {
	api    messageCreator
	from   string
	to     string
	logger zerolog.Logger
}

// NewTwilio returns a notifier, or nil when cfg is incomplete.
func NewTwilio(cfg Config, logger zerolog.Logger) *TwilioNotifier {
	if !cfg.Enabled() {
		return nil
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioNotifier{
		api:    client.Api,
		from:   cfg.From,
		to:     cfg.To,
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// Notify sends one SMS naming the user. The Twilio client takes no
// context, so ctx only bounds how long the caller waits.
func (n *TwilioNotifier) Notify(ctx context.Context, who identify.Identity, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(n.to)
	params.SetFrom(n.from)
	params.SetBody(messageBody(who, text))

	type result struct {
		msg *twilioApi.ApiV2010Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := n.api.CreateMessage(params)
		done <- result{msg, err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("twilio create message: %w", r.err)
		}
		if r.msg == nil {
			return errors.New("twilio create message: empty response")
		}
		sid := ""
		if r.msg.Sid != nil {
			sid = *r.msg.Sid
		}
		n.logger.Info().Str("sid", sid).Str("user", who.ID).Msg("guardian notified")
		return nil
	}
}

func messageBody(who identify.Identity, text string) string {
	name := who.DisplayName
	if name == "" {
		name = who.ID
	}
	return fmt.Sprintf("[%s] %s (user %s)", name, text, who.ID)
}
