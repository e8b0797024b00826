package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/identify"
)

type fakeAPI struct {
	params *twilioApi.CreateMessageParams
	err    error
	delay  time.Duration
}

func (f *fakeAPI) CreateMessage(p *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	time.Sleep(f.delay)
	f.params = p
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestNewTwilio_RequiresFullConfig(t *testing.T) {
	if n := NewTwilio(Config{AccountSID: "AC1", AuthToken: "tok"}, zerolog.Nop()); n != nil {
		t.Fatalf("expected nil notifier for incomplete config")
	}
	if n := NewTwilio(Config{AccountSID: "AC1", AuthToken: "tok", From: "+100", To: "+200"}, zerolog.Nop()); n == nil {
		t.Fatalf("expected notifier")
	}
}

func TestNotify_SendsSMS(t *testing.T) {
	api := &fakeAPI{}
	n := &TwilioNotifier{api: api, from: "+100", to: "+200", logger: zerolog.Nop()}

	err := n.Notify(context.Background(), identify.Identity{ID: "u1", DisplayName: "Kim"}, "SOS 긴급 호출")
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if api.params == nil || *api.params.To != "+200" || *api.params.From != "+100" {
		t.Fatalf("params = %+v", api.params)
	}
	if got := *api.params.Body; got != "[Kim] SOS 긴급 호출 (user u1)" {
		t.Fatalf("body = %q", got)
	}
}

func TestNotify_Errors(t *testing.T) {
	n := &TwilioNotifier{api: &fakeAPI{err: errors.New("401")}, logger: zerolog.Nop()}
	if err := n.Notify(context.Background(), identify.Identity{ID: "u1"}, "x"); err == nil {
		t.Fatalf("expected api error")
	}

	slow := &TwilioNotifier{api: &fakeAPI{delay: time.Second}, logger: zerolog.Nop()}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := slow.Notify(ctx, identify.Identity{ID: "u1"}, "x"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestMessageBody_FallsBackToID(t *testing.T) {
	if got := messageBody(identify.Identity{ID: "u9"}, "help"); got != "[u9] help (user u9)" {
		t.Fatalf("body = %q", got)
	}
}
