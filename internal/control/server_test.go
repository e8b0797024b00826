package control

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/audio"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/channel"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/concierge"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/media"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/protocol"
)

type camera struct{ frame []byte }

func (c camera) Permission(context.Context) error        { return nil }
func (c camera) Capture(context.Context) ([]byte, error) { return c.frame, nil }

type engine struct{}

func (engine) Apply(context.Context, audio.Settings) error { return nil }
func (engine) SetEnabled(context.Context, bool) error      { return nil }

type recorder struct{ permErr error }

func (r recorder) Permission(context.Context) error { return r.permErr }
func (recorder) Start(context.Context) error        { return nil }
func (recorder) Stop(context.Context) ([]byte, string, error) {
	return []byte("aac"), "m4a", nil
}

type speaker struct{}

func (speaker) Speak(context.Context, string, string) error { return nil }

type fixture struct {
	app *concierge.App
	bus *channel.Local
	srv *httptest.Server
}

func newFixture(t *testing.T, rec recorder) *fixture {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 16, 16)), nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	cfg := concierge.DefaultConfig()
	cfg.Audio = audio.Config{}
	cfg.Announcer.LeadIn = 0
	cfg.Identify.Interval = 10 * time.Millisecond
	cfg.Dialogue.ReleaseDelay = 0

	bus := channel.NewLocal()
	app := concierge.New(concierge.Deps{
		Bus:      bus,
		Engine:   engine{},
		Camera:   camera{frame: buf.Bytes()},
		Recorder: rec,
		Speaker:  speaker{},
	}, cfg, zerolog.Nop())
	srv := httptest.NewServer(New(app, zerolog.Nop()))
	t.Cleanup(func() {
		srv.Close()
		app.Close()
	})
	return &fixture{app: app, bus: bus, srv: srv}
}

// result mirrors Result with the enum fields left as their wire strings.
type result struct {
	Accepted bool `json:"accepted"`
	State    struct {
		Phase   string `json:"phase"`
		Session *struct {
			Turns             []json.RawMessage `json:"turns"`
			Recording         bool              `json:"recording"`
			EscalationPending bool              `json:"escalationPending"`
		} `json:"session"`
	} `json:"state"`
}

func (f *fixture) post(t *testing.T, path, body string) (int, result) {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var r result
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode, r
}

// identify runs the loop until the fake service recognizes the user.
func (f *fixture) identify(t *testing.T) {
	t.Helper()
	if code, _ := f.post(t, "/identify/start", ""); code != http.StatusOK {
		t.Fatalf("identify/start = %d", code)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(f.bus.Emitted(protocol.EventIdentify)) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no identify emission")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := f.bus.Deliver(protocol.EventAuthSuccess, map[string]string{"id": "u1", "name": "Kim"}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	for f.app.State().Phase != concierge.PhaseSession {
		if time.Now().After(deadline) {
			t.Fatalf("session did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealthAndState(t *testing.T) {
	f := newFixture(t, recorder{})

	resp, err := http.Get(f.srv.URL + "/healthz")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %v %v", resp, err)
	}
	resp.Body.Close()

	resp, err = http.Get(f.srv.URL + "/state")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	defer resp.Body.Close()
	var st map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st["phase"] != "identifying" || st["audioMode"] != "idle" || st["connected"] != true {
		t.Fatalf("state = %v", st)
	}
}

func TestSessionRoutesBeforeIdentify(t *testing.T) {
	f := newFixture(t, recorder{})
	for _, path := range []string{"/text", "/mic", "/retry", "/escalation/trigger"} {
		if code, _ := f.post(t, path, `{"text":"hi"}`); code != http.StatusConflict {
			t.Fatalf("%s = %d, want 409", path, code)
		}
	}
}

func TestTextAndConfirm(t *testing.T) {
	f := newFixture(t, recorder{})
	f.identify(t)

	code, r := f.post(t, "/text", `{"text":"   "}`)
	if code != http.StatusOK || r.Accepted {
		t.Fatalf("blank text = %d %+v", code, r)
	}
	code, r = f.post(t, "/text", `{"text":"turn off lights"}`)
	if code != http.StatusOK || !r.Accepted || len(r.State.Session.Turns) != 1 {
		t.Fatalf("text = %d %+v", code, r)
	}

	if _, err := f.bus.Deliver(protocol.EventCommandResponse, map[string]any{
		"text": "Turn off all lights?",
		"type": "confirm",
		"meta": "lights-off",
	}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	s, err := f.app.Session()
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	turns := s.Turns()
	if len(turns) != 2 || !turns[1].Actionable() {
		t.Fatalf("turns = %+v", turns)
	}

	if code, _ := f.post(t, "/turns/"+turns[1].ID+"/confirm", `{"accepted":true}`); code != http.StatusOK {
		t.Fatalf("confirm = %d", code)
	}
	if n := len(f.bus.Emitted(protocol.EventActionConfirm)); n != 1 {
		t.Fatalf("action-confirm = %d", n)
	}
	if code, _ := f.post(t, "/turns/nope/confirm", `{"accepted":true}`); code != http.StatusNotFound {
		t.Fatalf("unknown turn = %d", code)
	}
	if code, _ := f.post(t, "/identify/start", ""); code != http.StatusConflict {
		t.Fatalf("identify during session = %d", code)
	}
}

func TestMicToggleUploads(t *testing.T) {
	f := newFixture(t, recorder{})
	f.identify(t)

	code, r := f.post(t, "/mic", "")
	if code != http.StatusOK || !r.State.Session.Recording {
		t.Fatalf("mic start = %d %+v", code, r.State.Session)
	}
	code, r = f.post(t, "/mic", "")
	if code != http.StatusOK || r.State.Session.Recording {
		t.Fatalf("mic stop = %d %+v", code, r.State.Session)
	}
	if n := len(f.bus.Emitted(protocol.EventAudioUpload)); n != 1 {
		t.Fatalf("audio-upload = %d", n)
	}
}

func TestMicPermissionDenied(t *testing.T) {
	f := newFixture(t, recorder{permErr: media.ErrPermissionDenied})
	f.identify(t)
	if code, _ := f.post(t, "/mic/start", ""); code != http.StatusForbidden {
		t.Fatalf("mic/start = %d, want 403", code)
	}
}

func TestEscalationRoutes(t *testing.T) {
	f := newFixture(t, recorder{})
	f.identify(t)

	if code, r := f.post(t, "/escalation/confirm", ""); code != http.StatusOK || r.Accepted {
		t.Fatalf("confirm without trigger = %d %+v", code, r)
	}
	if code, r := f.post(t, "/escalation/trigger", ""); code != http.StatusOK || !r.State.Session.EscalationPending {
		t.Fatalf("trigger = %d %+v", code, r)
	}
	if code, r := f.post(t, "/escalation/confirm", ""); code != http.StatusOK || !r.Accepted {
		t.Fatalf("confirm = %d %+v", code, r)
	}
	if n := len(f.bus.Emitted(protocol.EventCommand)); n != 1 {
		t.Fatalf("escalation command = %d", n)
	}
}
