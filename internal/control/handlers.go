package control

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/concierge"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/dialogue"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/media"
)

// Handlers serves the control routes.
type Handlers struct {
	Client Client
}

func NewHandlers(client Client) Handlers {
	return Handlers{Client: client}
}

// Result is returned by every POST route.
type Result struct {
	Accepted bool            `json:"accepted"`
	State    concierge.State `json:"state"`
}

type focusRequest struct {
	Focused bool `json:"focused"`
}

type textRequest struct {
	Text string `json:"text"`
}

type confirmRequest struct {
	Accepted bool `json:"accepted"`
}

func (h Handlers) Register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/state", h.state)

	e.POST("/identify/start", h.identifyStart)
	e.POST("/identify/stop", h.identifyStop)
	e.POST("/focus", h.focus)

	e.POST("/text", h.text)
	e.POST("/mic", h.mic)
	e.POST("/mic/start", h.micStart)
	e.POST("/mic/stop", h.micStop)
	e.POST("/turns/:id/confirm", h.confirm)
	e.POST("/escalation/trigger", h.escalationTrigger)
	e.POST("/escalation/confirm", h.escalationConfirm)
	e.POST("/escalation/cancel", h.escalationCancel)
	e.POST("/retry", h.retry)
}

func (h Handlers) state(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Client.State())
}

func (h Handlers) identifyStart(c echo.Context) error {
	if err := h.Client.StartIdentification(c.Request().Context()); err != nil {
		return httpError(err)
	}
	return h.result(c, true)
}

func (h Handlers) identifyStop(c echo.Context) error {
	h.Client.StopIdentification()
	return h.result(c, true)
}

func (h Handlers) focus(c echo.Context) error {
	var req focusRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := h.Client.SetFocus(c.Request().Context(), req.Focused); err != nil {
		return httpError(err)
	}
	return h.result(c, true)
}

func (h Handlers) text(c echo.Context) error {
	var req textRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	return h.withSession(c, func(s *dialogue.Session) (bool, error) {
		return s.SubmitText(req.Text), nil
	})
}

func (h Handlers) mic(c echo.Context) error {
	return h.withSession(c, func(s *dialogue.Session) (bool, error) {
		return true, s.ToggleRecording(c.Request().Context())
	})
}

func (h Handlers) micStart(c echo.Context) error {
	return h.withSession(c, func(s *dialogue.Session) (bool, error) {
		return true, s.StartRecording(c.Request().Context())
	})
}

func (h Handlers) micStop(c echo.Context) error {
	return h.withSession(c, func(s *dialogue.Session) (bool, error) {
		return true, s.StopRecording(c.Request().Context())
	})
}

func (h Handlers) confirm(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	var req confirmRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	return h.withSession(c, func(s *dialogue.Session) (bool, error) {
		return true, s.ConfirmTurn(id, req.Accepted)
	})
}

func (h Handlers) escalationTrigger(c echo.Context) error {
	return h.withSession(c, func(s *dialogue.Session) (bool, error) {
		s.TriggerEscalation()
		return true, nil
	})
}

func (h Handlers) escalationConfirm(c echo.Context) error {
	return h.withSession(c, func(s *dialogue.Session) (bool, error) {
		return s.ConfirmEscalation(), nil
	})
}

func (h Handlers) escalationCancel(c echo.Context) error {
	return h.withSession(c, func(s *dialogue.Session) (bool, error) {
		return s.CancelEscalation(), nil
	})
}

func (h Handlers) retry(c echo.Context) error {
	return h.withSession(c, func(s *dialogue.Session) (bool, error) {
		return s.Retry(), nil
	})
}

func (h Handlers) withSession(c echo.Context, fn func(*dialogue.Session) (bool, error)) error {
	s, err := h.Client.Session()
	if err != nil {
		return httpError(err)
	}
	ok, err := fn(s)
	if err != nil {
		return httpError(err)
	}
	return h.result(c, ok)
}

func (h Handlers) result(c echo.Context, accepted bool) error {
	return c.JSON(http.StatusOK, Result{Accepted: accepted, State: h.Client.State()})
}

// httpError maps domain errors to status codes.
func httpError(err error) error {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, concierge.ErrNotReady), errors.Is(err, concierge.ErrSessionActive):
		code = http.StatusConflict
	case errors.Is(err, dialogue.ErrUnknownTurn):
		code = http.StatusNotFound
	case errors.Is(err, dialogue.ErrClosed):
		code = http.StatusGone
	case errors.Is(err, media.ErrPermissionDenied):
		code = http.StatusForbidden
	case errors.Is(err, media.ErrBusy):
		code = http.StatusConflict
	}
	return echo.NewHTTPError(code, err.Error())
}
