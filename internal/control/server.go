// Package control exposes the client to the presentation layer over local
// HTTP.
package control

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/concierge"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/dialogue"
)

// Client is the orchestrator driven by the control routes.
type Client interface {
	State() concierge.State
	StartIdentification(ctx context.Context) error
	StopIdentification()
	SetFocus(ctx context.Context, focused bool) error
	Session() (*dialogue.Session, error)
}

// New creates a configured Echo server instance with every route registered.
func New(client Client, logger zerolog.Logger) *echo.Echo {
	log := logger.With().Str("component", "control").Logger()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Debug()
			if v.Error != nil || v.Status >= 500 {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency.Round(time.Microsecond)).
				Msg("request")
			return nil
		},
	}))
	e.Use(middleware.Recover())

	NewHandlers(client).Register(e)
	return e
}
