package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/trailpack/trailpack/internal/apierr"
	"github.com/trailpack/trailpack/internal/config"
	"github.com/trailpack/trailpack/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app          *fiber.App
	cfg          config.Config
	closeStreams func()
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(d routes.Deps) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:               d.Cfg.AppName,
		ReadTimeout:           30 * time.Second,
		ErrorHandler:          apierr.Handler(d.Logger),
		DisableStartupMessage: !d.Cfg.IsDev(),
		// Snapshot streams stay open indefinitely, so there is no write timeout.
	})

	closeStreams, err := routes.Setup(app, d)
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: d.Cfg, closeStreams: closeStreams}, nil
}

// App exposes the Fiber application, for in-process tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown ends open snapshot streams and then gracefully stops the HTTP
// server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeStreams()
	return s.app.ShutdownWithContext(ctx)
}
