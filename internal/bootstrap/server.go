package bootstrap

import (
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"

	"github.com/ktra-go/registry/common"
	"github.com/ktra-go/registry/common/mlog"
)

// Server represents the registry's HTTP server.
type Server struct {
	app           *fiber.App
	serverAddress string
	mlog.Logger
}

// ServerAddress returns is a convenience method to return the server address.
func (s *Server) ServerAddress() string {
	return s.serverAddress
}

// NewServer creates an instance of Server.
func NewServer(cfg *Config, app *fiber.App, logger mlog.Logger) *Server {
	return &Server{
		app:           app,
		serverAddress: cfg.Server.Address,
		Logger:        logger,
	}
}

// Run runs the server. It satisfies common.App so it can be handed to
// a common.Launcher.
func (s *Server) Run(l *common.Launcher) error {
	defer func() {
		if err := s.Logger.Sync(); err != nil {
			s.Logger.Fatalf("Failed to sync logger: %s", err)
		}
	}()

	if err := s.app.Listen(s.ServerAddress()); err != nil {
		return errors.Wrap(err, "failed to run the server")
	}

	return nil
}
