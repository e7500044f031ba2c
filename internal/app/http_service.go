package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fountaind/internal/config"
	"github.com/dokzlo13/fountaind/internal/eventbus"
	"github.com/dokzlo13/fountaind/internal/web"
)

// HTTPService provides the health, metrics and control endpoints.
type HTTPService struct {
	cfg    *config.Config
	Server *web.Server
}

// NewHTTPService creates a new HTTPService.
func NewHTTPService(cfg *config.Config, deps web.Deps) *HTTPService {
	server := web.NewServer(web.Config{
		Host:            cfg.HTTP.Host,
		Port:            cfg.HTTP.Port,
		ShutdownTimeout: cfg.ShutdownTimeout.Duration(),
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
	}, deps)

	return &HTTPService{
		cfg:    cfg,
		Server: server,
	}
}

// Start begins the HTTP server if enabled.
func (s *HTTPService) Start(ctx context.Context, bus *eventbus.Bus) {
	if !s.cfg.HTTP.Enabled {
		return
	}

	s.Server.Forward(bus)
	go func() {
		if err := s.Server.Run(ctx); err != nil {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()
}
