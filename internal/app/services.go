package app

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fountaind/internal/config"
	"github.com/dokzlo13/fountaind/internal/db"
	"github.com/dokzlo13/fountaind/internal/eventbus"
	"github.com/dokzlo13/fountaind/internal/ledger"
	"github.com/dokzlo13/fountaind/internal/telemetry"
	"github.com/dokzlo13/fountaind/internal/web"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB      *db.DB
	Ledger  *ledger.Ledger
	Bus     *eventbus.Bus
	Metrics *telemetry.Metrics

	// High-level services
	Show      *ShowService
	Events    *EventService
	Scheduler *SchedulerService
	Lua       *LuaService
	HTTP      *HTTPService
	MQTT      *MQTTService

	ready atomic.Bool
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Ledger = ledger.New(database.DB)

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.Workers, cfg.EventBus.QueueSize)
	s.Metrics = telemetry.New()

	s.Show, err = NewShowService(cfg, s.Bus, s.Metrics)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Events = NewEventService(s.Ledger, s.Bus, s.Show.Runner.Playlist)
	s.Scheduler = NewSchedulerService(cfg, s.Bus, s.Ledger)
	s.Lua = NewLuaService(cfg, s.Show.Catalog, s.Scheduler.Scheduler, s.Show.Executor.HasSpecial)

	ctrl := &controller{Runner: s.Show.Runner, services: s}
	s.Lua.SetController(ctrl)
	s.HTTP = NewHTTPService(cfg, web.Deps{
		Controller: ctrl,
		Metrics:    s.Metrics.Handler(),
		Ready:      s.ready.Load,
		History: func(limit int) (any, error) {
			return s.Ledger.Recent(limit)
		},
	})
	s.MQTT = NewMQTTService(cfg, ctrl)

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs (e.g., max reconnects exceeded).
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// The script declares songs, playlists, schedules and aliases
	if err := s.Lua.LoadScript(); err != nil {
		return err
	}
	if err := s.Show.AliasSpecials(s.Lua.Specials()); err != nil {
		return err
	}
	if err := s.Show.Catalog.Validate(); err != nil {
		return err
	}
	log.Info().
		Int("songs", len(s.Show.Catalog.Songs())).
		Int("playlists", len(s.Show.Catalog.Playlists())).
		Msg("Show catalog ready")

	// Ledger recording must be subscribed before anything can play
	s.Events.Start()

	// Connect to the control system
	s.Show.Start(ctx)

	// Start all background services
	s.Show.StartBackground(ctx, onFatalError)
	s.Lua.Start(ctx, s.Bus)
	s.Scheduler.Start(ctx)
	s.HTTP.Start(ctx, s.Bus)
	s.MQTT.Start(ctx, s.Bus)

	s.ready.Store(true)
	return nil
}

// ClearLedger deletes the whole show history.
func (s *Services) ClearLedger() error {
	return s.Ledger.Clear()
}

// Close releases all resources.
func (s *Services) Close() {
	s.ready.Store(false)
	if s.Show != nil {
		s.Show.Close()
	}
	if s.MQTT != nil {
		s.MQTT.Wait()
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		s.Bus.Close(ctx)
		cancel()
	}
	if s.Events != nil {
		s.Events.Close()
	}
	if s.Lua != nil {
		s.Lua.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}

// controller is the show control surface shared by HTTP, MQTT and the script.
type controller struct {
	*Runner
	services *Services
}

// Status adds link and schedule state to the runner's status.
func (c *controller) Status() map[string]any {
	status := c.Runner.Status()
	status["links"] = c.services.Show.Links()
	if upcoming := c.services.Scheduler.Upcoming(); len(upcoming) > 0 {
		status["upcoming"] = upcoming
	}
	return status
}
