package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fountaind/internal/config"
	"github.com/dokzlo13/fountaind/internal/control"
	"github.com/dokzlo13/fountaind/internal/dmx"
	"github.com/dokzlo13/fountaind/internal/eventbus"
	"github.com/dokzlo13/fountaind/internal/fcw"
	"github.com/dokzlo13/fountaind/internal/lighting"
	"github.com/dokzlo13/fountaind/internal/palette"
	"github.com/dokzlo13/fountaind/internal/playback"
	"github.com/dokzlo13/fountaind/internal/telemetry"
)

// Link names used in connectivity events and metrics.
const (
	linkDMX     = "dmx"
	linkControl = "control"
)

// ShowService wraps everything that turns commands into water and light:
// the lighting engine, both hardware links, the executor and the player.
type ShowService struct {
	cfg     *config.Config
	bus     *eventbus.Bus
	metrics *telemetry.Metrics

	Engine   *lighting.Engine
	Session  *dmx.Session
	Output   *dmx.Output
	Control  *control.Client // nil when no control system is configured
	Registry *fcw.Registry
	Palette  *palette.Palette
	Executor *playback.Executor
	Player   *playback.Player
	Catalog  *playback.Catalog
	Runner   *Runner
}

// NewShowService builds the show pipeline from configuration. Nothing is
// connected yet.
func NewShowService(cfg *config.Config, bus *eventbus.Bus, metrics *telemetry.Metrics) (*ShowService, error) {
	universe, err := universeConfig(cfg.Universe)
	if err != nil {
		return nil, err
	}
	engine, err := lighting.NewEngine(universe, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid universe: %w", err)
	}

	reserved := reservedSpecials(cfg.Registry.Reserved)
	var registry *fcw.Registry
	if cfg.Registry.FCWTable != "" {
		registry, err = fcw.LoadCSV(cfg.Registry.FCWTable, reserved)
		if err != nil {
			return nil, err
		}
	} else {
		log.Warn().Msg("No FCW table configured, every address is water-only")
		registry = fcw.NewRegistry()
		registry.SetReserved(reserved)
	}

	pal := palette.New()
	if cfg.Registry.Palette != "" {
		pal, err = palette.LoadCSV(cfg.Registry.Palette)
		if err != nil {
			return nil, err
		}
	}

	s := &ShowService{
		cfg:      cfg,
		bus:      bus,
		metrics:  metrics,
		Engine:   engine,
		Session:  dmx.NewSession(),
		Registry: registry,
		Palette:  pal,
		Catalog:  playback.NewCatalog(),
	}

	var opener dmx.Opener = dmx.Discard
	if cfg.DMX.Port != "" {
		opener = dmx.SerialOpener{Port: cfg.DMX.Port, BaudRate: cfg.DMX.BaudRate}
	} else {
		log.Warn().Msg("No DMX port configured, frames are discarded")
	}
	s.Output = dmx.NewOutput(s.Session, opener, dmx.OutputConfig{
		FrameInterval:  cfg.DMX.FrameInterval.Duration(),
		ReconnectPause: cfg.DMX.ReconnectPause.Duration(),
		MaxReconnects:  cfg.DMX.MaxReconnects,
	})
	s.Output.OnConnectivity(s.connectivity(linkDMX))

	execCfg := playback.ExecutorConfig{
		Registry:  registry,
		Palette:   pal,
		Engine:    engine,
		Overrides: overrideModes(cfg.Registry.ColorOverrides),
		Metrics:   metrics,
	}
	if cfg.Control.Address != "" {
		s.Control = control.New(control.Config{
			Address:        cfg.Control.Address,
			ConnectTimeout: cfg.Control.ConnectTimeout.Duration(),
			RetryInterval:  cfg.Control.RetryInterval.Duration(),
			WriteTimeout:   cfg.Control.WriteTimeout.Duration(),
			ReconnectRPS:   cfg.Control.ReconnectRPS,
		})
		s.Control.OnConnectivity(s.connectivity(linkControl))
		execCfg.Water = s.Control
	} else {
		log.Warn().Msg("No control system configured, water commands are dropped")
	}

	s.Executor = playback.NewExecutor(execCfg)
	s.Player = playback.NewPlayer(playback.Config{
		Tick:       cfg.Playback.Tick.Duration(),
		FrameEvery: cfg.Playback.FrameEvery,
		Leader:     cfg.Playback.Leader.Duration(),
	}, playback.Deps{
		Engine:   engine,
		Executor: s.Executor,
		Bus:      s.Session,
		Sender:   s.Output,
		Events:   bus,
		Metrics:  metrics,
	})
	// The executor is built before the player, so warnings are wired after.
	s.Executor.SetWarningHandler(s.Player.WarningHandler())
	s.Runner = NewRunner(s.Catalog, s.Player)

	return s, nil
}

// AliasSpecials adds script-declared special addresses to the registry.
// Aliasing a reserved control address is an error.
func (s *ShowService) AliasSpecials(specials map[uint32]fcw.Special) error {
	if len(specials) == 0 {
		return nil
	}
	if err := s.Registry.Alias(specials); err != nil {
		return fmt.Errorf("show script: %w", err)
	}
	log.Info().Int("count", len(specials)).Msg("Registered script special addresses")
	return nil
}

// Start connects the control system. A control system that stays unreachable
// is not fatal: Run keeps reconnecting in the background.
func (s *ShowService) Start(ctx context.Context) {
	if s.Control == nil {
		return
	}
	if err := s.Control.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("Control system unavailable, continuing and retrying in background")
	}
}

// StartBackground starts the frame output, the control sender and the runner.
// onFatalError is called when the DMX widget cannot be reopened.
func (s *ShowService) StartBackground(ctx context.Context, onFatalError func(error)) {
	go func() {
		if err := s.Output.Run(ctx); err != nil {
			if errors.Is(err, dmx.ErrMaxReconnectsExceeded) {
				log.Error().Msg("DMX output: max reconnects exceeded, triggering shutdown")
				if onFatalError != nil {
					onFatalError(err)
				}
				return
			}
			log.Error().Err(err).Msg("DMX output error")
		}
	}()

	if s.Control != nil {
		go func() {
			if err := s.Control.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Control system sender error")
			}
		}()
	}

	s.Runner.Start(ctx)
	s.Runner.Subscribe(s.bus)
}

// Links reports the state of both hardware links.
func (s *ShowService) Links() map[string]any {
	links := map[string]any{linkDMX: s.Output.Connected()}
	if s.Control != nil {
		links[linkControl] = s.Control.Connected()
	}
	return links
}

// Close stops the running show and drops the control connection.
func (s *ShowService) Close() {
	s.Runner.Stop()
	s.Runner.Wait()
	if s.Control != nil {
		if err := s.Control.Close(); err != nil {
			log.Debug().Err(err).Msg("Control system close error")
		}
	}
}

func (s *ShowService) connectivity(link string) func(bool) {
	return func(up bool) {
		s.metrics.SetConnected(link, up)
		s.bus.Publish(eventbus.Event{
			Type: eventbus.EventTypeConnectivity,
			Data: map[string]any{"link": link, "connected": up},
		})
	}
}

// universeConfig converts the YAML universe into the engine's configuration.
func universeConfig(cfg config.UniverseConfig) (lighting.UniverseConfig, error) {
	var out lighting.UniverseConfig
	for _, l := range cfg.Lights {
		light := lighting.LightConfig{Number: l.Number, Name: l.Name}
		for _, ch := range l.Channels {
			t, err := lighting.ParseChannelType(ch.Type)
			if err != nil {
				return out, fmt.Errorf("light %d channel %d: %w", l.Number, ch.Index, err)
			}
			light.Channels = append(light.Channels, lighting.ChannelConfig{
				Index:      ch.Index,
				Type:       t,
				Correction: ch.Correction,
			})
		}
		out.Lights = append(out.Lights, light)
	}
	for _, m := range cfg.Modules {
		out.Modules = append(out.Modules, lighting.ModuleConfig{
			Name:   m.Name,
			Kind:   lighting.ModuleKind(m.Kind),
			Lights: append([]uint32(nil), m.Lights...),
		})
	}
	return out, nil
}

func reservedSpecials(reserved map[uint32]string) map[uint32]fcw.Special {
	out := make(map[uint32]fcw.Special, len(reserved))
	for addr, action := range reserved {
		out[addr] = fcw.Special(action)
	}
	return out
}

func overrideModes(overrides []config.ColorOverride) map[uint32]playback.OverrideMode {
	if len(overrides) == 0 {
		return nil
	}
	out := make(map[uint32]playback.OverrideMode, len(overrides))
	for _, o := range overrides {
		out[o.Address] = playback.OverrideMode(o.Mode)
	}
	return out
}
