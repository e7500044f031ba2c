package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fountaind/internal/config"
)

// Daemon owns the show services for one process lifetime.
type Daemon struct {
	cfg      *config.Config
	services *Services
}

// New opens the ledger and builds the show pipeline. Nothing runs until Run.
func New(cfg *config.Config) (*Daemon, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}
	return &Daemon{cfg: cfg, services: services}, nil
}

// ResetLedger drops the recorded show history before the daemon runs.
func (d *Daemon) ResetLedger() error {
	return d.services.ClearLedger()
}

// Run starts the show services and blocks until ctx is cancelled or a
// hardware link is lost for good. Services are always closed on return; the
// error is non-nil only when startup failed or a link gave up.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer func() {
		cancel(nil)
		log.Info().Msg("Stopping show controller")
		d.services.Close()
	}()

	err := d.services.Start(ctx, func(err error) {
		log.Error().Err(err).Msg("Hardware link lost for good, stopping")
		cancel(err)
	})
	if err != nil {
		return err
	}

	log.Info().
		Bool("http", d.cfg.HTTP.Enabled).
		Bool("scheduler", d.services.Scheduler.IsEnabled()).
		Bool("mqtt", d.services.MQTT.Client != nil).
		Msg("Show controller running")

	<-ctx.Done()
	if cause := context.Cause(ctx); !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

// ShutdownContext is cancelled on SIGINT or SIGTERM, or by the returned cancel.
func ShutdownContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			log.Warn().Str("signal", sig.String()).Msg("Stopping on signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
