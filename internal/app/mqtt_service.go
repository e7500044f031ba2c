package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fountaind/internal/config"
	"github.com/dokzlo13/fountaind/internal/eventbus"
	"github.com/dokzlo13/fountaind/internal/mqtt"
)

// MQTTService publishes show status to a broker.
type MQTTService struct {
	cfg    *config.Config
	Client *mqtt.Client // nil when disabled

	started bool
	done    chan struct{}
}

// NewMQTTService creates a new MQTTService.
func NewMQTTService(cfg *config.Config, ctrl mqtt.Controller) *MQTTService {
	s := &MQTTService{cfg: cfg, done: make(chan struct{})}
	if !cfg.MQTT.Enabled {
		return s
	}
	s.Client = mqtt.NewClient(mqtt.Config{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
	}, ctrl)
	return s
}

// Start connects in the background and forwards bus events.
func (s *MQTTService) Start(ctx context.Context, bus *eventbus.Bus) {
	if s.Client == nil {
		return
	}

	s.started = true
	s.Client.Forward(bus)
	go func() {
		defer close(s.done)
		if err := s.Client.Run(ctx); err != nil {
			log.Error().Err(err).Msg("MQTT client error")
		}
	}()
}

// Wait blocks until the client has published offline and disconnected.
func (s *MQTTService) Wait() {
	if !s.started {
		return
	}
	<-s.done
}
