// Package mqtt publishes show status to a broker and accepts play, pause,
// resume and stop commands from it.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fountaind/internal/eventbus"
)

const publishTimeout = 5 * time.Second

// Controller starts, pauses and stops playlists.
type Controller interface {
	PlayPlaylist(name string) error
	Stop()
	Pause() error
	Resume() error
}

// Config contains broker settings.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Client is a broker connection that keeps the availability topic current.
type Client struct {
	client paho.Client
	cfg    Config
	prefix string
	ctrl   Controller
}

// NewClient creates a client. ctrl may be nil, in which case command topics
// are not subscribed.
func NewClient(cfg Config, ctrl Controller) *Client {
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)

	opts.SetKeepAlive(10 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	// Keep retrying the first connect; the broker may start after us.
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetOrderMatters(false)
	opts.SetWill(prefix+"/availability", "offline", 1, true)

	c := &Client{cfg: cfg, prefix: prefix, ctrl: ctrl}

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost, reconnecting in background")
	})
	opts.SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
		log.Debug().Msg("MQTT reconnecting")
	})

	c.client = paho.NewClient(opts)
	return c
}

// Run connects and stays connected until ctx is cancelled, then publishes
// offline and disconnects.
func (c *Client) Run(ctx context.Context) error {
	log.Info().Str("broker", c.cfg.Broker).Msg("Connecting to MQTT broker")

	token := c.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
	case <-ctx.Done():
	}

	<-ctx.Done()
	c.disconnect()
	return nil
}

func (c *Client) disconnect() {
	if !c.client.IsConnected() {
		c.client.Disconnect(0)
		return
	}
	token := c.client.Publish(c.topic("availability"), 1, true, "offline")
	if !token.WaitTimeout(2 * time.Second) {
		log.Warn().Msg("Timed out publishing MQTT offline status")
	} else if err := token.Error(); err != nil {
		log.Warn().Err(err).Msg("Failed to publish MQTT offline status")
	}
	c.client.Disconnect(250)
	log.Info().Msg("MQTT disconnected")
}

// Publish sends payload to prefix/subtopic without blocking the caller.
// Messages are dropped while disconnected.
func (c *Client) Publish(subtopic string, payload []byte, retained bool) {
	if !c.client.IsConnected() {
		return
	}
	topic := c.topic(subtopic)
	token := c.client.Publish(topic, 0, retained, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			log.Warn().Str("topic", topic).Msg("Timed out publishing to MQTT")
			return
		}
		if err := token.Error(); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// Forward publishes show, link and schedule events from the bus.
func (c *Client) Forward(bus *eventbus.Bus) {
	for _, t := range []eventbus.EventType{
		eventbus.EventTypeShowStarted,
		eventbus.EventTypeShowFinished,
		eventbus.EventTypeWarning,
		eventbus.EventTypeConnectivity,
		eventbus.EventTypeSchedule,
	} {
		bus.Subscribe(t, func(e eventbus.Event) {
			msg, ok := statusMessage(e)
			if !ok {
				return
			}
			c.Publish(msg.Subtopic, msg.Payload, msg.Retained)
		})
	}
}

func (c *Client) topic(sub string) string {
	return c.prefix + "/" + sub
}

func (c *Client) onConnect(client paho.Client) {
	log.Info().Str("broker", c.cfg.Broker).Msg("Connected to MQTT broker")

	if c.ctrl != nil {
		for sub, handler := range c.commandHandlers() {
			topic := c.topic(sub)
			if token := client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
				log.Error().Err(token.Error()).Str("topic", topic).Msg("MQTT subscribe failed")
				continue
			}
			log.Debug().Str("topic", topic).Msg("Subscribed to MQTT topic")
		}
	}

	// onConnect runs on paho's event goroutine; publish off it.
	go c.Publish("availability", []byte("online"), true)
}

// commandHandlers maps command subtopics to their handlers.
func (c *Client) commandHandlers() map[string]paho.MessageHandler {
	return map[string]paho.MessageHandler{
		"play":   c.handlePlay,
		"stop":   c.handleStop,
		"pause":  c.handleTransition("pause", c.ctrl.Pause),
		"resume": c.handleTransition("resume", c.ctrl.Resume),
	}
}

func (c *Client) handlePlay(_ paho.Client, msg paho.Message) {
	name := strings.TrimSpace(string(msg.Payload()))
	if name == "" {
		log.Warn().Str("topic", msg.Topic()).Msg("Ignoring MQTT play without a playlist")
		return
	}
	if err := c.ctrl.PlayPlaylist(name); err != nil {
		log.Warn().Err(err).Str("playlist", name).Msg("MQTT play rejected")
	}
}

func (c *Client) handleStop(paho.Client, paho.Message) {
	c.ctrl.Stop()
}

func (c *Client) handleTransition(name string, fn func() error) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		if err := fn(); err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic()).Msgf("MQTT %s rejected", name)
		}
	}
}

// Message is one status publication.
type Message struct {
	Subtopic string
	Payload  []byte
	Retained bool
}

// statusMessage maps a bus event to its topic and JSON payload.
func statusMessage(e eventbus.Event) (Message, bool) {
	var msg Message
	switch e.Type {
	case eventbus.EventTypeShowStarted:
		msg = Message{Subtopic: "show/state", Retained: true}
		e.Data = withState(e.Data, "playing")
	case eventbus.EventTypeShowFinished:
		msg = Message{Subtopic: "show/state", Retained: true}
		e.Data = withState(e.Data, "idle")
	case eventbus.EventTypeWarning:
		msg = Message{Subtopic: "show/warning"}
	case eventbus.EventTypeConnectivity:
		link, _ := e.Data["link"].(string)
		if link == "" {
			return Message{}, false
		}
		state := "disconnected"
		if up, _ := e.Data["connected"].(bool); up {
			state = "connected"
		}
		return Message{Subtopic: "link/" + link, Payload: []byte(state), Retained: true}, true
	case eventbus.EventTypeSchedule:
		msg = Message{Subtopic: "schedule/fired"}
	default:
		return Message{}, false
	}

	payload, err := json.Marshal(e.Data)
	if err != nil {
		log.Warn().Err(err).Str("event_type", string(e.Type)).Msg("Failed to encode MQTT payload")
		return Message{}, false
	}
	msg.Payload = payload
	return msg, true
}

func withState(data map[string]any, state string) map[string]any {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out["state"] = state
	return out
}
