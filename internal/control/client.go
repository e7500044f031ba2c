// Package control talks to the water control system over TCP. Commands are
// queued by the playback loop and sent in batches, one line per flush.
package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var ErrNotConnected = errors.New("control system not connected")

// Config configures the control-system link.
type Config struct {
	Address        string
	ConnectTimeout time.Duration // How long Connect keeps retrying
	RetryInterval  time.Duration // Pause between connect attempts and idle flush period
	WriteTimeout   time.Duration
	ReconnectRPS   float64 // Reconnect attempts per second
}

// DefaultConfig returns the usual link settings.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 30 * time.Second,
		RetryInterval:  time.Second,
		WriteTimeout:   time.Second,
		ReconnectRPS:   1,
	}
}

// Client queues command tokens and sends them to the control system.
type Client struct {
	config  Config
	limiter *rate.Limiter

	mu    sync.Mutex
	queue []string

	connMu sync.Mutex
	conn   net.Conn

	connected atomic.Bool
	kick      chan struct{}
	sent      atomic.Uint64

	onChange func(connected bool)
}

func New(config Config) *Client {
	def := DefaultConfig()
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = def.ConnectTimeout
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = def.RetryInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.ReconnectRPS <= 0 {
		config.ReconnectRPS = def.ReconnectRPS
	}
	return &Client{
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.ReconnectRPS), 1),
		kick:    make(chan struct{}, 1),
	}
}

// OnConnectivity registers a callback for connect/disconnect transitions.
func (c *Client) OnConnectivity(fn func(connected bool)) {
	c.onChange = fn
}

func (c *Client) Connected() bool { return c.connected.Load() }

// Sent returns the number of lines written.
func (c *Client) Sent() uint64 { return c.sent.Load() }

// Enqueue appends tokens to the outgoing queue.
func (c *Client) Enqueue(tokens ...string) {
	if len(tokens) == 0 {
		return
	}
	c.mu.Lock()
	c.queue = append(c.queue, tokens...)
	c.mu.Unlock()
}

// Pending returns the number of queued tokens.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Kick wakes the sender without blocking.
func (c *Client) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Flush drains the queue and writes it as one space-separated line. On
// failure the drained tokens go back in front of anything queued meanwhile.
func (c *Client) Flush() error {
	c.mu.Lock()
	items := c.queue
	c.queue = nil
	c.mu.Unlock()

	if len(items) == 0 {
		return nil
	}

	line := strings.Join(items, " ") + "\r\n"
	if err := c.write(line); err != nil {
		c.mu.Lock()
		c.queue = append(items, c.queue...)
		c.mu.Unlock()
		c.markLost(err)
		return err
	}

	c.sent.Add(1)
	log.Debug().Str("line", strings.TrimSpace(line)).Msg("Sent to control system")
	return nil
}

func (c *Client) write(line string) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
		return err
	}
	_, err := c.conn.Write([]byte(line))
	return err
}

// Connect dials the control system, retrying until ConnectTimeout elapses.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		err := c.dial(ctx)
		if err == nil {
			return nil
		}

		log.Debug().
			Err(err).
			Int("attempt", attempt).
			Str("address", c.config.Address).
			Msg("Control system connect failed")

		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to connect to control system at %s: %w", c.config.Address, err)
		case <-time.After(c.config.RetryInterval):
		}
	}
}

func (c *Client) dial(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.config.Address)
	if err != nil {
		return err
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.connMu.Unlock()

	go c.drain(conn)

	if !c.connected.Swap(true) {
		log.Info().Str("address", c.config.Address).Msg("Connected to control system")
		c.notify(true)
	}
	return nil
}

// drain reads whatever the control system sends back so a remote close is
// noticed even while nothing is queued.
func (c *Client) drain(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		log.Debug().Str("line", scanner.Text()).Msg("Control system reply")
	}

	c.connMu.Lock()
	current := c.conn == conn
	c.connMu.Unlock()
	if current {
		err := scanner.Err()
		if err == nil {
			err = errors.New("connection closed by peer")
		}
		c.markLost(err)
	}
}

func (c *Client) markLost(err error) {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	if c.connected.CompareAndSwap(true, false) {
		log.Warn().Err(err).Msg("Control system disconnected")
		c.notify(false)
		c.Kick()
	}
}

func (c *Client) notify(v bool) {
	if c.onChange != nil {
		c.onChange(v)
	}
}

// Run sends queued commands whenever kicked, and reconnects (rate limited)
// after a failure.
func (c *Client) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.config.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.kick:
		case <-ticker.C:
		}

		if !c.connected.Load() {
			if !c.limiter.Allow() {
				continue
			}
			if err := c.dial(ctx); err != nil {
				log.Warn().Err(err).Str("address", c.config.Address).Msg("Control system reconnect failed")
				continue
			}
		}
		if err := c.Flush(); err != nil {
			log.Warn().Err(err).Int("pending", c.Pending()).Msg("Failed to send to control system")
		}
	}
}

// Close drops the connection.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.connected.Store(false)
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
