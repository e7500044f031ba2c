package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fountaind/internal/eventbus"
	"github.com/dokzlo13/fountaind/internal/ledger"
)

const (
	defaultWarningQuiet = time.Second
	maxWarningMessages  = 10
)

// EventService records show events in the ledger. Warnings arrive in bursts
// (one per skipped command), so they are coalesced per run and written once
// the burst goes quiet.
type EventService struct {
	ledger   *ledger.Ledger
	bus      *eventbus.Bus
	playlist func() string
	quiet    time.Duration

	mu      sync.Mutex
	pending map[string]*warningBatch
}

// NewEventService creates a new EventService. playlist reports the playlist
// a run belongs to and may be nil.
func NewEventService(l *ledger.Ledger, bus *eventbus.Bus, playlist func() string) *EventService {
	if playlist == nil {
		playlist = func() string { return "" }
	}
	return &EventService{
		ledger:   l,
		bus:      bus,
		playlist: playlist,
		quiet:    defaultWarningQuiet,
		pending:  make(map[string]*warningBatch),
	}
}

// Start sets up the ledger subscriptions.
func (s *EventService) Start() {
	s.bus.Subscribe(eventbus.EventTypeShowStarted, s.onShowStarted)
	s.bus.Subscribe(eventbus.EventTypeShowFinished, s.onShowFinished)
	s.bus.Subscribe(eventbus.EventTypeWarning, s.onWarning)
}

// Close writes every pending warning batch.
func (s *EventService) Close() {
	s.mu.Lock()
	batches := make([]*warningBatch, 0, len(s.pending))
	for _, b := range s.pending {
		batches = append(batches, b)
	}
	s.mu.Unlock()

	for _, b := range batches {
		b.stop()
		s.flush(b)
	}
}

func (s *EventService) onShowStarted(event eventbus.Event) {
	runID, _ := event.Data["run_id"].(string)
	song, _ := event.Data["song"].(string)
	if err := s.ledger.Append(ledger.EventShowStarted, runID, song, s.playlist(), event.Data); err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("Failed to record show start")
	}
}

func (s *EventService) onShowFinished(event eventbus.Event) {
	runID, _ := event.Data["run_id"].(string)
	song, _ := event.Data["song"].(string)
	result, _ := event.Data["result"].(string)

	eventType := ledger.EventShowFinished
	if result != "completed" {
		eventType = ledger.EventShowStopped
	}
	if err := s.ledger.Append(eventType, runID, song, s.playlist(), event.Data); err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("Failed to record show end")
	}
}

func (s *EventService) onWarning(event eventbus.Event) {
	runID, _ := event.Data["run_id"].(string)
	command, _ := event.Data["command"].(string)
	message, _ := event.Data["message"].(string)

	s.mu.Lock()
	b, ok := s.pending[runID]
	if !ok {
		b = &warningBatch{runID: runID, playlist: s.playlist()}
		s.pending[runID] = b
	}
	s.mu.Unlock()

	b.add(command, message, s.quiet, func() { s.flush(b) })
}

func (s *EventService) flush(b *warningBatch) {
	s.mu.Lock()
	if s.pending[b.runID] == b {
		delete(s.pending, b.runID)
	}
	s.mu.Unlock()

	count, messages := b.take()
	if count == 0 {
		return
	}

	log.Debug().Str("run_id", b.runID).Int("count", count).Msg("Recording show warnings")
	payload := map[string]any{"count": count, "messages": messages}
	if err := s.ledger.Append(ledger.EventShowWarning, b.runID, "", b.playlist, payload); err != nil {
		log.Error().Err(err).Str("run_id", b.runID).Msg("Failed to record show warnings")
	}
}

// warningBatch accumulates warnings and fires once after a quiet period.
type warningBatch struct {
	runID    string
	playlist string

	mu       sync.Mutex
	count    int
	messages []string
	timer    *time.Timer
}

func (b *warningBatch) add(command, message string, quiet time.Duration, fire func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.count++
	if len(b.messages) < maxWarningMessages {
		text := message
		if command != "" {
			text = command + ": " + message
		}
		b.messages = append(b.messages, text)
	}

	// Reset/start timer - fire after quiet period
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(quiet, fire)
}

func (b *warningBatch) take() (int, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	count, messages := b.count, b.messages
	b.count, b.messages = 0, nil
	return count, messages
}

func (b *warningBatch) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
	}
}
