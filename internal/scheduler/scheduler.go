package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fountaind/internal/eventbus"
	"github.com/dokzlo13/fountaind/internal/ledger"
)

// DefaultRecoveryWindow is how late a missed occurrence may still be started
// on boot.
const DefaultRecoveryWindow = 15 * time.Minute

// Scheduler manages schedule definitions and occurrence execution.
// Schedules are stored in memory and events are emitted to the EventBus.
type Scheduler struct {
	mu        sync.RWMutex
	schedules map[string]Schedule

	bus    *eventbus.Bus
	ledger *ledger.Ledger
	tz     *time.Location
	now    func() time.Time

	// RecoveryWindow bounds boot recovery; zero disables it.
	RecoveryWindow time.Duration

	reschedule chan struct{}
}

// New creates a scheduler evaluating specs in the given timezone
func New(bus *eventbus.Bus, l *ledger.Ledger, timezone string) *Scheduler {
	tz := time.Local
	if timezone != "" {
		loaded, err := time.LoadLocation(timezone)
		if err != nil {
			log.Warn().Err(err).Str("timezone", timezone).Msg("Failed to load timezone, using local time")
		} else {
			tz = loaded
		}
	}

	return &Scheduler{
		schedules:      make(map[string]Schedule),
		bus:            bus,
		ledger:         l,
		tz:             tz,
		now:            time.Now,
		RecoveryWindow: DefaultRecoveryWindow,
		reschedule:     make(chan struct{}, 1),
	}
}

// Register adds a schedule, replacing one with the same id
func (s *Scheduler) Register(sched Schedule) {
	s.mu.Lock()
	s.schedules[sched.ID()] = sched
	s.mu.Unlock()

	log.Debug().
		Str("id", sched.ID()).
		Str("spec", sched.Spec()).
		Str("playlist", sched.Playlist()).
		Msg("Schedule registered")

	s.notifyReschedule()
}

// Unregister removes a schedule
func (s *Scheduler) Unregister(id string) {
	s.mu.Lock()
	delete(s.schedules, id)
	s.mu.Unlock()
	s.notifyReschedule()
}

// Define parses and registers a cron schedule
func (s *Scheduler) Define(id, spec, playlist string, misfirePolicy MisfirePolicy) error {
	sched, err := NewCronSchedule(id, spec, playlist, misfirePolicy, s.tz)
	if err != nil {
		return err
	}
	s.Register(sched)
	return nil
}

// Len returns the number of registered schedules
func (s *Scheduler) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.schedules)
}

// notifyReschedule signals the scheduler to recalculate
func (s *Scheduler) notifyReschedule() {
	select {
	case s.reschedule <- struct{}{}:
	default:
	}
}

// Run starts the scheduler loop
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().Int("schedules", s.Len()).Msg("Scheduler started")

	for {
		occ, sched := s.nextOccurrence(s.now())

		sleepDuration := time.Hour // default if no schedules
		if occ != nil {
			sleepDuration = occ.Time.Sub(s.now())
			if sleepDuration < 0 {
				sleepDuration = 0
			}
		}

		log.Debug().
			Dur("sleep_duration", sleepDuration).
			Msg("Scheduler sleeping")

		timer := time.NewTimer(sleepDuration)

		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("Scheduler stopping")
			return nil

		case <-s.reschedule:
			timer.Stop()
			log.Debug().Msg("Schedule changed, recomputing")
			continue

		case <-timer.C:
			if occ != nil && sched != nil {
				s.emit(sched, occ, "scheduler")
			}
		}
	}
}

// RunBootRecovery starts the most recent missed occurrence among schedules
// with the run_latest policy, if it is no older than RecoveryWindow and was
// not already fired. Only one playlist plays at a time, so at most one
// occurrence is recovered.
func (s *Scheduler) RunBootRecovery() {
	if s.RecoveryWindow <= 0 {
		return
	}

	s.mu.RLock()
	now := s.now()
	var winner Schedule
	var winnerOcc *Occurrence
	for _, sched := range s.schedules {
		if sched.MisfirePolicy() != MisfirePolicyRunLatest {
			continue
		}
		prev := sched.Prev(now)
		if prev == nil || now.Sub(prev.Time) > s.RecoveryWindow {
			continue
		}
		if winnerOcc == nil || prev.Time.After(winnerOcc.Time) {
			winner, winnerOcc = sched, prev
		}
	}
	s.mu.RUnlock()

	if winner == nil {
		return
	}

	log.Info().
		Str("schedule", winner.ID()).
		Time("prev_time", winnerOcc.Time).
		Msg("Boot recovery: running most recent missed occurrence")
	s.emit(winner, winnerOcc, "boot_recovery")
}

// nextOccurrence finds the earliest next occurrence across all schedules
func (s *Scheduler) nextOccurrence(after time.Time) (*Occurrence, Schedule) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var earliest *Occurrence
	var source Schedule

	for _, sched := range s.schedules {
		if occ := sched.Next(after); occ != nil {
			if earliest == nil || occ.Time.Before(earliest.Time) {
				earliest = occ
				source = sched
			}
		}
	}

	return earliest, source
}

// emit records the occurrence in the ledger and publishes a schedule event.
// An occurrence already in the ledger is skipped.
func (s *Scheduler) emit(sched Schedule, occ *Occurrence, source string) bool {
	if s.ledger != nil {
		fresh, err := s.ledger.MarkFired(occ.ID, sched.ID(), sched.Playlist(), map[string]any{
			"spec":   sched.Spec(),
			"source": source,
		})
		if err != nil {
			log.Error().Err(err).Str("occurrence", occ.ID).Msg("Failed to record schedule occurrence")
		} else if !fresh {
			log.Debug().Str("occurrence", occ.ID).Msg("Already fired, skipping")
			return false
		}
	}

	log.Info().
		Str("schedule_id", sched.ID()).
		Str("occurrence_id", occ.ID).
		Str("playlist", sched.Playlist()).
		Time("time", occ.Time).
		Str("source", source).
		Msg("Emitting schedule event")

	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeSchedule,
		Data: map[string]any{
			"schedule_id":   sched.ID(),
			"occurrence_id": occ.ID,
			"playlist":      sched.Playlist(),
			"run_at":        occ.Time,
			"source":        source,
		},
	})
	return true
}

// Entry is one upcoming occurrence for display
type Entry struct {
	ID       string    `json:"id"`
	Spec     string    `json:"spec"`
	Playlist string    `json:"playlist"`
	Next     time.Time `json:"next"`
}

// Upcoming returns the next occurrence of every schedule, soonest first.
func (s *Scheduler) Upcoming() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	entries := make([]Entry, 0, len(s.schedules))
	for _, sched := range s.schedules {
		occ := sched.Next(now)
		if occ == nil {
			continue
		}
		entries = append(entries, Entry{
			ID:       sched.ID(),
			Spec:     sched.Spec(),
			Playlist: sched.Playlist(),
			Next:     occ.Time.In(s.tz),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Next.Equal(entries[j].Next) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].Next.Before(entries[j].Next)
	})
	return entries
}

// Timezone returns the scheduler's timezone
func (s *Scheduler) Timezone() *time.Location {
	return s.tz
}
