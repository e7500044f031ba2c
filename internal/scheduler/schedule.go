// Package scheduler starts playlists unattended from cron specifications.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// MisfirePolicy defines how to handle missed schedule occurrences on boot
type MisfirePolicy string

const (
	MisfirePolicySkip      MisfirePolicy = "skip"       // Skip missed occurrences on boot
	MisfirePolicyRunLatest MisfirePolicy = "run_latest" // Run the most recent missed occurrence on boot
)

// ParseMisfirePolicy accepts "", "skip" and "run_latest".
func ParseMisfirePolicy(s string) (MisfirePolicy, error) {
	switch MisfirePolicy(s) {
	case "", MisfirePolicySkip:
		return MisfirePolicySkip, nil
	case MisfirePolicyRunLatest:
		return MisfirePolicyRunLatest, nil
	default:
		return "", fmt.Errorf("unknown misfire policy %q", s)
	}
}

// Schedule is a source of timed playlist starts.
type Schedule interface {
	// ID returns the unique identifier for this schedule
	ID() string

	// Spec returns the expression the schedule was built from
	Spec() string

	// Playlist names the playlist to start
	Playlist() string

	// Next returns the next occurrence after the given time, or nil if none
	Next(after time.Time) *Occurrence

	// Prev returns the previous occurrence before the given time, or nil if none
	Prev(before time.Time) *Occurrence

	// MisfirePolicy returns how to handle missed occurrences on boot
	MisfirePolicy() MisfirePolicy
}

// Occurrence represents a specific firing point of a schedule
type Occurrence struct {
	// ID uniquely identifies this occurrence (e.g., "nightly/1704067200")
	ID string

	// ScheduleID is the ID of the schedule that created this occurrence
	ScheduleID string

	// Time is when this occurrence should fire
	Time time.Time
}

// NewOccurrence creates a new occurrence with a standard ID format
func NewOccurrence(scheduleID string, t time.Time) *Occurrence {
	return &Occurrence{
		ID:         fmt.Sprintf("%s/%d", scheduleID, t.Unix()),
		ScheduleID: scheduleID,
		Time:       t,
	}
}

// prevLookback bounds how far back Prev searches. A week covers every
// standard five-field spec.
const prevLookback = 8 * 24 * time.Hour

// prevMaxSteps caps Prev for very dense specs such as "@every 1s".
const prevMaxSteps = 100000

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// CronSchedule implements Schedule for cron expressions ("0 21 * * *",
// "30 20 * * FRI,SAT", "@daily", "@every 2h").
type CronSchedule struct {
	id            string
	spec          string
	playlist      string
	schedule      cron.Schedule
	location      *time.Location
	misfirePolicy MisfirePolicy
}

// NewCronSchedule parses spec and binds it to a playlist. Times are
// evaluated in loc unless the spec carries its own CRON_TZ prefix.
func NewCronSchedule(id, spec, playlist string, misfirePolicy MisfirePolicy, loc *time.Location) (*CronSchedule, error) {
	if id == "" {
		return nil, fmt.Errorf("schedule id is empty")
	}
	if playlist == "" {
		return nil, fmt.Errorf("schedule %s: playlist is empty", id)
	}
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: invalid cron spec %q: %w", id, spec, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	if misfirePolicy == "" {
		misfirePolicy = MisfirePolicySkip
	}
	return &CronSchedule{
		id:            id,
		spec:          spec,
		playlist:      playlist,
		schedule:      sched,
		location:      loc,
		misfirePolicy: misfirePolicy,
	}, nil
}

func (s *CronSchedule) ID() string                   { return s.id }
func (s *CronSchedule) Spec() string                 { return s.spec }
func (s *CronSchedule) Playlist() string             { return s.playlist }
func (s *CronSchedule) MisfirePolicy() MisfirePolicy { return s.misfirePolicy }

// Next returns the next occurrence after the given time.
func (s *CronSchedule) Next(after time.Time) *Occurrence {
	t := s.schedule.Next(after.In(s.location))
	if t.IsZero() {
		return nil
	}
	return NewOccurrence(s.id, t)
}

// Prev returns the latest occurrence strictly before the given time.
// Cron schedules only run forward, so it walks from a bounded lookback.
func (s *CronSchedule) Prev(before time.Time) *Occurrence {
	cursor := before.Add(-prevLookback).In(s.location)
	var last time.Time
	for i := 0; i < prevMaxSteps; i++ {
		t := s.schedule.Next(cursor)
		if t.IsZero() || !t.Before(before) {
			break
		}
		last = t
		cursor = t
	}
	if last.IsZero() {
		return nil
	}
	return NewOccurrence(s.id, last)
}
