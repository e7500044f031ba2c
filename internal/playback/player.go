// Package playback runs shows: it follows the audio position, executes each
// command line when it falls due and keeps the lighting bus refreshed.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fountaind/internal/audio"
	"github.com/dokzlo13/fountaind/internal/clock"
	"github.com/dokzlo13/fountaind/internal/command"
	"github.com/dokzlo13/fountaind/internal/eventbus"
	"github.com/dokzlo13/fountaind/internal/lighting"
	"github.com/dokzlo13/fountaind/internal/telemetry"
)

var (
	ErrAlreadyPlaying = errors.New("a song is already playing")
	ErrNoTimeline     = errors.New("song has no timeline")
	ErrNotPlaying     = errors.New("no song is playing")
	ErrNotPaused      = errors.New("song is not paused")
)

// State is the player state.
type State int32

const (
	Idle State = iota
	Leading
	Playing
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Leading:
		return "leading"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config tunes the loop.
type Config struct {
	Tick       time.Duration // Loop resolution
	FrameEvery int           // Push a frame every N ticks
	Leader     time.Duration // Silent lead-in before every song
}

// DefaultConfig returns the usual loop settings.
func DefaultConfig() Config {
	return Config{
		Tick:       10 * time.Millisecond,
		FrameEvery: 4,
		Leader:     3 * time.Second,
	}
}

// FrameSender is asked to push the bus buffer to hardware soon. Flush must not
// block; *dmx.Output hands the write to its own task.
type FrameSender interface {
	Flush()
}

// Deps are the collaborators of a Player. Only Engine, Executor and Bus
// (the channel writer) are required.
type Deps struct {
	Clock    clock.Clock
	Engine   *lighting.Engine
	Executor *Executor
	Bus      lighting.ChannelWriter
	Sender   FrameSender
	Events   *eventbus.Bus
	Metrics  *telemetry.Metrics
}

// Result summarises one run.
type Result struct {
	RunID     string
	Song      string
	Completed bool
	Batches   int
	Commands  int
	Warnings  int
	Started   time.Time
	Finished  time.Time
}

// Player runs one song at a time.
type Player struct {
	config Config
	deps   Deps

	state atomic.Int32
	// running and stopping are written under mu and read lock-free by the loop.
	running  atomic.Bool
	stopping atomic.Bool

	mu     sync.Mutex
	oracle audio.Oracle
	song   string
	runID  string

	warnings atomic.Int64
}

func NewPlayer(config Config, deps Deps) *Player {
	def := DefaultConfig()
	if config.Tick <= 0 {
		config.Tick = def.Tick
	}
	if config.FrameEvery <= 0 {
		config.FrameEvery = def.FrameEvery
	}
	if config.Leader < 0 {
		config.Leader = 0
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	return &Player{config: config, deps: deps}
}

// State returns the current player state.
func (p *Player) State() State { return State(p.state.Load()) }

// Current returns the running song name and run id, if any.
func (p *Player) Current() (song, runID string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.song, p.runID, p.running.Load()
}

// Stop asks the running song to stop at the next tick. Safe from any goroutine.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running.Load() {
		p.stopping.Store(true)
	}
}

// Pause pauses the audio of the running song; the loop follows on its next
// tick and holds pending lines until Resume. The leader cannot be paused.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.oracle == nil || p.oracle.State() != audio.Playing {
		return ErrNotPlaying
	}
	p.oracle.Pause()
	return nil
}

// Resume resumes a paused song.
func (p *Player) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.oracle == nil || p.oracle.State() != audio.Paused {
		return ErrNotPaused
	}
	p.oracle.Play()
	return nil
}

// begin claims the player for one run.
func (p *Player) begin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running.Load() {
		return false
	}
	p.stopping.Store(false)
	p.running.Store(true)
	return true
}

func (p *Player) end() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.song, p.runID, p.oracle = "", "", nil
	p.stopping.Store(false)
	p.running.Store(false)
}

// Play runs the leader and then song, blocking until the song ends, Stop is
// called or ctx is cancelled.
func (p *Player) Play(ctx context.Context, song Song) (Result, error) {
	if song.Timeline == nil {
		return Result{}, ErrNoTimeline
	}
	if !p.begin() {
		return Result{}, ErrAlreadyPlaying
	}
	defer p.end()
	p.warnings.Store(0)

	res := Result{
		RunID:   uuid.NewString(),
		Song:    song.Name,
		Started: p.deps.Clock.Now(),
	}
	p.mu.Lock()
	p.song, p.runID = song.Name, res.RunID
	p.mu.Unlock()

	length := song.length()
	log.Info().
		Str("song", song.Name).
		Str("run_id", res.RunID).
		Int("lines", song.Timeline.Len()).
		Dur("length", length).
		Msg("Starting show")
	p.deps.Metrics.ShowStarted()
	p.publish(eventbus.EventTypeShowStarted, map[string]any{
		"run_id": res.RunID,
		"song":   song.Name,
		"length": length.String(),
	})

	p.deps.Engine.Reset()
	p.pushFrame()

	completed := true
	if p.config.Leader > 0 {
		p.state.Store(int32(Leading))
		leader := audio.NewSilence(p.deps.Clock, p.config.Leader)
		completed = p.run(ctx, leaderTimeline(p.config.Leader), leader, p.config.Leader, nil)
	}

	if completed {
		oracle := song.Oracle
		if oracle == nil {
			oracle = audio.NewSilence(p.deps.Clock, length)
		}
		p.mu.Lock()
		p.oracle = oracle
		p.mu.Unlock()

		p.state.Store(int32(Playing))
		tl := command.NewTimeline(song.Timeline.Lines())
		completed = p.run(ctx, tl, oracle, length, &res)
	}

	p.state.Store(int32(Stopped))
	res.Completed = completed
	res.Warnings = int(p.warnings.Load())
	res.Finished = p.deps.Clock.Now()

	result := "completed"
	if !completed {
		result = "stopped"
	}
	log.Info().
		Str("song", song.Name).
		Str("run_id", res.RunID).
		Str("result", result).
		Int("batches", res.Batches).
		Int("warnings", res.Warnings).
		Msg("Show finished")
	p.deps.Metrics.ShowFinished(result)
	p.publish(eventbus.EventTypeShowFinished, map[string]any{
		"run_id":   res.RunID,
		"song":     song.Name,
		"result":   result,
		"batches":  res.Batches,
		"commands": res.Commands,
		"warnings": res.Warnings,
	})
	return res, nil
}

// leaderTimeline is the silent lead-in: no-op lines every second. It gives the
// hardware time to settle before the first real command.
func leaderTimeline(length time.Duration) *command.Timeline {
	var lines []command.CommandLine
	for t := time.Duration(0); t <= length; t += time.Second {
		lines = append(lines, command.CommandLine{TimeMs: uint32(t / time.Millisecond)})
	}
	return command.NewTimeline(lines)
}

// run drives one timeline against an oracle. It returns false when stopped.
func (p *Player) run(ctx context.Context, tl *command.Timeline, oracle audio.Oracle, length time.Duration, res *Result) bool {
	clk := p.deps.Clock
	tick := p.config.Tick
	ticks := 0

	oracle.Play()
	defer oracle.Stop()

	for {
		if p.stopping.Load() || ctx.Err() != nil {
			p.pushFrame()
			return false
		}

		st := oracle.State()
		pos := oracle.Position()
		if st == audio.Stopped || pos > length {
			break
		}
		p.followPause(st)

		line, ok := tl.Peek()
		remaining := tick
		if ok {
			remaining = line.Time() - pos
			if remaining <= 0 {
				p.execute(line, -remaining, res)
				tl.Advance()
				p.deps.Engine.Refresh()
				p.pushFrame()
				continue
			}
		}

		sleep := min(remaining, tick)
		started := clk.Now()
		clk.Sleep(sleep)
		p.deps.Engine.Refresh()
		ticks++

		imminent := ok && remaining-sleep <= tick
		if ticks%p.config.FrameEvery == 0 || imminent {
			p.pushFrame()
		}
		if clk.Now().Sub(started) > sleep+tick {
			p.deps.Metrics.Overrun()
		}
	}

	// Lines due at the very end of the audio still run.
	pos := oracle.Position()
	for line, ok := tl.Peek(); ok && line.Time() <= pos; line, ok = tl.Peek() {
		p.execute(line, pos-line.Time(), res)
		tl.Advance()
	}
	p.deps.Engine.Refresh()
	p.pushFrame()
	return true
}

func (p *Player) followPause(st audio.State) {
	switch {
	case st == audio.Paused && p.State() == Playing:
		p.state.Store(int32(Paused))
		log.Info().Msg("Show paused")
	case st == audio.Playing && p.State() == Paused:
		p.state.Store(int32(Playing))
		log.Info().Msg("Show resumed")
	}
}

func (p *Player) execute(line command.CommandLine, late time.Duration, res *Result) {
	if len(line.Commands) == 0 {
		return
	}
	executed, warnings := p.deps.Executor.Execute(line.Commands)
	p.warnings.Add(int64(warnings))
	p.deps.Metrics.Batch(late)
	if res != nil {
		res.Batches++
		res.Commands += executed
	}
	log.Debug().
		Str("time", command.FormatTime(line.TimeMs)).
		Int("commands", executed).
		Dur("late", late).
		Msg("Executed command line")
}

func (p *Player) pushFrame() {
	p.deps.Engine.WriteFrame(p.deps.Bus)
	if p.deps.Sender != nil {
		p.deps.Sender.Flush()
	}
	if p.deps.Events != nil {
		p.publish(eventbus.EventTypeSnapshot, map[string]any{
			"state":    p.State().String(),
			"snapshot": p.deps.Engine.Snapshot(),
		})
	}
}

func (p *Player) publish(t eventbus.EventType, data map[string]any) {
	p.deps.Events.Publish(eventbus.Event{Type: t, Data: data})
}

// WarningHandler returns an Executor warning callback that publishes warnings
// for the current run.
func (p *Player) WarningHandler() func(Warning) {
	return func(w Warning) {
		_, runID, _ := p.Current()
		p.publish(eventbus.EventTypeWarning, map[string]any{
			"run_id":  runID,
			"command": w.Command,
			"message": w.Message,
		})
	}
}

func (r Result) String() string {
	return fmt.Sprintf("%s (%s): completed=%v batches=%d warnings=%d", r.Song, r.RunID, r.Completed, r.Batches, r.Warnings)
}
