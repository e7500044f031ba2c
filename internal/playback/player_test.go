package playback

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/fountaind/internal/audio"
	"github.com/dokzlo13/fountaind/internal/command"
	"github.com/dokzlo13/fountaind/internal/dmx"
	"github.com/dokzlo13/fountaind/internal/eventbus"
)

// frameLog records light 5 (channels 13..15) every time a frame is sent,
// together with the song position at that moment.
type frameLog struct {
	session *dmx.Session
	oracle  audio.Oracle
	frames  []sentFrame
}

type sentFrame struct {
	pos time.Duration
	red uint8
	any bool
}

func (l *frameLog) Flush() {
	r, g, b := l.session.Channel(13), l.session.Channel(14), l.session.Channel(15)
	l.frames = append(l.frames, sentFrame{pos: l.oracle.Position(), red: r, any: r|g|b != 0})
}

// flushFunc adapts a function to FrameSender.
type flushFunc func()

func (f flushFunc) Flush() { f() }

func parseTimeline(t *testing.T, text string) *command.Timeline {
	t.Helper()
	tl, err := command.Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return tl
}

func newPlayer(h *harness, sender FrameSender, events *eventbus.Bus) *Player {
	return NewPlayer(DefaultConfig(), Deps{
		Clock:    h.clock,
		Engine:   h.engine,
		Executor: h.exec,
		Bus:      dmx.NewSession(),
		Sender:   sender,
		Events:   events,
	})
}

func TestPlayAppliesCommandsOnTime(t *testing.T) {
	h := newHarness(t)
	session := dmx.NewSession()
	oracle := audio.NewSilence(h.clock, 600*time.Millisecond)
	log := &frameLog{session: session, oracle: oracle}

	p := NewPlayer(DefaultConfig(), Deps{
		Clock:    h.clock,
		Engine:   h.engine,
		Executor: h.exec,
		Bus:      session,
		Sender:   log,
	})

	song := Song{
		Name:     "test",
		Timeline: parseTimeline(t, "00:00.0 017-001\n00:00.5 017-000\n"),
		Duration: 600 * time.Millisecond,
		Oracle:   oracle,
	}
	res, err := p.Play(context.Background(), song)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if !res.Completed || res.Batches != 2 || res.Commands != 2 || res.Warnings != 0 {
		t.Fatalf("result = %+v", res)
	}

	on, off := -1, -1
	for i, f := range log.frames {
		if on < 0 && f.any {
			on = i
		}
		if on >= 0 && off < 0 && !f.any {
			off = i
		}
	}
	if on < 0 || off < 0 {
		t.Fatalf("light 5 never switched on and off: %+v", log.frames)
	}

	if pos := log.frames[on].pos; pos > 10*time.Millisecond {
		t.Errorf("colour applied at %v, want within 10ms of 0", pos)
	}
	if log.frames[on].red != 255 {
		t.Errorf("colour red = %d, want 255", log.frames[on].red)
	}
	if pos := log.frames[off].pos; pos < 500*time.Millisecond || pos > 510*time.Millisecond {
		t.Errorf("black applied at %v, want within 10ms of 500ms", pos)
	}
	for _, f := range log.frames[on:off] {
		if f.red != 255 {
			t.Errorf("intermediate write at %v: red=%d", f.pos, f.red)
		}
	}
	for _, f := range log.frames[off:] {
		if f.any {
			t.Errorf("light lit again at %v", f.pos)
		}
	}
	if p.State() != Stopped {
		t.Errorf("state = %v, want stopped", p.State())
	}
}

func TestLeaderRunsBeforeSong(t *testing.T) {
	h := newHarness(t)
	p := newPlayer(h, nil, nil)
	start := h.clock.Now()

	_, err := p.Play(context.Background(), Song{
		Name:     "short",
		Timeline: parseTimeline(t, "00:00.0 017-001\n"),
		Duration: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := h.clock.Now().Sub(start); got < 3100*time.Millisecond {
		t.Errorf("run took %v, want at least leader + song", got)
	}
}

func TestStopFromBatch(t *testing.T) {
	h := newHarness(t)
	p := newPlayer(h, nil, nil)
	h.water.onKick = p.Stop

	res, err := p.Play(context.Background(), Song{
		Name:     "long",
		Timeline: parseTimeline(t, "00:00.0 041-001\n00:05.0 041-002\n09:00.0 041-003\n"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Completed {
		t.Error("stopped song reported as completed")
	}
	if res.Batches != 1 {
		t.Errorf("batches = %d, want 1", res.Batches)
	}
	if len(h.water.tokens) != 1 {
		t.Errorf("water = %v, want only the first line", h.water.tokens)
	}
}

func TestPlayRejectsSecondSong(t *testing.T) {
	h := newHarness(t)
	p := newPlayer(h, nil, nil)
	song := Song{Name: "a", Timeline: parseTimeline(t, "00:00.0 041-001\n")}

	var nested error
	h.water.onKick = func() {
		_, nested = p.Play(context.Background(), song)
	}
	if _, err := p.Play(context.Background(), song); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(nested, ErrAlreadyPlaying) {
		t.Errorf("nested Play err = %v, want ErrAlreadyPlaying", nested)
	}

	h.water.onKick = nil
	if _, err := p.Play(context.Background(), song); err != nil {
		t.Errorf("second Play after finish: %v", err)
	}
	if _, err := p.Play(context.Background(), Song{Name: "empty"}); !errors.Is(err, ErrNoTimeline) {
		t.Errorf("err = %v, want ErrNoTimeline", err)
	}
}

func TestPlayCancelledByContext(t *testing.T) {
	h := newHarness(t)
	p := newPlayer(h, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	h.water.onKick = cancel

	res, err := p.Play(ctx, Song{Name: "c", Timeline: parseTimeline(t, "00:00.0 041-001\n00:10.0 041-002\n")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Completed {
		t.Error("cancelled song reported as completed")
	}
}

func TestPlayPublishesEvents(t *testing.T) {
	h := newHarness(t)
	bus := eventbus.NewWithConfig(1, 1024)
	defer bus.Close(context.Background())

	var mu sync.Mutex
	seen := map[eventbus.EventType]int{}
	var wg sync.WaitGroup
	wg.Add(3)
	record := func(e eventbus.Event) {
		mu.Lock()
		seen[e.Type]++
		mu.Unlock()
		wg.Done()
	}
	bus.Subscribe(eventbus.EventTypeShowStarted, record)
	bus.Subscribe(eventbus.EventTypeShowFinished, record)
	bus.Subscribe(eventbus.EventTypeWarning, record)

	p := newPlayer(h, nil, bus)
	h.exec.onWarning = p.WarningHandler()

	res, err := p.Play(context.Background(), Song{Name: "ev", Timeline: parseTimeline(t, "00:00.0 555-001\n")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Warnings != 1 {
		t.Errorf("warnings = %d, want 1", res.Warnings)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("events not delivered: %v", seen)
	}
}

func TestPauseHoldsPendingLines(t *testing.T) {
	h := newHarness(t)
	oracle := audio.NewSilence(h.clock, 400*time.Millisecond)

	var p *Player
	var pausedFrames int
	var resumeErr error
	sender := flushFunc(func() {
		if p.State() != Paused {
			return
		}
		pausedFrames++
		if pausedFrames == 50 {
			resumeErr = p.Resume()
		}
	})
	p = newPlayer(h, sender, nil)

	var kickTimes []time.Time
	var kickPos []time.Duration
	var pauseErr error
	h.water.onKick = func() {
		kickTimes = append(kickTimes, h.clock.Now())
		kickPos = append(kickPos, oracle.Position())
		if len(kickTimes) == 1 {
			pauseErr = p.Pause()
		}
	}

	res, err := p.Play(context.Background(), Song{
		Name:     "paused",
		Timeline: parseTimeline(t, "00:00.0 041-001\n00:00.2 041-002\n"),
		Duration: 400 * time.Millisecond,
		Oracle:   oracle,
	})
	if err != nil {
		t.Fatal(err)
	}
	if pauseErr != nil || resumeErr != nil {
		t.Fatalf("Pause = %v, Resume = %v", pauseErr, resumeErr)
	}
	if !res.Completed || res.Batches != 2 {
		t.Fatalf("result = %+v", res)
	}
	if pausedFrames < 50 {
		t.Fatalf("loop never reported the pause, %d paused frames", pausedFrames)
	}
	if len(kickTimes) != 2 {
		t.Fatalf("kicks = %d, want 2", len(kickTimes))
	}
	// 50 paused frames at one frame per 4 ticks of 10ms.
	if held := kickTimes[1].Sub(kickTimes[0]); held < 2*time.Second {
		t.Errorf("second line ran %v after the first, want it held for the pause", held)
	}
	if pos := kickPos[1]; pos < 200*time.Millisecond || pos > 210*time.Millisecond {
		t.Errorf("second line ran at song position %v, want 200ms", pos)
	}
}

func TestPauseAndResumeNeedARunningSong(t *testing.T) {
	h := newHarness(t)
	p := newPlayer(h, nil, nil)
	if err := p.Pause(); !errors.Is(err, ErrNotPlaying) {
		t.Errorf("Pause while idle = %v, want ErrNotPlaying", err)
	}
	if err := p.Resume(); !errors.Is(err, ErrNotPaused) {
		t.Errorf("Resume while idle = %v, want ErrNotPaused", err)
	}

	var leaderErr error
	h.water.onKick = nil
	p = newPlayer(h, flushFunc(func() {
		if p.State() == Leading && leaderErr == nil {
			leaderErr = p.Pause()
		}
	}), nil)
	if _, err := p.Play(context.Background(), Song{Name: "s", Timeline: parseTimeline(t, "00:00.0 041-001\n")}); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(leaderErr, ErrNotPlaying) {
		t.Errorf("Pause during the leader = %v, want ErrNotPlaying", leaderErr)
	}
}

func TestStopIsHonouredFromTheFirstFrame(t *testing.T) {
	h := newHarness(t)
	var p *Player
	p = newPlayer(h, flushFunc(func() { p.Stop() }), nil)

	res, err := p.Play(context.Background(), Song{Name: "s", Timeline: parseTimeline(t, "00:00.0 041-001\n")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Completed || res.Batches != 0 {
		t.Errorf("result = %+v, want stopped before any batch", res)
	}
}

func TestStopWhileIdleDoesNotCarryOver(t *testing.T) {
	h := newHarness(t)
	p := newPlayer(h, nil, nil)
	p.Stop()

	res, err := p.Play(context.Background(), Song{Name: "s", Timeline: parseTimeline(t, "00:00.0 041-001\n")})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Completed {
		t.Error("a Stop issued before Play stopped the next song")
	}
}

// streamOracle is an external oracle that cannot report its length.
type streamOracle struct{ audio.Oracle }

func TestSongLength(t *testing.T) {
	h := newHarness(t)
	tl := parseTimeline(t, "00:00.0 041-001\n00:02.0 041-002\n")
	tests := []struct {
		name string
		song Song
		want time.Duration
	}{
		{name: "explicit duration", song: Song{Timeline: tl, Duration: time.Minute, Oracle: audio.NewSilence(h.clock, 90*time.Second)}, want: time.Minute},
		{name: "oracle length", song: Song{Timeline: tl, Oracle: audio.NewSilence(h.clock, 90*time.Second)}, want: 90 * time.Second},
		{name: "silent bed", song: Song{Timeline: tl}, want: 2*time.Second + DefaultTail},
		{name: "oracle without length", song: Song{Timeline: tl, Oracle: streamOracle{}}, want: 2*time.Second + DefaultTail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.song.length(); got != tt.want {
				t.Errorf("length = %v, want %v", got, tt.want)
			}
		})
	}
}
