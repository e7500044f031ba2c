package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/fountaind/internal/command"
	"github.com/dokzlo13/fountaind/internal/eventbus"
	"github.com/dokzlo13/fountaind/internal/playback"
)

// fakePlayer completes songs immediately unless block is set, in which case
// Play waits for ctx.
type fakePlayer struct {
	block bool

	mu      sync.Mutex
	played  []string
	stopped int
	paused  bool
	started chan string
}

func newFakePlayer(block bool) *fakePlayer {
	return &fakePlayer{block: block, started: make(chan string, 8)}
}

func (p *fakePlayer) Play(ctx context.Context, song playback.Song) (playback.Result, error) {
	p.mu.Lock()
	p.played = append(p.played, song.Name)
	p.mu.Unlock()
	p.started <- song.Name
	if p.block {
		<-ctx.Done()
		return playback.Result{Song: song.Name}, nil
	}
	return playback.Result{Song: song.Name, Completed: true}, nil
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	p.stopped++
	p.mu.Unlock()
}

func (p *fakePlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return playback.ErrNotPlaying
	}
	p.paused = true
	return nil
}

func (p *fakePlayer) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return playback.ErrNotPaused
	}
	p.paused = false
	return nil
}

func (p *fakePlayer) State() playback.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return playback.Paused
	}
	return playback.Idle
}

func (p *fakePlayer) Current() (string, string, bool) { return "", "", false }

func (p *fakePlayer) Played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

func testCatalog(t *testing.T) *playback.Catalog {
	t.Helper()
	line, _, err := command.ParseLine("00:01.0 017-255")
	if err != nil {
		t.Fatal(err)
	}
	c := playback.NewCatalog()
	for _, name := range []string{"overture", "waltz", "finale"} {
		song := playback.Song{Name: name, Timeline: command.NewTimeline([]command.CommandLine{line})}
		if err := c.AddSong(song); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.AddPlaylist("evening", []string{"overture", "waltz", "finale"}); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestRunnerPlaysPlaylistInOrder(t *testing.T) {
	player := newFakePlayer(false)
	r := NewRunner(testCatalog(t), player)
	r.Start(context.Background())

	if err := r.PlayPlaylist("evening"); err != nil {
		t.Fatalf("PlayPlaylist: %v", err)
	}
	r.Wait()

	got := player.Played()
	want := []string{"overture", "waltz", "finale"}
	if len(got) != len(want) {
		t.Fatalf("played %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("played[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if r.Playlist() != "" {
		t.Errorf("playlist still set after finishing: %q", r.Playlist())
	}
}

func TestRunnerRejects(t *testing.T) {
	tests := []struct {
		name    string
		start   bool
		busy    bool
		play    string
		wantErr error
	}{
		{name: "not started", play: "evening", wantErr: errRunnerNotStarted},
		{name: "unknown playlist", start: true, play: "matinee", wantErr: playback.ErrUnknownPlaylist},
		{name: "already playing", start: true, busy: true, play: "finale", wantErr: playback.ErrAlreadyPlaying},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			player := newFakePlayer(true)
			r := NewRunner(testCatalog(t), player)
			if tt.start {
				r.Start(context.Background())
			}
			if tt.busy {
				if err := r.PlayPlaylist("evening"); err != nil {
					t.Fatalf("first PlayPlaylist: %v", err)
				}
				<-player.started
			}
			defer func() {
				r.Stop()
				r.Wait()
			}()

			err := r.PlayPlaylist(tt.play)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("PlayPlaylist(%s) = %v, want %v", tt.play, err, tt.wantErr)
			}
		})
	}
}

func TestRunnerStopEndsPlaylist(t *testing.T) {
	player := newFakePlayer(true)
	r := NewRunner(testCatalog(t), player)
	r.Start(context.Background())

	if err := r.PlayPlaylist("evening"); err != nil {
		t.Fatal(err)
	}
	<-player.started

	status := r.Status()
	if status["playlist"] != "evening" || status["position"] != 1 || status["songs"] != 3 {
		t.Errorf("status = %v", status)
	}

	r.Stop()
	r.Wait()

	if got := player.Played(); len(got) != 1 {
		t.Errorf("played %v after stop, want only the first song", got)
	}
	if _, ok := r.Status()["playlist"]; ok {
		t.Error("status still reports a playlist after stop")
	}
}

func TestRunnerPlaysScheduledPlaylist(t *testing.T) {
	bus := eventbus.NewWithConfig(1, 16)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		bus.Close(ctx)
	}()

	player := newFakePlayer(false)
	r := NewRunner(testCatalog(t), player)
	r.Start(context.Background())
	r.Subscribe(bus)

	bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeSchedule,
		Data: map[string]any{"schedule_id": "nightly", "playlist": "finale"},
	})

	select {
	case name := <-player.started:
		if name != "finale" {
			t.Errorf("scheduled play started %s, want finale", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("schedule event did not start a playlist")
	}
	r.Wait()
}

func TestRunnerPauseResume(t *testing.T) {
	player := newFakePlayer(true)
	r := NewRunner(testCatalog(t), player)
	r.Start(context.Background())
	if err := r.PlayPlaylist("evening"); err != nil {
		t.Fatalf("PlayPlaylist: %v", err)
	}
	<-player.started
	defer func() {
		r.Stop()
		r.Wait()
	}()

	steps := []struct {
		name    string
		op      func() error
		wantErr error
		state   string
	}{
		{name: "pause", op: r.Pause, state: "paused"},
		{name: "pause again", op: r.Pause, wantErr: playback.ErrNotPlaying, state: "paused"},
		{name: "resume", op: r.Resume, state: "idle"},
		{name: "resume again", op: r.Resume, wantErr: playback.ErrNotPaused, state: "idle"},
	}
	for _, step := range steps {
		if err := step.op(); !errors.Is(err, step.wantErr) {
			t.Errorf("%s: err = %v, want %v", step.name, err, step.wantErr)
		}
		if got := r.Status()["state"]; got != step.state {
			t.Errorf("%s: state = %v, want %s", step.name, got, step.state)
		}
	}
}
