package app

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fountaind/internal/eventbus"
	"github.com/dokzlo13/fountaind/internal/playback"
)

var errRunnerNotStarted = errors.New("show runner not started")

// Player is the song loop a Runner drives. *playback.Player implements it.
type Player interface {
	Play(ctx context.Context, song playback.Song) (playback.Result, error)
	Stop()
	Pause() error
	Resume() error
	State() playback.State
	Current() (song, runID string, ok bool)
}

// Runner plays playlists one song after another, one playlist at a time.
type Runner struct {
	catalog *playback.Catalog
	player  Player

	mu       sync.Mutex
	base     context.Context
	playlist string
	index    int
	total    int
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewRunner(catalog *playback.Catalog, player Player) *Runner {
	return &Runner{catalog: catalog, player: player}
}

// Start sets the context every playlist runs under. Playlists are refused
// before Start and stop when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	r.base = ctx
	r.mu.Unlock()
}

// Subscribe plays the playlist named by every schedule event.
func (r *Runner) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeSchedule, func(e eventbus.Event) {
		name, _ := e.Data["playlist"].(string)
		scheduleID, _ := e.Data["schedule_id"].(string)
		if err := r.PlayPlaylist(name); err != nil {
			log.Warn().
				Err(err).
				Str("schedule_id", scheduleID).
				Str("playlist", name).
				Msg("Scheduled playlist skipped")
		}
	})
}

// PlayPlaylist starts name in the background. A song name plays on its own.
func (r *Runner) PlayPlaylist(name string) error {
	songs, err := r.catalog.Playlist(name)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.base == nil {
		return errRunnerNotStarted
	}
	if r.done != nil {
		return playback.ErrAlreadyPlaying
	}

	ctx, cancel := context.WithCancel(r.base)
	done := make(chan struct{})
	r.playlist, r.index, r.total = name, 0, len(songs)
	r.cancel, r.done = cancel, done

	go r.run(ctx, name, songs, done)
	return nil
}

func (r *Runner) run(ctx context.Context, name string, songs []playback.Song, done chan struct{}) {
	defer func() {
		r.mu.Lock()
		r.cancel()
		r.playlist, r.index, r.total = "", 0, 0
		r.cancel, r.done = nil, nil
		r.mu.Unlock()
		close(done)
	}()

	log.Info().Str("playlist", name).Int("songs", len(songs)).Msg("Starting playlist")

	for i, song := range songs {
		if ctx.Err() != nil {
			break
		}
		r.mu.Lock()
		r.index = i
		r.mu.Unlock()

		res, err := r.player.Play(ctx, song)
		if err != nil {
			log.Error().Err(err).Str("playlist", name).Str("song", song.Name).Msg("Failed to play song")
			return
		}
		if !res.Completed {
			log.Info().Str("playlist", name).Str("song", song.Name).Msg("Playlist stopped")
			return
		}
	}
	log.Info().Str("playlist", name).Msg("Playlist finished")
}

// Stop ends the running playlist after the current tick.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.player.Stop()
}

// Pause holds the running song at its current position.
func (r *Runner) Pause() error {
	if err := r.player.Pause(); err != nil {
		return err
	}
	log.Info().Str("playlist", r.Playlist()).Msg("Playlist paused")
	return nil
}

// Resume continues a paused song.
func (r *Runner) Resume() error {
	if err := r.player.Resume(); err != nil {
		return err
	}
	log.Info().Str("playlist", r.Playlist()).Msg("Playlist resumed")
	return nil
}

// Wait blocks until the running playlist, if any, has ended.
func (r *Runner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Playlist returns the running playlist name, or "".
func (r *Runner) Playlist() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playlist
}

func (r *Runner) Status() map[string]any {
	r.mu.Lock()
	playlist, index, total := r.playlist, r.index, r.total
	r.mu.Unlock()

	status := map[string]any{
		"state": r.player.State().String(),
	}
	if song, runID, ok := r.player.Current(); ok {
		status["song"] = song
		status["run_id"] = runID
	}
	if playlist != "" {
		status["playlist"] = playlist
		status["position"] = index + 1
		status["songs"] = total
	}
	return status
}
