// Package lua runs the show script: it declares songs, playlists, schedules and
// special aliases at load time and reacts to bus events afterwards.
package lua

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/fountaind/internal/eventbus"
	"github.com/dokzlo13/fountaind/internal/lua/modules"
)

// ErrRuntimeClosed is returned when the Lua runtime is closed
var ErrRuntimeClosed = fmt.Errorf("lua runtime closed")

// LuaWork represents work to be executed on the Lua VM
// All Lua execution MUST go through this to ensure thread safety
type LuaWork func(ctx context.Context)

// Runtime manages the Lua VM with single-threaded execution
type Runtime struct {
	L *lua.LState

	showModule  *modules.ShowModule
	schedModule *modules.SchedModule

	// Work queue for thread-safe Lua execution
	workQueue chan LuaWork

	// Closing this channel signals senders to stop
	closing   chan struct{}
	closeOnce sync.Once

	// done is closed when Run returns; the VM is only closed after that.
	done         chan struct{}
	closeTimeout time.Duration

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewRuntime creates a new Lua runtime
func NewRuntime(deps RuntimeDeps) *Runtime {
	L := lua.NewState()

	closeTimeout := deps.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = 5 * time.Second
	}

	r := &Runtime{
		L:            L,
		showModule:   modules.NewShowModule(deps.Catalog, deps.BaseDir, deps.KnownSpecial),
		schedModule:  modules.NewSchedModule(deps.Scheduler),
		workQueue:    make(chan LuaWork, 100),
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
		closeTimeout: closeTimeout,
	}

	L.PreloadModule("log", modules.NewLogModule().Loader)
	L.PreloadModule("show", r.showModule.Loader)
	L.PreloadModule("sched", r.schedModule.Loader)

	return r
}

// Close signals the runtime to stop accepting new work, waits for the worker
// to finish its current item and closes the Lua state. If the worker does not
// return within the close timeout the state is left open.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		started := r.started
		r.mu.Unlock()

		// workQueue stays open so late senders never panic; Run exits on closing.
		close(r.closing)

		if started {
			select {
			case <-r.done:
			case <-time.After(r.closeTimeout):
				log.Warn().Dur("timeout", r.closeTimeout).Msg("Lua worker still busy, leaving the VM open")
				return
			}
		}
		r.L.Close()
	})
}

// Do queues work to be executed on the Lua VM (thread-safe, non-blocking)
// Returns false if the runtime is closing, queue is full, or context is cancelled.
func (r *Runtime) Do(ctx context.Context, work LuaWork) bool {
	if r.isClosing() {
		log.Warn().Msg("Lua runtime closing, dropping work")
		return false
	}
	select {
	case <-ctx.Done():
		log.Warn().Msg("Context cancelled, dropping Lua work")
		return false
	case r.workQueue <- work:
		return true
	default:
		log.Warn().Msg("Lua work queue full, dropping work")
		return false
	}
}

// DoSync queues work and blocks until there's space (thread-safe, blocking)
func (r *Runtime) DoSync(ctx context.Context, work LuaWork) error {
	if r.isClosing() {
		return ErrRuntimeClosed
	}
	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case r.workQueue <- work:
		return nil
	}
}

// DoSyncWithResult queues work, waits for space, and waits for the result.
func (r *Runtime) DoSyncWithResult(ctx context.Context, work func(context.Context) error) error {
	done := make(chan error, 1)
	wrappedWork := LuaWork(func(c context.Context) {
		done <- work(c)
	})

	if r.isClosing() {
		return ErrRuntimeClosed
	}
	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case r.workQueue <- wrappedWork:
	}

	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (r *Runtime) isClosing() bool {
	select {
	case <-r.closing:
		return true
	default:
		return false
	}
}

// Run starts the Lua worker goroutine - this is the ONLY goroutine that touches Lua
// after the script is loaded. Exits when context is cancelled or runtime is closed.
func (r *Runtime) Run(ctx context.Context) {
	r.mu.Lock()
	if r.closed || r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			r.drainQueue(ctx)
			return
		case <-r.closing:
			return
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		}
	}
}

// drainQueue processes any remaining work in the queue before exiting
func (r *Runtime) drainQueue(ctx context.Context) {
	for {
		select {
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		default:
			return
		}
	}
}

// executeWork runs a single work item with panic recovery
func (r *Runtime) executeWork(ctx context.Context, work LuaWork) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Msg("Lua work panicked - worker continuing")
		}
	}()
	r.L.SetContext(ctx)
	work(ctx)
}

// LoadScript loads and executes the show script (must be called before Run)
func (r *Runtime) LoadScript(path string) error {
	log.Info().Str("path", path).Msg("Loading Lua script")

	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}

	log.Info().Msg("Lua script loaded successfully")
	return nil
}

// LoadString executes script source, mainly for tests and inline shows.
func (r *Runtime) LoadString(source string) error {
	if err := r.L.DoString(source); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}
	return nil
}

// Show returns the show module for wiring the controller and reading aliases
func (r *Runtime) Show() *modules.ShowModule {
	return r.showModule
}

// RegisterHooks forwards bus events to the script's show.on() handlers.
// Handlers run on the Lua worker, one event at a time.
func (r *Runtime) RegisterHooks(ctx context.Context, bus *eventbus.Bus) {
	for _, t := range modules.HookEvents {
		if len(r.showModule.Hooks(t)) == 0 {
			continue
		}
		log.Debug().Str("event", string(t)).Msg("Registering Lua hook")
		bus.Subscribe(t, func(event eventbus.Event) {
			r.Do(ctx, func(context.Context) {
				r.showModule.CallHooks(r.L, event)
			})
		})
	}
}
