package app

import (
	"context"
	"path/filepath"

	"github.com/dokzlo13/fountaind/internal/config"
	"github.com/dokzlo13/fountaind/internal/eventbus"
	"github.com/dokzlo13/fountaind/internal/fcw"
	luart "github.com/dokzlo13/fountaind/internal/lua"
	"github.com/dokzlo13/fountaind/internal/lua/modules"
	"github.com/dokzlo13/fountaind/internal/playback"
	"github.com/dokzlo13/fountaind/internal/scheduler"
)

// LuaService wraps the Lua runtime and provides thread-safe execution.
type LuaService struct {
	cfg     *config.Config
	Runtime *luart.Runtime
}

// NewLuaService creates a new LuaService. Relative paths in the script resolve
// against the script's directory.
func NewLuaService(
	cfg *config.Config,
	catalog *playback.Catalog,
	sched *scheduler.Scheduler,
	knownSpecial func(fcw.Special) bool,
) *LuaService {
	runtime := luart.NewRuntime(luart.RuntimeDeps{
		Catalog:      catalog,
		Scheduler:    sched,
		BaseDir:      filepath.Dir(cfg.Script),
		KnownSpecial: knownSpecial,
		CloseTimeout: cfg.ShutdownTimeout.Duration(),
	})

	return &LuaService{
		cfg:     cfg,
		Runtime: runtime,
	}
}

// LoadScript loads and executes the Lua script.
// Must be called before Start().
func (s *LuaService) LoadScript() error {
	return s.Runtime.LoadScript(s.cfg.Script)
}

// Specials returns the special addresses the script aliased.
func (s *LuaService) Specials() map[uint32]fcw.Special {
	return s.Runtime.Show().Specials()
}

// SetController lets the script start and stop playlists.
func (s *LuaService) SetController(c modules.Controller) {
	s.Runtime.Show().SetController(c)
}

// Start registers the script's event hooks and begins the Lua worker goroutine.
func (s *LuaService) Start(ctx context.Context, bus *eventbus.Bus) {
	s.Runtime.RegisterHooks(ctx, bus)
	// Start Lua worker goroutine - this is the ONLY goroutine that touches Lua
	go s.Runtime.Run(ctx)
}

// Do queues work to be executed on the Lua VM.
func (s *LuaService) Do(ctx context.Context, work luart.LuaWork) bool {
	return s.Runtime.Do(ctx, work)
}

// Close closes the Lua runtime.
func (s *LuaService) Close() {
	if s.Runtime != nil {
		s.Runtime.Close()
	}
}
