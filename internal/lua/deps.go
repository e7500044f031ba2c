package lua

import (
	"time"

	"github.com/dokzlo13/fountaind/internal/fcw"
	"github.com/dokzlo13/fountaind/internal/playback"
	"github.com/dokzlo13/fountaind/internal/scheduler"
)

// RuntimeDeps groups all dependencies needed by Lua runtime.
type RuntimeDeps struct {
	Catalog   *playback.Catalog
	Scheduler *scheduler.Scheduler // nil when scheduling is disabled
	// BaseDir resolves relative command file paths, usually the script's directory.
	BaseDir string
	// KnownSpecial validates show.special() action names.
	KnownSpecial func(fcw.Special) bool
	// CloseTimeout bounds how long Close waits for the worker; 0 means 5s.
	CloseTimeout time.Duration
}
