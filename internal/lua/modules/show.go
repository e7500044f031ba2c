package modules

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/fountaind/internal/command"
	"github.com/dokzlo13/fountaind/internal/eventbus"
	"github.com/dokzlo13/fountaind/internal/fcw"
	"github.com/dokzlo13/fountaind/internal/playback"
)

// Controller starts, pauses and stops playlists on behalf of the script.
type Controller interface {
	PlayPlaylist(name string) error
	Stop()
	Pause() error
	Resume() error
	Status() map[string]any
}

// HookEvents are the bus events a script can attach handlers to.
var HookEvents = []eventbus.EventType{
	eventbus.EventTypeShowStarted,
	eventbus.EventTypeShowFinished,
	eventbus.EventTypeWarning,
	eventbus.EventTypeSchedule,
	eventbus.EventTypeConnectivity,
}

// ShowModule declares the show: songs, playlists, special address aliases and
// event hooks.
//
// ERROR HANDLING CONVENTION:
//   - song(), playlist(), special(), on(): L.RaiseError() on bad declarations
//   - play(): returns (ok, error_string)
type ShowModule struct {
	catalog *playback.Catalog
	baseDir string
	known   func(fcw.Special) bool

	mu         sync.Mutex
	specials   map[uint32]fcw.Special
	hooks      map[eventbus.EventType][]*lua.LFunction
	controller Controller
}

// NewShowModule creates the show module. Relative command file paths are
// resolved against baseDir; known validates special action names.
func NewShowModule(catalog *playback.Catalog, baseDir string, known func(fcw.Special) bool) *ShowModule {
	return &ShowModule{
		catalog:  catalog,
		baseDir:  baseDir,
		known:    known,
		specials: make(map[uint32]fcw.Special),
		hooks:    make(map[eventbus.EventType][]*lua.LFunction),
	}
}

// SetController attaches the playlist runner once it exists.
func (m *ShowModule) SetController(c Controller) {
	m.mu.Lock()
	m.controller = c
	m.mu.Unlock()
}

// Specials returns the address aliases declared by the script.
func (m *ShowModule) Specials() map[uint32]fcw.Special {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uint32]fcw.Special, len(m.specials))
	for k, v := range m.specials {
		out[k] = v
	}
	return out
}

// Hooks returns the handlers registered for an event type.
func (m *ShowModule) Hooks(t eventbus.EventType) []*lua.LFunction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*lua.LFunction(nil), m.hooks[t]...)
}

// Loader is the module loader for Lua
func (m *ShowModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "song", L.NewFunction(m.song))
	L.SetField(mod, "playlist", L.NewFunction(m.playlist))
	L.SetField(mod, "special", L.NewFunction(m.special))
	L.SetField(mod, "on", L.NewFunction(m.on))
	L.SetField(mod, "play", L.NewFunction(m.play))
	L.SetField(mod, "stop", L.NewFunction(m.stop))
	L.SetField(mod, "pause", L.NewFunction(m.transition(Controller.Pause)))
	L.SetField(mod, "resume", L.NewFunction(m.transition(Controller.Resume)))
	L.SetField(mod, "status", L.NewFunction(m.status))
	L.SetField(mod, "songs", L.NewFunction(m.songs))
	L.SetField(mod, "playlists", L.NewFunction(m.playlists))

	L.Push(mod)
	return 1
}

// song{name=, commands="file" | text=[[...]], duration=} - Declare a song
func (m *ShowModule) song(L *lua.LState) int {
	opts := L.CheckTable(1)

	name := lua.LVAsString(opts.RawGetString("name"))
	if name == "" {
		L.RaiseError("song: name is required")
		return 0
	}

	duration, err := optDuration(opts, "duration")
	if err != nil {
		L.RaiseError("song %s: %s", name, err.Error())
		return 0
	}

	var tl *command.Timeline
	file := lua.LVAsString(opts.RawGetString("commands"))
	text := lua.LVAsString(opts.RawGetString("text"))
	switch {
	case file != "" && text != "":
		L.RaiseError("song %s: commands and text are exclusive", name)
		return 0
	case file != "":
		tl, err = command.LoadFile(m.resolve(file))
	case text != "":
		tl, err = command.Parse(strings.NewReader(text))
	default:
		L.RaiseError("song %s: commands or text is required", name)
		return 0
	}
	if err != nil {
		L.RaiseError("song %s: %s", name, err.Error())
		return 0
	}

	if err := m.catalog.AddSong(playback.Song{Name: name, Timeline: tl, Duration: duration}); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}

	log.Debug().
		Str("song", name).
		Int("lines", tl.Len()).
		Int("commands", tl.CommandCount()).
		Msg("Song declared")
	return 0
}

// playlist(name, {song, ...}) - Declare a playlist
func (m *ShowModule) playlist(L *lua.LState) int {
	name := L.CheckString(1)
	songs := stringList(L.CheckTable(2))

	if err := m.catalog.AddPlaylist(name, songs); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

// special(address, action) - Alias an address to a special action
func (m *ShowModule) special(L *lua.LState) int {
	address := L.CheckInt(1)
	action := fcw.Special(L.CheckString(2))

	if address < 0 {
		L.RaiseError("special: address %d out of range", address)
		return 0
	}
	if m.known != nil && !m.known(action) {
		L.RaiseError("special: unknown action %q", string(action))
		return 0
	}

	m.mu.Lock()
	m.specials[uint32(address)] = action
	m.mu.Unlock()
	return 0
}

// on(event, fn) - Run fn(event_table) when a bus event is published
func (m *ShowModule) on(L *lua.LState) int {
	name := eventbus.EventType(L.CheckString(1))
	fn := L.CheckFunction(2)

	supported := false
	for _, t := range HookEvents {
		if t == name {
			supported = true
			break
		}
	}
	if !supported {
		L.RaiseError("on: unsupported event %q", string(name))
		return 0
	}

	m.mu.Lock()
	m.hooks[name] = append(m.hooks[name], fn)
	m.mu.Unlock()
	return 0
}

// play(name) -> (ok, err)
func (m *ShowModule) play(L *lua.LState) int {
	name := L.CheckString(1)

	c := m.getController()
	if c == nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString("show controller not ready"))
		return 2
	}
	return pushResult(L, c.PlayPlaylist(name))
}

// pause() / resume() -> (ok, err)
func (m *ShowModule) transition(fn func(Controller) error) lua.LGFunction {
	return func(L *lua.LState) int {
		c := m.getController()
		if c == nil {
			L.Push(lua.LFalse)
			L.Push(lua.LString("show controller not ready"))
			return 2
		}
		return pushResult(L, fn(c))
	}
}

func pushResult(L *lua.LState, err error) int {
	if err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	L.Push(lua.LNil)
	return 2
}

// stop() - Stop the running playlist
func (m *ShowModule) stop(L *lua.LState) int {
	if c := m.getController(); c != nil {
		c.Stop()
	}
	return 0
}

// status() -> table
func (m *ShowModule) status(L *lua.LState) int {
	c := m.getController()
	if c == nil {
		L.Push(L.NewTable())
		return 1
	}
	L.Push(MapToLuaTable(L, c.Status()))
	return 1
}

func (m *ShowModule) songs(L *lua.LState) int {
	L.Push(GoToLuaValue(L, m.catalog.Songs()))
	return 1
}

func (m *ShowModule) playlists(L *lua.LState) int {
	L.Push(GoToLuaValue(L, m.catalog.Playlists()))
	return 1
}

func (m *ShowModule) getController() Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controller
}

func (m *ShowModule) resolve(path string) string {
	if filepath.IsAbs(path) || m.baseDir == "" {
		return path
	}
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return filepath.Join(m.baseDir, path)
}

// CallHooks runs the handlers for an event. Must be called on the Lua worker.
func (m *ShowModule) CallHooks(L *lua.LState, event eventbus.Event) {
	for _, fn := range m.Hooks(event.Type) {
		err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, MapToLuaTable(L, event.Data))
		if err != nil {
			log.Error().Err(err).Str("event", string(event.Type)).Msg("Lua hook failed")
		}
	}
}
