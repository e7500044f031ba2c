package modules

import (
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/fountaind/internal/scheduler"
)

// SchedModule provides sched.define() and friends to Lua.
//
// ERROR HANDLING CONVENTION:
//   - define(), disable(): Use L.RaiseError() for critical setup failures
//   - upcoming(): never fails
type SchedModule struct {
	scheduler *scheduler.Scheduler
}

// NewSchedModule creates a new sched module. A nil scheduler makes define()
// an error, so scripts fail loudly when scheduling is disabled.
func NewSchedModule(sched *scheduler.Scheduler) *SchedModule {
	return &SchedModule{
		scheduler: sched,
	}
}

// Loader is the module loader for Lua
func (m *SchedModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "define", L.NewFunction(m.define))
	L.SetField(mod, "disable", L.NewFunction(m.disable))
	L.SetField(mod, "upcoming", L.NewFunction(m.upcoming))

	L.Push(mod)
	return 1
}

// define(id, cron_spec, playlist, opts) - Start a playlist on a cron schedule
func (m *SchedModule) define(L *lua.LState) int {
	id := L.CheckString(1)
	spec := L.CheckString(2)
	playlist := L.CheckString(3)
	optsTable := L.OptTable(4, L.NewTable())

	if m.scheduler == nil {
		L.RaiseError("failed to define schedule %s: scheduler is disabled", id)
		return 0
	}

	policy, err := scheduler.ParseMisfirePolicy(lua.LVAsString(optsTable.RawGetString("misfire_policy")))
	if err != nil {
		L.RaiseError("failed to define schedule: %s", err.Error())
		return 0
	}

	if err := m.scheduler.Define(id, spec, playlist, policy); err != nil {
		L.RaiseError("failed to define schedule: %s", err.Error())
		return 0
	}

	return 0
}

// disable(id) - Remove a schedule definition
func (m *SchedModule) disable(L *lua.LState) int {
	id := L.CheckString(1)
	if m.scheduler != nil {
		m.scheduler.Unregister(id)
	}
	return 0
}

// upcoming() -> {{id=, spec=, playlist=, next=}, ...}
func (m *SchedModule) upcoming(L *lua.LState) int {
	tbl := L.NewTable()
	if m.scheduler != nil {
		for i, e := range m.scheduler.Upcoming() {
			entry := L.NewTable()
			L.SetField(entry, "id", lua.LString(e.ID))
			L.SetField(entry, "spec", lua.LString(e.Spec))
			L.SetField(entry, "playlist", lua.LString(e.Playlist))
			L.SetField(entry, "next", lua.LString(e.Next.Format(time.RFC3339)))
			tbl.RawSetInt(i+1, entry)
		}
	}
	L.Push(tbl)
	return 1
}
