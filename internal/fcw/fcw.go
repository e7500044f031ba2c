// Package fcw holds the device-address registry (Fountain Control Words) that
// classifies every command address as water, light or special.
package fcw

import "strings"

// Kind is a bit set describing what an address drives.
type Kind uint8

const (
	KindWater Kind = 1 << iota
	KindLight
	KindSpecial
)

// Has reports whether all bits of flag are set.
func (k Kind) Has(flag Kind) bool {
	return k&flag == flag
}

func (k Kind) String() string {
	var parts []string
	if k.Has(KindWater) {
		parts = append(parts, "water")
	}
	if k.Has(KindLight) {
		parts = append(parts, "light")
	}
	if k.Has(KindSpecial) {
		parts = append(parts, "special")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Role selects how light commands on an address are applied. The set is open:
// tables may carry roles newer than the ones this build knows.
type Role string

const (
	RoleNone       Role = ""
	RoleTurnOnOff  Role = "turn_on_off"
	RoleFade       Role = "fade"
	RoleSpecialDMX Role = "special_dmx"
)

// Special names the control action of a reserved address. Like Role it is an open
// tag set; configuration and the show script can alias extra addresses to actions.
type Special string

const (
	SpecialNone       Special = ""
	SpecialModuleSwap Special = "module_swap"
	SpecialShift      Special = "shift"
	SpecialShiftTimer Special = "shift_timer"
	SpecialReset      Special = "reset"
)

// FCW is one registry entry.
type FCW struct {
	Address uint32
	Kind    Kind
	Role    Role
	Special Special
	Lights  []uint32
}

// SameLights reports whether both entries affect exactly the same lights.
func (f FCW) SameLights(other FCW) bool {
	if len(f.Lights) != len(other.Lights) {
		return false
	}
	seen := make(map[uint32]int, len(f.Lights))
	for _, l := range f.Lights {
		seen[l]++
	}
	for _, l := range other.Lights {
		if seen[l] == 0 {
			return false
		}
		seen[l]--
	}
	return true
}
