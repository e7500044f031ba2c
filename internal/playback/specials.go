package playback

import (
	"fmt"
	"time"

	"github.com/dokzlo13/fountaind/internal/command"
	"github.com/dokzlo13/fountaind/internal/fcw"
	"github.com/dokzlo13/fountaind/internal/lighting"
)

// SpecialUnlockAll releases every lock, firm ones included.
const SpecialUnlockAll fcw.Special = "unlock_all"

// Shift command data values.
const (
	ShiftEnd = iota
	ShiftRight
	ShiftLeft
	RotateRight
	RotateLeft
)

// ShiftTimerUnit is the time step of a shift timer command's data field.
const ShiftTimerUnit = 100 * time.Millisecond

// moduleSwap: 0 clears, 1 mirrors A onto B, 2 mirrors B onto A, 3 swaps.
func moduleSwap(e *lighting.Engine, c command.Command) error {
	if c.Data > 3 {
		return fmt.Errorf("invalid module swap mode %d", c.Data)
	}
	return e.SwapModuleGroups(c.Data&1 != 0, c.Data&2 != 0)
}

func shift(e *lighting.Engine, c command.Command) error {
	switch c.Data {
	case ShiftEnd:
		e.EndShift()
	case ShiftRight:
		e.BeginShift(true, false)
	case ShiftLeft:
		e.BeginShift(false, false)
	case RotateRight:
		e.BeginShift(true, true)
	case RotateLeft:
		e.BeginShift(false, true)
	default:
		return fmt.Errorf("invalid shift mode %d", c.Data)
	}
	return nil
}

func shiftTimer(e *lighting.Engine, c command.Command) error {
	e.SetShiftInterval(time.Duration(c.Data) * ShiftTimerUnit)
	return nil
}

func reset(e *lighting.Engine, _ command.Command) error {
	e.Reset()
	return nil
}

func unlockAll(e *lighting.Engine, _ command.Command) error {
	for _, l := range e.Lights() {
		if err := e.SetFirmLock(l.Number, false); err != nil {
			return err
		}
		if err := e.Unlock(l.Number); err != nil {
			return err
		}
	}
	return nil
}
