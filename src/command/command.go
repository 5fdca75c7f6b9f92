// Package command implements the brew command language: token parsing,
// the bounded command queue and two-phase batch admission.
package command

import (
	"fmt"
	"strconv"

	"github.com/brewlab/brewctl/src/dispenser"
)

// Kind identifies which controller a Command is dispatched to.
type Kind int

const (
	SetDrumSpeed Kind = iota
	SetGrinderSpeed
	Dispense
	SetHeater
	RunDispenser
	Delay
)

// Letter returns the command letter used on the wire.
func (k Kind) Letter() byte {
	switch k {
	case SetDrumSpeed:
		return 'R'
	case SetGrinderSpeed:
		return 'G'
	case Dispense:
		return 'P'
	case SetHeater:
		return 'H'
	case RunDispenser:
		return 'S'
	case Delay:
		return 'D'
	default:
		return '?'
	}
}

func (k Kind) String() string {
	switch k {
	case SetDrumSpeed:
		return "drum_speed"
	case SetGrinderSpeed:
		return "grinder_speed"
	case Dispense:
		return "dispense"
	case SetHeater:
		return "heater"
	case RunDispenser:
		return "run_dispenser"
	case Delay:
		return "delay"
	default:
		return "unknown"
	}
}

// Command is a parsed, validated instruction. It is immutable once parsed.
//
// Value carries the primary parameter: drum RPM, grinder duty, dispense
// volume (mL), heater power (%), dispenser amount, or delay (ms).
// Extra carries the dispense flow rate (mL/s); it is unused by other kinds.
type Command struct {
	Kind   Kind
	Value  float64
	Extra  float64
	Device dispenser.ID
	Unit   dispenser.Unit
}

// Volume returns the requested dispense volume in mL.
func (c Command) Volume() float64 { return c.Value }

// Rate returns the requested dispense flow rate in mL/s.
func (c Command) Rate() float64 { return c.Extra }

// Request converts a RunDispenser command into a motion request.
func (c Command) Request() dispenser.Request {
	return dispenser.Request{Amount: c.Value, Unit: c.Unit}
}

// String renders the command back into token form.
func (c Command) String() string {
	v := strconv.FormatFloat(c.Value, 'f', -1, 64)
	switch c.Kind {
	case Dispense:
		return fmt.Sprintf("P-%s-%s", v, strconv.FormatFloat(c.Extra, 'f', -1, 64))
	case RunDispenser:
		return fmt.Sprintf("S-%s-%s%s", c.Device, v, c.Unit.Suffix())
	default:
		return fmt.Sprintf("%c-%s", c.Kind.Letter(), v)
	}
}
