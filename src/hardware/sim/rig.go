package sim

import (
	"github.com/brewlab/brewctl/src/dispenser"
	"github.com/brewlab/brewctl/src/flow"
)

// Rig is a complete simulated machine.
type Rig struct {
	Drum    *Output
	Grinder *Output
	Heater  *Output
	Plant   *Plant
	Servos  map[dispenser.ID]*Output
	Pulses  *flow.PulseCounter
}

func NewRig(cal flow.Calibration, ids []dispenser.ID) *Rig {
	pulses := &flow.PulseCounter{}
	r := &Rig{
		Drum:    &Output{},
		Grinder: &Output{},
		Heater:  &Output{},
		Plant:   NewPlant(cal, pulses),
		Servos:  make(map[dispenser.ID]*Output, len(ids)),
		Pulses:  pulses,
	}
	for _, id := range ids {
		r.Servos[id] = &Output{}
	}
	return r
}

func (r *Rig) DispenserActuators() map[dispenser.ID]dispenser.Actuator {
	out := make(map[dispenser.ID]dispenser.Actuator, len(r.Servos))
	for id, s := range r.Servos {
		out[id] = s
	}
	return out
}
