package engine

import (
	"time"

	"github.com/brewlab/brewctl/src/dispenser"
	"github.com/brewlab/brewctl/src/flow"
	"github.com/brewlab/brewctl/src/safety"
)

type MotorState struct {
	Current float64 `json:"current"`
	Target  float64 `json:"target"`
}

type FlowState struct {
	flow.State
	RateMin float64 `json:"rate_min_mls"`
	RateMax float64 `json:"rate_max_mls"`
}

// Snapshot is an immutable view of the machine, published once per tick.
type Snapshot struct {
	Time           time.Time         `json:"time"`
	Uptime         float64           `json:"uptime_seconds"`
	Drum           MotorState        `json:"drum"`
	Grinder        MotorState        `json:"grinder"`
	Flow           FlowState         `json:"flow"`
	Dispensers     []dispenser.State `json:"dispensers"`
	Heater         safety.State      `json:"heater"`
	QueueLen       int               `json:"queue_len"`
	QueueCap       int               `json:"queue_cap"`
	DelayRemaining float64           `json:"delay_remaining_seconds"`
}
