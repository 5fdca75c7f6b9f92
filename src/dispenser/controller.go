package dispenser

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Channel is the motion state of one auger.
type Channel struct {
	ID           ID
	ForwardSpeed float64
	ReverseSpeed float64

	actuator   Actuator
	running    bool
	forward    bool
	stopAt     time.Time
	phaseStart time.Time
	// Set when the last write failed so the next tick re-sends it.
	retry float64
	dirty bool
}

// State is the read-only view of a channel for telemetry.
type State struct {
	ID        string  `json:"id"`
	Running   bool    `json:"running"`
	Forward   bool    `json:"forward"`
	Remaining float64 `json:"remaining_seconds"`
}

type Controller struct {
	config   Config
	log      *zap.SugaredLogger
	channels []*Channel
	byID     map[ID]*Channel
}

// NewController builds one channel per configured id. Every configured id
// needs an actuator.
func NewController(config Config, actuators map[ID]Actuator, log *zap.SugaredLogger) (*Controller, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{config: config, log: log, byID: make(map[ID]*Channel)}
	for _, cc := range config.Channels {
		id := ID(cc.ID[0])
		act, ok := actuators[id]
		if !ok {
			return nil, fmt.Errorf("no actuator for dispenser %v", id)
		}
		ch := &Channel{ID: id, ForwardSpeed: cc.ForwardSpeed, ReverseSpeed: cc.ReverseSpeed, actuator: act}
		c.channels = append(c.channels, ch)
		c.byID[id] = ch
	}
	return c, nil
}

// Run starts (or restarts) a channel, returning the planned run time.
func (c *Controller) Run(id ID, req Request, now time.Time) (time.Duration, error) {
	ch, ok := c.byID[id]
	if !ok {
		return 0, fmt.Errorf("%v: %w", id, ErrUnknownChannel)
	}
	d, err := c.config.RunDuration(req)
	if err != nil {
		return 0, err
	}

	ch.running = true
	ch.forward = true
	ch.phaseStart = now
	ch.stopAt = now.Add(d)
	c.write(ch, ch.ForwardSpeed)
	c.log.Infof("Dispenser %v: running for %.2fs", id, d.Seconds())
	return d, nil
}

// Tick advances every running channel's phase.
func (c *Controller) Tick(now time.Time) {
	for _, ch := range c.channels {
		if ch.dirty {
			c.write(ch, ch.retry)
		}
		if !ch.running {
			continue
		}

		if !now.Before(ch.stopAt) {
			ch.running = false
			c.write(ch, c.config.StopSpeed)
			c.log.Infof("Dispenser %v: stopped", ch.ID)
			continue
		}

		inPhase := now.Sub(ch.phaseStart)
		if ch.forward {
			if inPhase >= c.config.forwardDuration() {
				ch.forward = false
				c.write(ch, ch.ReverseSpeed)
			}
		} else if inPhase >= c.config.Period {
			ch.forward = true
			ch.phaseStart = now
			c.write(ch, ch.ForwardSpeed)
		}
	}
}

// Stop halts every channel immediately.
func (c *Controller) Stop() {
	for _, ch := range c.channels {
		ch.running = false
		c.write(ch, c.config.StopSpeed)
	}
}

// Running reports whether any channel is in motion.
func (c *Controller) Running() bool {
	for _, ch := range c.channels {
		if ch.running {
			return true
		}
	}
	return false
}

func (c *Controller) States(now time.Time) []State {
	states := make([]State, 0, len(c.channels))
	for _, ch := range c.channels {
		s := State{ID: ch.ID.String(), Running: ch.running, Forward: ch.running && ch.forward}
		if ch.running {
			s.Remaining = max(ch.stopAt.Sub(now).Seconds(), 0)
		}
		states = append(states, s)
	}
	return states
}

func (c *Controller) write(ch *Channel, speed float64) {
	if err := ch.actuator.SetSpeed(speed); err != nil {
		c.log.Warnf("Dispenser %v: failed to set speed %.0f: %v", ch.ID, speed, err)
		ch.retry = speed
		ch.dirty = true
		return
	}
	ch.dirty = false
}
