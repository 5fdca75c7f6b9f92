// Package dispenser drives the auger servos that meter dry ingredients. Each
// channel runs a forward/reverse periodic motion until an absolute stop time.
package dispenser

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrUnknownChannel = errors.New("unknown dispenser channel")
	ErrInvalidAmount  = errors.New("invalid dispense amount")
)

// ID is a single-letter channel identifier.
type ID byte

func (id ID) String() string { return string(rune(id)) }

// Unit selects how a Request amount is interpreted.
type Unit int

const (
	Grams Unit = iota
	Seconds
)

func (u Unit) Suffix() string {
	if u == Seconds {
		return "s"
	}
	return "g"
}

// Request asks a channel to run for an amount of product or time.
type Request struct {
	Amount float64
	Unit   Unit
}

// Actuator is the servo output of one channel.
type Actuator interface {
	SetSpeed(speed float64) error
}

type ChannelConfig struct {
	ID           string  `yaml:"id"`
	ForwardSpeed float64 `yaml:"forward_speed"`
	ReverseSpeed float64 `yaml:"reverse_speed"`
}

type Config struct {
	Period          time.Duration   `yaml:"period"`
	ForwardFraction float64         `yaml:"forward_fraction"`
	StopSpeed       float64         `yaml:"stop_speed"`
	GramsPerSecond  float64         `yaml:"grams_per_second"`
	Margin          time.Duration   `yaml:"margin"`
	Channels        []ChannelConfig `yaml:"channels"`
}

func DefaultConfig() Config {
	return Config{
		Period:          5 * time.Second,
		ForwardFraction: 0.9,
		StopSpeed:       90,
		GramsPerSecond:  0.61,
		Margin:          time.Second,
		Channels: []ChannelConfig{
			{ID: "A", ForwardSpeed: 135, ReverseSpeed: 45},
			{ID: "B", ForwardSpeed: 135, ReverseSpeed: 45},
			{ID: "C", ForwardSpeed: 135, ReverseSpeed: 45},
			{ID: "D", ForwardSpeed: 45, ReverseSpeed: 135},
		},
	}
}

func (c Config) Validate() error {
	if c.Period <= 0 {
		return fmt.Errorf("dispenser period must be positive")
	}
	if c.ForwardFraction <= 0 || c.ForwardFraction > 1 {
		return fmt.Errorf("dispenser forward_fraction must be in (0, 1]")
	}
	if c.GramsPerSecond <= 0 {
		return fmt.Errorf("dispenser grams_per_second must be positive")
	}
	seen := map[string]bool{}
	for _, ch := range c.Channels {
		if len(ch.ID) != 1 {
			return fmt.Errorf("dispenser channel id %q must be a single letter", ch.ID)
		}
		if seen[ch.ID] {
			return fmt.Errorf("dispenser channel %q configured twice", ch.ID)
		}
		seen[ch.ID] = true
	}
	return nil
}

// IDs returns the configured channel ids in configuration order.
func (c Config) IDs() []ID {
	ids := make([]ID, 0, len(c.Channels))
	for _, ch := range c.Channels {
		ids = append(ids, ID(ch.ID[0]))
	}
	return ids
}

// RunDuration converts a request into a motion duration. Gram amounts use
// the auger's nominal throughput plus a fixed margin.
func (c Config) RunDuration(req Request) (time.Duration, error) {
	if req.Amount <= 0 {
		return 0, fmt.Errorf("%v: %w", req.Amount, ErrInvalidAmount)
	}
	seconds := req.Amount
	if req.Unit == Grams {
		seconds = req.Amount/c.GramsPerSecond + c.Margin.Seconds()
	}
	ns := seconds * float64(time.Second)
	if ns >= float64(math.MaxInt64) {
		return 0, fmt.Errorf("%v: run time overflows: %w", req.Amount, ErrInvalidAmount)
	}
	return time.Duration(ns), nil
}

func (c Config) forwardDuration() time.Duration {
	return time.Duration(float64(c.Period) * c.ForwardFraction)
}
