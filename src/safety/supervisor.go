// Package safety implements the heater interlocks: the heater is forced off
// when no dispense follows it being switched on, when the flow sensor stops
// counting while it is on, and shortly after a dispense completes.
package safety

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Reason describes why the supervisor switched the heater off.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonHeaterUnused Reason = "heater_unused"
	ReasonNoFlow       Reason = "no_flow"
	ReasonCooldown     Reason = "cooldown"
)

// Heater is the heating element output, in percent of full power.
type Heater interface {
	SetPower(percent float64) error
}

// PulseSource exposes the flow sensor's monotonic pulse count.
type PulseSource interface {
	Total() uint64
}

type Config struct {
	HeaterTimeout time.Duration `yaml:"heater_timeout"`
	NoFlowTimeout time.Duration `yaml:"no_flow_timeout"`
	Cooldown      time.Duration `yaml:"cooldown"`
}

func DefaultConfig() Config {
	return Config{
		HeaterTimeout: 5 * time.Second,
		NoFlowTimeout: time.Second,
		Cooldown:      time.Second,
	}
}

func (c Config) Validate() error {
	if c.HeaterTimeout <= 0 || c.NoFlowTimeout <= 0 || c.Cooldown < 0 {
		return fmt.Errorf("safety timeouts must be positive")
	}
	return nil
}

// State is the read-only view of the heater for telemetry.
type State struct {
	Active   bool    `json:"active"`
	Power    float64 `json:"power"`
	PumpUsed bool    `json:"pump_used"`
	LastTrip Reason  `json:"last_trip,omitempty"`
}

type Supervisor struct {
	config Config
	heater Heater
	pulses PulseSource
	log    *zap.SugaredLogger

	active      bool
	power       float64
	activatedAt time.Time
	pumpUsed    bool
	lastPulses  uint64
	flowSeenAt  time.Time
	cooldownAt  time.Time
	lastTrip    Reason
	// An off write failed and must be retried.
	offPending bool
}

func NewSupervisor(config Config, heater Heater, pulses PulseSource, log *zap.SugaredLogger) *Supervisor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Supervisor{config: config, heater: heater, pulses: pulses, log: log}
}

// SetHeater applies a heater command. Any positive power re-arms the
// interlocks from now, including the no-flow watch; zero switches off and
// disarms them.
func (s *Supervisor) SetHeater(percent float64, now time.Time) error {
	percent = max(0, min(100, percent))
	if percent == 0 {
		s.disarm()
		s.log.Infof("Heater: off")
		return s.writeOff()
	}

	s.active = true
	s.power = percent
	s.activatedAt = now
	s.pumpUsed = false
	s.lastPulses = s.pulses.Total()
	s.flowSeenAt = now
	s.cooldownAt = time.Time{}
	s.lastTrip = ReasonNone
	s.log.Infof("Heater: on at %.0f%%", percent)
	if err := s.heater.SetPower(percent); err != nil {
		return fmt.Errorf("set heater power: %w", err)
	}
	s.offPending = false
	return nil
}

// DispenseStarted tells the supervisor the pump has started. It restarts the
// no-flow watch and cancels a pending cooldown.
func (s *Supervisor) DispenseStarted(now time.Time) {
	if !s.active {
		return
	}
	s.pumpUsed = true
	s.lastPulses = s.pulses.Total()
	s.flowSeenAt = now
	s.cooldownAt = time.Time{}
}

// DispenseCompleted arms the cooldown when the heater is on. It reports
// whether the cooldown was armed.
func (s *Supervisor) DispenseCompleted(now time.Time) bool {
	if !s.active {
		return false
	}
	s.cooldownAt = now.Add(s.config.Cooldown)
	return true
}

// Tick evaluates every interlock and returns the reason if it tripped.
func (s *Supervisor) Tick(now time.Time) Reason {
	if s.offPending {
		_ = s.writeOff()
	}
	if !s.active {
		return ReasonNone
	}

	if !s.pumpUsed && now.Sub(s.activatedAt) > s.config.HeaterTimeout {
		return s.trip(ReasonHeaterUnused)
	}

	if total := s.pulses.Total(); total != s.lastPulses {
		s.lastPulses = total
		s.flowSeenAt = now
	} else if now.Sub(s.flowSeenAt) > s.config.NoFlowTimeout {
		return s.trip(ReasonNoFlow)
	}

	if !s.cooldownAt.IsZero() && !now.Before(s.cooldownAt) {
		return s.trip(ReasonCooldown)
	}
	return ReasonNone
}

// Shutdown forces the heater off without recording a trip.
func (s *Supervisor) Shutdown() {
	s.disarm()
	_ = s.writeOff()
}

func (s *Supervisor) State() State {
	return State{Active: s.active, Power: s.power, PumpUsed: s.pumpUsed, LastTrip: s.lastTrip}
}

func (s *Supervisor) trip(reason Reason) Reason {
	s.log.Warnf("Heater: safety trip (%s), forcing off", reason)
	s.disarm()
	s.lastTrip = reason
	_ = s.writeOff()
	return reason
}

func (s *Supervisor) disarm() {
	s.active = false
	s.power = 0
	s.pumpUsed = false
	s.flowSeenAt = time.Time{}
	s.cooldownAt = time.Time{}
}

func (s *Supervisor) writeOff() error {
	if err := s.heater.SetPower(0); err != nil {
		if !s.offPending {
			s.log.Warnf("Heater: failed to switch off, retrying: %v", err)
		}
		s.offPending = true
		return fmt.Errorf("set heater power: %w", err)
	}
	s.offPending = false
	return nil
}
