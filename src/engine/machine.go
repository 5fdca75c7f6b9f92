// Package engine runs the brewer: one Machine owns every controller and
// advances them all from a single cooperative loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/brewlab/brewctl/src/command"
	"github.com/brewlab/brewctl/src/config"
	"github.com/brewlab/brewctl/src/dispenser"
	"github.com/brewlab/brewctl/src/flow"
	"github.com/brewlab/brewctl/src/governor"
	"github.com/brewlab/brewctl/src/safety"
)

// Actuators are the machine's outputs.
type Actuators struct {
	Drum       Motor
	Grinder    Motor
	Pump       flow.Pump
	Heater     safety.Heater
	Dispensers map[dispenser.ID]dispenser.Actuator
}

// Request carries one command line from an ingestion adapter into the loop.
type Request struct {
	Line  string
	Reply chan command.Admission
}

func NewRequest(line string) Request {
	return Request{Line: line, Reply: make(chan command.Admission, 1)}
}

// Send submits line through requests and waits for the admission result.
func Send(ctx context.Context, requests chan<- Request, line string) (command.Admission, error) {
	req := NewRequest(line)
	select {
	case requests <- req:
	case <-ctx.Done():
		return command.Admission{}, ctx.Err()
	}
	select {
	case adm := <-req.Reply:
		return adm, nil
	case <-ctx.Done():
		return command.Admission{}, ctx.Err()
	}
}

// Machine is the controller's context object. Everything except Snapshot
// must be called from the loop goroutine.
type Machine struct {
	config config.Config
	log    *zap.SugaredLogger
	events Notifier

	parser     *command.Parser
	queue      *command.Queue
	drum       *rampedMotor
	grinder    *rampedMotor
	flow       *flow.Controller
	flowRange  *governor.RollingMinMax
	dispensers *dispenser.Controller
	supervisor *safety.Supervisor

	started    time.Time
	delayUntil time.Time

	snapshot atomic.Pointer[Snapshot]
}

// New builds a machine from cfg. pulses is the flow sensor counter shared
// with the edge source; events may be nil.
func New(cfg config.Config, act Actuators, pulses *flow.PulseCounter, log *zap.SugaredLogger, events Notifier) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if act.Drum == nil || act.Grinder == nil || act.Pump == nil || act.Heater == nil {
		return nil, errors.New("drum, grinder, pump and heater outputs are required")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if events == nil {
		events = nopNotifier{}
	}

	dispensers, err := dispenser.NewController(cfg.Dispenser, act.Dispensers, log)
	if err != nil {
		return nil, err
	}

	m := &Machine{
		config: cfg,
		log:    log,
		events: events,
		parser: command.NewParser(command.Limits{
			GrinderMaxDuty: cfg.Grinder.Max,
			MinFlowRate:    cfg.Flow.Calibration.MinRate,
			MaxFlowRate:    cfg.Flow.Calibration.MaxRate,
			Dispensers:     cfg.Dispenser.IDs(),
		}),
		queue:      command.NewQueue(cfg.Queue.Capacity),
		drum:       newRampedMotor("Drum", cfg.Drum, act.Drum, cfg.Loop.MotorRefresh, log),
		grinder:    newRampedMotor("Grinder", cfg.Grinder, act.Grinder, cfg.Loop.MotorRefresh, log),
		flow:       flow.NewController(cfg.Flow, act.Pump, pulses, log),
		flowRange:  governor.NewRollingMinMax(cfg.Loop.FlowWindow),
		dispensers: dispensers,
		supervisor: safety.NewSupervisor(cfg.Safety, act.Heater, pulses, log),
	}
	return m, nil
}

// Submit runs two-phase admission for one command line.
func (m *Machine) Submit(line string, now time.Time) command.Admission {
	adm := m.parser.Admit(m.queue, line)
	for _, r := range adm.Rejected {
		m.log.Warnf("Command: ignoring %v", r.Err)
	}
	if adm.Err != nil {
		m.log.Warnf("Command: batch %q rejected: %v", line, adm.Err)
		m.events.Notify(newEvent(now, EventAdmissionRejected, map[string]any{
			"line":      line,
			"reason":    adm.Err.Error(),
			"required":  adm.Required,
			"available": adm.Available,
		}))
	} else {
		m.log.Infof("Command: queued %d command(s), %d/%d slots used", adm.Queued, m.queue.Len(), m.queue.Cap())
	}
	m.publish(now)
	return adm
}

// Tick advances every subsystem once and dispatches at most one command.
func (m *Machine) Tick(now time.Time) {
	if m.started.IsZero() {
		m.started = now
	}

	m.drum.tick(now)
	m.grinder.tick(now)

	res := m.flow.Tick(now)
	if res.Sampled && m.flow.Active() {
		m.flowRange.Update(m.flow.State().EstimatedRate, now)
	}
	if res.Completed {
		m.dispenseCompleted(now)
	}

	m.dispensers.Tick(now)
	m.dispatch(now)

	if reason := m.supervisor.Tick(now); reason != safety.ReasonNone {
		m.events.Notify(newEvent(now, EventSafetyTrip, map[string]any{"reason": string(reason)}))
	}

	m.publish(now)
}

// Run ticks the machine every TickInterval, draining requests between ticks,
// until ctx is cancelled. All outputs are switched off on return.
func (m *Machine) Run(ctx context.Context, requests <-chan Request) error {
	ticker := time.NewTicker(m.config.Loop.TickInterval)
	defer ticker.Stop()

	m.log.Infof("Machine: control loop started (tick %v)", m.config.Loop.TickInterval)
	for {
		select {
		case <-ctx.Done():
			m.Shutdown(time.Now())
			m.log.Infof("Machine: control loop stopped")
			return ctx.Err()
		case req := <-requests:
			req.Reply <- m.Submit(req.Line, time.Now())
		case now := <-ticker.C:
			m.Tick(now)
		}
	}
}

// Shutdown drops queued commands and puts every output in its safe state.
func (m *Machine) Shutdown(now time.Time) {
	m.queue.Clear()
	m.delayUntil = time.Time{}
	m.drum.stop(now)
	m.grinder.stop(now)
	m.flow.Stop()
	m.dispensers.Stop()
	m.supervisor.Shutdown()
	m.publish(now)
}

// Snapshot returns the latest published state. Safe from any goroutine.
func (m *Machine) Snapshot() *Snapshot {
	return m.snapshot.Load()
}

func (m *Machine) dispatch(now time.Time) {
	if m.queue.Len() == 0 || now.Before(m.delayUntil) {
		return
	}
	cmd, _ := m.queue.Pop()
	m.log.Infof("Command: executing %s", cmd)

	fields := map[string]any{"command": cmd.String(), "kind": cmd.Kind.String()}
	switch cmd.Kind {
	case command.SetDrumSpeed:
		m.drum.ramp.SetTarget(cmd.Value)

	case command.SetGrinderSpeed:
		m.grinder.ramp.SetTarget(cmd.Value)

	case command.Dispense:
		if err := m.flow.Start(cmd.Volume(), cmd.Rate(), now); err != nil {
			m.log.Warnf("Flow: ignoring %s: %v", cmd, err)
			fields["error"] = err.Error()
			break
		}
		m.supervisor.DispenseStarted(now)
		m.flowRange.Reset()
		m.events.Notify(newEvent(now, EventDispenseStarted, map[string]any{
			"volume_ml": cmd.Volume(),
			"rate_mls":  cmd.Rate(),
		}))

	case command.SetHeater:
		if err := m.supervisor.SetHeater(cmd.Value, now); err != nil {
			m.log.Warnf("Heater: %v", err)
			fields["error"] = err.Error()
		}
		if m.flow.Active() {
			// A heater switched on mid-dispense is already in use.
			m.supervisor.DispenseStarted(now)
		}
		m.events.Notify(newEvent(now, EventHeaterChanged, map[string]any{"power": cmd.Value}))

	case command.RunDispenser:
		d, err := m.dispensers.Run(cmd.Device, cmd.Request(), now)
		if err != nil {
			m.log.Warnf("Dispenser: ignoring %s: %v", cmd, err)
			fields["error"] = err.Error()
			break
		}
		fields["duration_seconds"] = d.Seconds()

	case command.Delay:
		m.delayUntil = now.Add(time.Duration(cmd.Value * float64(time.Millisecond)))
	}

	m.events.Notify(newEvent(now, EventCommand, fields))
}

func (m *Machine) dispenseCompleted(now time.Time) {
	s := m.flow.State()
	cooldown := m.supervisor.DispenseCompleted(now)
	m.events.Notify(newEvent(now, EventDispenseCompleted, map[string]any{
		"target_ml":    s.TargetVolume,
		"dispensed_ml": s.Dispensed,
		"pulses":       s.Pulses,
		"cooldown":     cooldown,
	}))
}

func (m *Machine) publish(now time.Time) {
	var uptime float64
	if !m.started.IsZero() {
		uptime = now.Sub(m.started).Seconds()
	}
	m.snapshot.Store(&Snapshot{
		Time:    now,
		Uptime:  uptime,
		Drum:    m.drum.state(),
		Grinder: m.grinder.state(),
		Flow: FlowState{
			State:   m.flow.State(),
			RateMin: m.flowRange.Min(),
			RateMax: m.flowRange.Max(),
		},
		Dispensers:     m.dispensers.States(now),
		Heater:         m.supervisor.State(),
		QueueLen:       m.queue.Len(),
		QueueCap:       m.queue.Cap(),
		DelayRemaining: max(m.delayUntil.Sub(now).Seconds(), 0),
	})
}
