package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/brewlab/brewctl/src/config"
	"github.com/brewlab/brewctl/src/dispenser"
	"github.com/brewlab/brewctl/src/engine"
	"github.com/brewlab/brewctl/src/flow"
	"github.com/brewlab/brewctl/src/hardware"
	"github.com/brewlab/brewctl/src/hardware/sim"
)

// simPlantInterval is how often the simulated pump emits pulses
const simPlantInterval = 5 * time.Millisecond

// driver is a background goroutine an output or input needs
type driver struct {
	name string
	run  func(ctx context.Context)
}

// Outputs is everything the machine drives, plus what has to run beside it
type Outputs struct {
	Actuators engine.Actuators
	Pulses    *flow.PulseCounter
	Drivers   []driver
	closers   []io.Closer
}

// Close releases the outputs after the control loop has stopped
func (o *Outputs) Close(log *zap.SugaredLogger) {
	for _, c := range o.closers {
		if err := c.Close(); err != nil {
			log.Warnf("Outputs: close failed: %v", err)
		}
	}
}

// openOutputs builds the simulated rig or opens the real hardware
func openOutputs(env *Environment, cfg config.Config, log *zap.SugaredLogger) (*Outputs, error) {
	if env.Sim {
		return simOutputs(cfg, log), nil
	}
	return hardwareOutputs(env, cfg, log)
}

func simOutputs(cfg config.Config, log *zap.SugaredLogger) *Outputs {
	rig := sim.NewRig(cfg.Flow.Calibration, cfg.Dispenser.IDs())
	log.Infof("Outputs: using simulated rig")
	return &Outputs{
		Actuators: engine.Actuators{
			Drum:       rig.Drum,
			Grinder:    rig.Grinder,
			Pump:       rig.Plant,
			Heater:     rig.Heater,
			Dispensers: rig.DispenserActuators(),
		},
		Pulses: rig.Pulses,
		Drivers: []driver{{
			name: "sim-plant",
			run:  func(ctx context.Context) { rig.Plant.Run(ctx, simPlantInterval) },
		}},
	}
}

func hardwareOutputs(env *Environment, cfg config.Config, log *zap.SugaredLogger) (_ *Outputs, err error) {
	out := &Outputs{Pulses: &flow.PulseCounter{}}
	defer func() {
		if err != nil {
			out.Close(log)
		}
	}()

	openMotor := func(name, port, modeName string) (*hardware.VESC, error) {
		mode, err := hardware.ParseVESCMode(modeName)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		v, err := hardware.OpenVESC(name, port, env.VESCBaud, mode, log)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out.Drivers = append(out.Drivers, driver{name: name + "-vesc", run: v.Run})
		return v, nil
	}
	openPWM := func(name string, channel int, period time.Duration) (*hardware.PWM, error) {
		p, err := hardware.OpenPWM(env.PWMChip, channel, period)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out.closers = append(out.closers, p)
		return p, nil
	}

	drum, err := openMotor("drum", env.DrumPort, env.DrumMode)
	if err != nil {
		return nil, err
	}
	grinder, err := openMotor("grinder", env.GrinderPort, env.GrinderMode)
	if err != nil {
		return nil, err
	}
	pump, err := openPWM("pump", env.PumpChannel, env.PWMPeriod)
	if err != nil {
		return nil, err
	}
	heater, err := openPWM("heater", env.HeaterChannel, env.PWMPeriod)
	if err != nil {
		return nil, err
	}

	servos := make(map[dispenser.ID]dispenser.Actuator)
	for _, id := range cfg.Dispenser.IDs() {
		channel, ok := env.ServoChannels[id.String()]
		if !ok {
			return nil, fmt.Errorf("dispenser %s: no servo PWM channel configured", id)
		}
		p, err := openPWM("dispenser "+id.String(), channel, env.ServoPeriod)
		if err != nil {
			return nil, err
		}
		servos[id] = hardware.ServoOutput(p)
	}

	edges, err := hardware.OpenEdgeCounter(env.FlowGPIO, out.Pulses, log)
	if err != nil {
		return nil, fmt.Errorf("flow sensor: %w", err)
	}
	out.Drivers = append(out.Drivers, driver{name: "flow-sensor", run: func(ctx context.Context) {
		if err := edges.Run(ctx); err != nil && ctx.Err() == nil {
			log.Errorf("Flow sensor: %v", err)
		}
	}})

	out.Actuators = engine.Actuators{
		Drum:       drum,
		Grinder:    grinder,
		Pump:       hardware.PumpOutput(pump),
		Heater:     hardware.HeaterOutput(heater),
		Dispensers: servos,
	}
	log.Infof("Outputs: drum on %s, grinder on %s, flow sensor on GPIO %d", env.DrumPort, env.GrinderPort, env.FlowGPIO)
	return out, nil
}
