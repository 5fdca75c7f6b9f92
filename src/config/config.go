// Package config holds the machine's calibration and tuning, loaded from a
// YAML file over built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brewlab/brewctl/src/dispenser"
	"github.com/brewlab/brewctl/src/flow"
	"github.com/brewlab/brewctl/src/governor"
	"github.com/brewlab/brewctl/src/safety"
)

// Config represents the complete machine configuration
type Config struct {
	Queue     QueueConfig         `yaml:"queue"`
	Loop      LoopConfig          `yaml:"loop"`
	Drum      governor.RampConfig `yaml:"drum"`
	Grinder   governor.RampConfig `yaml:"grinder"`
	Flow      flow.Config         `yaml:"flow"`
	Dispenser dispenser.Config    `yaml:"dispenser"`
	Safety    safety.Config       `yaml:"safety"`
}

type QueueConfig struct {
	Capacity int `yaml:"capacity"`
}

// LoopConfig holds the control loop timing
type LoopConfig struct {
	TickInterval      time.Duration `yaml:"tick_interval"`      // Control loop period
	MotorRefresh      time.Duration `yaml:"motor_refresh"`      // Resend unchanged motor commands this often
	TelemetryInterval time.Duration `yaml:"telemetry_interval"` // Snapshot publish period
	FlowWindow        time.Duration `yaml:"flow_window"`        // Rolling min/max window for the flow rate
}

// Default returns the configuration of the stock machine.
func Default() Config {
	return Config{
		Queue: QueueConfig{Capacity: 20},
		Loop: LoopConfig{
			TickInterval:      time.Millisecond,
			MotorRefresh:      100 * time.Millisecond,
			TelemetryInterval: time.Second,
			FlowWindow:        time.Minute,
		},
		Drum:      governor.DefaultDrumRampConfig(),
		Grinder:   governor.DefaultGrinderRampConfig(),
		Flow:      flow.DefaultConfig(),
		Dispenser: dispenser.DefaultConfig(),
		Safety:    safety.DefaultConfig(),
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := Parse(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg and validates the result. Keys absent from data
// keep their current values.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return cfg.Validate()
}

func (c Config) Validate() error {
	if c.Queue.Capacity < 1 {
		return fmt.Errorf("queue capacity must be at least 1")
	}
	if c.Loop.TickInterval <= 0 {
		return fmt.Errorf("loop tick_interval must be positive")
	}
	if c.Loop.TelemetryInterval <= 0 {
		return fmt.Errorf("loop telemetry_interval must be positive")
	}
	for name, r := range map[string]governor.RampConfig{"drum": c.Drum, "grinder": c.Grinder} {
		if r.Step <= 0 || r.Max < r.Min {
			return fmt.Errorf("%s ramp: step must be positive and min <= max", name)
		}
	}
	if err := c.Flow.Validate(); err != nil {
		return err
	}
	if err := c.Dispenser.Validate(); err != nil {
		return err
	}
	return c.Safety.Validate()
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
