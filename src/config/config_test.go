package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesOnlyGivenKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brewctl.yaml")
	data := `
queue:
  capacity: 8
drum:
  step: 14
  interval: 200us
flow:
  sample_time: 2s
  calibration:
    feedforward_slope: 50
safety:
  no_flow_timeout: 4s
dispenser:
  channels:
    - id: A
      forward_speed: 140
      reverse_speed: 40
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Queue.Capacity)
	assert.Equal(t, 14.0, cfg.Drum.Step)
	assert.Equal(t, 200*time.Microsecond, cfg.Drum.Interval)
	assert.Equal(t, 20000.0, cfg.Drum.Max, "untouched keys keep defaults")
	assert.Equal(t, 2*time.Second, cfg.Flow.SampleTime)
	assert.Equal(t, 50.0, cfg.Flow.Calibration.FeedforwardSlope)
	assert.Equal(t, 4.2186, cfg.Flow.Calibration.FeedforwardIntercept)
	assert.Equal(t, 4*time.Second, cfg.Safety.NoFlowTimeout)
	assert.Equal(t, 5*time.Second, cfg.Safety.HeaterTimeout)
	require.Len(t, cfg.Dispenser.Channels, 1)
	assert.Equal(t, 140.0, cfg.Dispenser.Channels[0].ForwardSpeed)
}

func TestParse_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero queue", "queue: {capacity: 0}"},
		{"negative tick", "loop: {tick_interval: -1ms}"},
		{"inverted rate band", "flow: {calibration: {min_rate: 8, max_rate: 1}}"},
		{"bad channel id", "dispenser: {channels: [{id: AB}]}"},
		{"duplicate channel", "dispenser: {channels: [{id: A}, {id: A}]}"},
		{"zero heater timeout", "safety: {heater_timeout: 0s}"},
		{"zero ramp step", "grinder: {step: 0}"},
		{"not yaml", "queue: [1, 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			assert.Error(t, Parse([]byte(tt.yaml), &cfg))
		})
	}
}

func TestMarshal_RoundTrips(t *testing.T) {
	data, err := Default().Marshal()
	require.NoError(t, err)

	cfg := Config{}
	require.NoError(t, Parse(data, &cfg))
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
