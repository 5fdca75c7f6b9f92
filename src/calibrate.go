package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/brewlab/brewctl/src/config"
	"github.com/brewlab/brewctl/src/flow"
)

// calibrationSamples is the file format read by the calibrate command
type calibrationSamples struct {
	Samples []flow.Sample `yaml:"samples"`
}

// calibrationOutput nests the fitted values the way the config file does, so
// the output can be pasted straight into it.
type calibrationOutput struct {
	Flow struct {
		Calibration flow.Calibration `yaml:"calibration"`
	} `yaml:"flow"`
}

func newCalibrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "calibrate <samples.yaml>",
		Short: "Fit the pump feedforward and pulses-per-mL curve from recorded runs",
		Long: `calibrate reads recorded pump runs and prints a flow calibration block.

Each sample holds the pump duty (0-255), the run time in seconds, the flow
sensor pulse count and the weighed volume in millilitres:

  samples:
    - {duty: 60, seconds: 30, pulses: 1620, millilitres: 48}
    - {duty: 120, seconds: 20, pulses: 2110, millilitres: 76}
    - {duty: 200, seconds: 15, pulses: 2880, millilitres: 98}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return runCalibration(data, cfg.Flow.Calibration, cmd.OutOrStdout())
		},
	}
}

// runCalibration fits samples over base and writes the result as YAML
func runCalibration(samplesYAML []byte, base flow.Calibration, w io.Writer) error {
	var in calibrationSamples
	if err := yaml.Unmarshal(samplesYAML, &in); err != nil {
		return fmt.Errorf("parse samples: %w", err)
	}

	cal, err := flow.Fit(in.Samples, base)
	if err != nil {
		return err
	}
	if err := cal.Validate(); err != nil {
		return fmt.Errorf("fitted calibration is unusable: %w", err)
	}

	var out calibrationOutput
	out.Flow.Calibration = cal
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return err
	}
	return enc.Close()
}
