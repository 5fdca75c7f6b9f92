package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brewlab/brewctl/src/config"
	"github.com/brewlab/brewctl/src/engine"
)

const (
	// shutdownGrace bounds how long we wait for the loop to park the outputs
	shutdownGrace = 2 * time.Second
	deviceName    = "Brewer"
)

func newRunCmd(configPath *string) *cobra.Command {
	var sim, console bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the brewer control loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := LoadEnv()
			if err != nil {
				return err
			}
			env.ConfigPath = resolveConfigPath(*configPath)
			if cmd.Flags().Changed("sim") {
				env.Sim = sim
			}
			if cmd.Flags().Changed("console") {
				env.Console = console
			}

			logger, err := newLogger(env)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()
			undo := zap.ReplaceGlobals(logger)
			defer undo()

			return runDaemon(env, logger.Sugar())
		},
	}
	cmd.Flags().BoolVar(&sim, "sim", false, "drive a simulated rig instead of hardware")
	cmd.Flags().BoolVar(&console, "console", false, "accept commands on an interactive console")
	return cmd
}

// runDaemon wires the machine to its outputs and workers and blocks until a
// signal, a console quit or a fatal worker failure.
func runDaemon(env *Environment, log *zap.SugaredLogger) error {
	log.Infof("Starting brewctl...")

	cfg, err := config.Load(env.ConfigPath)
	if err != nil {
		return err
	}

	outputs, err := openOutputs(env, cfg, log)
	if err != nil {
		return err
	}
	defer outputs.Close(log)

	eventsChan := make(chan engine.Event, 64)
	notifier := engine.NewChannelNotifier(eventsChan)

	machine, err := engine.New(cfg, outputs.Actuators, outputs.Pulses, log, notifier)
	if err != nil {
		return err
	}

	// Create context for lifecycle management
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := NewMetrics(registry, func() float64 { return float64(notifier.Dropped()) })

	// Drivers outlive the loop so its final safe-state writes reach the hardware
	driverCtx, stopDrivers := context.WithCancel(context.Background())
	defer stopDrivers()
	for _, d := range outputs.Drivers {
		SafeGo(driverCtx, cancel, d.name, d.run)
	}

	requests := make(chan engine.Request, 16)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("Machine: control loop panic: %v", r)
				machine.Shutdown(time.Now())
				cancel()
			}
		}()
		if err := machine.Run(ctx, requests); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("Machine: %v", err)
		}
	}()

	metricsEvents := make(chan engine.Event, 64)
	downstream := []chan<- engine.Event{metricsEvents}
	SafeGo(ctx, cancel, "event-metrics-worker", func(ctx context.Context) {
		eventMetricsWorker(ctx, metricsEvents, metrics)
	})

	var sender *MQTTSender
	if env.MQTTBroker != "" {
		mqttOutgoingChan := make(chan MQTTMessage, 100) // Larger buffer for queuing
		mqttClientChan := make(chan mqtt.Client, 1)     // Buffered to prevent blocking onConnect

		SafeGo(ctx, cancel, "mqtt-sender-worker", func(ctx context.Context) {
			mqttSenderWorker(ctx, mqttOutgoingChan, mqttClientChan, log)
		})
		sender = NewMQTTSender(mqttOutgoingChan)

		for _, entity := range brewerEntities {
			if err := sender.CreateSensorEntity(deviceName, env.Topic("state"), entity); err != nil {
				log.Warnf("Failed to create %s entity: %v", entity.Name, err)
			}
		}

		mqttEvents := make(chan engine.Event, 64)
		downstream = append(downstream, mqttEvents)
		SafeGo(ctx, cancel, "event-publisher-worker", func(ctx context.Context) {
			eventPublisherWorker(ctx, mqttEvents, sender, env.Topic("events"), log)
		})

		SafeGo(ctx, cancel, "mqtt-worker", func(ctx context.Context) {
			mqttWorker(ctx, env, requests, sender, mqttClientChan, log)
		})
	} else {
		log.Infof("MQTT_BROKER not set, MQTT disabled")
	}

	SafeGo(ctx, cancel, "broadcast-worker", func(ctx context.Context) {
		broadcastWorker(ctx, eventsChan, downstream, log)
	})

	SafeGo(ctx, cancel, "telemetry-worker", func(ctx context.Context) {
		telemetryWorker(ctx, machine.Snapshot, cfg.Loop.TelemetryInterval, metrics, sender, env.Topic("state"), log)
	})

	if env.HTTPAddr != "" {
		server := NewHTTPServer(requests, machine.Snapshot, registry, log)
		SafeGo(ctx, cancel, "http-server", func(ctx context.Context) {
			httpServerWorker(ctx, env.HTTPAddr, server, log)
		})
	}

	if env.Console {
		SafeGo(ctx, cancel, "console-worker", func(ctx context.Context) {
			consoleWorker(ctx, cancel, requests, machine.Snapshot, cfg.Loop.TelemetryInterval, log)
		})
	}

	// Wait for interrupt signal or context cancellation (from panic or quit)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		log.Infof("Shutting down...")
	case <-ctx.Done():
		log.Infof("Shutting down...")
	}
	cancel()

	select {
	case <-loopDone:
	case <-time.After(shutdownGrace):
		log.Warnf("Machine: control loop did not stop within %v", shutdownGrace)
	}
	stopDrivers()
	return nil
}
