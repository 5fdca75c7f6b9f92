package main

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/brewlab/brewctl/src/engine"
)

// Metrics exposes the machine snapshot and event counts to Prometheus
type Metrics struct {
	drumRPM        prometheus.Gauge
	drumTarget     prometheus.Gauge
	grinderDuty    prometheus.Gauge
	flowEstimate   prometheus.Gauge
	flowTarget     prometheus.Gauge
	flowDispensed  prometheus.Gauge
	pumpOutput     prometheus.Gauge
	flowCovariance prometheus.Gauge
	heaterPower    prometheus.Gauge
	queueLength    prometheus.Gauge
	dispensersBusy prometheus.Gauge
	events         *prometheus.CounterVec
	safetyTrips    *prometheus.CounterVec
	droppedEvents  prometheus.GaugeFunc
}

func NewMetrics(reg prometheus.Registerer, dropped func() float64) *Metrics {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "brewctl", Name: name, Help: help})
	}

	m := &Metrics{
		drumRPM:        gauge("drum_rpm", "Current drum speed command in RPM."),
		drumTarget:     gauge("drum_target_rpm", "Drum speed target in RPM."),
		grinderDuty:    gauge("grinder_duty", "Current grinder duty cycle."),
		flowEstimate:   gauge("flow_estimated_rate_mls", "Kalman estimate of the pump flow rate."),
		flowTarget:     gauge("flow_target_rate_mls", "Requested pump flow rate."),
		flowDispensed:  gauge("flow_dispensed_ml", "Volume dispensed by the current or last dispense."),
		pumpOutput:     gauge("pump_output", "Pump PWM output (0-255)."),
		flowCovariance: gauge("flow_estimate_covariance", "Kalman estimate covariance."),
		heaterPower:    gauge("heater_power_percent", "Heater power, 0 when off."),
		queueLength:    gauge("queue_length", "Commands waiting in the queue."),
		dispensersBusy: gauge("dispensers_running", "Dispenser channels currently in motion."),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brewctl", Name: "events_total", Help: "Machine events by kind.",
		}, []string{"kind"}),
		safetyTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brewctl", Name: "safety_trips_total", Help: "Heater safety trips by reason.",
		}, []string{"reason"}),
		droppedEvents: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "brewctl", Name: "events_dropped", Help: "Events dropped because the notifier was full.",
		}, dropped),
	}

	reg.MustRegister(
		m.drumRPM, m.drumTarget, m.grinderDuty,
		m.flowEstimate, m.flowTarget, m.flowDispensed, m.pumpOutput, m.flowCovariance,
		m.heaterPower, m.queueLength, m.dispensersBusy,
		m.events, m.safetyTrips, m.droppedEvents,
	)
	return m
}

// Observe copies a snapshot into the gauges
func (m *Metrics) Observe(s *engine.Snapshot) {
	if s == nil {
		return
	}
	m.drumRPM.Set(s.Drum.Current)
	m.drumTarget.Set(s.Drum.Target)
	m.grinderDuty.Set(s.Grinder.Current)
	m.flowEstimate.Set(s.Flow.EstimatedRate)
	m.flowTarget.Set(s.Flow.TargetRate)
	m.flowDispensed.Set(s.Flow.Dispensed)
	m.pumpOutput.Set(s.Flow.Output)
	m.flowCovariance.Set(s.Flow.Covariance)
	m.heaterPower.Set(s.Heater.Power)
	m.queueLength.Set(float64(s.QueueLen))

	busy := 0
	for _, d := range s.Dispensers {
		if d.Running {
			busy++
		}
	}
	m.dispensersBusy.Set(float64(busy))
}

// Record counts an event
func (m *Metrics) Record(e engine.Event) {
	m.events.WithLabelValues(string(e.Kind)).Inc()
	if e.Kind == engine.EventSafetyTrip {
		reason, _ := e.Fields["reason"].(string)
		m.safetyTrips.WithLabelValues(reason).Inc()
	}
}
