package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/brewlab/brewctl/src/engine"
)

// telemetryWorker samples the published snapshot every interval, updating
// the metrics and, when sender is set, the MQTT state topic.
func telemetryWorker(
	ctx context.Context,
	snapshot func() *engine.Snapshot,
	interval time.Duration,
	metrics *Metrics,
	sender *MQTTSender,
	stateTopic string,
	log *zap.SugaredLogger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snap := snapshot()
			if snap == nil {
				continue
			}
			metrics.Observe(snap)
			if sender == nil {
				continue
			}
			if err := sender.SendJSON(stateTopic, snap, 0, false); err != nil {
				log.Warnf("Telemetry: failed to encode snapshot: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
