package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/brewlab/brewctl/src/engine"
)

// broadcastWorker receives machine events and fans them out to every
// downstream consumer. Consumers must not block: a full consumer misses the
// event and the worker keeps going.
func broadcastWorker(
	ctx context.Context,
	inputChan <-chan engine.Event,
	outputChans []chan<- engine.Event,
	log *zap.SugaredLogger,
) {
	for {
		select {
		case event := <-inputChan:
			for i, ch := range outputChans {
				select {
				case ch <- event:
				case <-ctx.Done():
					return
				default:
					log.Warnf("Broadcast: downstream worker %d channel full, dropping %s event", i, event.Kind)
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

// eventPublisherWorker publishes every event as JSON on the events topic
func eventPublisherWorker(
	ctx context.Context,
	events <-chan engine.Event,
	sender *MQTTSender,
	topic string,
	log *zap.SugaredLogger,
) {
	for {
		select {
		case event := <-events:
			if err := sender.SendJSON(topic, event, 1, false); err != nil {
				log.Warnf("Events: failed to encode %s event: %v", event.Kind, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// eventMetricsWorker counts events into the metrics registry
func eventMetricsWorker(ctx context.Context, events <-chan engine.Event, metrics *Metrics) {
	for {
		select {
		case event := <-events:
			metrics.Record(event)
		case <-ctx.Done():
			return
		}
	}
}
