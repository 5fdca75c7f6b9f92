package engine

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventCommand           EventKind = "command"
	EventDispenseStarted   EventKind = "dispense_started"
	EventDispenseCompleted EventKind = "dispense_completed"
	EventHeaterChanged     EventKind = "heater_changed"
	EventSafetyTrip        EventKind = "safety_trip"
	EventAdmissionRejected EventKind = "admission_rejected"
)

// Event is a notable state change, handed to the persistence collaborator.
type Event struct {
	ID     uuid.UUID      `json:"id"`
	Time   time.Time      `json:"time"`
	Kind   EventKind      `json:"kind"`
	Fields map[string]any `json:"fields,omitempty"`
}

func newEvent(now time.Time, kind EventKind, fields map[string]any) Event {
	return Event{ID: uuid.New(), Time: now, Kind: kind, Fields: fields}
}

// Notifier receives events from the control loop. Notify must not block.
type Notifier interface {
	Notify(Event)
}

// ChannelNotifier forwards events to a channel, dropping them when the
// channel is full.
type ChannelNotifier struct {
	ch      chan<- Event
	dropped atomic.Uint64
}

func NewChannelNotifier(ch chan<- Event) *ChannelNotifier {
	return &ChannelNotifier{ch: ch}
}

func (n *ChannelNotifier) Notify(e Event) {
	select {
	case n.ch <- e:
	default:
		n.dropped.Add(1)
	}
}

// Dropped counts events discarded because the channel was full.
func (n *ChannelNotifier) Dropped() uint64 { return n.dropped.Load() }

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}
