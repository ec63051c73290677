// Package events delivers engine notifications to external consumers.
package events

import (
	"encoding/json"
	"time"

	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"

	"github.com/luxfi/synth/pkg/synth"
)

// Subject prefix for all published events; the event type is appended,
// e.g. synth.events.position_liquidated.
const subjectPrefix = "synth.events."

// NATSSink publishes engine events as JSON on NATS subjects. Delivery is
// best-effort: a publish failure is logged, never surfaced to the ledger
// operation that produced the event.
type NATSSink struct {
	nc     *nats.Conn
	logger log.Logger
}

// Connect dials a NATS server and returns a sink ready for the engine
func Connect(url string) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return NewNATSSink(nc), nil
}

// NewNATSSink wraps an existing NATS connection
func NewNATSSink(nc *nats.Conn) *NATSSink {
	return &NATSSink{
		nc:     nc,
		logger: log.Root().New("module", "events"),
	}
}

// envelope is the wire form of a published event
type envelope struct {
	Type      synth.EventType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   synth.Event     `json:"payload"`
}

// Emit implements synth.EventSink
func (s *NATSSink) Emit(ev synth.Event) {
	data, err := json.Marshal(envelope{
		Type:      ev.Type(),
		Timestamp: time.Now(),
		Payload:   ev,
	})
	if err != nil {
		s.logger.Error("marshal event failed", "type", ev.Type(), "error", err)
		return
	}
	if err := s.nc.Publish(subjectPrefix+string(ev.Type()), data); err != nil {
		s.logger.Error("publish event failed", "type", ev.Type(), "error", err)
	}
}

// Close drains and closes the connection
func (s *NATSSink) Close() {
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
	}
}

// Fanout forwards every event to multiple sinks in order
type Fanout []synth.EventSink

// Emit implements synth.EventSink
func (f Fanout) Emit(ev synth.Event) {
	for _, sink := range f {
		sink.Emit(ev)
	}
}
