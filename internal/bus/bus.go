// Package bus carries error events over a message broker. Producers wrap
// domain payloads in a versioned envelope and stamp a broker-side dedupe id;
// consumers run in a queue group and dispatch by event type. Processing is
// at-most-once per message: every delivery is acked, malformed or failing
// messages are dropped with a log line rather than redelivered forever.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/errsight/errsight/internal/model"
)

// EventType discriminates envelope payloads. The set is closed; consumers
// drop types they do not know.
type EventType string

const (
	TypeErrorEvent EventType = "error_event"
)

// EnvelopeVersion is stamped on every produced message.
const EnvelopeVersion = "1.0"

// Message is the wire envelope. Data holds the type-specific payload.
type Message struct {
	EventType EventType       `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Version   string          `json:"version"`
}

// NewErrorEventMessage wraps an event payload for publishing.
func NewErrorEventMessage(source string, payload *model.EventCreate) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling event payload: %w", err)
	}
	return &Message{
		EventType: TypeErrorEvent,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Version:   EnvelopeVersion,
	}, nil
}

// ErrorEventHandler processes one decoded error event payload.
type ErrorEventHandler func(ctx context.Context, payload *model.EventCreate) error

// Registry binds each known event type to its handler. A nil field means
// that type is dropped.
type Registry struct {
	ErrorEvent ErrorEventHandler
}

// Producer publishes envelopes to the bus.
type Producer interface {
	// PublishEvent publishes an error event with id as the broker dedupe key.
	PublishEvent(ctx context.Context, id string, payload *model.EventCreate) error
	Close() error
}

// Consumer pulls envelopes from the bus and dispatches them.
type Consumer interface {
	// Start begins consuming. Calling Start on a running consumer is a no-op.
	Start(ctx context.Context) error
	// Stop halts consumption; the connection stays open for a later Start.
	Stop() error
	Close() error
}
