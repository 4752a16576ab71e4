package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TypeSnapshot is the only event type on the share stream today: a full
// dashboard snapshot superseding every earlier one.
const TypeSnapshot = "snapshot"

// Event is one share-stream message. Seq increases by one per published
// event and doubles as the SSE id line, so a reconnecting client can hand
// it back as Last-Event-ID and skip frames it has already seen.
type Event struct {
	Type      string          `json:"type"`
	Seq       uint64          `json:"seq"`
	RunID     string          `json:"run_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewSnapshot wraps a marshaled dashboard snapshot as a stream event.
func NewSnapshot(seq uint64, runID string, data json.RawMessage) Event {
	return Event{
		Type:      TypeSnapshot,
		Seq:       seq,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Validate checks the fields every consumer relies on. Sequence numbers
// start at 1, so a zero Seq means the producer never assigned one.
func (e Event) Validate() error {
	if e.Type == "" {
		return errors.New("stream event has no type")
	}
	if e.Seq == 0 {
		return errors.New("stream event has no sequence number")
	}
	return nil
}

// ParseEvent decodes and validates a stream event from its JSON encoding.
func ParseEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode stream event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}
