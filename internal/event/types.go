package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types emitted by the engine. The set is open: consumers must
// tolerate types they do not recognize and dispatch on the Type string.
const (
	TypeHeartbeat      = "engine.heartbeat"
	TypeShuttingDown   = "engine.shutting_down"
	TypeCrashRecovered = "engine.crash_recovered"
	TypeStateChanged   = "job.state_changed"
	TypeProgress       = "job.progress"
	TypeLog            = "job.log"
)

// Level classifies job.log events and drives retention tiering.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is the durable envelope for everything the engine emits.
//
// Seq is zero until the event is committed by the store; the store assigns
// it inside the same transaction that persists the row, so an event with a
// nonzero Seq is always durable. JobID is empty for engine-level events.
// JobSequence is zero for events that are not job-scoped.
type Event struct {
	Seq          int64          `json:"sequence_number"`
	Type         string         `json:"event_type"`
	TimestampUTC time.Time      `json:"timestamp_utc"`
	JobID        string         `json:"job_id,omitempty"`
	JobSequence  int64          `json:"job_sequence,omitempty"`
	Level        Level          `json:"level,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// New creates an uncommitted event of the given type.
// The timestamp is truncated to microseconds so the round trip through
// SQLite TEXT storage is lossless.
func New(eventType string, payload map[string]any) Event {
	return Event{
		Type:         eventType,
		TimestampUTC: time.Now().UTC().Truncate(time.Microsecond),
		Payload:      payload,
	}
}

// NewJobEvent creates an uncommitted job-scoped event.
// JobSequence is assigned by the store at commit time.
func NewJobEvent(eventType, jobID string, payload map[string]any) Event {
	ev := New(eventType, payload)
	ev.JobID = jobID
	return ev
}

// Committed reports whether the event has been durably persisted.
func (e Event) Committed() bool {
	return e.Seq > 0
}

// EncodeJSON serializes the full envelope for storage and stream delivery.
func (e Event) EncodeJSON() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}

// DecodeJSON parses a stored envelope.
func DecodeJSON(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}
