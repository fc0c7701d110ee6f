// Package relay implements a decoupled event relay: producers enqueue small
// immutable records without blocking, and a single worker goroutine drains the
// queue serially and performs all outbound network I/O. A heartbeat goroutine
// periodically pushes a liveness record through the same queue.
package relay

import (
	"fmt"
	"time"
)

// Kind identifies the type of a record. The set of kinds is closed; every
// relay must have a sender registered for each of them.
type Kind int

const (
	// KindStateUpdate replaces the remote view of the device state
	KindStateUpdate Kind = iota + 1
	// KindDomainEvent reports a discrete occurrence (e.g. a captured handshake)
	KindDomainEvent
	// KindHeartbeat is the synthetic liveness record produced by the heartbeat
	KindHeartbeat
)

// Kinds returns every record kind.
func Kinds() []Kind {
	return []Kind{KindStateUpdate, KindDomainEvent, KindHeartbeat}
}

func (k Kind) String() string {
	switch k {
	case KindStateUpdate:
		return "state_update"
	case KindDomainEvent:
		return "domain_event"
	case KindHeartbeat:
		return "heartbeat"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k >= KindStateUpdate && k <= KindHeartbeat
}

// Record is an immutable event description passed through the queue.
type Record struct {
	kind      Kind
	payload   map[string]any
	createdAt time.Time
}

// NewRecord builds a record. The payload is deep-copied so later changes made
// by the producer are not visible to the worker.
func NewRecord(kind Kind, payload map[string]any, createdAt time.Time) Record {
	return Record{
		kind:      kind,
		payload:   cloneMap(payload),
		createdAt: createdAt,
	}
}

// Kind returns the record kind
func (r Record) Kind() Kind {
	return r.kind
}

// CreatedAt returns when the record was produced
func (r Record) CreatedAt() time.Time {
	return r.createdAt
}

// Payload returns a copy of the record payload
func (r Record) Payload() map[string]any {
	return cloneMap(r.payload)
}

// Get returns a copy of a single payload value
func (r Record) Get(key string) (any, bool) {
	v, ok := r.payload[key]
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

// Text returns the payload value for key when it is a string.
func (r Record) Text(key string) (string, bool) {
	v, ok := r.payload[key].(string)
	return v, ok
}

// Map returns a copy of the payload value for key when it is a nested mapping.
func (r Record) Map(key string) (map[string]any, bool) {
	v, ok := r.payload[key].(map[string]any)
	if !ok {
		return nil, false
	}
	return cloneMap(v), true
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, item := range t {
			out[i] = cloneMap(item)
		}
		return out
	default:
		return v
	}
}
