package ha

import (
	"context"
	"errors"
	"fmt"

	"pwnrelay/internal/relay"
)

// Payload keys understood by Sender
const (
	KeyState      = "state"
	KeyAttributes = "attributes"
	KeyEventType  = "event_type"
	KeyData       = "data"
)

// EventPrefix is prepended to every fired event type
const EventPrefix = "pwnagotchi_"

// lastSeenLayout matches the timestamp format Home Assistant dashboards expect
const lastSeenLayout = "2006-01-02T15:04:05Z"

// StatePayload builds the payload of a state update record
func StatePayload(state string, attributes map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		KeyState:      state,
		KeyAttributes: attributes,
	}
}

// EventPayload builds the payload of a domain event record
func EventPayload(eventType string, data map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		KeyEventType: eventType,
		KeyData:      data,
	}
}

// Identity supplies the unit name and session id stamped on outgoing calls.
// The unit name may change once the host reports its configuration.
type Identity interface {
	UnitName() string
	SessionID() string
}

// Sender translates relay records into Home Assistant REST calls. State and
// heartbeat records update the unit's sensor; domain events are fired on the
// event bus.
type Sender struct {
	client   HAClient
	identity Identity
}

// NewSender creates a sender using client for I/O
func NewSender(client HAClient, identity Identity) *Sender {
	return &Sender{
		client:   client,
		identity: identity,
	}
}

// Senders returns the dispatch table for a relay backed by s
func (s *Sender) Senders() map[relay.Kind]relay.Sender {
	return map[relay.Kind]relay.Sender{
		relay.KindStateUpdate: s,
		relay.KindHeartbeat:   s,
		relay.KindDomainEvent: s,
	}
}

// Send implements relay.Sender
func (s *Sender) Send(ctx context.Context, rec relay.Record) relay.Outcome {
	switch rec.Kind() {
	case relay.KindStateUpdate, relay.KindHeartbeat:
		return s.sendState(ctx, rec)
	case relay.KindDomainEvent:
		return s.sendEvent(ctx, rec)
	default:
		return relay.Malformed(fmt.Errorf("unsupported record kind %s", rec.Kind()))
	}
}

func (s *Sender) sendState(ctx context.Context, rec relay.Record) relay.Outcome {
	state, ok := rec.Text(KeyState)
	if !ok || state == "" {
		return relay.Malformed(errors.New("state record without state"))
	}
	attrs, _ := rec.Map(KeyAttributes)

	unit := s.identity.UnitName()
	merged := map[string]interface{}{
		"friendly_name": unit + " Status",
		"icon":          "mdi:wifi-lock",
		"device_class":  "connectivity",
	}
	for k, v := range attrs {
		merged[k] = v
	}
	merged["last_seen"] = rec.CreatedAt().UTC().Format(lastSeenLayout)

	err := s.client.SetState(ctx, EntityID(unit), StateRequest{
		State:      state,
		Attributes: merged,
	})
	return outcome(err)
}

func (s *Sender) sendEvent(ctx context.Context, rec relay.Record) relay.Outcome {
	eventType, ok := rec.Text(KeyEventType)
	if !ok || eventType == "" {
		return relay.Malformed(errors.New("event record without event_type"))
	}
	data, _ := rec.Map(KeyData)

	body := map[string]interface{}{
		"unit_name":  s.identity.UnitName(),
		"session_id": s.identity.SessionID(),
	}
	for k, v := range data {
		body[k] = v
	}

	return outcome(s.client.FireEvent(ctx, EventPrefix+eventType, body))
}

// outcome classifies a client error
func outcome(err error) relay.Outcome {
	if err == nil {
		return relay.Delivered()
	}

	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		return relay.Rejected(statusErr.Code, err)
	case errors.Is(err, ErrInvalidPayload):
		return relay.Malformed(err)
	default:
		return relay.TransportError(err)
	}
}
