package relay

import (
	"context"
	"fmt"
)

// Status classifies the result of a single send
type Status int

const (
	// StatusDelivered means the remote accepted the record
	StatusDelivered Status = iota
	// StatusRejected means the remote answered with a non-success status
	StatusRejected
	// StatusTransportError means the remote could not be reached in time
	StatusTransportError
	// StatusMalformed means the record could not be translated into a request
	StatusMalformed
)

func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusRejected:
		return "rejected"
	case StatusTransportError:
		return "transport_error"
	case StatusMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the result of delivering one record
type Outcome struct {
	Status Status
	// Code is the remote status code for rejections
	Code int
	Err  error
}

// Delivered builds a successful outcome
func Delivered() Outcome {
	return Outcome{Status: StatusDelivered}
}

// Rejected builds an outcome for a non-success remote status
func Rejected(code int, err error) Outcome {
	return Outcome{Status: StatusRejected, Code: code, Err: err}
}

// TransportError builds an outcome for an unreachable or timed out remote
func TransportError(err error) Outcome {
	return Outcome{Status: StatusTransportError, Err: err}
}

// Malformed builds an outcome for a record with an unusable payload
func Malformed(err error) Outcome {
	return Outcome{Status: StatusMalformed, Err: err}
}

// OK reports whether the record was delivered
func (o Outcome) OK() bool {
	return o.Status == StatusDelivered
}

// Sender translates a record into an outbound call. Implementations must
// honour ctx, which carries the per-request timeout.
type Sender interface {
	Send(ctx context.Context, rec Record) Outcome
}

// SenderFunc adapts a function to the Sender interface
type SenderFunc func(ctx context.Context, rec Record) Outcome

// Send calls f(ctx, rec)
func (f SenderFunc) Send(ctx context.Context, rec Record) Outcome {
	return f(ctx, rec)
}
