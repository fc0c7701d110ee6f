package relay

import (
	"context"
	"fmt"
	"time"

	"pwnrelay/internal/metrics"

	"go.uber.org/zap"
)

// Worker is the single consumer of a Queue. It dispatches each record to the
// sender registered for its kind and never retries: every outcome is logged
// and the record is dropped.
type Worker struct {
	queue            *Queue
	senders          map[Kind]Sender
	logger           *zap.Logger
	metrics          *metrics.Relay
	requestTimeout   time.Duration
	pollTimeout      time.Duration
	drainPollTimeout time.Duration
	dispatchInterval time.Duration
}

// NewWorker creates a worker for queue. senders must contain an entry for
// every Kind.
func NewWorker(queue *Queue, senders map[Kind]Sender, opts Options, logger *zap.Logger) (*Worker, error) {
	table := make(map[Kind]Sender, len(senders))
	for _, kind := range Kinds() {
		sender, ok := senders[kind]
		if !ok || sender == nil {
			return nil, fmt.Errorf("no sender registered for %s records", kind)
		}
		table[kind] = sender
	}
	for kind := range senders {
		if !kind.Valid() {
			return nil, fmt.Errorf("sender registered for unknown %s", kind)
		}
	}

	opts = opts.withDefaults()
	return &Worker{
		queue:            queue,
		senders:          table,
		logger:           logger,
		metrics:          opts.Metrics,
		requestTimeout:   opts.RequestTimeout,
		pollTimeout:      opts.PollTimeout,
		drainPollTimeout: opts.DrainPollTimeout,
		dispatchInterval: opts.DispatchInterval,
	}, nil
}

// Run drains the queue until stop is closed and the queue is empty. After
// stop is closed it keeps draining with a shorter poll timeout and returns on
// the first empty poll.
func (w *Worker) Run(stop <-chan struct{}) {
	w.logger.Debug("Worker started")
	defer w.logger.Debug("Worker stopped")

	for {
		stopping := isClosed(stop)

		var (
			rec Record
			ok  bool
		)
		if stopping {
			rec, ok = w.queue.Dequeue(w.drainPollTimeout)
		} else {
			rec, ok = w.queue.dequeue(w.pollTimeout, stop)
		}
		w.metrics.SetQueueDepth(w.queue.Len())

		if !ok {
			if stopping {
				return
			}
			continue
		}

		w.dispatch(rec)

		if !stopping && w.dispatchInterval > 0 {
			select {
			case <-stop:
			case <-time.After(w.dispatchInterval):
			}
		}
	}
}

// dispatch sends one record and logs its outcome
func (w *Worker) dispatch(rec Record) {
	sender := w.senders[rec.Kind()]
	if sender == nil {
		w.logger.Error("Dropping record with unknown kind", zap.Stringer("kind", rec.Kind()))
		w.metrics.IncDispatched(rec.Kind().String(), StatusMalformed.String())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.requestTimeout)
	defer cancel()

	outcome := w.send(ctx, sender, rec)
	w.metrics.IncDispatched(rec.Kind().String(), outcome.Status.String())

	fields := []zap.Field{
		zap.Stringer("kind", rec.Kind()),
		zap.Stringer("outcome", outcome.Status),
		zap.Duration("age", time.Since(rec.CreatedAt())),
	}
	if outcome.OK() {
		w.logger.Debug("Record delivered", fields...)
		return
	}
	switch outcome.Status {
	case StatusRejected:
		w.logger.Error("Record rejected", append(fields, zap.Int("code", outcome.Code), zap.Error(outcome.Err))...)
	case StatusTransportError:
		w.logger.Error("Record not delivered", append(fields, zap.Error(outcome.Err))...)
	default:
		w.logger.Error("Record dropped", append(fields, zap.Error(outcome.Err))...)
	}
}

// send calls the sender, converting a panic into a malformed outcome so one
// bad record cannot take the worker down.
func (w *Worker) send(ctx context.Context, sender Sender, rec Record) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = Malformed(fmt.Errorf("sender panic: %v", r))
		}
	}()
	return sender.Send(ctx, rec)
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
