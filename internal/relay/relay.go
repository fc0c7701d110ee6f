package relay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"pwnrelay/internal/clock"
	"pwnrelay/internal/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrStopTimeout is returned by Stop when the worker or heartbeat did not
	// exit within the drain timeout. Shutdown proceeds regardless.
	ErrStopTimeout = errors.New("relay did not stop within drain timeout")

	// ErrStopped is returned by Start on a relay that has been stopped
	ErrStopped = errors.New("relay already stopped")
)

// Default option values
const (
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultRequestTimeout    = 10 * time.Second
	DefaultPollTimeout       = time.Second
	DefaultDrainPollTimeout  = 100 * time.Millisecond
)

// Options configures a Relay
type Options struct {
	// Name labels log lines and metrics
	Name string

	// HeartbeatInterval is the time between heartbeat records. Zero means
	// DefaultHeartbeatInterval; a negative value disables the heartbeat.
	HeartbeatInterval time.Duration

	// HeartbeatPayload builds each heartbeat payload. When nil no heartbeat
	// goroutine is started.
	HeartbeatPayload PayloadFunc

	// RequestTimeout bounds every send
	RequestTimeout time.Duration

	// DispatchInterval is an optional pause between two sends
	DispatchInterval time.Duration

	// PollTimeout is the dequeue timeout while running
	PollTimeout time.Duration

	// DrainPollTimeout is the dequeue timeout while draining after stop
	DrainPollTimeout time.Duration

	Clock   clock.Clock
	Metrics *metrics.Relay
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "relay"
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	if o.DrainPollTimeout <= 0 {
		o.DrainPollTimeout = DefaultDrainPollTimeout
	}
	if o.Clock == nil {
		o.Clock = clock.NewRealClock()
	}
	return o
}

type lifecycle int

const (
	stateIdle lifecycle = iota
	stateRunning
	stateStopped
)

// Relay owns a queue, its worker and an optional heartbeat. Producers call
// Relay from any goroutine; it never blocks on network I/O.
type Relay struct {
	opts      Options
	queue     *Queue
	worker    *Worker
	heartbeat *Heartbeat
	logger    *zap.Logger

	mu    sync.Mutex
	state lifecycle
	stop  chan struct{}
	done  chan struct{}
}

// New creates a relay dispatching to senders, which must cover every Kind.
func New(opts Options, senders map[Kind]Sender, logger *zap.Logger) (*Relay, error) {
	opts = opts.withDefaults()
	logger = logger.Named(opts.Name)

	queue := NewQueue()
	worker, err := NewWorker(queue, senders, opts, logger.Named("worker"))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker: %w", err)
	}

	r := &Relay{
		opts:   opts,
		queue:  queue,
		worker: worker,
		logger: logger,
	}

	if opts.HeartbeatPayload != nil && opts.HeartbeatInterval > 0 {
		r.heartbeat = NewHeartbeat(opts.HeartbeatInterval, opts.Clock, opts.HeartbeatPayload,
			r.enqueue, logger.Named("heartbeat"), opts.Metrics)
	}

	return r, nil
}

// Start launches the worker and heartbeat goroutines. Calling Start on a
// running relay is a no-op; a stopped relay cannot be restarted.
func (r *Relay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case stateRunning:
		return nil
	case stateStopped:
		return ErrStopped
	}

	stop := make(chan struct{})
	done := make(chan struct{})

	var g errgroup.Group
	g.Go(func() error {
		r.worker.Run(stop)
		return nil
	})
	if r.heartbeat != nil {
		g.Go(func() error {
			r.heartbeat.Run(stop)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(done)
	}()

	r.stop = stop
	r.done = done
	r.state = stateRunning

	r.logger.Info("Relay started",
		zap.Bool("heartbeat", r.heartbeat != nil),
		zap.Duration("heartbeat_interval", r.opts.HeartbeatInterval),
		zap.Duration("request_timeout", r.opts.RequestTimeout))
	return nil
}

// Relay enqueues a producer record. It never blocks. Heartbeat records are
// reserved for the heartbeat goroutine and are dropped here.
func (r *Relay) Relay(kind Kind, payload map[string]any) {
	if kind != KindStateUpdate && kind != KindDomainEvent {
		r.logger.Warn("Ignoring record of non-producer kind", zap.Stringer("kind", kind))
		return
	}

	r.mu.Lock()
	stopped := r.state == stateStopped
	r.mu.Unlock()
	if stopped {
		r.logger.Debug("Relay stopped, dropping record", zap.Stringer("kind", kind))
		return
	}

	r.enqueue(NewRecord(kind, payload, r.opts.Clock.Now()))
}

func (r *Relay) enqueue(rec Record) {
	r.queue.Enqueue(rec)
	r.opts.Metrics.IncEnqueued(rec.Kind().String())
	r.opts.Metrics.SetQueueDepth(r.queue.Len())
}

// Pending returns the number of records waiting for the worker
func (r *Relay) Pending() int {
	return r.queue.Len()
}

// Running reports whether the relay has been started and not yet stopped
func (r *Relay) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateRunning
}

// Stop requests shutdown and waits up to drainTimeout for the queue to drain
// and both goroutines to exit. On timeout it returns ErrStopTimeout and leaves
// the goroutines to finish on their own. Stop on an idle or stopped relay is
// a no-op.
func (r *Relay) Stop(drainTimeout time.Duration) error {
	r.mu.Lock()
	if r.state != stateRunning {
		r.state = stateStopped
		r.mu.Unlock()
		return nil
	}
	r.state = stateStopped
	close(r.stop)
	done := r.done
	r.mu.Unlock()

	r.logger.Info("Stopping relay",
		zap.Int("pending", r.queue.Len()),
		zap.Duration("drain_timeout", drainTimeout))

	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()

	select {
	case <-done:
		r.logger.Info("Relay stopped")
		return nil
	case <-timer.C:
		r.logger.Warn("Relay did not drain in time",
			zap.Int("pending", r.queue.Len()))
		return ErrStopTimeout
	}
}
