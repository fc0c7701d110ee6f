package relay

import (
	"fmt"
	"time"

	"pwnrelay/internal/clock"
	"pwnrelay/internal/metrics"

	"go.uber.org/zap"
)

// PayloadFunc builds the payload of a heartbeat record
type PayloadFunc func() map[string]any

// Heartbeat periodically enqueues a KindHeartbeat record. It only produces;
// the worker performs the I/O.
type Heartbeat struct {
	interval time.Duration
	clock    clock.Clock
	payload  PayloadFunc
	enqueue  func(Record)
	logger   *zap.Logger
	metrics  *metrics.Relay
}

// NewHeartbeat creates a heartbeat that calls enqueue every interval
func NewHeartbeat(interval time.Duration, clk clock.Clock, payload PayloadFunc, enqueue func(Record), logger *zap.Logger, m *metrics.Relay) *Heartbeat {
	return &Heartbeat{
		interval: interval,
		clock:    clk,
		payload:  payload,
		enqueue:  enqueue,
		logger:   logger,
		metrics:  m,
	}
}

// Run sleeps for the interval and enqueues a heartbeat, repeating until stop
// is closed.
func (h *Heartbeat) Run(stop <-chan struct{}) {
	h.logger.Debug("Heartbeat started", zap.Duration("interval", h.interval))
	defer h.logger.Debug("Heartbeat stopped")

	for {
		select {
		case <-stop:
			return
		case <-h.clock.After(h.interval):
		}

		if isClosed(stop) {
			return
		}

		if err := h.beat(); err != nil {
			h.logger.Error("Error in heartbeat loop", zap.Error(err))
		}
	}
}

func (h *Heartbeat) beat() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("heartbeat payload panic: %v", r)
		}
	}()

	h.enqueue(NewRecord(KindHeartbeat, h.payload(), h.clock.Now()))
	h.metrics.IncHeartbeat()
	return nil
}
