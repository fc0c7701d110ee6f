package relay

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pwnrelay/internal/clock"

	"github.com/google/uuid"
)

// Counters holds the process-lifetime session statistics. Producers write
// them; the heartbeat and senders only read. All methods are safe for
// concurrent use.
type Counters struct {
	clock     clock.Clock
	sessionID string

	startedAt atomic.Int64 // unix nanos
	firstSeen atomic.Int64 // unix nanos, 0 until the first event
	session   atomic.Int64
	total     atomic.Int64

	seenMu       sync.Mutex
	accessPoints map[string]struct{}
	clients      map[string]struct{}
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	SessionID     string        `json:"session_id"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"-"`
	Uptime        string        `json:"session_duration"`
	SessionEvents int64         `json:"session_events"`
	TotalEvents   int64         `json:"total_events"`
	FirstSeen     time.Time     `json:"first_seen,omitempty"`
	AccessPoints  int           `json:"access_points_seen"`
	Clients       int           `json:"clients_seen"`
}

// NewCounters creates session counters starting now. total seeds the
// events-total counter (e.g. from a previous run).
func NewCounters(clk clock.Clock, total int64) *Counters {
	if clk == nil {
		clk = clock.NewRealClock()
	}

	c := &Counters{
		clock:        clk,
		sessionID:    newSessionID(),
		accessPoints: make(map[string]struct{}),
		clients:      make(map[string]struct{}),
	}
	c.startedAt.Store(clk.Now().UnixNano())
	c.total.Store(total)
	return c
}

// newSessionID returns a short random identifier for the session
func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// SessionID returns the session identifier
func (c *Counters) SessionID() string {
	return c.sessionID
}

// RestartSession resets the session start time. Counts are kept.
func (c *Counters) RestartSession() {
	c.startedAt.Store(c.clock.Now().UnixNano())
}

// RecordEvent counts one event observed between the given access point and
// client. Empty identifiers are not tracked as unique peers.
func (c *Counters) RecordEvent(accessPoint, client string) {
	c.session.Add(1)
	c.total.Add(1)
	c.firstSeen.CompareAndSwap(0, c.clock.Now().UnixNano())

	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	if accessPoint != "" {
		c.accessPoints[strings.ToLower(accessPoint)] = struct{}{}
	}
	if client != "" {
		c.clients[strings.ToLower(client)] = struct{}{}
	}
}

// SessionEvents returns the number of events this session
func (c *Counters) SessionEvents() int64 {
	return c.session.Load()
}

// TotalEvents returns the number of events over the process lifetime
func (c *Counters) TotalEvents() int64 {
	return c.total.Load()
}

// Duration returns the time elapsed since the session started
func (c *Counters) Duration() time.Duration {
	return c.clock.Since(time.Unix(0, c.startedAt.Load()))
}

// Snapshot returns a copy of all counters
func (c *Counters) Snapshot() Snapshot {
	started := time.Unix(0, c.startedAt.Load())
	s := Snapshot{
		SessionID:     c.sessionID,
		StartedAt:     started,
		Duration:      c.clock.Since(started),
		SessionEvents: c.session.Load(),
		TotalEvents:   c.total.Load(),
	}
	s.Uptime = FormatDuration(s.Duration)
	if first := c.firstSeen.Load(); first != 0 {
		s.FirstSeen = time.Unix(0, first)
	}

	c.seenMu.Lock()
	s.AccessPoints = len(c.accessPoints)
	s.Clients = len(c.clients)
	c.seenMu.Unlock()

	return s
}

// FormatDuration renders d as HH:MM:SS. Hours are not wrapped at 24.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}
