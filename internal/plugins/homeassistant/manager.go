// Package homeassistant relays the unit's status and captured handshakes to
// Home Assistant. Host callbacks only enqueue records; a relay worker makes
// the REST calls.
package homeassistant

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"

	"pwnrelay/internal/clock"
	"pwnrelay/internal/config"
	"pwnrelay/internal/dedup"
	"pwnrelay/internal/ha"
	"pwnrelay/internal/metrics"
	"pwnrelay/internal/relay"
	"pwnrelay/pkg/plugin"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Name is the plugin name, also used as the relay name
const Name = "homeassistant"

const (
	stateOnline  = "online"
	stateOffline = "offline"

	unknown    = "Unknown"
	zeroMAC    = "00:00:00:00:00:00"
	timeLayout = "2006-01-02 15:04:05"
)

// Manager handles the Home Assistant relay
type Manager struct {
	haCfg    config.HomeAssistantConfig
	relayCfg config.RelayConfig
	client   ha.HAClient
	clock    clock.Clock
	metrics  *metrics.Relay
	logger   *zap.Logger

	counters *relay.Counters
	window   *dedup.Window

	mu          sync.RWMutex
	unitName    string
	relay       *relay.Relay
	cancelCheck context.CancelFunc
	checks      sync.WaitGroup
}

// NewManager creates a manager. client may be nil, in which case a REST
// client is built from cfg when the plugin starts.
func NewManager(cfg *config.Config, client ha.HAClient, reg prometheus.Registerer, clk clock.Clock, logger *zap.Logger) (*Manager, error) {
	if clk == nil {
		clk = clock.NewRealClock()
	}

	window, err := dedup.NewWindow(cfg.Relay.DedupLimit, metrics.NewDedup(reg, Name))
	if err != nil {
		return nil, err
	}

	return &Manager{
		haCfg:    cfg.HomeAssistant,
		relayCfg: cfg.Relay,
		client:   client,
		clock:    clk,
		metrics:  metrics.NewRelay(reg, Name),
		logger:   logger.Named(Name),
		counters: relay.NewCounters(clk, 0),
		window:   window,
		unitName: cfg.HomeAssistant.UnitName,
	}, nil
}

// Name implements plugin.Plugin
func (m *Manager) Name() string {
	return Name
}

// UnitName returns the name the unit reports under
func (m *Manager) UnitName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unitName
}

// SessionID returns the current session identifier
func (m *Manager) SessionID() string {
	return m.counters.SessionID()
}

// Start builds the relay and starts its worker and heartbeat. Missing
// credentials are logged and leave the plugin idle.
func (m *Manager) Start() error {
	m.logger.Info("Home Assistant plugin loaded",
		zap.String("url", m.haCfg.URL),
		zap.Bool("token_present", m.haCfg.Token != ""),
		zap.String("unit_name", m.haCfg.UnitName),
		zap.Duration("heartbeat_interval", m.relayCfg.HeartbeatInterval),
		zap.Int("dedup_window_limit", m.window.Limit()))

	client := m.client
	if client == nil {
		c, err := ha.NewClient(m.haCfg.URL, m.haCfg.Token, m.relayCfg.RequestTimeout, m.logger.Named("client"))
		if errors.Is(err, ha.ErrMissingCredentials) {
			m.logger.Error("Missing Home Assistant url or token, plugin stays idle")
			return nil
		}
		if err != nil {
			return err
		}
		client = c
	}

	interval := m.relayCfg.HeartbeatInterval
	if m.relayCfg.DisableHeartbeat {
		interval = -1
	}

	sender := ha.NewSender(client, m)
	r, err := relay.New(relay.Options{
		Name:              Name,
		HeartbeatInterval: interval,
		HeartbeatPayload:  m.heartbeatPayload,
		RequestTimeout:    m.relayCfg.RequestTimeout,
		DispatchInterval:  m.relayCfg.DispatchInterval,
		Clock:             m.clock,
		Metrics:           m.metrics,
	}, sender.Senders(), m.logger)
	if err != nil {
		return err
	}
	if err := r.Start(); err != nil {
		return err
	}

	timeout := m.relayCfg.RequestTimeout
	if timeout <= 0 {
		timeout = relay.DefaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	m.mu.Lock()
	m.relay = r
	m.cancelCheck = cancel
	m.mu.Unlock()

	m.checks.Add(1)
	go func() {
		defer m.checks.Done()
		defer cancel()
		m.checkConnection(ctx, client)
	}()

	m.logger.Info("Worker started", zap.String("session_id", m.SessionID()))
	return nil
}

// checkConnection pings the API once so a wrong URL or token shows up in
// the log at startup rather than on the first handshake.
func (m *Manager) checkConnection(ctx context.Context, client ha.HAClient) {
	err := client.Ping(ctx)
	if err == nil {
		m.logger.Info("Connected to Home Assistant", zap.String("url", m.haCfg.URL))
		return
	}

	var statusErr *ha.StatusError
	switch {
	case errors.As(err, &statusErr) && (statusErr.Code == http.StatusUnauthorized || statusErr.Code == http.StatusForbidden):
		m.logger.Warn("Home Assistant rejected the access token",
			zap.String("url", m.haCfg.URL),
			zap.Int("status", statusErr.Code))
	case errors.Is(err, context.Canceled):
	default:
		m.logger.Warn("Home Assistant is unreachable, records will be dropped until it answers",
			zap.String("url", m.haCfg.URL),
			zap.Error(err))
	}
}

// Stop relays a final offline state and waits up to the drain timeout for it
// to be delivered.
func (m *Manager) Stop() {
	defer m.checks.Wait()

	m.mu.RLock()
	if m.cancelCheck != nil {
		m.cancelCheck()
	}
	m.mu.RUnlock()

	r := m.currentRelay()
	if r == nil || !r.Running() {
		return
	}

	m.logger.Info("Cleaning up")
	m.updateState(stateOffline, m.sessionStats())

	if err := r.Stop(m.relayCfg.DrainTimeout); err != nil {
		m.logger.Warn("Relay did not drain before shutdown", zap.Error(err))
	}
}

func (m *Manager) currentRelay() *relay.Relay {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.relay
}

// OnReady implements plugin.ReadyHandler
func (m *Manager) OnReady(agent plugin.Agent) {
	m.counters.RestartSession()

	name := agent.Name
	if name == "" {
		name = config.DefaultUnitName
	}
	m.mu.Lock()
	m.unitName = name
	m.mu.Unlock()

	m.logger.Info("Unit is ready", zap.String("unit_name", name))

	m.updateState(stateOnline, map[string]any{
		"session_id":         m.SessionID(),
		"session_handshakes": 0,
		"total_handshakes":   m.counters.TotalEvents(),
		"uptime":             relay.FormatDuration(0),
		"access_points_seen": 0,
		"clients_seen":       0,
	})

	if last := agent.LastSession; !last.Empty() {
		m.logger.Info("Reporting last session", zap.String("duration", last.Duration))
		m.sendEvent("session_completed", map[string]any{
			"handshakes": last.Handshakes,
			"duration":   last.Duration,
			"epochs":     last.Epochs,
		})
	}
}

// OnHandshake implements plugin.HandshakeHandler. Repeats of the same
// capture within the dedup window are ignored.
func (m *Manager) OnHandshake(h plugin.Handshake) {
	bssid := orDefault(h.AccessPoint.MAC, zeroMAC)
	clientMAC := orDefault(h.Client.MAC, zeroMAC)

	if m.window.Observed(dedup.NewKey(h.Filename, bssid, clientMAC)) {
		m.logger.Debug("Duplicate handshake ignored",
			zap.String("filename", h.Filename),
			zap.String("bssid", bssid),
			zap.Int("window", m.window.Len()))
		return
	}

	m.counters.RecordEvent(bssid, clientMAC)

	ssid := orDefault(h.AccessPoint.Hostname, unknown)
	snap := m.counters.Snapshot()

	attrs := statsAttributes(snap)
	attrs["last_handshake_ssid"] = ssid
	attrs["last_handshake_bssid"] = orDefault(h.AccessPoint.MAC, unknown)
	attrs["last_handshake_client"] = orDefault(h.Client.MAC, unknown)
	attrs["last_handshake_time"] = m.clock.Now().Format(timeLayout)
	m.updateState(stateOnline, attrs)

	m.sendEvent("handshake_captured", map[string]any{
		"ssid":          ssid,
		"bssid":         orDefault(h.AccessPoint.MAC, unknown),
		"client_mac":    orDefault(h.Client.MAC, unknown),
		"filename":      filepath.Base(h.Filename),
		"session_total": snap.SessionEvents,
	})
}

// OnEpoch implements plugin.EpochHandler
func (m *Manager) OnEpoch(e plugin.Epoch) {
	m.logger.Debug("Epoch", zap.Int("epoch", e.Number), zap.Any("data", e.Data))
}

// Status implements plugin.StatusProvider
func (m *Manager) Status() plugin.Status {
	snap := m.counters.Snapshot()
	st := plugin.Status{Plugin: Name, Session: &snap}
	if r := m.currentRelay(); r != nil {
		st.Running = r.Running()
		st.Pending = r.Pending()
	}
	return st
}

func (m *Manager) heartbeatPayload() map[string]any {
	return ha.StatePayload(stateOnline, m.sessionStats())
}

func (m *Manager) sessionStats() map[string]any {
	return statsAttributes(m.counters.Snapshot())
}

func statsAttributes(s relay.Snapshot) map[string]any {
	return map[string]any{
		"session_handshakes": s.SessionEvents,
		"total_handshakes":   s.TotalEvents,
		"session_duration":   s.Uptime,
		"access_points_seen": s.AccessPoints,
		"clients_seen":       s.Clients,
	}
}

func (m *Manager) updateState(state string, attrs map[string]any) {
	if r := m.currentRelay(); r != nil {
		r.Relay(relay.KindStateUpdate, ha.StatePayload(state, attrs))
	}
}

func (m *Manager) sendEvent(eventType string, data map[string]any) {
	if r := m.currentRelay(); r != nil {
		r.Relay(relay.KindDomainEvent, ha.EventPayload(eventType, data))
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
