// Package companion serves the companion mobile app. Host callbacks are
// turned into relay records that a worker broadcasts to every connected
// WebSocket client.
package companion

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"pwnrelay/internal/clock"
	"pwnrelay/internal/config"
	"pwnrelay/internal/metrics"
	"pwnrelay/internal/relay"
	"pwnrelay/internal/wshub"
	"pwnrelay/pkg/plugin"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Name is the plugin name, also used as the relay name
const Name = "companion"

// Message types relayed to the app
const (
	TypeHandshake    = "handshake"
	TypePeerDetected = "peer_detected"
	TypeWifiUpdate   = "wifi_update"
	TypeChannelHop   = "channel_hop"
	TypeStatusChange = "status_change"
)

// maxAccessPoints bounds the access points sent per wifi update
const maxAccessPoints = 10

const shutdownTimeout = 2 * time.Second

// Manager runs the WebSocket server and its relay
type Manager struct {
	cfg      config.CompanionConfig
	relayCfg config.RelayConfig
	clock    clock.Clock
	metrics  *metrics.Relay
	logger   *zap.Logger

	counters *relay.Counters
	hub      *wshub.Hub

	mu       sync.Mutex
	relay    *relay.Relay
	server   *http.Server
	listener net.Listener
	stop     chan struct{}
	done     chan struct{}
}

// NewManager creates a companion manager
func NewManager(cfg *config.Config, reg prometheus.Registerer, clk clock.Clock, logger *zap.Logger) *Manager {
	if clk == nil {
		clk = clock.NewRealClock()
	}

	m := &Manager{
		cfg:      cfg.Companion,
		relayCfg: cfg.Relay,
		clock:    clk,
		metrics:  metrics.NewRelay(reg, Name),
		logger:   logger.Named(Name),
		counters: relay.NewCounters(clk, 0),
	}
	m.hub = wshub.New(wshub.Options{
		Keepalive:  cfg.Companion.Keepalive,
		StaleAfter: cfg.Companion.StaleAfter,
		Stats:      m.stats,
		Clock:      clk,
	}, m.logger.Named("hub"))
	return m
}

// Name implements plugin.Plugin
func (m *Manager) Name() string {
	return Name
}

// Addr returns the address the server listens on, once started
func (m *Manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// Router returns the HTTP routes served by the plugin
func (m *Manager) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", m.hub.ServeHTTP)
	return r
}

// Start opens the listener, starts the relay and the hub keepalive
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.relay != nil {
		return nil
	}

	r, err := relay.New(relay.Options{
		Name: Name,
		// The hub sends its own keepalives
		HeartbeatInterval: -1,
		RequestTimeout:    m.relayCfg.RequestTimeout,
		Clock:             m.clock,
		Metrics:           m.metrics,
	}, senders(m.hub), m.logger)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", m.cfg.ListenAddr)
	if err != nil {
		return err
	}

	if err := r.Start(); err != nil {
		ln.Close()
		return err
	}

	m.relay = r
	m.listener = ln
	m.server = &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})

	go func() {
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("WebSocket server error", zap.Error(err))
		}
	}()
	go func(stop, done chan struct{}) {
		m.hub.Run(stop)
		close(done)
	}(m.stop, m.done)

	m.logger.Info("WebSocket server started", zap.String("addr", ln.Addr().String()))
	return nil
}

// Stop drains the relay, disconnects clients and closes the server
func (m *Manager) Stop() {
	m.mu.Lock()
	r, server, stop, done := m.relay, m.server, m.stop, m.done
	m.relay, m.server, m.listener = nil, nil, nil
	m.mu.Unlock()

	if r == nil {
		return
	}

	if err := r.Stop(m.relayCfg.DrainTimeout); err != nil {
		m.logger.Warn("Relay did not drain before shutdown", zap.Error(err))
	}

	close(stop)
	<-done

	m.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		m.logger.Warn("WebSocket server shutdown", zap.Error(err))
	}
	m.logger.Info("WebSocket server stopped")
}

func senders(hub *wshub.Hub) map[relay.Kind]relay.Sender {
	table := make(map[relay.Kind]relay.Sender, len(relay.Kinds()))
	for _, k := range relay.Kinds() {
		table[k] = hub
	}
	return table
}

func (m *Manager) currentRelay() *relay.Relay {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.relay
}

func (m *Manager) queue(kind relay.Kind, msgType string, data map[string]any, status string) {
	r := m.currentRelay()
	if r == nil {
		return
	}
	payload := map[string]any{
		wshub.KeyType: msgType,
		wshub.KeyData: data,
	}
	if status != "" {
		payload[wshub.KeyStatus] = status
	}
	r.Relay(kind, payload)
}

func (m *Manager) stats() interface{} {
	return m.counters.Snapshot()
}

func (m *Manager) timestamp() string {
	return m.clock.Now().Format(time.RFC3339)
}

// OnReady implements plugin.ReadyHandler
func (m *Manager) OnReady(agent plugin.Agent) {
	m.counters.RestartSession()
	m.logger.Info("Unit is ready", zap.String("unit_name", agent.Name))
}

// OnHandshake implements plugin.HandshakeHandler
func (m *Manager) OnHandshake(h plugin.Handshake) {
	m.counters.RecordEvent(h.AccessPoint.MAC, h.Client.MAC)
	m.queue(relay.KindDomainEvent, TypeHandshake, map[string]any{
		"filename":       h.Filename,
		"access_point":   stationData(h.AccessPoint),
		"client_station": stationData(h.Client),
		"timestamp":      m.timestamp(),
	}, "")
}

// OnPeerDetected implements plugin.PeerHandler
func (m *Manager) OnPeerDetected(peer plugin.Peer) {
	m.queue(relay.KindDomainEvent, TypePeerDetected, map[string]any{
		"peer":      peer.String(),
		"timestamp": m.timestamp(),
	}, "")
}

// OnWifiUpdate implements plugin.WifiUpdateHandler. Only the first ten
// access points are sent; count reports the full scan size.
func (m *Manager) OnWifiUpdate(aps []plugin.Station) {
	n := len(aps)
	if n > maxAccessPoints {
		n = maxAccessPoints
	}

	formatted := make([]any, 0, n)
	for _, ap := range aps[:n] {
		formatted = append(formatted, stationData(ap))
	}

	m.queue(relay.KindDomainEvent, TypeWifiUpdate, map[string]any{
		"count":         len(aps),
		"access_points": formatted,
	}, "")
}

// OnChannelHop implements plugin.ChannelHopHandler
func (m *Manager) OnChannelHop(channel int) {
	m.queue(relay.KindDomainEvent, TypeChannelHop, map[string]any{
		"channel": channel,
	}, "")
}

// OnMood implements plugin.MoodHandler
func (m *Manager) OnMood(mood plugin.Mood) {
	m.queue(relay.KindStateUpdate, TypeStatusChange, map[string]any{
		"status":    string(mood),
		"timestamp": m.timestamp(),
	}, string(mood))
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

func stationData(s plugin.Station) map[string]any {
	return map[string]any{
		"bssid":      s.MAC,
		"hostname":   s.Hostname,
		"channel":    s.Channel,
		"rssi":       s.RSSI,
		"encryption": s.Encryption,
		"vendor":     s.Vendor,
	}
}
