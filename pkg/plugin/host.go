package plugin

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Host owns the created plugins and fans host callbacks out to every plugin
// implementing the matching handler. A panicking plugin is logged and does
// not prevent the others from receiving the callback.
type Host struct {
	plugins []Plugin
	logger  *zap.Logger

	mu      sync.Mutex
	started []Plugin
}

// NewHost creates a host for plugins, kept in startup order
func NewHost(plugins []Plugin, logger *zap.Logger) *Host {
	return &Host{
		plugins: plugins,
		logger:  logger.Named("host"),
	}
}

// Load starts every plugin in order. A plugin that fails to start is logged
// and left out of callbacks; the others keep running.
func (h *Host) Load() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.started) > 0 {
		return nil
	}

	var failed int
	for _, p := range h.plugins {
		if err := h.start(p); err != nil {
			failed++
			h.logger.Error("Plugin failed to start", zap.String("plugin", p.Name()), zap.Error(err))
			continue
		}
		h.started = append(h.started, p)
		h.logger.Info("Plugin started", zap.String("plugin", p.Name()))
	}

	if len(h.plugins) > 0 && failed == len(h.plugins) {
		return fmt.Errorf("all %d plugins failed to start", failed)
	}
	return nil
}

func (h *Host) start(p Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during start: %v", r)
		}
	}()
	return p.Start()
}

// Unload stops the started plugins in reverse order
func (h *Host) Unload() {
	h.mu.Lock()
	started := h.started
	h.started = nil
	h.mu.Unlock()

	for i := len(started) - 1; i >= 0; i-- {
		p := started[i]
		h.call(p, "unload", p.Stop)
		h.logger.Info("Plugin stopped", zap.String("plugin", p.Name()))
	}
}

func (h *Host) active() []Plugin {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}

func (h *Host) call(p Plugin, hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Plugin panicked in callback",
				zap.String("plugin", p.Name()),
				zap.String("hook", hook),
				zap.Any("panic", r))
		}
	}()
	fn()
}

// Ready delivers the agent ready callback
func (h *Host) Ready(agent Agent) {
	for _, p := range h.active() {
		if rh, ok := p.(ReadyHandler); ok {
			h.call(p, "ready", func() { rh.OnReady(agent) })
		}
	}
}

// Handshake delivers a captured handshake
func (h *Host) Handshake(hs Handshake) {
	for _, p := range h.active() {
		if hh, ok := p.(HandshakeHandler); ok {
			h.call(p, "handshake", func() { hh.OnHandshake(hs) })
		}
	}
}

// Epoch delivers an epoch
func (h *Host) Epoch(e Epoch) {
	for _, p := range h.active() {
		if eh, ok := p.(EpochHandler); ok {
			h.call(p, "epoch", func() { eh.OnEpoch(e) })
		}
	}
}

// PeerDetected delivers a nearby peer
func (h *Host) PeerDetected(peer Peer) {
	for _, p := range h.active() {
		if ph, ok := p.(PeerHandler); ok {
			h.call(p, "peer_detected", func() { ph.OnPeerDetected(peer) })
		}
	}
}

// ChannelHop delivers a channel change
func (h *Host) ChannelHop(channel int) {
	for _, p := range h.active() {
		if ch, ok := p.(ChannelHopHandler); ok {
			h.call(p, "channel_hop", func() { ch.OnChannelHop(channel) })
		}
	}
}

// Mood delivers a mood change
func (h *Host) Mood(mood Mood) {
	for _, p := range h.active() {
		if mh, ok := p.(MoodHandler); ok {
			h.call(p, "mood", func() { mh.OnMood(mood) })
		}
	}
}

// WifiUpdate delivers an access point scan
func (h *Host) WifiUpdate(aps []Station) {
	for _, p := range h.active() {
		if wh, ok := p.(WifiUpdateHandler); ok {
			h.call(p, "wifi_update", func() { wh.OnWifiUpdate(aps) })
		}
	}
}

// Statuses collects the status of every started plugin that provides one
func (h *Host) Statuses() []Status {
	var out []Status
	for _, p := range h.active() {
		if sp, ok := p.(StatusProvider); ok {
			out = append(out, sp.Status())
		}
	}
	return out
}
