// Package plugin provides the plugin system for pwnrelay. Plugins register
// themselves with the global registry from init() functions and receive the
// host's callbacks through the optional handler interfaces below.
package plugin

import "pwnrelay/internal/relay"

// Plugin is the core interface that all plugins must implement.
type Plugin interface {
	// Name returns the unique identifier for this plugin
	Name() string

	// Start is called when the host loads the plugin. It starts background
	// goroutines and returns an error if the plugin cannot run.
	Start() error

	// Stop is called when the host unloads the plugin. It flushes pending
	// work within the configured drain timeout and releases resources.
	Stop()
}

// ReadyHandler is implemented by plugins that react to the agent being ready
type ReadyHandler interface {
	OnReady(agent Agent)
}

// HandshakeHandler is implemented by plugins that react to captured handshakes
type HandshakeHandler interface {
	OnHandshake(h Handshake)
}

// EpochHandler is implemented by plugins that observe agent epochs
type EpochHandler interface {
	OnEpoch(e Epoch)
}

// PeerHandler is implemented by plugins that react to nearby peer units
type PeerHandler interface {
	OnPeerDetected(peer Peer)
}

// ChannelHopHandler is implemented by plugins that track channel changes
type ChannelHopHandler interface {
	OnChannelHop(channel int)
}

// MoodHandler is implemented by plugins that react to agent mood changes
type MoodHandler interface {
	OnMood(mood Mood)
}

// WifiUpdateHandler is implemented by plugins that receive access point scans
type WifiUpdateHandler interface {
	OnWifiUpdate(aps []Station)
}

// StatusProvider is implemented by plugins that expose their relay state on
// the status server.
type StatusProvider interface {
	Status() Status
}

// Status describes a plugin's relay for the status server
type Status struct {
	Plugin  string          `json:"plugin"`
	Running bool            `json:"running"`
	Pending int             `json:"pending"`
	Session *relay.Snapshot `json:"session,omitempty"`
}

// Factory is a function that creates a new plugin instance given a context.
type Factory func(ctx *Context) (Plugin, error)
