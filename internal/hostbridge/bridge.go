// Package hostbridge reads the host runtime's plugin callbacks as JSON lines
// and dispatches them to a plugin host.
//
// Each line is an object with a "hook" field naming the callback; the other
// fields carry its arguments:
//
//	{"hook":"loaded"}
//	{"hook":"ready","agent":{"name":"gotchi","last_session":{...}}}
//	{"hook":"handshake","filename":"...","access_point":{...},"client_station":{...}}
//	{"hook":"epoch","epoch":12,"data":{...}}
//	{"hook":"peer_detected","peer":{"name":"buddy","identity":"..."}}
//	{"hook":"channel_hop","channel":6}
//	{"hook":"mood","mood":"bored"}
//	{"hook":"wifi_update","access_points":[{...}]}
//	{"hook":"unload"}
package hostbridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"pwnrelay/pkg/plugin"

	"go.uber.org/zap"
)

// Hook names
const (
	HookLoaded     = "loaded"
	HookReady      = "ready"
	HookHandshake  = "handshake"
	HookEpoch      = "epoch"
	HookPeer       = "peer_detected"
	HookChannelHop = "channel_hop"
	HookMood       = "mood"
	HookWifiUpdate = "wifi_update"
	HookUnload     = "unload"
)

const maxLineSize = 1 << 20

// errUnload ends Run after an unload hook
var errUnload = errors.New("host unloaded")

// Host receives decoded callbacks. *plugin.Host implements it.
type Host interface {
	Load() error
	Unload()
	Ready(agent plugin.Agent)
	Handshake(h plugin.Handshake)
	Epoch(e plugin.Epoch)
	PeerDetected(peer plugin.Peer)
	ChannelHop(channel int)
	Mood(mood plugin.Mood)
	WifiUpdate(aps []plugin.Station)
}

// Bridge decodes callbacks from a reader
type Bridge struct {
	host   Host
	logger *zap.Logger
}

// New creates a bridge dispatching to host
func New(host Host, logger *zap.Logger) *Bridge {
	return &Bridge{
		host:   host,
		logger: logger.Named("hostbridge"),
	}
}

type line struct {
	text []byte
	err  error
}

// Run reads callbacks from r until an unload hook, end of input or ctx is
// done. End of input and cancellation are treated as an unload, so plugins
// are always stopped when Run returns.
func (b *Bridge) Run(ctx context.Context, r io.Reader) error {
	lines := make(chan line)
	go scan(ctx, r, lines)

	defer b.host.Unload()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Context done, unloading plugins")
			return nil
		case l, ok := <-lines:
			if !ok {
				b.logger.Info("Host closed input, unloading plugins")
				return nil
			}
			if l.err != nil {
				return fmt.Errorf("failed to read host callbacks: %w", l.err)
			}
			if err := b.Dispatch(l.text); errors.Is(err, errUnload) {
				return nil
			} else if err != nil {
				b.logger.Warn("Skipping callback", zap.Error(err))
			}
		}
	}
}

func scan(ctx context.Context, r io.Reader, out chan<- line) {
	defer close(out)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		text := append([]byte(nil), scanner.Bytes()...)
		if len(text) == 0 {
			continue
		}
		select {
		case out <- line{text: text}:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case out <- line{err: err}:
		case <-ctx.Done():
		}
	}
}

// Dispatch decodes one callback line and calls the matching host method
func (b *Bridge) Dispatch(data []byte) error {
	var head struct {
		Hook string `json:"hook"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("malformed callback: %w", err)
	}

	switch head.Hook {
	case HookLoaded:
		if err := b.host.Load(); err != nil {
			b.logger.Error("Plugins failed to load", zap.Error(err))
		}

	case HookReady:
		var msg struct {
			Agent plugin.Agent `json:"agent"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("malformed %s callback: %w", head.Hook, err)
		}
		b.host.Ready(msg.Agent)

	case HookHandshake:
		var h plugin.Handshake
		if err := json.Unmarshal(data, &h); err != nil {
			return fmt.Errorf("malformed %s callback: %w", head.Hook, err)
		}
		b.host.Handshake(h)

	case HookEpoch:
		var e plugin.Epoch
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("malformed %s callback: %w", head.Hook, err)
		}
		b.host.Epoch(e)

	case HookPeer:
		var msg struct {
			Peer plugin.Peer `json:"peer"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("malformed %s callback: %w", head.Hook, err)
		}
		b.host.PeerDetected(msg.Peer)

	case HookChannelHop:
		var msg struct {
			Channel int `json:"channel"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("malformed %s callback: %w", head.Hook, err)
		}
		b.host.ChannelHop(msg.Channel)

	case HookMood:
		var msg struct {
			Mood plugin.Mood `json:"mood"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("malformed %s callback: %w", head.Hook, err)
		}
		b.host.Mood(msg.Mood)

	case string(plugin.MoodBored), string(plugin.MoodExcited), string(plugin.MoodLonely), string(plugin.MoodSad):
		b.host.Mood(plugin.Mood(head.Hook))

	case HookWifiUpdate:
		var msg struct {
			AccessPoints []plugin.Station `json:"access_points"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("malformed %s callback: %w", head.Hook, err)
		}
		b.host.WifiUpdate(msg.AccessPoints)

	case HookUnload:
		return errUnload

	default:
		b.logger.Debug("Ignoring unknown hook", zap.String("hook", head.Hook))
	}
	return nil
}
