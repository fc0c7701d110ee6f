package plugin

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// hookPlugin records every callback it receives
type hookPlugin struct {
	mockPlugin
	startErr error
	calls    []string
	panicOn  string
}

func (p *hookPlugin) Start() error {
	if p.startErr != nil {
		return p.startErr
	}
	p.started = true
	return nil
}

func (p *hookPlugin) record(hook string) {
	if hook == p.panicOn {
		panic("boom")
	}
	p.calls = append(p.calls, hook)
}

func (p *hookPlugin) OnReady(agent Agent)        { p.record("ready:" + agent.Name) }
func (p *hookPlugin) OnHandshake(h Handshake)    { p.record("handshake") }
func (p *hookPlugin) OnEpoch(e Epoch)            { p.record("epoch") }
func (p *hookPlugin) OnPeerDetected(peer Peer)   { p.record("peer") }
func (p *hookPlugin) OnChannelHop(channel int)   { p.record("channel_hop") }
func (p *hookPlugin) OnMood(mood Mood)           { p.record("mood:" + string(mood)) }
func (p *hookPlugin) OnWifiUpdate(aps []Station) { p.record("wifi_update") }
func (p *hookPlugin) Status() Status             { return Status{Plugin: p.name, Running: p.started} }

func TestHost_FansOutToHandlers(t *testing.T) {
	full := &hookPlugin{mockPlugin: mockPlugin{name: "full"}}
	bare := &mockPlugin{name: "bare"}

	host := NewHost([]Plugin{full, bare}, zap.NewNop())
	require.NoError(t, host.Load())
	assert.True(t, bare.started)

	host.Ready(Agent{Name: "gotchi"})
	host.Handshake(Handshake{Filename: "/tmp/a.pcap"})
	host.Epoch(Epoch{Number: 1})
	host.PeerDetected(Peer{Name: "buddy"})
	host.ChannelHop(6)
	host.Mood(MoodBored)
	host.WifiUpdate(nil)

	assert.Equal(t, []string{
		"ready:gotchi", "handshake", "epoch", "peer", "channel_hop", "mood:bored", "wifi_update",
	}, full.calls)

	statuses := host.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "full", statuses[0].Plugin)
}

func TestHost_PanickingPluginDoesNotStopOthers(t *testing.T) {
	bad := &hookPlugin{mockPlugin: mockPlugin{name: "bad"}, panicOn: "handshake"}
	good := &hookPlugin{mockPlugin: mockPlugin{name: "good"}}

	host := NewHost([]Plugin{bad, good}, zap.NewNop())
	require.NoError(t, host.Load())

	host.Handshake(Handshake{})
	assert.Equal(t, []string{"handshake"}, good.calls)
	assert.Empty(t, bad.calls)
}

func TestHost_FailedStartIsSkipped(t *testing.T) {
	broken := &hookPlugin{mockPlugin: mockPlugin{name: "broken"}, startErr: errors.New("no credentials")}
	ok := &hookPlugin{mockPlugin: mockPlugin{name: "ok"}}

	host := NewHost([]Plugin{broken, ok}, zap.NewNop())
	require.NoError(t, host.Load())

	host.ChannelHop(11)
	assert.Empty(t, broken.calls)
	assert.Equal(t, []string{"channel_hop"}, ok.calls)

	host.Unload()
	assert.False(t, broken.stopped)
	assert.True(t, ok.stopped)
}

func TestHost_AllFailing(t *testing.T) {
	broken := &hookPlugin{mockPlugin: mockPlugin{name: "broken"}, startErr: errors.New("nope")}
	host := NewHost([]Plugin{broken}, zap.NewNop())
	assert.Error(t, host.Load())
}

func TestHost_UnloadStopsInReverseOrderAndSilencesCallbacks(t *testing.T) {
	var stopped []string
	first := &orderedPlugin{name: "first", stopped: &stopped}
	second := &orderedPlugin{name: "second", stopped: &stopped}

	host := NewHost([]Plugin{first, second}, zap.NewNop())
	require.NoError(t, host.Load())
	host.Unload()

	assert.Equal(t, []string{"second", "first"}, stopped)

	// Second unload is a no-op
	host.Unload()
	assert.Len(t, stopped, 2)
}

type orderedPlugin struct {
	name    string
	stopped *[]string
}

func (p *orderedPlugin) Name() string { return p.name }
func (p *orderedPlugin) Start() error { return nil }
func (p *orderedPlugin) Stop()        { *p.stopped = append(*p.stopped, p.name) }

func TestMood_UnmarshalJSON(t *testing.T) {
	var m Mood
	require.NoError(t, json.Unmarshal([]byte(`"lonely"`), &m))
	assert.Equal(t, MoodLonely, m)

	assert.Error(t, json.Unmarshal([]byte(`"angry"`), &m))
}

func TestSession_Empty(t *testing.T) {
	var nilSession *Session
	assert.True(t, nilSession.Empty())
	assert.True(t, (&Session{Duration: "0:00:00"}).Empty())
	assert.False(t, (&Session{Duration: "1:02:03", Handshakes: 3}).Empty())
}
