package companion

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"pwnrelay/internal/config"
	"pwnrelay/internal/wshub"
	"pwnrelay/pkg/plugin"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startManager(t *testing.T) (*Manager, *websocket.Conn) {
	t.Helper()

	cfg := &config.Config{
		Relay: config.RelayConfig{
			RequestTimeout: time.Second,
			DrainTimeout:   time.Second,
		},
		Companion: config.CompanionConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:0",
			Keepalive:  time.Hour,
			StaleAfter: time.Hour,
		},
	}

	m := NewManager(cfg, prometheus.NewRegistry(), nil, zap.NewNop())
	require.NoError(t, m.Start())
	t.Cleanup(m.Stop)

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/ws", m.Addr()), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Connected clients receive the session stats first
	initial := readMessage(t, conn)
	require.Equal(t, wshub.TypeStats, initial["type"])
	require.Eventually(t, func() bool { return m.hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	return m, conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestManager_RelaysCallbacksInOrder(t *testing.T) {
	m, conn := startManager(t)

	m.OnChannelHop(6)
	m.OnPeerDetected(plugin.Peer{Name: "buddy", Fingerprint: "abc123"})
	m.OnMood(plugin.MoodSad)

	hop := readMessage(t, conn)
	assert.Equal(t, TypeChannelHop, hop["type"])
	assert.Equal(t, float64(6), hop["data"].(map[string]interface{})["channel"])

	peer := readMessage(t, conn)
	assert.Equal(t, TypePeerDetected, peer["type"])
	assert.Equal(t, "buddy@abc123", peer["data"].(map[string]interface{})["peer"])

	mood := readMessage(t, conn)
	assert.Equal(t, TypeStatusChange, mood["type"])
	assert.Equal(t, "sad", mood["status"])
	assert.Equal(t, "sad", mood["data"].(map[string]interface{})["status"])
}

func TestManager_WifiUpdateSendsFirstTenAccessPoints(t *testing.T) {
	m, conn := startManager(t)

	aps := make([]plugin.Station, 15)
	for i := range aps {
		aps[i] = plugin.Station{MAC: fmt.Sprintf("aa:bb:cc:dd:ee:%02x", i), Hostname: fmt.Sprintf("ap-%d", i), Channel: 1 + i%11}
	}
	m.OnWifiUpdate(aps)

	msg := readMessage(t, conn)
	assert.Equal(t, TypeWifiUpdate, msg["type"])

	data := msg["data"].(map[string]interface{})
	assert.Equal(t, float64(15), data["count"])

	sent := data["access_points"].([]interface{})
	require.Len(t, sent, maxAccessPoints)
	assert.Equal(t, "ap-0", sent[0].(map[string]interface{})["hostname"])
	assert.Equal(t, "aa:bb:cc:dd:ee:09", sent[9].(map[string]interface{})["bssid"])
}

func TestManager_HandshakeUpdatesStats(t *testing.T) {
	m, conn := startManager(t)

	m.OnHandshake(plugin.Handshake{
		Filename:    "/root/handshakes/HomeNet.pcap",
		AccessPoint: plugin.Station{MAC: "aa:bb:cc:dd:ee:ff", Hostname: "HomeNet"},
		Client:      plugin.Station{MAC: "11:22:33:44:55:66"},
	})

	msg := readMessage(t, conn)
	assert.Equal(t, TypeHandshake, msg["type"])
	data := msg["data"].(map[string]interface{})
	assert.Equal(t, "/root/handshakes/HomeNet.pcap", data["filename"])
	assert.Equal(t, "HomeNet", data["access_point"].(map[string]interface{})["hostname"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "get_stats"}))
	stats := readMessage(t, conn)
	assert.Equal(t, wshub.TypeStats, stats["type"])
	assert.Equal(t, float64(1), stats["data"].(map[string]interface{})["session_events"])

	st := m.Status()
	assert.True(t, st.Running)
	assert.Equal(t, int64(1), st.Session.SessionEvents)
}

func TestManager_StopDisconnectsClients(t *testing.T) {
	m, conn := startManager(t)

	m.Stop()
	assert.Equal(t, "", m.Addr())
	assert.False(t, m.Status().Running)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// Callbacks after stop are dropped
	m.OnChannelHop(1)
}

func TestManager_RestartAfterStop(t *testing.T) {
	m, conn := startManager(t)
	m.Stop()
	conn.Close()

	require.NotPanics(t, func() {
		require.NoError(t, m.Start())
	})

	conn2, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/ws", m.Addr()), nil)
	require.NoError(t, err)
	defer conn2.Close()
	assert.Equal(t, wshub.TypeStats, readMessage(t, conn2)["type"])

	m.OnChannelHop(11)
	hop := readMessage(t, conn2)
	assert.Equal(t, TypeChannelHop, hop["type"])
}
