package homeassistant

import (
	"net/http"
	"testing"
	"time"

	"pwnrelay/internal/clock"
	"pwnrelay/internal/config"
	"pwnrelay/internal/ha"
	"pwnrelay/pkg/plugin"
	"pwnrelay/pkg/testutil"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testToken = "test_token"

func testConfig(url string) *config.Config {
	return &config.Config{
		Relay: config.RelayConfig{
			HeartbeatInterval: time.Minute,
			RequestTimeout:    time.Second,
			DrainTimeout:      2 * time.Second,
			DedupLimit:        200,
			DisableHeartbeat:  true,
		},
		HomeAssistant: config.HomeAssistantConfig{
			Enabled:  true,
			URL:      url,
			Token:    testToken,
			UnitName: "pwnagotchi",
		},
	}
}

func newTestManager(t *testing.T, cfg *config.Config, clk clock.Clock) *Manager {
	t.Helper()
	m, err := NewManager(cfg, nil, prometheus.NewRegistry(), clk, zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestManager_MissingCredentialsStaysIdle(t *testing.T) {
	cfg := testConfig("")
	cfg.HomeAssistant.Token = ""
	m := newTestManager(t, cfg, nil)

	require.NoError(t, m.Start())
	assert.False(t, m.Status().Running)

	// Callbacks and Stop are harmless without a relay
	m.OnReady(plugin.Agent{Name: "gotchi"})
	m.OnHandshake(plugin.Handshake{Filename: "a.pcap"})
	m.Stop()
}

func TestManager_SessionFlow(t *testing.T) {
	server := testutil.NewMockHAServer(testToken)
	defer server.Close()

	m := newTestManager(t, testConfig(server.URL()), nil)
	require.NoError(t, m.Start())
	assert.True(t, m.Status().Running)

	m.OnReady(plugin.Agent{
		Name:        "Gotchi",
		LastSession: &plugin.Session{Handshakes: 3, Duration: "1:02:03", Epochs: 10},
	})

	hs := plugin.Handshake{
		Filename:    "/root/handshakes/HomeNet_aabbccddeeff.pcap",
		AccessPoint: plugin.Station{MAC: "AA:BB:CC:DD:EE:FF", Hostname: "HomeNet"},
		Client:      plugin.Station{MAC: "11:22:33:44:55:66"},
	}
	m.OnHandshake(hs)

	// Same capture with different case is a duplicate
	dup := hs
	dup.AccessPoint.MAC = "aa:bb:cc:dd:ee:ff"
	m.OnHandshake(dup)

	m.OnHandshake(plugin.Handshake{
		Filename:    "/root/handshakes/Cafe.pcap",
		AccessPoint: plugin.Station{MAC: "00:11:22:33:44:55"},
		Client:      plugin.Station{MAC: "66:77:88:99:AA:BB"},
	})

	assert.Equal(t, int64(2), m.counters.SessionEvents())

	m.Stop()

	reqs := server.GetRequests()
	var paths []string
	for _, r := range reqs {
		if r.Method == http.MethodPost {
			paths = append(paths, r.Path)
		}
	}
	assert.Equal(t, []string{
		"/api/states/sensor.gotchi",
		"/api/events/pwnagotchi_session_completed",
		"/api/states/sensor.gotchi",
		"/api/events/pwnagotchi_handshake_captured",
		"/api/states/sensor.gotchi",
		"/api/events/pwnagotchi_handshake_captured",
		"/api/states/sensor.gotchi",
	}, paths)

	assert.Equal(t, []string{"online", "online", "online", "offline"}, testutil.States(reqs))

	first := testutil.FindRequestWithData(reqs, "/api/events/pwnagotchi_handshake_captured", "ssid", "HomeNet")
	require.NotNil(t, first)
	assert.Equal(t, "HomeNet_aabbccddeeff.pcap", first.Body["filename"])
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", first.Body["bssid"])
	assert.Equal(t, float64(1), first.Body["session_total"])
	assert.Equal(t, "Gotchi", first.Body["unit_name"])
	assert.Equal(t, m.SessionID(), first.Body["session_id"])

	second := testutil.FindRequestWithData(reqs, "/api/events/pwnagotchi_handshake_captured", "ssid", unknown)
	require.NotNil(t, second)
	assert.Equal(t, float64(2), second.Body["session_total"])

	completed := testutil.FindRequestWithData(reqs, "/api/events/pwnagotchi_session_completed", "duration", "1:02:03")
	require.NotNil(t, completed)
	assert.Equal(t, float64(3), completed.Body["handshakes"])

	st, ok := server.GetState("sensor.gotchi")
	require.True(t, ok)
	assert.Equal(t, "offline", st.State)
	assert.Equal(t, float64(2), st.Attributes["session_handshakes"])
	assert.Equal(t, float64(2), st.Attributes["access_points_seen"])
	assert.Equal(t, "Gotchi Status", st.Attributes["friendly_name"])

	assert.False(t, m.Status().Running)
}

func TestManager_NoSessionCompletedForEmptyLastSession(t *testing.T) {
	server := testutil.NewMockHAServer(testToken)
	defer server.Close()

	m := newTestManager(t, testConfig(server.URL()), nil)
	require.NoError(t, m.Start())
	m.OnReady(plugin.Agent{Name: "gotchi", LastSession: &plugin.Session{Duration: "0:00:00"}})
	m.Stop()

	assert.Empty(t, testutil.Events(server.GetRequests()))
}

func TestManager_HeartbeatRelaysOnlineState(t *testing.T) {
	server := testutil.NewMockHAServer(testToken)
	defer server.Close()

	clk := clock.NewMockClock(time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC))
	cfg := testConfig(server.URL())
	cfg.Relay.DisableHeartbeat = false

	m := newTestManager(t, cfg, clk)
	require.NoError(t, m.Start())
	defer m.Stop()

	require.True(t, clk.BlockUntil(1, time.Second))
	clk.Advance(time.Minute)

	require.Eventually(t, func() bool {
		return len(testutil.States(server.GetRequests())) == 1
	}, 2*time.Second, 10*time.Millisecond)

	st, ok := server.GetState(ha.EntityID("pwnagotchi"))
	require.True(t, ok)
	assert.Equal(t, "online", st.State)
	assert.Equal(t, "00:01:00", st.Attributes["session_duration"])
	assert.Equal(t, "2026-02-01T08:01:00Z", st.Attributes["last_seen"])
}

func TestManager_UnreachableServerDoesNotBlockCallbacks(t *testing.T) {
	server := testutil.NewMockHAServer(testToken)
	server.SetDelay(time.Second)
	defer server.Close()

	cfg := testConfig(server.URL())
	cfg.Relay.RequestTimeout = 50 * time.Millisecond
	cfg.Relay.DrainTimeout = 100 * time.Millisecond
	m := newTestManager(t, cfg, nil)
	require.NoError(t, m.Start())

	start := time.Now()
	for i := 0; i < 20; i++ {
		m.OnHandshake(plugin.Handshake{
			Filename:    "capture.pcap",
			AccessPoint: plugin.Station{MAC: "aa:bb:cc:dd:ee:ff"},
			Client:      plugin.Station{MAC: string(rune('a' + i))},
		})
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	stopStart := time.Now()
	m.Stop()
	assert.Less(t, time.Since(stopStart), 500*time.Millisecond)
}

func observedManager(t *testing.T, cfg *config.Config) (*Manager, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	m, err := NewManager(cfg, nil, prometheus.NewRegistry(), nil, zap.New(core))
	require.NoError(t, err)
	return m, logs
}

func TestManager_StartChecksConnection(t *testing.T) {
	tests := []struct {
		name        string
		serverToken string
		closed      bool
		wantLog     string
		wantLevel   zapcore.Level
	}{
		{"reachable", testToken, false, "Connected to Home Assistant", zapcore.InfoLevel},
		{"token rejected", "other_token", false, "Home Assistant rejected the access token", zapcore.WarnLevel},
		{"unreachable", testToken, true, "Home Assistant is unreachable, records will be dropped until it answers", zapcore.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := testutil.NewMockHAServer(tt.serverToken)
			url := server.URL()
			if tt.closed {
				server.Close()
			} else {
				defer server.Close()
			}

			m, logs := observedManager(t, testConfig(url))
			require.NoError(t, m.Start())
			defer m.Stop()

			require.Eventually(t, func() bool {
				return logs.FilterMessage(tt.wantLog).Len() == 1
			}, 2*time.Second, 10*time.Millisecond)
			assert.Equal(t, tt.wantLevel, logs.FilterMessage(tt.wantLog).All()[0].Level)
			assert.True(t, m.Status().Running, "a failed check does not stop the relay")
		})
	}
}

func TestManager_StopCancelsConnectionCheck(t *testing.T) {
	server := testutil.NewMockHAServer(testToken)
	server.SetDelay(time.Second)
	defer server.Close()

	cfg := testConfig(server.URL())
	cfg.Relay.RequestTimeout = 5 * time.Second
	cfg.Relay.DrainTimeout = 100 * time.Millisecond

	m, logs := observedManager(t, cfg)
	require.NoError(t, m.Start())

	start := time.Now()
	m.Stop()
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).FilterMessage("Home Assistant is unreachable, records will be dropped until it answers").Len())
}

func TestManager_RestartReusesMetrics(t *testing.T) {
	server := testutil.NewMockHAServer(testToken)
	defer server.Close()

	m := newTestManager(t, testConfig(server.URL()), nil)
	require.NoError(t, m.Start())
	m.Stop()

	require.NotPanics(t, func() {
		require.NoError(t, m.Start())
	})
	assert.True(t, m.Status().Running)
	m.Stop()
}
