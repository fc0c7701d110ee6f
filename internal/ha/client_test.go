package ha

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pwnrelay/pkg/testutil"
)

const testToken = "test_token"

func newTestClient(t *testing.T, server *testutil.MockHAServer, timeout time.Duration) *Client {
	t.Helper()
	client, err := NewClient(server.URL(), testToken, timeout, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	tests := []struct {
		name  string
		url   string
		token string
	}{
		{"missing url", "", "token"},
		{"missing token", "http://ha.local:8123", ""},
		{"missing both", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.url, tt.token, time.Second, zap.NewNop())
			assert.ErrorIs(t, err, ErrMissingCredentials)
		})
	}
}

func TestEntityID(t *testing.T) {
	assert.Equal(t, "sensor.pwnagotchi", EntityID("pwnagotchi"))
	assert.Equal(t, "sensor.my_unit_2", EntityID("My Unit 2"))
}

func TestClient_Ping(t *testing.T) {
	server := testutil.NewMockHAServer(testToken)
	defer server.Close()

	client := newTestClient(t, server, time.Second)
	require.NoError(t, client.Ping(context.Background()))

	reqs := server.GetRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodGet, reqs[0].Method)
	assert.Equal(t, "/api/", reqs[0].Path)
	assert.Equal(t, "Bearer "+testToken, reqs[0].Authorization)
}

func TestClient_SetState(t *testing.T) {
	server := testutil.NewMockHAServer(testToken)
	defer server.Close()

	client := newTestClient(t, server, time.Second)

	// First write creates (201), second replaces (200); both succeed
	for _, state := range []string{"online", "offline"} {
		err := client.SetState(context.Background(), "sensor.pwnagotchi", StateRequest{
			State:      state,
			Attributes: map[string]interface{}{"icon": "mdi:wifi-lock"},
		})
		require.NoError(t, err)
	}

	st, ok := server.GetState("sensor.pwnagotchi")
	require.True(t, ok)
	assert.Equal(t, "offline", st.State)
	assert.Equal(t, "mdi:wifi-lock", st.Attributes["icon"])

	reqs := server.GetRequests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "application/json", reqs[0].ContentType)
}

func TestClient_FireEvent(t *testing.T) {
	server := testutil.NewMockHAServer(testToken)
	defer server.Close()

	client := newTestClient(t, server, time.Second)
	err := client.FireEvent(context.Background(), "pwnagotchi_handshake_captured", map[string]interface{}{
		"ap_name": "HomeNet",
	})
	require.NoError(t, err)

	req := testutil.FindRequestWithData(server.GetRequests(), "/api/events/pwnagotchi_handshake_captured", "ap_name", "HomeNet")
	require.NotNil(t, req)
	assert.Equal(t, http.MethodPost, req.Method)
}

func TestClient_NonSuccessStatusIsStatusError(t *testing.T) {
	server := testutil.NewMockHAServer(testToken)
	defer server.Close()
	server.FailPath("/api/states/", http.StatusInternalServerError)

	client := newTestClient(t, server, time.Second)
	err := client.SetState(context.Background(), "sensor.pwnagotchi", StateRequest{State: "online"})

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
	assert.Contains(t, statusErr.Error(), "500")
}

func TestClient_WrongTokenIsUnauthorized(t *testing.T) {
	server := testutil.NewMockHAServer(testToken)
	defer server.Close()

	client, err := NewClient(server.URL(), "wrong", time.Second, zap.NewNop())
	require.NoError(t, err)

	err = client.Ping(context.Background())
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
}

func TestClient_TimeoutIsTransportError(t *testing.T) {
	server := testutil.NewMockHAServer(testToken)
	defer server.Close()
	server.SetDelay(500 * time.Millisecond)

	client := newTestClient(t, server, 50*time.Millisecond)

	start := time.Now()
	err := client.FireEvent(context.Background(), "pwnagotchi_test", nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 400*time.Millisecond)

	var statusErr *StatusError
	assert.False(t, errors.As(err, &statusErr))
}

func TestClient_UnreachableHost(t *testing.T) {
	server := testutil.NewMockHAServer(testToken)
	url := server.URL()
	server.Close()

	client, err := NewClient(url, testToken, time.Second, zap.NewNop())
	require.NoError(t, err)
	assert.Error(t, client.Ping(context.Background()))
}
