// Package testutil provides testing utilities for pwnrelay plugins.
// It contains a mock Home Assistant REST server that records every request
// and can be told to reject or delay them.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockHAServer simulates the parts of the Home Assistant REST API pwnrelay
// uses: GET /api/, POST /api/states/<entity>, POST /api/events/<type>.
type MockHAServer struct {
	server *httptest.Server
	token  string

	mu       sync.Mutex
	requests []Request
	states   map[string]EntityState
	statuses map[string]int // path prefix -> forced status
	delay    time.Duration
}

// EntityState is the last state posted for an entity
type EntityState struct {
	EntityID   string                 `json:"entity_id"`
	State      string                 `json:"state"`
	Attributes map[string]interface{} `json:"attributes"`
}

// NewMockHAServer starts a mock server that accepts token as its bearer token
func NewMockHAServer(token string) *MockHAServer {
	s := &MockHAServer{
		token:    token,
		states:   make(map[string]EntityState),
		statuses: make(map[string]int),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the base URL of the server
func (s *MockHAServer) URL() string {
	return s.server.URL
}

// Close shuts the server down
func (s *MockHAServer) Close() {
	s.server.Close()
}

// SetDelay makes every request wait d before answering (simulated latency)
func (s *MockHAServer) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// FailPath forces requests whose path starts with prefix to answer status.
// A status of 0 removes the override.
func (s *MockHAServer) FailPath(prefix string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status == 0 {
		delete(s.statuses, prefix)
		return
	}
	s.statuses[prefix] = status
}

func (s *MockHAServer) handle(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)

	req := Request{
		Timestamp:     time.Now(),
		Method:        r.Method,
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		ContentType:   r.Header.Get("Content-Type"),
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &req.Body)
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	delay := s.delay
	forced := 0
	for prefix, status := range s.statuses {
		if strings.HasPrefix(r.URL.Path, prefix) {
			forced = status
		}
	}
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if req.Authorization != "Bearer "+s.token {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "401: Unauthorized"})
		return
	}
	if forced != 0 {
		writeJSON(w, forced, map[string]string{"message": http.StatusText(forced)})
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/":
		writeJSON(w, http.StatusOK, map[string]string{"message": "API running."})

	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/states/"):
		entityID := strings.TrimPrefix(r.URL.Path, "/api/states/")
		state := EntityState{EntityID: entityID}
		if st, ok := req.Body["state"].(string); ok {
			state.State = st
		}
		if attrs, ok := req.Body["attributes"].(map[string]interface{}); ok {
			state.Attributes = attrs
		}

		s.mu.Lock()
		_, existed := s.states[entityID]
		s.states[entityID] = state
		s.mu.Unlock()

		status := http.StatusCreated
		if existed {
			status = http.StatusOK
		}
		writeJSON(w, status, state)

	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/events/"):
		eventType := strings.TrimPrefix(r.URL.Path, "/api/events/")
		writeJSON(w, http.StatusOK, map[string]string{"message": "Event " + eventType + " fired."})

	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not found"})
	}
}

// GetState returns the last state posted for entityID
func (s *MockHAServer) GetState(entityID string) (EntityState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[entityID]
	return st, ok
}

// GetRequests returns every request received so far
func (s *MockHAServer) GetRequests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// ClearRequests forgets recorded requests
func (s *MockHAServer) ClearRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
