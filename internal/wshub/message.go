package wshub

import "time"

// Message types sent to clients
const (
	TypeKeepalive = "keepalive"
	TypePong      = "pong"
	TypeStats     = "stats"
	TypeError     = "error"
	TypeAck       = "acknowledgment"
)

// Request types understood from clients
const (
	RequestPing     = "ping"
	RequestPong     = "pong"
	RequestGetStats = "get_stats"
)

// Message is the JSON envelope written to clients
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Status    string      `json:"status,omitempty"`
	Message   string      `json:"message,omitempty"`
	MessageID interface{} `json:"message_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Request is the JSON envelope read from clients. Only the fields the hub
// routes on are decoded.
type Request struct {
	Type      string      `json:"type"`
	MessageID interface{} `json:"message_id,omitempty"`
}

// StatsFunc returns the body of a stats reply
type StatsFunc func() interface{}
