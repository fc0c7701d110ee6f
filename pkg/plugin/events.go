package plugin

import (
	"encoding/json"
	"fmt"
)

// Agent is what the host reports about the running agent when it is ready
type Agent struct {
	Name        string   `json:"name"`
	LastSession *Session `json:"last_session,omitempty"`
}

// Session summarises the agent's previous session
type Session struct {
	Handshakes int    `json:"handshakes"`
	Duration   string `json:"duration"`
	Epochs     int    `json:"epochs"`
}

// Empty reports whether the session never ran
func (s *Session) Empty() bool {
	return s == nil || s.Duration == "" || s.Duration == "0:00:00" || s.Duration == "00:00:00"
}

// Station is an access point or client as reported by the host
type Station struct {
	MAC        string `json:"mac"`
	Hostname   string `json:"hostname,omitempty"`
	Vendor     string `json:"vendor,omitempty"`
	Channel    int    `json:"channel,omitempty"`
	RSSI       int    `json:"rssi,omitempty"`
	Encryption string `json:"encryption,omitempty"`
}

// Handshake is a captured handshake
type Handshake struct {
	Filename    string  `json:"filename"`
	AccessPoint Station `json:"access_point"`
	Client      Station `json:"client_station"`
}

// Epoch is one agent epoch with its free-form statistics
type Epoch struct {
	Number int                    `json:"epoch"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

// Peer is another unit seen nearby
type Peer struct {
	Name        string `json:"name"`
	Fingerprint string `json:"identity,omitempty"`
}

func (p Peer) String() string {
	if p.Fingerprint == "" {
		return p.Name
	}
	return fmt.Sprintf("%s@%s", p.Name, p.Fingerprint)
}

// Mood is one of the agent's reportable moods
type Mood string

// Moods relayed to the companion app
const (
	MoodBored   Mood = "bored"
	MoodExcited Mood = "excited"
	MoodLonely  Mood = "lonely"
	MoodSad     Mood = "sad"
)

// UnmarshalJSON accepts only known moods
func (m *Mood) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch Mood(s) {
	case MoodBored, MoodExcited, MoodLonely, MoodSad:
		*m = Mood(s)
		return nil
	default:
		return fmt.Errorf("unknown mood %q", s)
	}
}
