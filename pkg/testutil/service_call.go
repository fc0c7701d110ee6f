package testutil

import (
	"strings"
	"time"
)

// Request records a request received by MockHAServer
type Request struct {
	Timestamp     time.Time
	Method        string
	Path          string
	Authorization string
	ContentType   string
	Body          map[string]interface{}
}

// FilterRequests returns the requests whose path starts with prefix
func FilterRequests(reqs []Request, prefix string) []Request {
	var filtered []Request
	for _, req := range reqs {
		if strings.HasPrefix(req.Path, prefix) {
			filtered = append(filtered, req)
		}
	}
	return filtered
}

// FindRequestWithData finds the most recent request to path whose body has
// key set to value
func FindRequestWithData(reqs []Request, path, key string, value interface{}) *Request {
	for i := len(reqs) - 1; i >= 0; i-- {
		req := reqs[i]
		if req.Path != path {
			continue
		}
		if v, ok := req.Body[key]; ok && v == value {
			return &req
		}
	}
	return nil
}

// Events returns the event types fired, in order, with the /api/events/
// prefix stripped
func Events(reqs []Request) []string {
	var types []string
	for _, req := range FilterRequests(reqs, "/api/events/") {
		types = append(types, strings.TrimPrefix(req.Path, "/api/events/"))
	}
	return types
}

// States returns the sensor states posted, in order
func States(reqs []Request) []string {
	var states []string
	for _, req := range FilterRequests(reqs, "/api/states/") {
		if st, ok := req.Body["state"].(string); ok {
			states = append(states, st)
		}
	}
	return states
}
