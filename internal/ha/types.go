package ha

import "fmt"

// StateRequest is the body of POST /api/states/<entity_id>
type StateRequest struct {
	State      string                 `json:"state"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// APIMessage is the body Home Assistant returns for simple acknowledgements
// such as GET /api/ and POST /api/events/<event_type>
type APIMessage struct {
	Message string `json:"message"`
}

// StatusError is returned when Home Assistant answers with a non-success
// status code
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("Home Assistant returned status %d", e.Code)
	}
	return fmt.Sprintf("Home Assistant returned status %d: %s", e.Code, e.Body)
}
