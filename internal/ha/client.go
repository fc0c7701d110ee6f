// Package ha is a small Home Assistant REST client used to publish the
// device's sensor state and fire custom events.
package ha

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrMissingCredentials is returned when the URL or token is empty
	ErrMissingCredentials = errors.New("missing Home Assistant url or token")

	// ErrInvalidPayload wraps failures to encode a request body
	ErrInvalidPayload = errors.New("invalid payload")
)

// maxErrorBody bounds how much of an error response is kept for logging
const maxErrorBody = 1024

// HAClient defines the interface for the Home Assistant REST client
type HAClient interface {
	Ping(ctx context.Context) error
	SetState(ctx context.Context, entityID string, req StateRequest) error
	FireEvent(ctx context.Context, eventType string, data map[string]interface{}) error
}

// Client implements HAClient over HTTP
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new Home Assistant REST client. Every request is
// bounded by timeout.
func NewClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	if baseURL == "" || token == "" {
		return nil, ErrMissingCredentials
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}, nil
}

// EntityID returns the sensor entity used for a unit name
func EntityID(unitName string) string {
	return "sensor." + strings.ReplaceAll(strings.ToLower(unitName), " ", "_")
}

// Ping checks that the API is reachable and the token is accepted
func (c *Client) Ping(ctx context.Context) error {
	var msg APIMessage
	if err := c.do(ctx, http.MethodGet, "/api/", nil, &msg); err != nil {
		return err
	}
	c.logger.Debug("Home Assistant API reachable", zap.String("message", msg.Message))
	return nil
}

// SetState creates or replaces the state of an entity
func (c *Client) SetState(ctx context.Context, entityID string, req StateRequest) error {
	if err := c.do(ctx, http.MethodPost, "/api/states/"+entityID, req, nil); err != nil {
		return err
	}
	c.logger.Debug("State updated successfully",
		zap.String("entity_id", entityID),
		zap.String("state", req.State))
	return nil
}

// FireEvent fires a custom event on the Home Assistant event bus
func (c *Client) FireEvent(ctx context.Context, eventType string, data map[string]interface{}) error {
	if err := c.do(ctx, http.MethodPost, "/api/events/"+eventType, data, nil); err != nil {
		return err
	}
	c.logger.Debug("Event sent successfully", zap.String("event_type", eventType))
	return nil
}

// do performs a JSON request. Any status other than 200/201 becomes a
// *StatusError; network failures are returned wrapped.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach Home Assistant: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
