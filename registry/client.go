// Package registry implements the client for the call registry service,
// the backend that issues call records for realtime sessions.
//
// The client exposes the single operation the session controller needs:
// creating a web call for an assistant, squad, or workflow target. The
// returned record carries the room reference the media transport joins.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultBaseURL is the production registry endpoint.
const DefaultBaseURL = "https://api.vapi.ai"

const defaultRequestTimeout = 30 * time.Second

// Client talks to the call registry service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the registry endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a registry client authenticated with the given API
// token.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		token:      token,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the registry.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("registry request failed with status %d: %s", e.StatusCode, e.Message)
}

// CreateWebCall creates a call record for the given target. The target is
// validated before any request is issued. The returned record is not
// checked for a room reference here; the controller treats its absence as
// a fatal configuration error in its own startup stage.
func (c *Client) CreateWebCall(ctx context.Context, target Target) (*WebCall, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	logrus.WithFields(logrus.Fields{
		"function":    "CreateWebCall",
		"request_id":  requestID,
		"target_kind": target.Kind(),
	}).Info("Creating web call")

	body, err := json.Marshal(target)
	if err != nil {
		return nil, fmt.Errorf("failed to encode call request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/call/web", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build call request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to create web call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := readErrorMessage(resp.Body)
		logrus.WithFields(logrus.Fields{
			"function":    "CreateWebCall",
			"request_id":  requestID,
			"status_code": resp.StatusCode,
			"message":     message,
		}).Error("Web call creation rejected")
		return nil, &APIError{StatusCode: resp.StatusCode, Message: message}
	}

	var call WebCall
	if err := json.NewDecoder(resp.Body).Decode(&call); err != nil {
		return nil, fmt.Errorf("failed to decode call record: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "CreateWebCall",
		"request_id": requestID,
		"call_id":    call.ID,
		"has_room":   call.WebCallURL != "",
	}).Info("Web call created")

	return &call, nil
}

// readErrorMessage extracts a human-readable message from an error
// response body, falling back to the raw text.
func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return "no response body"
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
