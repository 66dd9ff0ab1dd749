// Package client is the stamped HTTP transport for the custody service:
// every request body is signed by a Stamper and sent with the resulting
// header attached. Consensus-needed responses surface as
// activity.ConsensusNeededError so callers can hand off to the poller.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/custodia-labs/custodia-go/activity"
	"github.com/custodia-labs/custodia-go/stamp"
)

// Service paths.
const (
	submitPath      = "/v1/submit"
	getActivityPath = "/v1/activities/get"
)

// APIError is a non-2xx service response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("custody service returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to one custody service with one signing identity.
type Client struct {
	baseURL    string
	stamper    stamp.Stamper
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for the service at baseURL signing with stamper.
func New(baseURL string, stamper stamp.Stamper, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		stamper:    stamper,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// activityEnvelope is the service's response shape for submissions and
// status queries.
type activityEnvelope struct {
	Activity activity.Activity `json:"activity"`
}

// submitRequest is the generic submission body.
type submitRequest struct {
	OrganizationID string          `json:"organizationId"`
	Type           string          `json:"type"`
	Parameters     json.RawMessage `json:"parameters,omitempty"`
}

// getActivityRequest is the status query body.
type getActivityRequest struct {
	OrganizationID string `json:"organizationId"`
	ActivityID     string `json:"activityId"`
}

// post signs the body and POSTs it, returning the raw response body.
func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	st, err := c.stamper.Stamp(ctx, string(payload))
	if err != nil {
		return nil, fmt.Errorf("stamping request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(st.HeaderName, st.HeaderValue)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting to %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			msg = er.Error
		}
		c.logger.Debug("request rejected", "path", path, "status", resp.StatusCode, "error", msg)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return raw, nil
}

// Submit sends one operation for execution. A pending activity comes back
// as activity.ConsensusNeededError carrying the id to poll; a terminal
// failure comes back as activity.FailureError.
func (c *Client) Submit(ctx context.Context, organizationID, activityType string, parameters any) (activity.Activity, error) {
	var params json.RawMessage
	if parameters != nil {
		raw, err := json.Marshal(parameters)
		if err != nil {
			return activity.Activity{}, fmt.Errorf("marshaling parameters: %w", err)
		}
		params = raw
	}

	raw, err := c.post(ctx, submitPath, submitRequest{
		OrganizationID: organizationID,
		Type:           activityType,
		Parameters:     params,
	})
	if err != nil {
		return activity.Activity{}, err
	}

	var env activityEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return activity.Activity{}, fmt.Errorf("unmarshaling activity: %w", err)
	}
	return classify(env.Activity)
}

// GetActivity queries the current state of one activity. It implements
// activity.Querier, so a Client can back a poller directly.
func (c *Client) GetActivity(ctx context.Context, organizationID, activityID string) (activity.Activity, error) {
	raw, err := c.post(ctx, getActivityPath, getActivityRequest{
		OrganizationID: organizationID,
		ActivityID:     activityID,
	})
	if err != nil {
		return activity.Activity{}, err
	}

	var env activityEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return activity.Activity{}, fmt.Errorf("unmarshaling activity: %w", err)
	}
	return env.Activity, nil
}

// WaitForActivity polls an activity to a terminal status.
func (c *Client) WaitForActivity(ctx context.Context, organizationID, activityID string, opts ...activity.PollerOption) (activity.Activity, error) {
	return activity.NewPoller(c, organizationID, activityID, opts...).Wait(ctx)
}

var _ activity.Querier = (*Client)(nil)

// classify converts a submission response into the caller-facing outcome.
// An error message on a non-terminal status is a rejection, not a reason to
// start polling.
func classify(act activity.Activity) (activity.Activity, error) {
	switch {
	case act.ErrorMessage != "" && !act.Status.Terminal():
		return act, &activity.FailureError{Activity: act}
	case act.Status == activity.StatusPending:
		return act, &activity.ConsensusNeededError{ActivityID: act.ID, Status: act.Status}
	case act.Status.Succeeded():
		return act, nil
	default:
		return act, &activity.FailureError{Activity: act}
	}
}
