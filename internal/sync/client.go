package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/transhub/mclocal/internal/models"
)

// TransportError wraps any network or remote-peer failure. It is
// recoverable: the engine records it into the sync run and retries on
// the next cycle.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RemoteChange is the wire shape of a change record on the hub
type RemoteChange struct {
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Operation  string                 `json:"operation"`
	Payload    map[string]interface{} `json:"payload"`
	CreatedAt  time.Time              `json:"created_at"`
}

// AsChange converts the wire record into a change record for resolution.
// The timestamp is truncated to microseconds, the precision the database
// keeps, so a stored copy compares equal to a re-pulled one.
func (rc *RemoteChange) AsChange() *models.OfflineChange {
	payload := make(map[string]interface{}, len(rc.Payload))
	for k, v := range rc.Payload {
		payload[k] = v
	}
	return &models.OfflineChange{
		EntityType: rc.EntityType,
		EntityID:   rc.EntityID,
		Operation:  models.ChangeOperation(rc.Operation),
		Payload:    payload,
		CreatedAt:  rc.CreatedAt.UTC().Truncate(time.Microsecond),
	}
}

// Client talks to the hub server. Every call carries the configured
// credentials and a hard timeout so a dead peer fails the run instead
// of hanging it.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a hub client with a bounded per-request timeout
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 90 * time.Second,
			},
		},
	}
}

// PushChanges uploads a batch of local change records
func (c *Client) PushChanges(ctx context.Context, changes []models.OfflineChange) error {
	return c.post(ctx, "/api/sync/changes", map[string]interface{}{"changes": changes})
}

// PushDiscoveries uploads a batch of discovered mods
func (c *Client) PushDiscoveries(ctx context.Context, mods []models.ModDiscovery) error {
	return c.post(ctx, "/api/sync/mods", map[string]interface{}{"mods": mods})
}

// PullChanges fetches remote changes committed after the checkpoint.
// A zero checkpoint asks for everything.
func (c *Client) PullChanges(ctx context.Context, since time.Time) ([]RemoteChange, error) {
	endpoint := c.baseURL + "/api/sync/changes/updates"
	if !since.IsZero() {
		endpoint += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &TransportError{Op: "pull changes", Err: err}
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "pull changes", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &TransportError{
			Op:  "pull changes",
			Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body)),
		}
	}

	var payload struct {
		Changes []RemoteChange `json:"changes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &TransportError{Op: "pull changes", Err: err}
	}
	return payload.Changes, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal sync payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return &TransportError{Op: "POST " + path, Err: err}
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: "POST " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &TransportError{
			Op:  "POST " + path,
			Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body)),
		}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-Type", "mc-l10n")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
