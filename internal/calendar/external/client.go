package external

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

	"golang.org/x/time/rate"
)

var (
	ErrUnauthorized = errors.New("calendar_unauthorized")
	ErrTransient    = errors.New("calendar_transient")
)

// Event is the wire shape of an external calendar event. BookingID is
// set on events this system exported, so imports can tell them apart
// from externally-created blocks.
type Event struct {
	ID        string    `json:"id,omitempty"`
	UID       string    `json:"uid"`
	Summary   string    `json:"summary"`
	StartTime time.Time `json:"start"`
	EndTime   time.Time `json:"end"`
	Status    string    `json:"status"` // confirmed | cancelled
	BookingID string    `json:"source_booking_id,omitempty"`
}

type listResponse struct {
	Events     []Event `json:"events"`
	NextCursor string  `json:"next_cursor"`
}

// Client is the calendar events REST client. Calls are throttled so a
// burst of syncs cannot trip the peer's quota.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(res.Body)

	switch {
	case res.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return fmt.Errorf("%w: %s (%d)", ErrTransient, strings.TrimSpace(string(raw)), res.StatusCode)
	case res.StatusCode == http.StatusNotFound && method == http.MethodDelete:
		return nil // already gone upstream
	case res.StatusCode < 200 || res.StatusCode >= 300:
		return fmt.Errorf("calendar api %s %s: %s (%d)", method, path, strings.TrimSpace(string(raw)), res.StatusCode)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("parse calendar response: %w", err)
		}
	}
	return nil
}

// ListEvents pulls events changed since the cursor. An empty cursor
// means a full pull; the returned cursor resumes from this batch.
func (c *Client) ListEvents(ctx context.Context, token, cursor string) ([]Event, string, error) {
	path := "/events"
	if cursor != "" {
		path += "?cursor=" + cursor
	}
	var lr listResponse
	if err := c.do(ctx, http.MethodGet, path, token, nil, &lr); err != nil {
		return nil, "", err
	}
	return lr.Events, lr.NextCursor, nil
}

func (c *Client) CreateEvent(ctx context.Context, token string, ev Event) (string, error) {
	var created Event
	if err := c.do(ctx, http.MethodPost, "/events", token, ev, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (c *Client) UpdateEvent(ctx context.Context, token, id string, ev Event) error {
	return c.do(ctx, http.MethodPut, "/events/"+id, token, ev, nil)
}

func (c *Client) DeleteEvent(ctx context.Context, token, id string) error {
	return c.do(ctx, http.MethodDelete, "/events/"+id, token, nil, nil)
}
