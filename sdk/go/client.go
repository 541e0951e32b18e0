package giftlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Giftline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// StaffID is sent as X-Staff-Id when no token is set. Servers only honor
	// it when started with --allow-staff-header.
	StaffID    int64
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

type Staff struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

type Gift struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}

type GroupItem struct {
	ID          int64 `json:"id"`
	GroupID     int64 `json:"group_id"`
	RecipientID int64 `json:"recipient_id"`
	GiftID      int64 `json:"gift_id"`
	Active      bool  `json:"active"`
}

type Group struct {
	ID            int64       `json:"id"`
	Name          string      `json:"name"`
	FleetUnitID   int64       `json:"fleet_unit_id"`
	Status        string      `json:"status"`
	FailureReason string      `json:"failure_reason,omitempty"`
	ItemCount     int         `json:"item_count"`
	Items         []GroupItem `json:"items,omitempty"`
}

type FulfillResult struct {
	GroupID        int64  `json:"group_id"`
	Status         string `json:"status"`
	DeliveredCount int    `json:"delivered_count"`
	FleetUnitID    int64  `json:"fleet_unit_id"`
}

type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges credentials for a bearer token and keeps it on the client.
func (c *Client) Login(ctx context.Context, username, password string) (Staff, error) {
	var resp struct {
		Token string `json:"token"`
		Staff Staff  `json:"staff"`
	}
	body := map[string]any{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "auth/login", body, &resp); err != nil {
		return Staff{}, err
	}
	c.BearerToken = resp.Token
	return resp.Staff, nil
}

// ListGifts returns finished goods with their stock.
func (c *Client) ListGifts(ctx context.Context) ([]Gift, error) {
	var resp []Gift
	err := c.do(ctx, http.MethodGet, "gifts", nil, &resp)
	return resp, err
}

// CreateGroup opens a pending group on a fleet unit.
func (c *Client) CreateGroup(ctx context.Context, name string, fleetUnitID int64) (Group, error) {
	body := map[string]any{"name": name, "fleet_unit_id": fleetUnitID}
	var resp Group
	err := c.do(ctx, http.MethodPost, "groups", body, &resp)
	return resp, err
}

// GetGroup fetches a group with its items.
func (c *Client) GetGroup(ctx context.Context, id int64) (Group, error) {
	var resp Group
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("groups/%d", id), nil, &resp)
	return resp, err
}

// AddItem puts a recipient and gift into a pending group.
func (c *Client) AddItem(ctx context.Context, groupID, recipientID, giftID int64) (GroupItem, error) {
	body := map[string]any{"recipient_id": recipientID, "gift_id": giftID}
	var resp GroupItem
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("groups/%d/items", groupID), body, &resp)
	return resp, err
}

// Fulfill delivers every item of a group or none of them.
func (c *Client) Fulfill(ctx context.Context, groupID int64) (FulfillResult, error) {
	var resp FulfillResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("groups/%d/fulfill", groupID), nil, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.StaffID > 0:
		req.Header.Set("X-Staff-Id", fmt.Sprint(c.StaffID))
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
