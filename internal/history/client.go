// Package history talks to the relay REST API for room history, read
// markers and the social snapshot.
package history

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

	"github.com/omochice/chat-sync/internal/chat"
	"github.com/omochice/chat-sync/internal/core"
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("relay api error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("relay api error (%d)", e.Status)
}

type errorPayload struct {
	Error string `json:"error"`
}

// Client is the REST client of one user session.
type Client struct {
	baseURL    *url.URL
	userID     string
	httpClient *http.Client
}

var _ core.HistoryClient = (*Client)(nil)

// NewClient creates a client for the API at baseURL acting as userID.
// Request deadlines come from the caller's context.
func NewClient(baseURL, userID string) (*Client, error) {
	value := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if value == "" {
		return nil, fmt.Errorf("api url cannot be empty")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("api url must use http or https: %q", baseURL)
	}
	return &Client{
		baseURL:    parsed,
		userID:     userID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// History returns the messages of room, oldest first.
func (c *Client) History(ctx context.Context, room chat.RoomID) ([]chat.Message, error) {
	var resp []MessageDTO
	if err := c.doJSON(ctx, http.MethodGet, nil, nil, &resp, "api", "rooms", string(room), "messages"); err != nil {
		return nil, err
	}
	msgs := make([]chat.Message, 0, len(resp))
	for _, m := range resp {
		msgs = append(msgs, m.Message())
	}
	return msgs, nil
}

// MarkRead clears the server-side unread baseline of room for the user.
func (c *Client) MarkRead(ctx context.Context, room chat.RoomID) error {
	query := url.Values{}
	query.Set("user", c.userID)
	return c.doJSON(ctx, http.MethodPost, query, nil, nil, "api", "rooms", string(room), "read")
}

// SocialSnapshot fetches unread baselines, activity, friends and groups.
func (c *Client) SocialSnapshot(ctx context.Context) (chat.SocialSnapshot, error) {
	var resp SocialDTO
	if err := c.doJSON(ctx, http.MethodGet, nil, nil, &resp, "api", "users", c.userID, "social"); err != nil {
		return chat.SocialSnapshot{}, err
	}
	return resp.Snapshot(), nil
}

// CreateGroup creates a group. The creator is added to members by the relay.
func (c *Client) CreateGroup(ctx context.Context, name string, members []string) (chat.Room, error) {
	req := CreateGroupRequest{Name: name, Members: append([]string{c.userID}, members...)}
	var resp GroupDTO
	if err := c.doJSON(ctx, http.MethodPost, nil, req, &resp, "api", "groups"); err != nil {
		return chat.Room{}, err
	}
	return resp.Room(), nil
}

// DeleteGroup removes a group for every member.
func (c *Client) DeleteGroup(ctx context.Context, id chat.RoomID) error {
	return c.doJSON(ctx, http.MethodDelete, nil, nil, nil, "api", "groups", string(id))
}

func (c *Client) doJSON(ctx context.Context, method string, query url.Values, reqBody, respBody any, segments ...string) error {
	endpoint := c.baseURL.JoinPath(segments...)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}

	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload errorPayload
		if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if respBody == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, respBody); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint.Path, err)
	}
	return nil
}
