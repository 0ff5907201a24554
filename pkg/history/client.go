package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Thread is one conversation as listed by the store.
type Thread struct {
	ID         string    `json:"id"`
	ProviderID string    `json:"provider_id"`
	Title      string    `json:"title"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Client is the conversation store REST client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a store client.
func NewClient(baseURL string) *Client {
	return NewClientWithTimeout(baseURL, 60*time.Second)
}

// NewClientWithTimeout creates a store client with a custom request timeout.
func NewClientWithTimeout(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ListThreads returns the provider's conversations.
func (c *Client) ListThreads(ctx context.Context, providerID string) ([]Thread, error) {
	endpoint := fmt.Sprintf("%s/api/threads?provider_id=%s", c.baseURL, url.QueryEscape(providerID))

	var threads []Thread
	if err := c.getJSON(ctx, endpoint, &threads); err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	return threads, nil
}

// HistoryPage fetches one page of persisted messages, newest first. Pages
// are numbered from 1.
func (c *Client) HistoryPage(ctx context.Context, providerID, threadID string, page int) ([]Record, error) {
	endpoint := fmt.Sprintf("%s/api/threads/%s/messages?%s", c.baseURL, url.PathEscape(threadID), url.Values{
		"provider_id": {providerID},
		"page":        {strconv.Itoa(page)},
		"page_size":   {strconv.Itoa(PageSize)},
	}.Encode())

	var records []Record
	if err := c.getJSON(ctx, endpoint, &records); err != nil {
		return nil, fmt.Errorf("failed to fetch history page %d: %w", page, err)
	}
	return records, nil
}

// DeleteThread removes a conversation and its messages.
func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	endpoint := fmt.Sprintf("%s/api/threads/%s", c.baseURL, url.PathEscape(threadID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("delete failed with status %d", resp.StatusCode)
	}
	return nil
}

// PatchMessageData updates a persisted message's structured data field.
// With merge set, the server merges the patch into the existing value
// instead of replacing it.
func (c *Client) PatchMessageData(ctx context.Context, id, threadID, queryID string, data any, merge bool) error {
	body, err := json.Marshal(map[string]any{
		"thread_id": threadID,
		"query_id":  queryID,
		"data":      data,
		"merge":     merge,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal patch: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/messages/%s", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("patch failed with status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
