package client

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

	"github.com/alfredjeanlab/livesite/internal/broadcast"
	"github.com/alfredjeanlab/livesite/internal/model"
	"github.com/alfredjeanlab/livesite/internal/syncer"
)

// HTTPClient implements ContentClient using the livesite REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	actor      string
	httpClient *http.Client
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *HTTPClient) { c.token = token }
}

// WithActor names the editor recorded on writes.
func WithActor(actor string) Option {
	return func(c *HTTPClient) { c.actor = actor }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) { c.httpClient.Timeout = d }
}

// NewHTTPClient creates a client for the server at baseURL
// (e.g. "http://localhost:8080").
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the server URL the client was created with.
func (c *HTTPClient) BaseURL() string { return c.baseURL }

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Content ---

func (c *HTTPClient) ListContent(ctx context.Context, category string) ([]*model.ContentItem, error) {
	path := "/v1/content"
	if category != "" {
		path += "?" + url.Values{"category": {category}}.Encode()
	}
	var items []*model.ContentItem
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *HTTPClient) GetContent(ctx context.Context, key string) (*model.ContentItem, error) {
	var item model.ContentItem
	if err := c.doJSON(ctx, http.MethodGet, "/v1/content/"+url.PathEscape(key), nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *HTTPClient) SetContent(ctx context.Context, ch syncer.Change) (*model.ChangeEvent, error) {
	var ev model.ChangeEvent
	if err := c.doJSON(ctx, http.MethodPut, "/v1/content/"+url.PathEscape(ch.Key), ch, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// ApplyBatch sends every change in one request. A batch with failed items
// is not an error; inspect the per-item results.
func (c *HTTPClient) ApplyBatch(ctx context.Context, changes []syncer.Change) (*BatchResult, error) {
	var res BatchResult
	body := map[string]any{"updates": changes}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/content/batch", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// --- History ---

func (c *HTTPClient) History(ctx context.Context, key string) ([]*model.VersionEntry, error) {
	var entries []*model.VersionEntry
	if err := c.doJSON(ctx, http.MethodGet, "/v1/history/"+url.PathEscape(key), nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *HTTPClient) Rollback(ctx context.Context, key string, seq int64) (*model.ChangeEvent, error) {
	var ev model.ChangeEvent
	body := map[string]any{"key": key, "sequence": seq}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/rollback", body, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// --- Sync ---

// Changes polls for history after since. A zero since lets the server
// pick its default look-back window.
func (c *HTTPClient) Changes(ctx context.Context, since time.Time) (*syncer.PollResult, error) {
	path := "/v1/changes"
	if !since.IsZero() {
		path += "?" + url.Values{"since": {since.UTC().Format(time.RFC3339Nano)}}.Encode()
	}
	var res syncer.PollResult
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *HTTPClient) RealtimeStatus(ctx context.Context) (*broadcast.Stats, error) {
	var st broadcast.Stats
	if err := c.doJSON(ctx, http.MethodGet, "/v1/realtime/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *HTTPClient) Sessions(ctx context.Context) ([]broadcast.Info, error) {
	var roster []broadcast.Info
	if err := c.doJSON(ctx, http.MethodGet, "/v1/sessions", nil, &roster); err != nil {
		return nil, err
	}
	return roster, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Fields     []model.FieldError
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// envelope is the wrapper around every server response.
type envelope struct {
	Success bool               `json:"success"`
	Data    json.RawMessage    `json:"data"`
	Error   string             `json:"error"`
	Fields  []model.FieldError `json:"fields"`
}

// doJSON performs an HTTP request with an optional JSON body and decodes the
// data field of the response envelope into result.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.actor != "" {
		req.Header.Set("X-Actor", c.actor)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(respBody, &env)

	if resp.StatusCode >= 400 {
		if decodeErr == nil && env.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: env.Error, Fields: env.Fields}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}
	if decodeErr != nil {
		return fmt.Errorf("decoding response: %w", decodeErr)
	}

	if result != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return fmt.Errorf("decoding response data: %w", err)
		}
	}
	return nil
}
