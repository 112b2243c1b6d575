package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/livesite/internal/model"
	"github.com/alfredjeanlab/livesite/internal/syncer"
)

// testHandler captures the incoming request details and returns a canned response.
type testHandler struct {
	// captured from the request
	method string
	path   string
	query  string
	body   string
	auth   string
	actor  string

	// canned response
	statusCode   int
	responseBody string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.method = r.Method
	h.path = r.URL.Path
	h.query = r.URL.RawQuery
	h.auth = r.Header.Get("Authorization")
	h.actor = r.Header.Get("X-Actor")
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		h.body = string(data)
	}

	w.Header().Set("Content-Type", "application/json")
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if h.responseBody != "" {
		_, _ = w.Write([]byte(h.responseBody))
	}
}

// newTestClient creates an HTTPClient pointed at a test server with the given handler.
func newTestClient(t *testing.T, h http.Handler, opts ...Option) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL, opts...)
}

func TestNewHTTPClient_TrimsSlash(t *testing.T) {
	c := NewHTTPClient("http://localhost:8080/")
	if c.BaseURL() != "http://localhost:8080" {
		t.Fatalf("BaseURL() = %q", c.BaseURL())
	}
}

func TestSetContent(t *testing.T) {
	h := &testHandler{responseBody: `{"success":true,"data":{"key":"early_bird_price","value":"1950","value_type":"number","sequence":3}}`}
	c := newTestClient(t, h, WithToken("tok"), WithActor("alice"))

	ev, err := c.SetContent(context.Background(), syncer.Change{Key: "early_bird_price", Value: "1950", ValueType: model.ValueNumber})
	if err != nil {
		t.Fatal(err)
	}
	if h.method != http.MethodPut || h.path != "/v1/content/early_bird_price" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if h.auth != "Bearer tok" || h.actor != "alice" {
		t.Errorf("auth=%q actor=%q", h.auth, h.actor)
	}
	if !strings.Contains(h.body, `"value":"1950"`) || !strings.Contains(h.body, `"value_type":"number"`) {
		t.Errorf("unexpected body %s", h.body)
	}
	if ev.Sequence != 3 || ev.Value != "1950" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestListContent_Category(t *testing.T) {
	h := &testHandler{responseBody: `{"success":true,"data":[{"key":"early_bird_price","value":"1950","value_type":"number","category":"pricing"}]}`}
	c := newTestClient(t, h)

	items, err := c.ListContent(context.Background(), "pricing")
	if err != nil {
		t.Fatal(err)
	}
	if h.query != "category=pricing" {
		t.Errorf("query = %q", h.query)
	}
	if len(items) != 1 || items[0].Category != "pricing" {
		t.Errorf("unexpected items %+v", items)
	}
}

func TestChanges_SinceQuery(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.FixedZone("X", 2*3600))
	h := &testHandler{responseBody: `{"success":true,"data":{"changes":[],"timestamp":"2026-03-01T10:00:01Z"}}`}
	c := newTestClient(t, h)

	res, err := c.Changes(context.Background(), ts)
	if err != nil {
		t.Fatal(err)
	}
	q, _ := url.ParseQuery(h.query)
	if q.Get("since") != "2026-03-01T10:00:00.123456789Z" {
		t.Errorf("since = %q", q.Get("since"))
	}
	if !res.Timestamp.Equal(time.Date(2026, 3, 1, 10, 0, 1, 0, time.UTC)) {
		t.Errorf("timestamp = %v", res.Timestamp)
	}

	if _, err := c.Changes(context.Background(), time.Time{}); err != nil {
		t.Fatal(err)
	}
	if h.query != "" {
		t.Errorf("zero since should send no query, got %q", h.query)
	}
}

func TestRollback(t *testing.T) {
	h := &testHandler{responseBody: `{"success":true,"data":{"key":"hero_title","value":"Learn","sequence":4}}`}
	c := newTestClient(t, h)

	ev, err := c.Rollback(context.Background(), "hero_title", 1)
	if err != nil {
		t.Fatal(err)
	}
	if h.method != http.MethodPost || h.path != "/v1/rollback" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if !strings.Contains(h.body, `"sequence":1`) {
		t.Errorf("unexpected body %s", h.body)
	}
	if ev.Sequence != 4 {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantMsg    string
		wantFields int
	}{
		{"validation", 400, `{"success":false,"data":null,"error":"validation failed","fields":[{"field":"price","message":"must be a number"}]}`, "validation failed", 1},
		{"not found", 404, `{"success":false,"data":null,"error":"content \"x\": not found"}`, `content "x": not found`, 0},
		{"plain text", 502, "bad gateway\n", "bad gateway", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, &testHandler{statusCode: tt.status, responseBody: tt.body})
			_, err := c.GetContent(context.Background(), "x")

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %T: %v", err, err)
			}
			if apiErr.StatusCode != tt.status || apiErr.Message != tt.wantMsg || len(apiErr.Fields) != tt.wantFields {
				t.Fatalf("unexpected error %+v", apiErr)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	c := newTestClient(t, &testHandler{responseBody: `{"success":true,"data":{"status":"ok","sessions":0}}`})
	status, err := c.Health(context.Background())
	if err != nil || status != "ok" {
		t.Fatalf("Health() = %q, %v", status, err)
	}
}
