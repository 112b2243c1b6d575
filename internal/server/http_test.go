package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/livesite/internal/broadcast"
	"github.com/alfredjeanlab/livesite/internal/model"
	"github.com/alfredjeanlab/livesite/internal/store"
	"github.com/alfredjeanlab/livesite/internal/store/memory"
	"github.com/alfredjeanlab/livesite/internal/syncer"
)

const testToken = "secret"

type testEnv struct {
	srv     *Server
	store   store.Store
	hub     *broadcast.Hub
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, memory.New())
}

func newTestEnvWithStore(t *testing.T, st store.Store) *testEnv {
	t.Helper()
	hub := broadcast.NewHub(st, nil)
	coord := syncer.New(st, hub, nil, syncer.Config{Replica: "test"})
	srv := New(coord, hub, st, Options{AuthToken: testToken})
	t.Cleanup(hub.Close)
	return &testEnv{srv: srv, store: st, hub: hub, handler: srv.NewHTTPHandler()}
}

// response is the decoded envelope with data left raw.
type response struct {
	Success bool               `json:"success"`
	Data    json.RawMessage    `json:"data"`
	Error   string             `json:"error"`
	Fields  []model.FieldError `json:"fields"`
}

func (e *testEnv) do(t *testing.T, method, target string, body any, admin bool) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if admin {
		req.Header.Set("Authorization", "Bearer "+testToken)
		req.Header.Set(headerActor, "alice")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var resp response
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, target, rec.Body.String(), err)
		}
	}
	return rec, resp
}

func (e *testEnv) set(t *testing.T, key, value string, vt model.ValueType) *model.ChangeEvent {
	t.Helper()
	rec, resp := e.do(t, http.MethodPut, "/v1/content/"+key, map[string]any{"value": value, "value_type": vt}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT %s: status %d: %s", key, rec.Code, rec.Body.String())
	}
	var ev model.ChangeEvent
	mustData(t, resp, &ev)
	return &ev
}

func mustData(t *testing.T, resp response, v any) {
	t.Helper()
	if err := json.Unmarshal(resp.Data, v); err != nil {
		t.Fatalf("decode data %s: %v", resp.Data, err)
	}
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec, resp := env.do(t, http.MethodGet, "/v1/health", nil, false)
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("expected healthy, got %d: %s", rec.Code, rec.Body.String())
	}

	env.srv.pinger = pingerFunc(func(context.Context) error { return errors.New("connection refused") })
	rec, resp = env.do(t, http.MethodGet, "/v1/health", nil, false)
	if rec.Code != http.StatusServiceUnavailable || resp.Success {
		t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSetAndGetContent(t *testing.T) {
	env := newTestEnv(t)

	ev := env.set(t, "early_bird_price", "1950", model.ValueNumber)
	if ev.Sequence != 1 || ev.Value != "1950" || ev.Actor != "alice" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	rec, resp := env.do(t, http.MethodGet, "/v1/content/early_bird_price", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET: %d %s", rec.Code, rec.Body.String())
	}
	var item model.ContentItem
	mustData(t, resp, &item)
	if item.Value != "1950" || item.ValueType != model.ValueNumber || item.UpdatedBy != "alice" {
		t.Fatalf("unexpected item: %+v", item)
	}
}

func TestSetContent_RequiresToken(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.do(t, http.MethodPut, "/v1/content/hero_title", map[string]string{"value": "Hi"}, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if _, err := env.store.GetItem(context.Background(), "hero_title"); !errors.Is(err, model.ErrNotFound) {
		t.Fatal("unauthorized write must not reach the store")
	}
}

func TestSetContent_Validation(t *testing.T) {
	env := newTestEnv(t)
	rec, resp := env.do(t, http.MethodPut, "/v1/content/early_bird_price",
		map[string]string{"value": "twelve hundred", "value_type": "number"}, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(resp.Fields) != 1 || resp.Fields[0].Field != "early_bird_price" {
		t.Fatalf("expected a field error for early_bird_price, got %+v", resp.Fields)
	}
	entries, _ := env.store.ListVersions(context.Background(), "early_bird_price")
	if len(entries) != 0 {
		t.Fatalf("rejected write left %d history entries", len(entries))
	}
}

func TestSetContent_BadJSON(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPut, "/v1/content/hero_title", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetContent_NotFound(t *testing.T) {
	env := newTestEnv(t)
	rec, resp := env.do(t, http.MethodGet, "/v1/content/missing_key", nil, false)
	if rec.Code != http.StatusNotFound || resp.Success {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListContent(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPut, "/v1/content/early_bird_price", map[string]string{"value": "1950", "value_type": "number", "category": "pricing"}, true)
	env.do(t, http.MethodPut, "/v1/content/hero_title", map[string]string{"value": "Learn", "category": "content"}, true)

	_, resp := env.do(t, http.MethodGet, "/v1/content", nil, false)
	var all []model.ContentItem
	mustData(t, resp, &all)
	if len(all) != 2 {
		t.Fatalf("expected 2 items, got %d", len(all))
	}

	_, resp = env.do(t, http.MethodGet, "/v1/content?category=pricing", nil, false)
	var pricing []model.ContentItem
	mustData(t, resp, &pricing)
	if len(pricing) != 1 || pricing[0].Key != "early_bird_price" {
		t.Fatalf("unexpected pricing items: %+v", pricing)
	}
}

func TestBatch_PartialFailure(t *testing.T) {
	env := newTestEnv(t)
	rec, resp := env.do(t, http.MethodPost, "/v1/content/batch", map[string]any{
		"updates": []map[string]string{
			{"key": "early_bird_price", "value": "1950", "value_type": "number"},
			{"key": "registration_deadline", "value": "next week", "value_type": "date"},
		},
	}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp.Success {
		t.Error("batch with a failed item should not report success")
	}

	var br batchResponse
	mustData(t, resp, &br)
	if br.Succeeded != 1 || br.Failed != 1 {
		t.Fatalf("succeeded=%d failed=%d, want 1/1", br.Succeeded, br.Failed)
	}
	if !br.Results[0].Success || br.Results[1].Success || br.Results[1].Error == "" {
		t.Fatalf("unexpected results: %+v", br.Results)
	}
	if _, err := env.store.GetItem(context.Background(), "early_bird_price"); err != nil {
		t.Fatalf("valid item in batch was not applied: %v", err)
	}
}

func TestBatch_Empty(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.do(t, http.MethodPost, "/v1/content/batch", map[string]any{"updates": []any{}}, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHistoryAndRollback(t *testing.T) {
	env := newTestEnv(t)
	env.set(t, "early_bird_price", "1650", model.ValueNumber)
	env.set(t, "early_bird_price", "1800", model.ValueNumber)
	env.set(t, "early_bird_price", "1950", model.ValueNumber)

	rec, resp := env.do(t, http.MethodPost, "/v1/rollback", map[string]any{"key": "early_bird_price", "sequence": 1}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("rollback: %d %s", rec.Code, rec.Body.String())
	}
	var ev model.ChangeEvent
	mustData(t, resp, &ev)
	if ev.Value != "1650" || ev.Sequence != 4 {
		t.Fatalf("unexpected rollback event: %+v", ev)
	}

	rec, resp = env.do(t, http.MethodGet, "/v1/history/early_bird_price", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: %d", rec.Code)
	}
	var entries []model.VersionEntry
	mustData(t, resp, &entries)
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	last := entries[3]
	if last.Action != model.ActionRollback || last.RollbackOf != 1 || last.PreviousValue != "1950" || last.NewValue != "1650" {
		t.Fatalf("unexpected rollback entry: %+v", last)
	}
}

func TestHistory_RequiresToken(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.do(t, http.MethodGet, "/v1/history/early_bird_price", nil, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHistory_UnknownKey(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.do(t, http.MethodGet, "/v1/history/nothing_here", nil, true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRollback_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.set(t, "hero_title", "Learn", model.ValueText)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"missing key", map[string]any{"sequence": 1}, http.StatusBadRequest},
		{"zero sequence", map[string]any{"key": "hero_title", "sequence": 0}, http.StatusBadRequest},
		{"unknown sequence", map[string]any{"key": "hero_title", "sequence": 9}, http.StatusNotFound},
		{"unknown key", map[string]any{"key": "nope", "sequence": 1}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := env.do(t, http.MethodPost, "/v1/rollback", tt.body, true)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

// failingHistory is a store whose history appends always fail.
type failingHistory struct {
	*memory.Store
}

func (failingHistory) AppendVersion(context.Context, string, string, string, string, model.AppendMeta) (*model.VersionEntry, error) {
	return nil, errors.New("disk full")
}

func TestSetContent_PersistenceFailure(t *testing.T) {
	st := failingHistory{memory.New()}
	ctx := context.Background()
	if _, err := st.SetItem(ctx, &model.ContentItem{Key: "hero_title", Value: "Learn", ValueType: model.ValueText}); err != nil {
		t.Fatal(err)
	}
	env := newTestEnvWithStore(t, st)

	rec, resp := env.do(t, http.MethodPut, "/v1/content/hero_title", map[string]string{"value": "Build"}, true)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(resp.Error, "store restored") {
		t.Errorf("error should report the restore, got %q", resp.Error)
	}
	item, err := st.GetItem(ctx, "hero_title")
	if err != nil || item.Value != "Learn" {
		t.Fatalf("store should hold the previous value, got %+v, %v", item, err)
	}
}

func TestChanges_ChainedPolls(t *testing.T) {
	env := newTestEnv(t)
	env.set(t, "hero_title", "Learn", model.ValueText)

	// No since: look back over the default window.
	rec, resp := env.do(t, http.MethodGet, "/v1/changes", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("poll: %d", rec.Code)
	}
	var first syncer.PollResult
	mustData(t, resp, &first)
	if len(first.Changes) != 1 || first.Changes[0].Key != "hero_title" {
		t.Fatalf("first poll: %+v", first.Changes)
	}

	env.set(t, "early_bird_price", "1950", model.ValueNumber)

	next := "/v1/changes?since=" + url.QueryEscape(first.Timestamp.Format(time.RFC3339Nano))
	var second, again syncer.PollResult
	_, resp = env.do(t, http.MethodGet, next, nil, false)
	mustData(t, resp, &second)
	_, resp = env.do(t, http.MethodGet, next, nil, false)
	mustData(t, resp, &again)

	if len(second.Changes) != 1 || second.Changes[0].Key != "early_bird_price" {
		t.Fatalf("second poll: %+v", second.Changes)
	}
	if len(again.Changes) != 1 || again.Changes[0].Sequence != second.Changes[0].Sequence {
		t.Fatalf("repeating a poll should return the same changes: %+v", again.Changes)
	}
}

func TestChanges_BadSince(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.do(t, http.MethodGet, "/v1/changes?since=yesterday", nil, false)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestParseSince(t *testing.T) {
	ref := time.Date(2026, 3, 1, 12, 30, 0, 500_000_000, time.UTC)
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"", time.Time{}, false},
		{"2026-03-01T12:30:00.5Z", ref, false},
		{"2026-03-01T14:30:00.5+02:00", ref, false},
		{"2026-03-01T14:30:00.5 02:00", ref, false},
		{"1772368200.5", ref, false},
		{"1772368200", ref.Truncate(time.Second), false},
		{"1772368200.500000001", ref.Add(time.Nanosecond), false},
		{"1772368200.123456789999", time.Unix(1772368200, 123456789).UTC(), false},
		{"1772368200.", time.Time{}, true},
		{".5", time.Time{}, true},
		{"1e9", time.Time{}, true},
		{"-5", time.Time{}, true},
		{"NaN", time.Time{}, true},
		{"soon", time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := parseSince(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseSince(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseSince(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRealtimeStatusAndSessions(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.hub.Register("a1", broadcast.RoleAdmin, "alice", broadcast.TransportWebSocket); err != nil {
		t.Fatal(err)
	}
	if _, err := env.hub.Register("v1", broadcast.RoleViewer, "", broadcast.TransportSSE); err != nil {
		t.Fatal(err)
	}

	_, resp := env.do(t, http.MethodGet, "/v1/realtime/status", nil, false)
	var st broadcast.Stats
	mustData(t, resp, &st)
	if st.Total != 2 || st.Admins != 1 || st.Viewers != 1 || len(st.ActiveAdmins) != 1 || st.ActiveAdmins[0] != "alice" {
		t.Fatalf("unexpected stats: %+v", st)
	}

	rec, _ := env.do(t, http.MethodGet, "/v1/sessions", nil, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("roster should require a token, got %d", rec.Code)
	}
	_, resp = env.do(t, http.MethodGet, "/v1/sessions", nil, true)
	var roster []broadcast.Info
	mustData(t, resp, &roster)
	if len(roster) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(roster))
	}
}

func TestHeartbeat(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.do(t, http.MethodPost, "/v1/sessions/ghost/heartbeat", nil, false)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", rec.Code)
	}

	s, err := env.hub.Register("v1", broadcast.RoleViewer, "", broadcast.TransportSSE)
	if err != nil {
		t.Fatal(err)
	}
	rec, _ = env.do(t, http.MethodPost, "/v1/sessions/v1/heartbeat", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	ack := time.Now().UTC().Truncate(time.Microsecond)
	rec, _ = env.do(t, http.MethodPost, "/v1/sessions/v1/heartbeat?ack="+url.QueryEscape(ack.Format(time.RFC3339Nano)), nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !s.LastAck().Equal(ack) {
		t.Fatalf("ack not recorded: %v, want %v", s.LastAck(), ack)
	}
}

func TestHeartbeat_AdminSessionNeedsToken(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.hub.Register("a1", broadcast.RoleAdmin, "alice", broadcast.TransportWebSocket); err != nil {
		t.Fatal(err)
	}
	rec, _ := env.do(t, http.MethodPost, "/v1/sessions/a1/heartbeat", nil, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("tokenless admin heartbeat: got %d, want 401", rec.Code)
	}
	rec, _ = env.do(t, http.MethodPost, "/v1/sessions/a1/heartbeat", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin heartbeat with token: got %d, want 200", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.set(t, "hero_title", "Learn", model.ValueText)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "livesite_content_writes_total") {
		t.Fatal("expected content write counter in metrics output")
	}
}
