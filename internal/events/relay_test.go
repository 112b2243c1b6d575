package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/livesite/internal/model"
)

type recordingSink struct {
	mu      sync.Mutex
	events  []*model.ChangeEvent
	notices []*model.AdminNotice
	got     chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{got: make(chan struct{}, 16)}
}

func (s *recordingSink) Publish(ev *model.ChangeEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	s.signal()
}

func (s *recordingSink) NotifyAdmins(n *model.AdminNotice) {
	s.mu.Lock()
	s.notices = append(s.notices, n)
	s.mu.Unlock()
	s.signal()
}

func (s *recordingSink) signal() {
	select {
	case s.got <- struct{}{}:
	default:
	}
}

// chanSubscriber feeds a Relay from a test-controlled channel.
type chanSubscriber struct {
	ch chan Message
}

func (c *chanSubscriber) Subscribe(string) (<-chan Message, func(), error) {
	return c.ch, func() {}, nil
}

func (c *chanSubscriber) Close() error { return nil }

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestRelay_Handle(t *testing.T) {
	sink := newRecordingSink()
	r := NewRelay(&chanSubscriber{}, sink, "rep-self")

	r.handle(Message{Topic: TopicContentUpdated, Data: mustJSON(t, ContentUpdated{Replica: "rep-self", Event: &model.ChangeEvent{Key: "own"}})})
	r.handle(Message{Topic: TopicContentUpdated, Data: mustJSON(t, ContentUpdated{Replica: "rep-other", Event: &model.ChangeEvent{Key: "remote"}})})
	r.handle(Message{Topic: TopicAdminNotice, Data: mustJSON(t, AdminNotified{Replica: "rep-other", Notice: &model.AdminNotice{Kind: model.NoticeContentChanged}})})
	r.handle(Message{Topic: TopicContentUpdated, Data: []byte("not json")})
	r.handle(Message{Topic: "livesite.unknown", Data: []byte("{}")})

	if len(sink.events) != 1 || sink.events[0].Key != "remote" {
		t.Errorf("relayed events = %+v, want only the remote one", sink.events)
	}
	if len(sink.notices) != 1 {
		t.Errorf("relayed notices = %d, want 1", len(sink.notices))
	}
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	sub := &chanSubscriber{ch: make(chan Message, 1)}
	sink := newRecordingSink()
	r := NewRelay(sub, sink, "rep-self")

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()

	sub.ch <- Message{Topic: TopicContentUpdated, Data: mustJSON(t, ContentUpdated{Replica: "rep-2", Event: &model.ChangeEvent{Key: "k"}})}
	select {
	case <-sink.got:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not deliver")
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRelay_AcrossReplicas(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()
	sub, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	sink := newRecordingSink()
	r := NewRelay(sub, sink, "rep-b")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan struct{})
	go func() {
		close(ready)
		_ = r.Run(ctx)
	}()
	<-ready

	// The subscription is registered asynchronously; publish until it lands.
	deadline := time.After(3 * time.Second)
	for {
		_ = pub.Publish(ctx, TopicContentUpdated, ContentUpdated{Replica: "rep-a", Event: &model.ChangeEvent{Key: "early_bird_price", Value: "1950"}})
		_ = pub.Flush()
		select {
		case <-sink.got:
			sink.mu.Lock()
			got := sink.events[0]
			sink.mu.Unlock()
			if got.Key != "early_bird_price" || got.Value != "1950" {
				t.Errorf("relayed %+v", got)
			}
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("relay never received the change")
		}
	}
}
