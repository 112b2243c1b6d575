package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/livesite/internal/metrics"
	"github.com/nats-io/nats.go"
)

// subscriptionBuffer is how many bus messages may wait for the Relay.
const subscriptionBuffer = 256

// dial connects to NATS, reconnecting forever and logging connection state
// changes. Caller options are applied after these.
func dial(url, name string, extra ...nats.Option) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("events: NATS disconnected", "client", name, "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("events: NATS reconnected", "client", name, "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATSPublisher publishes JSON-encoded events on NATS subjects.
type NATSPublisher struct {
	nc *nats.Conn
}

var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher connects a publisher to the server at url.
func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	nc, err := dial(url, "livesite-publisher", opts...)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc}, nil
}

// Publish encodes event and sends it on topic. NATS buffers the write, so
// ctx is only checked before sending.
func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", topic, err)
	}
	if err := p.nc.Publish(topic, data); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// Flush blocks until the server has acknowledged everything published so far.
func (p *NATSPublisher) Flush() error {
	return p.nc.Flush()
}

func (p *NATSPublisher) Close() error {
	p.nc.Close()
	return nil
}

// NATSSubscriber receives events from NATS subjects.
type NATSSubscriber struct {
	nc *nats.Conn
}

var _ Subscriber = (*NATSSubscriber)(nil)

// NewNATSSubscriber connects a subscriber to the server at url.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	nc, err := dial(url, "livesite-subscriber", opts...)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{nc: nc}, nil
}

// subscription forwards NATS messages to a bounded channel. Messages that
// arrive while the channel is full are dropped; pollers and full syncs
// recover them.
type subscription struct {
	mu     sync.Mutex
	out    chan Message
	closed bool
	once   sync.Once
	sub    *nats.Subscription
}

func (s *subscription) deliver(msg *nats.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- Message{Topic: msg.Subject, Data: msg.Data}:
	default:
		metrics.BusMessages.WithLabelValues("in", "dropped").Inc()
	}
}

func (s *subscription) cancel() {
	s.once.Do(func() {
		if s.sub != nil {
			_ = s.sub.Unsubscribe()
		}
		s.mu.Lock()
		s.closed = true
		close(s.out)
		s.mu.Unlock()
	})
}

// Subscribe delivers messages for topic, which may use NATS wildcards such
// as TopicAll. The subscription is registered on the server before it
// returns.
func (s *NATSSubscriber) Subscribe(topic string) (<-chan Message, func(), error) {
	sub := &subscription{out: make(chan Message, subscriptionBuffer)}

	ns, err := s.nc.Subscribe(topic, sub.deliver)
	if err != nil {
		sub.cancel()
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	sub.sub = ns
	if err := s.nc.Flush(); err != nil {
		sub.cancel()
		return nil, nil, fmt.Errorf("registering subscription to %s: %w", topic, err)
	}
	return sub.out, sub.cancel, nil
}

func (s *NATSSubscriber) Close() error {
	s.nc.Close()
	return nil
}
