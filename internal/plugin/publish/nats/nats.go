// Package nats publishes realtime events as core NATS messages, one subject per channel.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registrypublish "github.com/chirino/chat-service/internal/registry/publish"
	"github.com/nats-io/nats.go"
)

const subscriptionBuffer = 64

func init() {
	registrypublish.Register(registrypublish.Plugin{
		Name: "nats",
		Loader: func(ctx context.Context) (registrypublish.Publisher, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.NATSURL == "" {
				return nil, fmt.Errorf("nats publisher: CHAT_SERVICE_NATS_URL is required")
			}
			return Connect(cfg.NATSURL, cfg.NATSSubjectPrefix)
		},
	})
}

// Publisher implements registrypublish.Publisher on core NATS.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// Connect dials the NATS servers in url (comma separated).
func Connect(url, subjectPrefix string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("chat-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats publisher: connect: %w", err)
	}
	return &Publisher{nc: nc, prefix: subjectPrefix}, nil
}

func (p *Publisher) subject(channel string) string { return p.prefix + channel }

func (p *Publisher) Publish(ctx context.Context, env model.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject(env.Channel), data)
}

func (p *Publisher) Subscribe(_ context.Context, channels ...string) (registrypublish.Subscription, error) {
	sub := &subscription{ch: make(chan model.Envelope, subscriptionBuffer)}
	for _, c := range channels {
		s, err := p.nc.Subscribe(p.subject(c), sub.deliver)
		if err != nil {
			_ = sub.Close()
			return nil, fmt.Errorf("nats publisher: subscribe %s: %w", c, err)
		}
		sub.subs = append(sub.subs, s)
	}
	// Make sure the server has registered interest before returning.
	if err := p.nc.Flush(); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("nats publisher: flush: %w", err)
	}
	return sub, nil
}

func (p *Publisher) Close() error {
	return p.nc.Drain()
}

type subscription struct {
	mu     sync.Mutex
	subs   []*nats.Subscription
	ch     chan model.Envelope
	closed bool
}

func (s *subscription) deliver(m *nats.Msg) {
	var env model.Envelope
	if err := json.Unmarshal(m.Data, &env); err != nil {
		log.Warn("Ignoring malformed realtime payload", "subject", m.Subject, "err", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- env:
	default:
		log.Debug("Dropping event for slow subscriber", "channel", env.Channel, "event", env.Event)
	}
}

func (s *subscription) C() <-chan model.Envelope { return s.ch }

func (s *subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	close(s.ch)
	return nil
}

var _ registrypublish.Publisher = (*Publisher)(nil)
