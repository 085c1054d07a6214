// Package memory provides an in-process publisher for single-replica deployments and tests.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/model"
	registrypublish "github.com/chirino/chat-service/internal/registry/publish"
)

// SubscriptionBuffer is the number of envelopes a subscriber may lag behind before
// further envelopes for it are dropped.
const SubscriptionBuffer = 64

func init() {
	registrypublish.Register(registrypublish.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (registrypublish.Publisher, error) {
			return NewHub(), nil
		},
	})
}

// ErrClosed is returned after the hub has been closed.
var ErrClosed = errors.New("publisher closed")

// Hub routes envelopes to in-process subscribers by channel name.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: map[string]map[*subscription]struct{}{}}
}

// Publish delivers env to every subscriber of env.Channel without blocking.
func (h *Hub) Publish(ctx context.Context, env model.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	for sub := range h.subs[env.Channel] {
		select {
		case sub.ch <- env:
		default:
			log.Debug("Dropping event for slow subscriber", "channel", env.Channel, "event", env.Event)
		}
	}
	return nil
}

// Subscribe registers a subscriber for the given channels.
func (h *Hub) Subscribe(_ context.Context, channels ...string) (registrypublish.Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	sub := &subscription{hub: h, channels: channels, ch: make(chan model.Envelope, SubscriptionBuffer)}
	for _, c := range channels {
		if h.subs[c] == nil {
			h.subs[c] = map[*subscription]struct{}{}
		}
		h.subs[c][sub] = struct{}{}
	}
	return sub, nil
}

// Close closes every subscription.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	seen := map[*subscription]struct{}{}
	for _, subs := range h.subs {
		for sub := range subs {
			if _, ok := seen[sub]; !ok {
				seen[sub] = struct{}{}
				close(sub.ch)
			}
		}
	}
	h.subs = map[string]map[*subscription]struct{}{}
	return nil
}

type subscription struct {
	hub      *Hub
	channels []string
	ch       chan model.Envelope
	once     sync.Once
}

func (s *subscription) C() <-chan model.Envelope { return s.ch }

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		if s.hub.closed {
			return
		}
		for _, c := range s.channels {
			delete(s.hub.subs[c], s)
			if len(s.hub.subs[c]) == 0 {
				delete(s.hub.subs, c)
			}
		}
		close(s.ch)
	})
	return nil
}

var _ registrypublish.Publisher = (*Hub)(nil)
