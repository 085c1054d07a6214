// Package redis publishes realtime events over Redis pub/sub so every replica's
// websocket connections receive them.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/plugin/publish/memory"
	registrypublish "github.com/chirino/chat-service/internal/registry/publish"
	goredis "github.com/redis/go-redis/v9"
)

const channelPrefix = "chat:"

func init() {
	registrypublish.Register(registrypublish.Plugin{
		Name: "redis",
		Loader: func(ctx context.Context) (registrypublish.Publisher, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.RedisURL == "" {
				return nil, fmt.Errorf("redis publisher: CHAT_SERVICE_REDIS_URL is required")
			}
			return Connect(ctx, cfg.RedisURL)
		},
	})
}

// Publisher implements registrypublish.Publisher on Redis pub/sub. All local
// subscribers share one Redis subscription connection; received envelopes are
// routed to them through an in-process hub.
type Publisher struct {
	client *goredis.Client
	ps     *goredis.PubSub
	hub    *memory.Hub

	mu       sync.Mutex
	channels map[string]*channelState
	done     chan struct{}
}

// channelState tracks how many local subscriptions need a Redis channel.
type channelState struct {
	refs      int
	ready     chan struct{}
	confirmed bool
}

// Connect dials redisURL and verifies the connection.
func Connect(ctx context.Context, redisURL string) (*Publisher, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis publisher: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis publisher: ping failed: %w", err)
	}
	p := &Publisher{
		client:   client,
		ps:       client.Subscribe(ctx),
		hub:      memory.NewHub(),
		channels: map[string]*channelState{},
		done:     make(chan struct{}),
	}
	go p.pump(p.ps.ChannelWithSubscriptions(goredis.WithChannelSize(memory.SubscriptionBuffer)))
	return p, nil
}

func (p *Publisher) Publish(ctx context.Context, env model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, channelPrefix+env.Channel, data).Err()
}

// Subscribe returns once Redis has confirmed every channel, so an envelope
// published after it returns is not missed.
func (p *Publisher) Subscribe(ctx context.Context, channels ...string) (registrypublish.Subscription, error) {
	local, err := p.hub.Subscribe(ctx, channels...)
	if err != nil {
		return nil, err
	}
	sub := &subscription{Subscription: local, p: p, channels: channels}

	fresh, waits := p.acquire(channels)
	if len(fresh) > 0 {
		if err := p.ps.Subscribe(ctx, fresh...); err != nil {
			_ = sub.Close()
			return nil, fmt.Errorf("redis publisher: subscribe: %w", err)
		}
	}
	for _, ready := range waits {
		select {
		case <-ready:
		case <-ctx.Done():
			_ = sub.Close()
			return nil, fmt.Errorf("redis publisher: subscribe: %w", ctx.Err())
		case <-p.done:
			_ = sub.Close()
			return nil, memory.ErrClosed
		}
	}
	return sub, nil
}

// acquire counts a reference on each channel and returns the Redis channel names
// that need a new SUBSCRIBE along with the confirmations to wait for.
func (p *Publisher) acquire(channels []string) ([]string, []chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var fresh []string
	var waits []chan struct{}
	for _, c := range channels {
		st := p.channels[c]
		if st == nil {
			st = &channelState{ready: make(chan struct{})}
			p.channels[c] = st
			fresh = append(fresh, channelPrefix+c)
		}
		st.refs++
		if !st.confirmed {
			waits = append(waits, st.ready)
		}
	}
	return fresh, waits
}

// release drops a reference on each channel and unsubscribes the ones no local
// subscriber needs anymore.
func (p *Publisher) release(channels []string) {
	p.mu.Lock()
	var stale []string
	for _, c := range channels {
		st := p.channels[c]
		if st == nil {
			continue
		}
		st.refs--
		if st.refs <= 0 {
			delete(p.channels, c)
			stale = append(stale, channelPrefix+c)
		}
	}
	p.mu.Unlock()
	if len(stale) == 0 {
		return
	}
	if err := p.ps.Unsubscribe(context.Background(), stale...); err != nil {
		log.Debug("Redis unsubscribe failed", "channels", stale, "err", err)
	}
}

func (p *Publisher) pump(in <-chan any) {
	defer close(p.done)
	for raw := range in {
		switch msg := raw.(type) {
		case *goredis.Subscription:
			if msg.Kind == "subscribe" {
				p.confirm(strings.TrimPrefix(msg.Channel, channelPrefix))
			}
		case *goredis.Message:
			var env model.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warn("Ignoring malformed realtime payload", "channel", msg.Channel, "err", err)
				continue
			}
			if err := p.hub.Publish(context.Background(), env); err != nil {
				return
			}
		}
	}
}

func (p *Publisher) confirm(channel string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st := p.channels[channel]; st != nil && !st.confirmed {
		st.confirmed = true
		close(st.ready)
	}
}

func (p *Publisher) Close() error {
	psErr := p.ps.Close()
	_ = p.hub.Close()
	if err := p.client.Close(); err != nil {
		return err
	}
	return psErr
}

type subscription struct {
	registrypublish.Subscription
	p        *Publisher
	channels []string
	once     sync.Once
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.Subscription.Close()
		s.p.release(s.channels)
	})
	return err
}

var _ registrypublish.Publisher = (*Publisher)(nil)
