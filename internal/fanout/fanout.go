// Package fanout delivers realtime events after a mutation has committed.
// Delivery is best effort: callers never see publish errors.
package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registrypublish "github.com/chirino/chat-service/internal/registry/publish"
	"github.com/chirino/chat-service/internal/security"
	"github.com/google/uuid"
)

// Delivery is one event bound for one channel.
type Delivery struct {
	Channel string
	Event   model.Event
}

// Notifier accepts the deliveries of a committed mutation.
type Notifier interface {
	Notify(ctx context.Context, deliveries []Delivery)
}

// Plan collects the recipient set of a mutation before anything is sent.
// Each (channel, event) pair is kept once.
type Plan struct {
	deliveries []Delivery
	seen       map[Delivery]struct{}
}

// Conversation adds ev on the conversation's channel.
func (p *Plan) Conversation(conversationID uuid.UUID, ev model.Event) *Plan {
	return p.add(model.ConversationChannel(conversationID), ev)
}

// Users adds ev on the personal channel of each user.
func (p *Plan) Users(userIDs []uuid.UUID, ev model.Event) *Plan {
	for _, id := range userIDs {
		p.add(model.UserChannel(id), ev)
	}
	return p
}

// Deliveries returns the planned deliveries in insertion order.
func (p *Plan) Deliveries() []Delivery { return p.deliveries }

func (p *Plan) add(channel string, ev model.Event) *Plan {
	if p.seen == nil {
		p.seen = map[Delivery]struct{}{}
	}
	d := Delivery{Channel: channel, Event: ev}
	if _, ok := p.seen[d]; ok {
		return p
	}
	p.seen[d] = struct{}{}
	p.deliveries = append(p.deliveries, d)
	return p
}

// Options tune the Dispatcher.
type Options struct {
	Workers        int
	QueueSize      int
	PublishTimeout time.Duration
	MaxAttempts    int
	RetryBackoff   time.Duration
}

// OptionsFromConfig reads the fan-out settings of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Workers:        cfg.FanoutWorkers,
		QueueSize:      cfg.FanoutQueueSize,
		PublishTimeout: cfg.FanoutPublishTimeout,
		MaxAttempts:    cfg.FanoutMaxAttempts,
		RetryBackoff:   cfg.FanoutRetryBackoff,
	}
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 5 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	return o
}

// Dispatcher publishes deliveries from a bounded queue on a fixed pool of workers.
// Enqueueing never blocks; a full queue drops the delivery.
type Dispatcher struct {
	pub   registrypublish.Publisher
	opts  Options
	queue chan model.Envelope

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts the workers.
func NewDispatcher(pub registrypublish.Publisher, opts Options) *Dispatcher {
	opts = opts.withDefaults()
	d := &Dispatcher{
		pub:   pub,
		opts:  opts,
		queue: make(chan model.Envelope, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Notify enqueues the deliveries. The request context is not used for publishing,
// since deliveries outlive the request that caused them.
func (d *Dispatcher) Notify(_ context.Context, deliveries []Delivery) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, del := range deliveries {
		env, err := model.NewEnvelope(del.Channel, del.Event)
		if err != nil {
			log.Error("Fan-out: encode failed", "channel", del.Channel, "err", err)
			security.RecordFanout("failed")
			continue
		}
		if d.closed {
			security.RecordFanout("dropped")
			continue
		}
		select {
		case d.queue <- env:
		default:
			log.Warn("Fan-out: queue full, dropping event", "channel", env.Channel, "event", env.Event)
			security.RecordFanout("dropped")
		}
	}
	security.SetFanoutQueueDepth(len(d.queue))
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for env := range d.queue {
		d.publish(env)
		security.SetFanoutQueueDepth(len(d.queue))
	}
}

func (d *Dispatcher) publish(env model.Envelope) {
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.PublishTimeout)
		err := d.pub.Publish(ctx, env)
		cancel()
		if err == nil {
			security.RecordFanout("published")
			return
		}
		if attempt >= d.opts.MaxAttempts {
			log.Error("Fan-out: publish failed", "channel", env.Channel, "event", env.Event, "attempts", attempt, "err", err)
			security.RecordFanout("failed")
			return
		}
		security.RecordFanout("retried")
		time.Sleep(d.opts.RetryBackoff * time.Duration(attempt))
	}
}

// Close stops accepting deliveries and waits for queued ones to be published,
// or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Notifier = (*Dispatcher)(nil)

// Recorder is a Notifier that keeps every delivery in memory.
type Recorder struct {
	mu         sync.Mutex
	deliveries []Delivery
}

func (r *Recorder) Notify(_ context.Context, deliveries []Delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, deliveries...)
}

// Deliveries returns a copy of everything recorded so far.
func (r *Recorder) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.deliveries...)
}

// Reset forgets recorded deliveries.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = nil
}

var _ Notifier = (*Recorder)(nil)
