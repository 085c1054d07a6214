package publish

import (
	"context"
	"fmt"

	"github.com/chirino/chat-service/internal/model"
)

// Subscription delivers envelopes for the channels it was opened with.
type Subscription interface {
	C() <-chan model.Envelope
	Close() error
}

// Publisher is the realtime transport used for fan-out.
type Publisher interface {
	Publish(ctx context.Context, env model.Envelope) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
	Close() error
}

// Loader creates a publisher from config.
type Loader func(ctx context.Context) (Publisher, error)

// Plugin represents a publisher plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a publisher plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered publisher plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named publisher plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown publisher %q; valid: %v", name, Names())
}
