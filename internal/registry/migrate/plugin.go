package migrate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
)

// Migrator applies one schema.
type Migrator interface {
	Name() string
	Migrate(ctx context.Context) error
}

// Plugin binds a migrator to the datastore kind it prepares. An empty Datastore
// runs for every kind.
type Plugin struct {
	Order     int
	Datastore string
	Migrator  Migrator
}

var plugins []Plugin

// Register adds a migration plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Pending returns the migrators that apply to datastore, sorted by Order.
func Pending(datastore string) []Plugin {
	var out []Plugin
	for _, p := range plugins {
		if p.Datastore == "" || p.Datastore == datastore {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// RunAll executes the migrators for the configured datastore. Nothing runs when
// migrate-at-start is off.
func RunAll(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	for _, p := range Pending(cfg.DatastoreType) {
		name := p.Migrator.Name()
		start := time.Now()
		log.Info("Running migration", "name", name)
		if err := p.Migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", name, err)
		}
		log.Info("Migration complete", "name", name, "took", time.Since(start).Round(time.Millisecond))
	}
	return nil
}
