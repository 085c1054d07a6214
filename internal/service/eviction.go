package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
)

// EvictionService periodically hard-deletes conversations that were soft-deleted
// longer ago than the retention period.
type EvictionService struct {
	store     registrystore.ChatStore
	interval  time.Duration
	retention time.Duration
	batchSize int
	delay     time.Duration
	now       func() time.Time
}

// NewEvictionService creates a new eviction service from the eviction settings of cfg.
func NewEvictionService(store registrystore.ChatStore, cfg *config.Config) *EvictionService {
	e := &EvictionService{
		store:     store,
		interval:  cfg.EvictionInterval,
		retention: cfg.EvictionRetention,
		batchSize: cfg.EvictionBatchSize,
		delay:     time.Duration(cfg.EvictionBatchDelay) * time.Millisecond,
		now:       time.Now,
	}
	if e.interval <= 0 {
		e.interval = time.Hour
	}
	if e.batchSize <= 0 {
		e.batchSize = 1000
	}
	return e
}

// Start begins the periodic eviction loop. Returns when ctx is cancelled.
func (e *EvictionService) Start(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.RunOnce(ctx)
		}
	}
}

// RunOnce evicts every conversation past retention and returns how many were removed.
func (e *EvictionService) RunOnce(ctx context.Context) int {
	cutoff := e.now().Add(-e.retention)
	total, err := e.store.CountEvictableConversations(ctx, cutoff)
	if err != nil {
		log.Error("Eviction: count failed", "err", err)
		return 0
	}
	if total == 0 {
		return 0
	}

	log.Info("Eviction: starting", "total", total, "cutoff", cutoff)
	evicted := 0
	for {
		ids, err := e.store.FindEvictableConversationIDs(ctx, cutoff, e.batchSize)
		if err != nil {
			log.Error("Eviction: find IDs failed", "err", err)
			return evicted
		}
		if len(ids) == 0 {
			break
		}
		if err := e.store.HardDeleteConversations(ctx, ids); err != nil {
			log.Error("Eviction: hard delete failed", "batch", len(ids), "err", err)
			return evicted
		}
		evicted += len(ids)

		if e.delay > 0 {
			select {
			case <-ctx.Done():
				return evicted
			case <-time.After(e.delay):
			}
		}
	}
	log.Info("Eviction: completed", "evicted", evicted)
	return evicted
}
