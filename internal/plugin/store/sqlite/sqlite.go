// Package sqlite registers a single-node SQLite datastore, used for local
// development and tests.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/ids"
	"github.com/chirino/chat-service/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/chat-service/internal/registry/migrate"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.ChatStore, error) {
			cfg := config.FromContext(ctx)
			db, err := Open(cfg.DBURL)
			if err != nil {
				return nil, err
			}
			if sqlDB, err := db.DB(); err == nil {
				security.TrackDBPool(ctx, sqlDB, 1, 15*time.Second)
			}
			return gormstore.New(db, ids.New(), Classify), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Datastore: "sqlite", Migrator: &sqliteMigrator{}})
}

var (
	mu    sync.Mutex
	pools = map[string]*gorm.DB{}
)

// Open returns the shared connection for dsn. SQLite allows a single writer, so
// each database gets one connection; this also keeps ":memory:" databases alive
// between the migrator and the store.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = "file::memory:?_foreign_keys=on"
	}
	mu.Lock()
	defer mu.Unlock()
	if db, ok := pools[dsn]; ok {
		return db, nil
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	pools[dsn] = db
	return db, nil
}

type sqliteMigrator struct{}

func (m *sqliteMigrator) Name() string { return "sqlite-schema" }
func (m *sqliteMigrator) Migrate(ctx context.Context) error {
	db, err := Open(config.FromContext(ctx).DBURL)
	if err != nil {
		return err
	}
	return gormstore.AutoMigrate(ctx, db)
}

// Classify maps SQLite errors onto the store error taxonomy.
func Classify(op string, err error) error {
	var sqErr sqlite3.Error
	if !errors.As(err, &sqErr) {
		return nil
	}
	switch sqErr.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return &registrystore.TransientError{Op: op, Err: err}
	case sqlite3.ErrConstraint:
		switch sqErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return &registrystore.ConflictError{Message: fmt.Sprintf("%s: %s", op, sqErr.Error()), Code: "unique"}
		}
		return &registrystore.FatalError{Op: op, Err: err}
	case sqlite3.ErrCorrupt, sqlite3.ErrReadonly, sqlite3.ErrCantOpen:
		return &registrystore.FatalError{Op: op, Err: err}
	}
	return nil
}
