// Package testcontainer starts disposable backing services for integration tests.
package testcontainer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const startupTimeout = 60 * time.Second

// Redis starts a Redis server and returns a redis:// URL.
func Redis(tb testing.TB) string {
	return generic(tb, "redis", "redis:7", "6379", "redis", wait.ForListeningPort("6379/tcp"))
}

// NATS starts a NATS server and returns a nats:// URL.
func NATS(tb testing.TB) string {
	return generic(tb, "nats", "nats:2.10", "4222", "nats", wait.ForAll(
		wait.ForListeningPort("4222/tcp"),
		wait.ForLog("Server is ready"),
	))
}

// Postgres starts a Postgres server and returns a DSN once it accepts connections.
func Postgres(tb testing.TB) string {
	tb.Helper()
	requireDocker(tb)
	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:17-alpine",
		postgres.WithDatabase("chat"),
		postgres.WithUsername("chat"),
		postgres.WithPassword("chat"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(startupTimeout),
		),
	)
	if err != nil {
		tb.Fatalf("start postgres: %v", err)
	}
	terminateOnCleanup(tb, "postgres", container)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil || dsn == "" {
		tb.Fatalf("postgres dsn: %q %v", dsn, err)
	}
	if err := pingPostgres(ctx, dsn); err != nil {
		tb.Fatalf("postgres not accepting connections: %v", err)
	}
	return dsn
}

func generic(tb testing.TB, name, image, port, scheme string, strategy wait.Strategy) string {
	tb.Helper()
	requireDocker(tb)
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			ExposedPorts: []string{port + "/tcp"},
			WaitingFor:   withTimeout(strategy),
		},
		Started: true,
	})
	if err != nil {
		tb.Fatalf("start %s: %v", name, err)
	}
	terminateOnCleanup(tb, name, container)

	host, err := container.Host(ctx)
	if err != nil {
		tb.Fatalf("%s host: %v", name, err)
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		tb.Fatalf("%s port: %v", name, err)
	}
	return fmt.Sprintf("%s://%s:%s", scheme, host, mapped.Port())
}

// requireDocker skips the test when no container runtime is reachable.
func requireDocker(tb testing.TB) {
	if t, ok := tb.(*testing.T); ok {
		testcontainers.SkipIfProviderIsNotHealthy(t)
	}
}

func withTimeout(s wait.Strategy) wait.Strategy {
	switch s := s.(type) {
	case *wait.MultiStrategy:
		return s.WithStartupTimeout(startupTimeout)
	case *wait.HostPortStrategy:
		return s.WithStartupTimeout(startupTimeout)
	}
	return s
}

func terminateOnCleanup(tb testing.TB, name string, c testcontainers.Container) {
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Terminate(ctx); err != nil {
			tb.Errorf("terminate %s: %v", name, err)
		}
	})
}

// pingPostgres retries until the server answers; the log line appears slightly before
// the listener accepts TCP connections on some platforms.
func pingPostgres(ctx context.Context, dsn string) error {
	deadline := time.Now().Add(20 * time.Second)
	var err error
	for time.Now().Before(deadline) {
		attempt, cancel := context.WithTimeout(ctx, 2*time.Second)
		var conn *pgx.Conn
		if conn, err = pgx.Connect(attempt, dsn); err == nil {
			err = conn.Ping(attempt)
			_ = conn.Close(attempt)
		}
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	return err
}
