package migrate

import (
	"context"
	"errors"
	"testing"

	"github.com/chirino/chat-service/internal/config"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	name string
	log  *[]string
	err  error
}

func (r recorder) Name() string { return r.name }

func (r recorder) Migrate(context.Context) error {
	*r.log = append(*r.log, r.name)
	return r.err
}

func withPlugins(t *testing.T, ps ...Plugin) {
	t.Helper()
	saved := plugins
	plugins = ps
	t.Cleanup(func() { plugins = saved })
}

func TestRunAllSelectsDatastoreInOrder(t *testing.T) {
	var ran []string
	withPlugins(t,
		Plugin{Order: 200, Datastore: "postgres", Migrator: recorder{"pg-indexes", &ran, nil}},
		Plugin{Order: 100, Datastore: "sqlite", Migrator: recorder{"sqlite-schema", &ran, nil}},
		Plugin{Order: 100, Datastore: "postgres", Migrator: recorder{"pg-schema", &ran, nil}},
		Plugin{Order: 50, Migrator: recorder{"shared", &ran, nil}},
	)

	cfg := config.DefaultConfig()
	cfg.DatastoreType = "postgres"
	require.NoError(t, RunAll(config.WithContext(context.Background(), &cfg)))
	require.Equal(t, []string{"shared", "pg-schema", "pg-indexes"}, ran)
}

func TestRunAllSkipsWhenDisabled(t *testing.T) {
	var ran []string
	withPlugins(t, Plugin{Order: 100, Migrator: recorder{"schema", &ran, nil}})

	cfg := config.DefaultConfig()
	cfg.DatastoreMigrateAtStart = false
	require.NoError(t, RunAll(config.WithContext(context.Background(), &cfg)))
	require.NoError(t, RunAll(context.Background()))
	require.Empty(t, ran)
}

func TestRunAllStopsOnFailure(t *testing.T) {
	var ran []string
	boom := errors.New("boom")
	withPlugins(t,
		Plugin{Order: 1, Migrator: recorder{"first", &ran, boom}},
		Plugin{Order: 2, Migrator: recorder{"second", &ran, nil}},
	)

	cfg := config.DefaultConfig()
	err := RunAll(config.WithContext(context.Background(), &cfg))
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "migration first failed")
	require.Equal(t, []string{"first"}, ran)
}
