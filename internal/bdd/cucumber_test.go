package bdd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/cmd/serve"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/security"
	"github.com/chirino/chat-service/internal/testutil/cucumber"
	"github.com/chirino/chat-service/internal/testutil/testcontainer"
	"github.com/cucumber/godog"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_dGVzdC13ZWJob29rLXNpZ25pbmcta2V5"

func baseConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	cfg.CacheType = "none"
	cfg.PublisherType = "memory"
	cfg.WebhookSecret = testWebhookSecret
	cfg.CursorSecret = "bdd-cursor-secret-0123456789abcdef"
	cfg.MessageRateLimit = 0
	cfg.Listener.Port = 0
	cfg.Listener.EnableTLS = false
	return cfg
}

func TestFeaturesSQLite(t *testing.T) {
	cfg := baseConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = "file:bdd?mode=memory&cache=shared&_foreign_keys=on"
	runFeatures(t, &cfg, &SQLiteTestDB{DSN: cfg.DBURL})
}

func TestFeaturesPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("postgres features need docker")
	}
	cfg := baseConfig()
	cfg.DatastoreType = "postgres"
	cfg.DBURL = testcontainer.Postgres(t)
	runFeatures(t, &cfg, &PostgresTestDB{DBURL: cfg.DBURL})
}

func runFeatures(t *testing.T, cfg *config.Config, db cucumber.TestDB) {
	ctx, cancel := context.WithCancel(config.WithContext(context.Background(), cfg))
	t.Cleanup(cancel)

	srv, err := serve.StartServer(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	})

	verifier, err := security.NewWebhookVerifier(testWebhookSecret)
	require.NoError(t, err)

	featureFiles, err := filepath.Glob(filepath.Join("testdata", "features", "*.feature"))
	require.NoError(t, err)
	require.NotEmpty(t, featureFiles, "no feature files found")

	opts := cucumber.DefaultOptions()
	for _, arg := range os.Args[1:] {
		if arg == "-test.v=true" || arg == "-test.v" || arg == "-v" {
			opts.Format = "pretty"
		}
	}

	for _, featurePath := range featureFiles {
		name := strings.TrimSuffix(filepath.Base(featurePath), ".feature")
		t.Run(name, func(t *testing.T) {
			o := opts
			o.TestingT = t
			o.Paths = []string{featurePath}
			defer cucumber.ApplyReportOptions(&o, t.Name())()

			suite := cucumber.NewTestSuite()
			suite.APIURL = fmt.Sprintf("http://localhost:%d", srv.Running.Port)
			suite.TestingT = t
			suite.DB = db
			suite.Extra["webhookVerifier"] = verifier

			status := godog.TestSuite{
				Name:                name,
				Options:             &o,
				ScenarioInitializer: suite.InitializeScenario,
			}.Run()
			if status != 0 {
				t.Fail()
			}
		})
	}
}
