package serve

import (
	"context"
	"net"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
)

// startManagementServer starts a dedicated HTTP-only server for management endpoints
// (health, ready, metrics). Plaintext is enabled when neither mode was requested.
// Returns the bound address and a shutdown function.
func startManagementServer(cfg config.ListenerConfig, handler http.Handler) (net.Addr, func(context.Context) error, error) {
	if !cfg.EnablePlainText && !cfg.EnableTLS {
		cfg.EnablePlainText = true
	}
	running, err := listen("management", cfg, handler)
	if err != nil {
		return nil, nil, err
	}
	log.Info("Management server listening", "addr", running.Addr)
	return running.Addr, running.Close, nil
}
