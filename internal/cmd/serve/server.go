package serve

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/cursor"
	"github.com/chirino/chat-service/internal/fanout"
	"github.com/chirino/chat-service/internal/plugin/route/attachments"
	"github.com/chirino/chat-service/internal/plugin/route/conversations"
	"github.com/chirino/chat-service/internal/plugin/route/messages"
	"github.com/chirino/chat-service/internal/plugin/route/realtime"
	routesystem "github.com/chirino/chat-service/internal/plugin/route/system"
	"github.com/chirino/chat-service/internal/plugin/route/users"
	"github.com/chirino/chat-service/internal/plugin/route/webhooks"
	storemetrics "github.com/chirino/chat-service/internal/plugin/store/metrics"
	registrycache "github.com/chirino/chat-service/internal/registry/cache"
	registrymigrate "github.com/chirino/chat-service/internal/registry/migrate"
	registrypublish "github.com/chirino/chat-service/internal/registry/publish"
	registryroute "github.com/chirino/chat-service/internal/registry/route"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/chirino/chat-service/internal/service"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	Store           registrystore.ChatStore
	Publisher       registrypublish.Publisher
	Chat            *service.Chat
	Router          *gin.Engine
	Running         *RunningServers
	dispatcher      *fanout.Dispatcher
	closeManagement func(context.Context) error
}

// Shutdown reports draining on /ready, stops accepting requests, then drains pending
// fan-out before closing the publisher. The management listener closes last.
func (s *Server) Shutdown(ctx context.Context) error {
	routesystem.MarkDraining()
	err := s.Running.Close(ctx)
	if s.dispatcher != nil {
		if derr := s.dispatcher.Close(ctx); derr != nil {
			log.Warn("Fan-out drain incomplete", "err", derr)
		}
	}
	if s.Publisher != nil {
		if perr := s.Publisher.Close(); perr != nil && err == nil {
			err = perr
		}
	}
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	return err
}

// StartServer initializes all subsystems and starts HTTP on a single port.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting chat service",
		"httpPort", cfg.Listener.Port,
		"mode", cfg.Mode,
		"db", cfg.DatastoreType,
		"cache", cfg.CacheType,
		"publisher", cfg.PublisherType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// The user cache is optional; the service falls back to the store when it is missing.
	var userCache registrycache.UserCache
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if userCache, err = cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
		userCache = nil
	} else {
		ctx = registrycache.WithUserCacheContext(ctx, userCache)
	}

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	// Realtime transport and the fan-out dispatcher in front of it.
	pubLoader, err := registrypublish.Select(cfg.PublisherType)
	if err != nil {
		return nil, err
	}
	pub, err := pubLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize publisher: %w", err)
	}
	dispatcher := fanout.NewDispatcher(pub, fanout.OptionsFromConfig(cfg))

	cursorKey, err := cfg.CursorKey()
	if err != nil {
		return nil, fmt.Errorf("invalid --cursor-secret: %w", err)
	}
	if cursorKey == nil {
		log.Warn("No cursor secret configured; pagination cursors will not survive a restart")
	}
	cursors, err := cursor.NewCodec(cursorKey)
	if err != nil {
		return nil, err
	}

	chat := service.NewChat(cfg, store, userCache, dispatcher, cursors)

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	var origins *originPolicy
	if cfg.CORSEnabled {
		origins = newOriginPolicy(cfg.CORSOrigins)
		router.Use(origins.middleware())
	}

	if err := registryroute.Mount(router, registryroute.RouteTypeMain); err != nil {
		return nil, err
	}

	// Create shared token resolver and auth middleware.
	resolver := security.NewTokenResolver(cfg)
	auth := security.AuthMiddleware(resolver, chat)
	sendLimit := security.RateLimitMiddleware(security.NewRateLimiter(cfg.MessageRateLimit, cfg.MessageRateBurst))

	var verifier *security.WebhookVerifier
	if cfg.WebhookSecret != "" {
		if verifier, err = security.NewWebhookVerifier(cfg.WebhookSecret); err != nil {
			return nil, fmt.Errorf("invalid --webhook-secret: %w", err)
		}
	}

	var signer *attachments.Signer
	if cfg.CloudinaryURL != "" {
		if signer, err = attachments.NewSigner(cfg.CloudinaryURL, cfg.CloudinaryFolder); err != nil {
			return nil, fmt.Errorf("invalid --cloudinary-url: %w", err)
		}
	} else {
		log.Info("Cloudinary not configured; upload signatures disabled")
	}

	// Mount Chat API routes
	users.MountRoutes(router, chat, auth)
	conversations.MountRoutes(router, chat, auth)
	messages.MountRoutes(router, chat, auth, sendLimit)
	attachments.MountRoutes(router, signer, auth)
	webhooks.MountRoutes(router, chat, verifier)
	realtime.MountRoutes(router, realtime.NewHandler(chat, pub, origins.websocketCheck()), auth)

	// Start background services
	evictionSvc := service.NewEvictionService(store, cfg)
	go evictionSvc.Start(ctx)

	// Mount management route plugins. If a dedicated management port is configured,
	// run them on a bare gin engine served by the management server. Otherwise,
	// mount them on the main router so existing single-port behaviour is unchanged.
	var closeManagement func(context.Context) error
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		if err := registryroute.Mount(mgmtRouter, registryroute.RouteTypeManagement); err != nil {
			return nil, err
		}
		// Management listener shares TLS cert/key with the main listener.
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		_, closeManagement, err = startManagementServer(mgmtCfg, mgmtRouter)
		if err != nil {
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
	} else {
		if err := registryroute.Mount(router, registryroute.RouteTypeManagement); err != nil {
			return nil, err
		}
	}

	running, err := StartSinglePortHTTP(ctx, cfg.Listener, router)
	if err != nil {
		return nil, err
	}

	log.Info("Server listening",
		"port", running.Port,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)

	routesystem.MarkReady()
	return &Server{
		Config:          cfg,
		Store:           store,
		Publisher:       pub,
		Chat:            chat,
		Router:          router,
		Running:         running,
		dispatcher:      dispatcher,
		closeManagement: closeManagement,
	}, nil
}
