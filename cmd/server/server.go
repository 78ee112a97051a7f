package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/thenexusengine/tne_adlib/internal/adapters"
	"github.com/thenexusengine/tne_adlib/internal/adapters/brightpool"
	"github.com/thenexusengine/tne_adlib/internal/adapters/cipherbid"
	"github.com/thenexusengine/tne_adlib/internal/adserver"
	"github.com/thenexusengine/tne_adlib/internal/adstore"
	"github.com/thenexusengine/tne_adlib/internal/auction"
	"github.com/thenexusengine/tne_adlib/internal/cache"
	"github.com/thenexusengine/tne_adlib/internal/consent"
	"github.com/thenexusengine/tne_adlib/internal/endpoints"
	"github.com/thenexusengine/tne_adlib/internal/metrics"
	"github.com/thenexusengine/tne_adlib/internal/report"
	"github.com/thenexusengine/tne_adlib/internal/storage"
	pkgredis "github.com/thenexusengine/tne_adlib/pkg/redis"
)

const version = "1.0.0"

// Server wires the auction coordinator, bidder registry and HTTP surface
// together.
type Server struct {
	config      *ServerConfig
	httpServer  *http.Server
	metrics     *metrics.Metrics
	registry    *adapters.Registry
	coordinator *auction.Coordinator
	rounds      *adstore.Manager
	redis       *pkgredis.Client
	db          *sql.DB
}

// NewServer creates a fully wired server from the given configuration.
func NewServer(cfg *ServerConfig) (*Server, error) {
	s := &Server{
		config:  cfg,
		metrics: metrics.NewMetrics(cfg.MetricsNamespace),
		rounds:  adstore.NewManager(),
	}

	var summaries *cache.Store
	if cfg.RedisURL != "" {
		client, err := pkgredis.NewClient(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		s.redis = client
		summaries = cache.NewStore(client)
		log.Info().Msg("redis round summary cache enabled")
	}

	var bidderStore *storage.BidderStore
	if cfg.DatabaseConfig != nil {
		db, err := sql.Open("postgres", cfg.DatabaseConfig.ConnectionString())
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		db.SetMaxOpenConns(cfg.DatabaseConfig.MaxConnections)
		db.SetMaxIdleConns(cfg.DatabaseConfig.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.DatabaseConfig.ConnMaxLifetime)
		s.db = db
		bidderStore = storage.NewBidderStore(db)
		log.Info().Str("host", cfg.DatabaseConfig.Host).Msg("bidder config database enabled")
	}

	var consentSvc consent.Service = consent.Disabled{}
	if cfg.ConsentEnabled {
		consentSvc = consent.NewClient(cfg.ConsentServiceURL, cfg.ConsentTimeout)
	}

	adServer := adserver.NewClient(cfg.AdServerURL, 0)

	registry, err := buildRegistry(cfg, bidderStore, consentSvc, adServer)
	if err != nil {
		return nil, err
	}
	s.registry = registry

	s.coordinator = auction.NewCoordinator(adServer, registry, report.NewLogReporter(nil), s.metrics)

	router := httprouter.New()
	auctionHandler := endpoints.NewAuctionHandler(s.coordinator, s.rounds, summaries)
	eventHandler := endpoints.NewEventHandler(s.rounds, s.metrics)

	router.POST("/auction", auctionHandler.HandleAuction)
	router.GET("/rounds/:id/winning-bids", auctionHandler.HandleWinningBids)
	router.POST("/event", eventHandler.HandleSlotEvent)
	router.GET("/event", eventHandler.HandleSlotEvent)
	router.Handler(http.MethodGet, "/metrics", metrics.Handler())
	router.Handler(http.MethodGet, "/health", healthHandler())

	handler := s.metrics.Middleware(corsMiddleware(cfg.CORSOrigins, router))

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// buildRegistry registers the vendor adapters. Endpoint URLs and enabled
// flags come from the bidder_configs table when a database is wired,
// falling back to the static configuration.
func buildRegistry(cfg *ServerConfig, store *storage.BidderStore, consentSvc consent.Service, targets adapters.TargetingSetter) (*adapters.Registry, error) {
	registry := adapters.NewRegistry()
	registry.SetHeadless(cfg.Headless)

	type vendor struct {
		code     string
		endpoint string
		info     adapters.BidderInfo
		build    func(endpoint string) auction.Bidder
	}
	vendors := []vendor{
		{"brightpool", cfg.BrightpoolURL, brightpool.Info(), func(ep string) auction.Bidder {
			return brightpool.New(ep, consentSvc, targets)
		}},
		{"cipherbid", cfg.CipherbidURL, cipherbid.Info(), func(ep string) auction.Bidder {
			return cipherbid.New(ep, consentSvc, targets)
		}},
	}

	for _, v := range vendors {
		// The adapter's own info is the baseline; static config and the
		// bidder_configs table override endpoint and enabled.
		info := v.info
		if v.endpoint != "" {
			info.Endpoint = v.endpoint
		}
		if store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			row, err := store.GetByCode(ctx, v.code)
			cancel()
			switch {
			case errors.Is(err, storage.ErrNotFound):
				// No row means the static defaults apply.
			case err != nil:
				log.Warn().Err(err).Str("bidder", v.code).Msg("bidder config lookup failed, using defaults")
			default:
				if row.EndpointURL != "" {
					info.Endpoint = row.EndpointURL
				}
				info.Enabled = row.Enabled
			}
		}
		if err := registry.Register(v.code, v.build(info.Endpoint), info); err != nil {
			return nil, fmt.Errorf("register %s: %w", v.code, err)
		}
	}

	return registry, nil
}

// Start begins serving HTTP requests. Blocks until the server stops.
func (s *Server) Start() error {
	log.Info().
		Str("port", s.config.Port).
		Strs("bidders", s.registry.ListBidders()).
		Bool("headless", s.config.Headless).
		Msg("starting ad auction server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server and closes its connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.redis != nil {
		if cerr := s.redis.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("redis close failed")
		}
	}
	if s.db != nil {
		if cerr := s.db.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("database close failed")
		}
	}
	return err
}

// healthHandler returns the liveness endpoint handler
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
			"version":   version,
		})
	})
}

// corsMiddleware applies the configured CORS origins. With no origins
// configured it echoes the request origin, which is fine outside
// production; Validate rejects that combination in production.
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if len(allowed) == 0 || allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
