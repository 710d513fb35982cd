package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jjudge-oj/marketplace/config"
	"github.com/jjudge-oj/marketplace/internal/db"
	"github.com/jjudge-oj/marketplace/internal/handlers"
	"github.com/jjudge-oj/marketplace/internal/logger"
	"github.com/jjudge-oj/marketplace/internal/mq"
	"github.com/jjudge-oj/marketplace/internal/services"
	"github.com/jjudge-oj/marketplace/internal/session"
	"github.com/jjudge-oj/marketplace/internal/storage"
	"github.com/jjudge-oj/marketplace/internal/store"
	"github.com/redis/go-redis/v9"
)

// Server wraps the HTTP server, router and the connections it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	redis      *redis.Client
	mq         *mq.MQ
	log        *logger.Logger
}

// New wires storage, sessions, services and routes from cfg.
func New(ctx context.Context, cfg config.Config, log *logger.Logger) (_ *Server, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{log: log}
	defer func() {
		if err != nil {
			s.closeResources()
		}
	}()

	s.db, err = db.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	backend, err := storage.NewBackend(ctx, cfg.Assets)
	if err != nil {
		return nil, fmt.Errorf("init asset backend: %w", err)
	}
	assets := storage.NewStorage(backend,
		storage.WithTimeout(cfg.Assets.Timeout),
		storage.WithPublicBaseURL(cfg.Assets.PublicBaseURL),
	)
	if err := assets.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure asset bucket: %w", err)
	}

	sessionStore, err := s.sessionStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	sessions := session.NewManager(sessionStore, cfg.SecretKey,
		session.WithTTL(cfg.SessionTTL),
		session.WithSecureCookie(cfg.CookieSecure),
	)

	s.mq, err = mq.NewFromConfig(ctx, cfg.MQ)
	if err != nil {
		return nil, fmt.Errorf("init mq: %w", err)
	}

	productOpts := []services.ProductOption{
		services.WithPageSize(cfg.PageSize),
		services.WithOwnershipEnforced(cfg.EnforceOwnership),
	}
	if s.mq != nil {
		productOpts = append(productOpts, services.WithEvents(services.NewEvents(s.mq, cfg.MQ.Channel)))
	}

	userService := services.NewUserService(store.NewUserRepository(s.db))
	productService := services.NewProductService(store.NewProductRepository(s.db), assets, productOpts...)

	views, err := handlers.NewRenderer()
	if err != nil {
		return nil, err
	}
	gate := handlers.NewSessionGate(sessions)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
	)
	router.Use(log.Middleware()...)
	router.Use(
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz(s.db))
	handlers.StaticRouter(router, cfg.StaticDir)
	handlers.AssetRouter(router, assets)
	router.Group(func(r chi.Router) {
		r.Use(gate.LoadSession)
		handlers.AuthRouter(r, gate, userService, sessions, views)
		handlers.ProductRouter(r, gate, productService, sessions, views, cfg.EnforceOwnership)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Int("port", port).
		Str("asset_backend", cfg.Assets.Backend).
		Str("session_backend", cfg.SessionBackend).
		Str("mq_backend", cfg.MQ.Backend).
		Bool("enforce_ownership", cfg.EnforceOwnership).
		Msg("server configured")

	return s, nil
}

func (s *Server) sessionStore(ctx context.Context, cfg config.Config) (session.Store, error) {
	if cfg.SessionBackend != config.SessionBackendRedis {
		return session.NewMemoryStore(), nil
	}
	client, err := session.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	s.redis = client
	return session.NewRedisStore(client, ""), nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes the owned connections.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.closeResources()
	return err
}

func (s *Server) closeResources() {
	if s.mq != nil {
		if err := s.mq.Close(); err != nil {
			s.log.Warn().Err(err).Msg("failed to close mq")
		}
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}
