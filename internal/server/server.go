package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"vet-cart/internal/config"
	"vet-cart/internal/database"
	custommiddleware "vet-cart/internal/middleware"
	"vet-cart/internal/repository"
	"vet-cart/internal/service"
	"vet-cart/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	*http.Server
	config      *config.Config
	logger      *zap.Logger
	db          database.Service
	redis       *redis.Client
	stopJanitor context.CancelFunc
}

// NewRedisClient creates the client shared by the rate limiter and the Redis
// cart storage
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// newCartStorage picks where carts are persisted
func newCartStorage(cfg config.CartConfig, db database.Service, redisClient *redis.Client) (repository.CartRepository, error) {
	switch cfg.Storage {
	case config.StoragePostgres:
		return repository.NewCartRepository(db.DB()), nil
	case config.StorageRedis:
		return repository.NewRedisCartRepository(redisClient, cfg.RedisKeyPrefix, cfg.RedisTTL), nil
	case config.StorageMemory:
		return repository.NewMemoryCartRepository(), nil
	default:
		return nil, fmt.Errorf("unknown cart storage %q", cfg.Storage)
	}
}

func NewServer(cfg *config.Config, logger *zap.Logger, db database.Service) (*Server, error) {
	redisClient := NewRedisClient(cfg.Redis)

	// Initialize repositories
	cartStorage, err := newCartStorage(cfg.Cart, db, redisClient)
	if err != nil {
		redisClient.Close()
		return nil, err
	}
	catalogRepo := repository.NewCatalogRepository(db.DB())

	// Initialize services
	cartService := service.NewCartService(cartStorage, catalogRepo, logger, service.CartServiceConfig{
		PersistTimeout: cfg.Cart.PersistTimeout,
		IdleTTL:        cfg.Cart.IdleTTL,
	})

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	go cartService.Run(janitorCtx)

	// Create router
	router := chi.NewRouter()
	router.Use(custommiddleware.DefaultMiddlewareStack()...)
	router.Use(custommiddleware.ErrorHandlingMiddleware(logger))
	router.Use(custommiddleware.LoggingMiddleware(logger))
	router.Use(custommiddleware.CORSMiddleware(cfg.CORS.AllowedOrigins, cfg.Server.Env == "development"))

	// Health check endpoint
	router.Get("/health", healthHandler(db, redisClient, cfg.Cart.Storage))

	// Per-client limits apply to shopper routes only
	var shopperMiddleware []func(http.Handler) http.Handler
	if cfg.RateLimit.Enabled {
		shopperMiddleware = append(shopperMiddleware, custommiddleware.RateLimitMiddleware(redisClient, custommiddleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.Requests,
			Window:            cfg.RateLimit.Window,
			KeyPrefix:         "ratelimit:cart",
		}, logger))
	}

	// Initialize handlers and register routes
	cartHandler := transport.NewCartHandler(cartService, logger)
	cartHandler.RegisterRoutes(router,
		custommiddleware.OptionalAuthMiddleware(cfg.JWT.Secret, logger),
		custommiddleware.AuthMiddleware(cfg.JWT.Secret, logger),
		shopperMiddleware...,
	)

	server := &Server{
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
			Handler:      router,
			IdleTimeout:  time.Minute,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		config:      cfg,
		logger:      logger,
		db:          db,
		redis:       redisClient,
		stopJanitor: stopJanitor,
	}

	return server, nil
}

// healthHandler reports the database, and Redis when carts or rate limits
// depend on it. Any dependency down turns the response into a 503.
func healthHandler(db database.Service, redisClient *redis.Client, storage string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]interface{}{
			"status":       "ok",
			"cart_storage": storage,
		}

		dbHealth := db.Health(r.Context())
		body["database"] = dbHealth
		if dbHealth["status"] != "up" {
			status = http.StatusServiceUnavailable
		}

		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			body["redis"] = map[string]string{"status": "down", "error": err.Error()}
			if storage == config.StorageRedis {
				status = http.StatusServiceUnavailable
			}
		} else {
			body["redis"] = map[string]string{"status": "up"}
		}

		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		custommiddleware.RespondWithJSON(w, status, body)
	}
}

func (s *Server) Close() error {
	s.logger.Info("Closing server resources")

	s.stopJanitor()

	if err := s.redis.Close(); err != nil {
		s.logger.Error("Failed to close redis client", zap.Error(err))
	}

	// Close database connection
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database connection", zap.Error(err))
		}
	}

	s.logger.Sync()
	return nil
}
