package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"services-market-backend/internal/cache"
	"services-market-backend/internal/config"
	"services-market-backend/internal/events"
	"services-market-backend/internal/handlers"
	"services-market-backend/internal/metrics"
	"services-market-backend/internal/middleware"
	"services-market-backend/internal/repository"
	"services-market-backend/internal/repository/memory"
	"services-market-backend/internal/services"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Run() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer store.Close()

	listingCache, err := openCache(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer listingCache.Close()

	bus, err := openBus(cfg.NATS)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to change feed")
	}
	defer bus.Close()

	m := metrics.New()
	wsHub := services.NewWSHub(m)

	var notifier services.Notifier
	if cfg.APNS.KeyPath != "" {
		apns, err := services.NewAPNSNotifier(cfg.APNS.KeyPath, cfg.APNS.KeyID, cfg.APNS.TeamID, cfg.APNS.Topic, cfg.APNS.Production)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create APNs client")
		}
		notifier = apns
	}

	var mediaService *services.MediaService
	if cfg.AWS.S3Bucket != "" {
		mediaService, err = services.NewMediaService(ctx, services.MediaConfig{
			Region:     cfg.AWS.Region,
			Bucket:     cfg.AWS.S3Bucket,
			AccessKey:  cfg.AWS.AccessKey,
			SecretKey:  cfg.AWS.SecretKey,
			Endpoint:   cfg.AWS.Endpoint,
			PublicBase: cfg.AWS.PublicBase,
			ExpiresIn:  cfg.Marketplace.UploadURLExpiresIn,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create media service")
		}
	}

	// Initialize services
	listingService := services.NewListingService(store, listingCache, bus, m)
	userService := services.NewUserService(store, listingService, cfg.JWT.Secret, cfg.Marketplace.InitialBalance)
	conversationService := services.NewConversationService(store, listingService, bus, m, notifier, wsHub,
		cfg.Marketplace.MessageWindow, cfg.Marketplace.MaxMessageLength)
	live, err := services.NewLiveQueries(bus, conversationService, listingService, m)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start live queries")
	}
	defer live.Close()

	sweeper := services.NewBoostSweeper(listingService, cfg.Marketplace.SweepInterval)
	go sweeper.Run(ctx)

	// Initialize handlers
	userHandler := handlers.NewUserHandler(userService)
	listingHandler := handlers.NewListingHandler(listingService, mediaService, handlers.BoostSettings{
		Cost:     cfg.Marketplace.BoostCost,
		Duration: cfg.Marketplace.BoostDuration,
	})
	conversationHandler := handlers.NewConversationHandler(conversationService)
	wsHandler := handlers.NewWebSocketHandler(wsHub, live, userService, conversationService, nil)

	r := NewRouter(cfg, m, store, userHandler, listingHandler, conversationHandler, wsHandler, userService)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Str("driver", cfg.Database.Driver).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Hijacked WebSocket connections are not closed by Shutdown
	wsHub.Close()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// NewRouter wires all routes
func NewRouter(
	cfg *config.Config,
	m *metrics.Metrics,
	store repository.Store,
	userHandler *handlers.UserHandler,
	listingHandler *handlers.ListingHandler,
	conversationHandler *handlers.ConversationHandler,
	wsHandler *handlers.WebSocketHandler,
	auth middleware.TokenValidator,
) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(corsOptions(cfg.Server.AllowedOrigins)))
	r.Use(m.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			log.Error().Err(err).Msg("Health check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", m.Handler())

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/auth/register", userHandler.Register)
		r.Post("/auth/login", userHandler.Login)
		r.Get("/listings", listingHandler.Browse)
		r.Get("/listings/{id}", listingHandler.GetListing)
		r.Get("/users/{user_id}", userHandler.GetPublicProfile)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(auth))

			r.Get("/me", userHandler.GetMe)
			r.Patch("/me", userHandler.UpdateMe)
			r.Put("/me/push-token", userHandler.UpdatePushToken)
			r.Get("/me/listings", listingHandler.MyListings)
			r.Get("/users/search", userHandler.SearchUsers)

			r.Post("/listings", listingHandler.CreateListing)
			r.Post("/listings/images/upload", listingHandler.UploadImage)
			r.Patch("/listings/{id}", listingHandler.UpdateListing)
			r.Delete("/listings/{id}", listingHandler.DeleteListing)
			r.Post("/listings/{id}/toggle-status", listingHandler.ToggleStatus)
			r.Post("/listings/{id}/boost", listingHandler.PurchaseBoost)
			r.Post("/listings/{id}/contact", conversationHandler.ContactSeller)

			r.Get("/conversations", conversationHandler.ListConversations)
			r.Get("/conversations/{id}/messages", conversationHandler.ListMessages)
			r.Post("/conversations/{id}/messages", conversationHandler.SendMessage)
			r.Post("/conversations/{id}/read", conversationHandler.MarkRead)
		})
	})

	// WebSocket route
	r.Get("/ws", wsHandler.HandleWebSocket)

	return r
}

func corsOptions(allowed []string) cors.Options {
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}
}

// openStore connects the configured database driver
func openStore(ctx context.Context, cfg config.DatabaseConfig) (repository.Store, error) {
	if cfg.Driver == "memory" {
		log.Warn().Msg("Using in-memory store, data is lost on restart")
		return memory.New(), nil
	}

	db, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test database connection
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info().Msg("Database connection established")

	store := repository.NewPostgresStore(db, cfg.QueryTimeout)
	if cfg.Migrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		log.Info().Msg("Database schema applied")
	}
	return store, nil
}

func openCache(ctx context.Context, cfg config.RedisConfig) (cache.ListingCache, error) {
	if cfg.Addr == "" {
		return cache.Noop{}, nil
	}
	c, err := cache.NewRedisListingCache(ctx, cfg.Addr, cfg.Password, cfg.DB, cfg.TTL)
	if err != nil {
		return nil, err
	}
	log.Info().Str("addr", cfg.Addr).Msg("Listing cache connected")
	return c, nil
}

func openBus(cfg config.NATSConfig) (events.Bus, error) {
	if cfg.URL == "" {
		return events.NewLocalBus(), nil
	}
	bus, err := events.NewNATSBus(cfg.URL, cfg.Name)
	if err != nil {
		return nil, err
	}
	log.Info().Str("url", cfg.URL).Msg("Change feed connected")
	return bus, nil
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
