package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mstream "github.com/haowjy/meridian-stream-go"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"sandchat/internal/capabilities"
	"sandchat/internal/config"
	chatModels "sandchat/internal/domain/models/chat"
	"sandchat/internal/domain/repositories"
	"sandchat/internal/handler"
	"sandchat/internal/middleware"
	"sandchat/internal/repository/memory"
	"sandchat/internal/repository/postgres"
	"sandchat/internal/repository/redis"
	"sandchat/internal/service/conversation"
	"sandchat/internal/service/events"
	serviceLLM "sandchat/internal/service/llm"
	"sandchat/internal/service/sandbox"
	"sandchat/internal/service/turn"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}

	var logOutput io.Writer = os.Stdout
	if cfg.LogDir != "" {
		logFile, err := config.SetupLogFile(cfg.LogDir, cfg.LogMaxFiles)
		if err != nil {
			log.Fatalf("Failed to setup log file: %v", err)
		}
		defer logFile.Close()
		logOutput = io.MultiWriter(os.Stdout, logFile)
	}

	logger := slog.New(slog.NewJSONHandler(logOutput, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger) // Set as default logger

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"store_backend", cfg.StoreBackend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Conversation store
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open conversation store: %v", err)
	}
	defer closeStore()

	conversations := conversation.NewService(store, cfg.StoreKeyPrefix, logger)
	if err := conversations.Load(ctx); err != nil {
		log.Fatalf("Failed to load conversations: %v", err)
	}

	// Chat event fan-out
	hub := events.NewHub(logger)

	// Sandbox runtime
	previewer := sandbox.NewPreviewer(cfg.PreviewDebounce, func(chatID string) {
		hub.Publish(chatModels.Event{
			Type:   chatModels.EventPreviewReady,
			ChatID: chatID,
			Data:   chatModels.PreviewReadyData{PreviewURL: sandbox.PreviewPath(chatID)},
		})
	}, logger)
	python := sandbox.NewPythonRuntime(cfg.PythonBin, logger)
	defer python.Close()
	sandboxService := sandbox.NewService(
		conversations,
		previewer,
		python,
		sandbox.NewRunner(),
		hub,
		cfg.RunTimeout,
		logger,
	)

	// Initialize capability registry
	capabilityRegistry, err := capabilities.NewRegistry()
	if err != nil {
		log.Fatalf("Failed to initialize capability registry: %v", err)
	}
	logger.Info("capability registry initialized")

	// Token stream source
	tokenSource, err := serviceLLM.SetupTokenSource(cfg, capabilityRegistry, logger)
	if err != nil {
		log.Fatalf("Failed to setup LLM providers: %v", err)
	}

	// Turn lifecycle registry
	streamRegistry := mstream.NewRegistry()
	go streamRegistry.StartCleanup(context.Background())

	controller := turn.NewController(
		conversations,
		tokenSource,
		hub,
		previewer,
		streamRegistry,
		turn.Config{
			IdleTimeout:        cfg.StreamIdleTimeout,
			RevealInterval:     cfg.RevealInterval,
			HistoryTokenBudget: cfg.HistoryTokenBudget,
			DefaultVariant:     cfg.DefaultVariant,
			Debug:              cfg.Debug,
		},
		logger,
	)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := handler.NewRouter(handler.RouterConfig{
		ChatHandler:    handler.NewChatHandler(conversations, controller, sandboxService, hub, logger),
		EventsHandler:  handler.NewEventsHandler(conversations, controller, nil, logger),
		TurnHandler:    handler.NewTurnStreamHandler(streamRegistry, nil, logger),
		SandboxHandler: handler.NewSandboxHandler(sandboxService, logger),
		ModelsHandler:  handler.NewModelsHandler(cfg, logger, capabilityRegistry),
	})

	// Build middleware chain
	var h http.Handler = mux

	// Order: CORS → RequestID → Recovery → Routes
	h = middleware.Recovery(logger)(h)
	h = middleware.RequestID()(h)

	// CORS - outermost to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Last-Event-ID", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
	})
	h = corsHandler.Handler(h)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived SSE streams
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := controller.Shutdown(shutdownCtx); err != nil {
			logger.Warn("active turn did not settle", "error", err)
		}
		conversations.Persist(shutdownCtx)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	// Start server
	logger.Info("server listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// openStore returns the configured blob store and its cleanup function
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repositories.BlobStore, func(), error) {
	switch cfg.StoreBackend {
	case "postgres":
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := postgres.NewBlobStore(&postgres.RepositoryConfig{
			Pool:   pool,
			Tables: postgres.NewTableNames(cfg.TablePrefix),
			Logger: logger,
		})
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("database connected", "table_prefix", cfg.TablePrefix)
		return store, pool.Close, nil

	case "redis":
		store, err := redis.NewBlobStore(ctx, cfg.RedisAddr, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("redis connected", "addr", cfg.RedisAddr)
		return store, func() { _ = store.Close() }, nil

	case "memory", "":
		logger.Warn("using in-memory store - conversations are lost on restart")
		return memory.NewBlobStore(), func() {}, nil

	default:
		return nil, nil, errors.New("unknown STORE_BACKEND: " + cfg.StoreBackend)
	}
}
