package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pagepilot/pagepilot/internal/automation"
	"github.com/pagepilot/pagepilot/internal/config"
	"github.com/pagepilot/pagepilot/internal/database"
	"github.com/pagepilot/pagepilot/internal/graph"
	"github.com/pagepilot/pagepilot/internal/inbox"
	"github.com/pagepilot/pagepilot/internal/notify"
	"github.com/pagepilot/pagepilot/internal/queue"
	"github.com/pagepilot/pagepilot/internal/recovery"
	"github.com/pagepilot/pagepilot/internal/scheduler"
	"github.com/pagepilot/pagepilot/internal/webhook"
)

// Run initializes and starts the application.
// It blocks until the application shuts down.
func Run() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Info().Msg("Starting PagePilot webhook engine...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Connect to MySQL
	mysql, err := database.NewMySQL(cfg.GetDSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MySQL")
	}
	defer mysql.Close()

	// Create repository
	repo := database.NewRepository(mysql, cfg.EncryptionKey)

	// Connect to Redis for notification fan-out
	publisher, err := notify.NewPublisher(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer publisher.Close()

	// Graph API client
	graphClient := graph.NewClient(cfg.GraphAPIURL, cfg.ProfileCacheTTL)

	// Legacy reply job queue (no-op when RABBITMQ_URL is unset)
	jobQueue, err := queue.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	defer jobQueue.Close()

	if jobQueue.Enabled() {
		worker, err := queue.NewWorker(cfg.RabbitURL, cfg.RabbitQueue, repo, graphClient)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create reply job worker")
		}
		if err := worker.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start reply job worker")
		}
		defer worker.Stop()
	}

	// Core processing pipeline
	engine := automation.NewEngine(repo, graphClient, jobQueue)
	router := inbox.NewRouter(repo, graphClient, publisher, engine)
	dispatcher := webhook.NewDispatcher(repo, engine, router)
	webhookHandler := webhook.NewHandler(dispatcher, cfg.VerifyToken, cfg.AppSecret)

	// Delayed private reply scheduler
	sched := scheduler.NewScheduler(repo, graphClient, cfg.PrivateReplyInterval)
	sched.Start()
	defer sched.Stop()

	// HTTP routing
	mux := http.NewServeMux()
	mux.Handle("/webhook", recovery.HandlerFuncMiddleware(webhookHandler.ServeHTTP, nil))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := mysql.Ping(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: mux,
	}

	go func() {
		log.Info().Str("port", cfg.ServerPort).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Handle graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(ctx)

	log.Info().Msg("Shutdown complete")
}
