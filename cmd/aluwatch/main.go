package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"aluwatch/internal/adminapi"
	"aluwatch/pkg/alerting"
	"aluwatch/pkg/db"
	"aluwatch/pkg/extractor"
	"aluwatch/pkg/interfaces/feishu"
	"aluwatch/pkg/logging"
	"aluwatch/pkg/pricestore"
	"aluwatch/pkg/registry"
	"aluwatch/pkg/watch"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Only log warning since .env is optional
		logrus.WithError(err).Warn("Error loading .env file")
	}

	// Initialize logger
	log := logrus.New()
	log.SetFormatter(logging.NewColoredJSONFormatter())

	// Get log level from environment
	logLevel := os.Getenv("LOG_LEVEL")
	if level, err := logrus.ParseLevel(logLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.SetLevel(logrus.InfoLevel)
		log.WithFields(logrus.Fields{
			"attempted_level": logLevel,
			"default_level":   "INFO",
		}).Warn("Invalid log level specified, defaulting to INFO")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	gdb, err := db.SetupDatabase(log)
	if err != nil {
		log.WithError(err).Fatal("Failed to set up database")
	}

	// Initialize task registry and seed the protected primary source
	reg := registry.New(gdb, log)
	if err := reg.EnsurePrimary(ctx); err != nil {
		log.WithError(err).Fatal("Failed to seed primary source task")
	}

	store := pricestore.New(gdb, log)

	// Initialize Feishu config and client
	feishuConfig, err := feishu.NewFeishuConfig()
	if err != nil {
		log.WithError(err).Fatal("Failed to create Feishu config")
	}
	// Override logger to use our main logger
	feishuConfig.Logger = log

	feishuClient, err := feishu.NewClient(feishuConfig)
	if err != nil {
		log.WithError(err).Fatal("Failed to create Feishu client")
	}

	alerts := alerting.New(gdb, feishuClient, alerting.DefaultThreshold, log)

	// Initialize watch loop
	watchConfig, err := watch.NewConfig()
	if err != nil {
		log.WithError(err).Fatal("Failed to create watch config")
	}
	watchConfig.Logger = log

	orchestrator, err := watch.NewOrchestrator(watch.OrchestratorConfig{
		Registry:  reg,
		Store:     store,
		Extractor: extractor.NewCCMNExtractor(log),
		Sink:      feishuClient,
		Alerts:    alerts,
		Config:    watchConfig,
		Logger:    log,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to create orchestrator")
	}

	// Start the admin API
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	adminapi.SetupRoutes(router, reg, store, alerts, orchestrator, feishuClient, log)

	port := os.Getenv("API_PORT")
	if port == "" {
		port = "8080"
	}
	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}
	go func() {
		log.WithField("port", port).Info("Admin API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Admin API stopped with error")
		}
	}()

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info("Received shutdown signal")
		cancel()
	}()

	log.Info("Starting daily price watch")

	// Run the scheduler
	scheduler := watch.NewScheduler(orchestrator, watchConfig, log)
	if err := scheduler.Run(ctx); err != nil && err != context.Canceled {
		log.WithError(err).Fatal("Scheduler stopped with error")
	}

	orchestrator.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Admin API shutdown error")
	}

	log.Info("Shutdown complete")
}
