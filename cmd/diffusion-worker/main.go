// diffusion-worker takes generation requests from an intake queue, runs
// them through the remote queue and publishes the results.
package main

import (
	"context"
	"diffusion/internal/api"
	"diffusion/internal/config"
	"diffusion/internal/dispatcher"
	"diffusion/internal/health"
	"diffusion/internal/jobstore"
	"diffusion/internal/observability"
	"diffusion/internal/queue"
	"diffusion/internal/storage"
	"diffusion/internal/subscription"
	"diffusion/internal/transport"
	"diffusion/internal/worker"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	config.Load()
	cfg := config.LoadWorkerConfig()

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	if err := run(cfg); err != nil {
		slog.Error("Worker failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.WorkerConfig) error {
	ctx := context.Background()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Serve the queue from the in-process simulator when asked to
	if cfg.Client.DummyMode {
		sim, err := startSimulator(cfg.Client.APIKey)
		if err != nil {
			return err
		}
		defer sim.Close()
		cfg.Client.BaseURL = sim.URL
		cfg.Client.StorageInitiateURL = sim.URL + "/storage/upload/initiate"
		slog.Warn("Dummy mode enabled, using in-process queue simulator", "url", sim.URL)
	}

	// Queue client stack
	doer, err := transport.New(transport.Config{
		BaseURL: cfg.Client.BaseURL,
		APIKey:  cfg.Client.APIKey,
		Timeout: cfg.Client.Timeout,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}
	subscriber := subscription.New(subscription.Config{
		API:      queue.NewClient(doer, queue.Config{}),
		Uploader: storage.NewUploader(doer, cfg.Client.StorageInitiateURL, metrics),
		Metrics:  metrics,
	})

	// Job ledger
	store, err := jobstore.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	// Work intake
	intakeQueue, err := openIntake(ctx, cfg)
	if err != nil {
		return err
	}
	defer intakeQueue.Close()

	// Create callback dispatcher
	eventDispatcher := dispatcher.NewMemory(dispatcher.LoadConfigFromEnv(), metrics)

	// Create health checker
	deps := map[string]health.ReadinessChecker{"jobstore": store}
	if ready, ok := intakeQueue.(health.ReadinessChecker); ok {
		deps["intake"] = ready
	}
	healthChecker := health.NewChecker(deps).WithOptional("callbacks", eventDispatcher)

	// Create ops router
	router := api.NewRouter(api.RouterConfig{
		Jobs:           store,
		HealthChecker:  healthChecker,
		MetricsHandler: metricsHandler,
		APIKey:         cfg.APIKey,
	})

	if cfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY or API_KEY_FILE configured")
	}

	apiServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	w := worker.New(worker.Config{
		Endpoint:      cfg.Endpoint,
		PollInterval:  cfg.PollInterval,
		Timeout:       cfg.Timeout,
		MaxAttempts:   cfg.MaxAttempts,
		Concurrency:   cfg.Concurrency,
		ShutdownGrace: cfg.ShutdownGrace,
		CallbackURL:   cfg.CallbackURL,
		SigningKey:    cfg.SigningKey,
	}, worker.Deps{
		Subscriber: subscriber,
		Ledger:     store,
		Queue:      intakeQueue,
		Dispatcher: eventDispatcher,
		Metrics:    metrics,
	})

	// Channel to capture server errors
	serverErr := make(chan error, 1)

	go func() {
		slog.Info("Starting ops server", "port", cfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- w.Run(workerCtx)
	}()

	// Wait for interrupt signal, server error or an exhausted intake
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	drain, finished := true, false
	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Ops server failed to start", "error", err)
		stopWorker()
		<-workerDone
		return err
	case err := <-workerDone:
		if err != nil {
			return err
		}
		slog.Info("Intake finished")
		drain, finished = false, true
	}

	// Phase 1: Mark unready for load balancer draining
	healthChecker.SetShuttingDown()
	if drain && cfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", cfg.ShutdownDrainWait)
		time.Sleep(cfg.ShutdownDrainWait)
	}

	// Phase 2: Stop intake and let in-flight jobs finish within the grace period
	slog.Info("Stopping intake", "grace", cfg.ShutdownGrace)
	stopWorker()
	if !finished {
		<-workerDone
	}

	// Phase 3: Stop the ops server
	slog.Info("Starting graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Ops server shutdown error", "error", err)
	}

	// Phase 4: Drain callback dispatcher
	slog.Info("Draining callback dispatcher")
	dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dispatcherCancel()
	if err := eventDispatcher.Close(dispatcherCtx); err != nil {
		slog.Warn("Dispatcher shutdown error", "error", err)
	}

	stats := eventDispatcher.Stats()
	slog.Info("Dispatcher stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)
	slog.Info("Shutdown complete")
	return nil
}
