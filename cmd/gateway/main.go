package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	bulkapp "github.com/waservices/gateway/internal/bulk/app"
	bulkpg "github.com/waservices/gateway/internal/bulk/repository/postgres"
	gatewaymw "github.com/waservices/gateway/internal/gateway/middleware"
	gatewayhttp "github.com/waservices/gateway/internal/gateway/transport/http"
	"github.com/waservices/gateway/internal/messaging/provider"
	"github.com/waservices/gateway/internal/platform/config"
	"github.com/waservices/gateway/internal/platform/database"
	"github.com/waservices/gateway/internal/platform/logger"
	"github.com/waservices/gateway/internal/platform/messagebroker"
	scheduleapp "github.com/waservices/gateway/internal/schedule/app"
	schedulepg "github.com/waservices/gateway/internal/schedule/repository/postgres"
)

const (
	serviceName     = "wa-gateway"
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.LogLevel)
	log.Info("Starting service...")

	startupCtx, startupCancel := context.WithTimeout(mainCtx, startupTimeout)
	defer startupCancel()

	dbPool, err := database.NewDBPool(startupCtx, cfg.PostgresDSN)
	if err != nil {
		log.Error("Failed to initialize database connection pool", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	log.Info("Database connection pool initialized")

	natsClient, err := messagebroker.NewNatsClient(cfg.NATSUrl, serviceName, log)
	if err != nil {
		log.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	log.Info("NATS connection initialized")

	// Send Operation chain: the configured transport behind a process-wide
	// rate limiter. "mock" serves local runs without transport workers.
	var msgProvider provider.MessageProvider
	switch cfg.ProviderName {
	case "mock":
		msgProvider = provider.NewMockProvider(log, false, 0)
	default:
		msgProvider = provider.NewNATSProvider(
			natsClient, cfg.NATSSendTextSubject, cfg.NATSSendMediaSubject, cfg.SendTimeout(), log)
	}
	log.Info("Message provider initialized", "provider", msgProvider.GetName())
	msgProvider = provider.NewRateLimitedProvider(msgProvider, cfg.SendRatePerSec)

	jobRepo := bulkpg.NewPgJobRepository(dbPool, log)
	scheduleRepo := schedulepg.NewPgScheduleRepository(dbPool, log)

	bulkService := bulkapp.NewService(bulkapp.Config{
		MaxBatchSize:    cfg.BulkMaxBatchSize,
		JobEventSubject: cfg.NATSJobEventSubject,
	}, msgProvider, jobRepo, natsClient, log)

	scheduleService := scheduleapp.NewService(msgProvider, scheduleRepo, cfg.SendTimeout(), log)
	scheduleService.Start()

	// Re-arm whatever survived the last process exit before accepting traffic.
	if err := bulkService.Recover(startupCtx); err != nil {
		log.Error("Bulk job recovery failed", "error", err)
		os.Exit(1)
	}
	if err := scheduleService.Recover(startupCtx); err != nil {
		log.Error("Schedule recovery failed", "error", err)
		os.Exit(1)
	}

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.RetentionSweepSpec, func() {
		bulkService.PruneTerminal(context.Background(), cfg.BulkRetention())
	}); err != nil {
		log.Error("Invalid retention sweep spec", "spec", cfg.RetentionSweepSpec, "error", err)
		os.Exit(1)
	}
	sweeper.Start()

	validate := validator.New()
	bulkHandler := gatewayhttp.NewBulkJobHandler(bulkService, log, validate,
		time.Duration(cfg.BulkDefaultDelaySeconds)*time.Second)
	schedulerHandler := gatewayhttp.NewSchedulerHandler(scheduleService, log, validate)

	authMW := gatewaymw.AuthMiddleware(gatewaymw.AuthConfig{
		JWTSecret:          cfg.JWTAccessSecret,
		APIKeyFingerprints: cfg.APIKeyFingerprints,
	}, log)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(gatewayhttp.PrometheusMetricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(v1Router chi.Router) {
		v1Router.Use(authMW)
		v1Router.Route("/bulk-jobs", func(jr chi.Router) {
			bulkHandler.RegisterRoutes(jr)
		})
		v1Router.Route("/scheduled-messages", func(sr chi.Router) {
			schedulerHandler.RegisterRoutes(sr)
		})
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServerPort),
		Handler: r,
	}

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		log.Info("Starting HTTP server...", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", "error", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		log.Info("Initiating HTTP server graceful shutdown...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	log.Info("Service components initialized and workers started. Service is ready.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received termination signal", "signal", sig.String())
		mainCancel()
	case <-groupCtx.Done():
		log.Warn("A service component failed; shutting down", "error", groupCtx.Err())
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Shutdown finished with error", "error", err)
	}

	sweeper.Stop()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err := bulkService.Shutdown(stopCtx); err != nil {
		log.Warn("Bulk job service did not stop cleanly", "error", err)
	}
	if err := scheduleService.Shutdown(stopCtx); err != nil {
		log.Warn("Schedule service did not stop cleanly", "error", err)
	}

	log.Info("Service stopped.")
}
