package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/medflow/nurse-station/internal/cache"
	"github.com/medflow/nurse-station/internal/inventory/consumers"
	"github.com/medflow/nurse-station/internal/inventory/events"
	"github.com/medflow/nurse-station/internal/inventory/handler"
	"github.com/medflow/nurse-station/internal/inventory/identity"
	"github.com/medflow/nurse-station/internal/inventory/repository"
	"github.com/medflow/nurse-station/internal/inventory/service"
	"github.com/medflow/nurse-station/internal/sheet"
	"github.com/medflow/nurse-station/pkg/auth"
	"github.com/medflow/nurse-station/pkg/config"
	"github.com/medflow/nurse-station/pkg/httputil"
	"github.com/medflow/nurse-station/pkg/logger"
	"github.com/medflow/nurse-station/pkg/messaging"
)

const serviceName = "nurse-station"

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		logger.New(serviceName, config.GetEnvironment()).Error().Err(err).Msg("configuration error")
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().Msg("starting Nurse Station")

	if cfg.Sheet.URL == "" {
		log.Fatal().Msg("NURSE_SHEET_URL is not set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Sheet backend behind the read cache
	client := sheet.NewClient(&cfg.Sheet, log)
	readCache := cache.New(cache.Options{
		MaxEntries:      cfg.Cache.MaxEntries,
		MaxTTL:          max(cfg.Cache.ListTTL, cfg.Cache.AggregateTTL),
		AggregateTables: sheet.AggregateTables,
	})
	backend := sheet.NewCached(client, readCache, cfg.Cache.ListTTL)

	// Events are optional; without a broker the publisher is nil
	var publisher *events.InventoryEventPublisher
	var rmq *messaging.RabbitMQ
	if cfg.RabbitMQ.URL != "" {
		rmq, err = messaging.New(ctx, &cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		publisher, err = events.NewInventoryEventPublisher(rmq, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}

		stockConsumer, err := consumers.NewStockEventConsumer(rmq, readCache, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create stock event consumer")
		}
		if err := stockConsumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start stock event consumer")
		}
	} else {
		log.Warn().Msg("no RabbitMQ configured, stock events are disabled")
	}

	// Initialize repositories
	itemRepo := repository.NewItemRepository(backend, cfg.Sheet.ListLimit)
	lotRepo := repository.NewLotRepository(backend, cfg.Sheet.ListLimit)
	treatmentRepo := repository.NewTreatmentRepository(backend)
	resolver := identity.NewResolver(identity.RulesFromConfig(cfg.Inventory.SharedMedicines), itemRepo, log)

	// Initialize services
	catalogService := service.NewCatalogService(itemRepo, lotRepo, resolver, log)
	ledgerService := service.NewLedgerService(itemRepo, lotRepo, resolver, publisher, log)
	reconcileService := service.NewReconcileService(lotRepo, treatmentRepo, resolver, publisher, log)
	reportService := service.NewReportService(itemRepo, lotRepo, treatmentRepo, resolver, readCache, cfg.Cache.AggregateTTL, log)
	alertService := service.NewAlertService(itemRepo, lotRepo, resolver, cfg.Inventory.ExpiryWarningDays, log)

	if cfg.Inventory.AlertInterval > 0 {
		scheduler := service.NewAlertScheduler(alertService, publisher, cfg.Inventory.AlertInterval, log)
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	handlers := &handler.Handlers{
		Items:      handler.NewItemHandler(catalogService, log),
		Lots:       handler.NewLotHandler(ledgerService, reconcileService, log),
		Treatments: handler.NewTreatmentHandler(reconcileService, log),
		Dashboard:  handler.NewDashboardHandler(reportService, alertService, log),
	}
	tokens := auth.NewManager(&cfg.JWT)

	// Create router
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":        "healthy",
			"service":       serviceName,
			"cache_entries": readCache.Len(),
		}
		if rmq != nil {
			status["rabbitmq"] = rmq.Health()
		}
		httputil.JSON(w, http.StatusOK, status)
	})

	handlers.Mount(r, tokens, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Cancel context to stop consumers and the alert scheduler
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
