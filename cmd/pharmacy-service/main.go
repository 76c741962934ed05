package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/consumers"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/events"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/handler"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/metrics"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/migrations"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/pricing"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/repository"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/service"
	"github.com/medflow/medflow-pharmacy/pkg/config"
	"github.com/medflow/medflow-pharmacy/pkg/database"
	"github.com/medflow/medflow-pharmacy/pkg/httputil"
	"github.com/medflow/medflow-pharmacy/pkg/i18n"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/messaging"
)

const serviceName = "pharmacy-service"

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.Server.Environment).SetLevel(cfg.Server.LogLevel)
	log.Info().Msg("starting Pharmacy Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.MigrateOnStart {
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
	}

	// Messaging is optional in development; without it cost postings and
	// domain events are dropped and the tenant registry is not synced.
	var rmq *messaging.RabbitMQ
	var publisher *events.PharmacyEventPublisher
	if cfg.RabbitMQ.Enabled {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()
		go rmq.Watch(ctx)

		if err := rmq.DeclareDeadLetterQueue(serviceName); err != nil {
			log.Fatal().Err(err).Msg("failed to declare dead letter queue")
		}

		publisher, err = events.NewPharmacyEventPublisher(rmq, cfg.Pharmacy.Currency, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
	} else {
		log.Warn().Msg("RabbitMQ disabled; cost postings will not be published")
	}

	var pricer pricing.Pricer = pricing.CatalogPricer{}
	if cfg.Pricing.ServiceURL != "" {
		pricer = pricing.NewClient(cfg.Pricing, m, log)
	}

	// Initialize repositories
	tenantRepo := repository.NewTenantRepository(db)
	stores := service.Stores{
		UnitOfWork:    repository.NewUnitOfWork(db),
		Products:      repository.NewProductRepository(db),
		Lots:          repository.NewLotRepository(db),
		Prescriptions: repository.NewPrescriptionRepository(db),
		Dispenses:     repository.NewDispenseRepository(db),
		Movements:     repository.NewMovementRepository(db),
		Billing:       repository.NewBillingRepository(db),
		Drift:         repository.NewReconcileRepository(db),
	}

	// Initialize services
	dispenseService := service.NewDispenseService(stores, pricer, publisher, publisher, cfg.Pharmacy, m, log)
	stockService := service.NewStockService(stores, publisher, cfg.Pharmacy, m, log)

	scheduler := service.NewReconcileScheduler(stockService, tenantRepo, cfg.Pharmacy.ReconcileInterval, log)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	if rmq != nil {
		tenantConsumer, err := consumers.NewTenantEventConsumer(rmq, tenantRepo, cfg.RabbitMQ.MaxRetries, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create tenant event consumer")
		}
		if err := tenantConsumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start tenant event consumer")
		}
	}

	// Create router
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: allowOrigin,
		AllowedMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:  []string{"Accept", "Accept-Language", "Content-Type", httputil.HeaderRequestID, httputil.HeaderTenantID},
		ExposedHeaders:  []string{httputil.HeaderRequestID},
		MaxAge:          300,
	}))
	r.Use(i18n.Middleware)
	r.Use(httputil.TenantMiddleware)
	r.Use(httputil.ActorMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":   "healthy",
			"service":  serviceName,
			"database": db.Health(r.Context()),
		}
		if rmq != nil {
			status["rabbitmq"] = rmq.Health()
		}
		httputil.JSON(w, http.StatusOK, status)
	})
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	handler.Routes(r,
		handler.NewDispenseHandler(dispenseService, cfg.Pharmacy.ConflictRetries, log),
		handler.NewStockHandler(stockService, log),
	)

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

	// Stop consumers and the scheduler before draining HTTP
	cancel()

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// allowOrigin accepts the local frontends and medflow.de subdomains.
func allowOrigin(_ *http.Request, origin string) bool {
	switch origin {
	case "http://localhost:3000", "http://localhost:5173", "https://medflow.de":
		return true
	}
	return strings.HasSuffix(origin, ".localhost:3000") || strings.HasSuffix(origin, ".medflow.de")
}
