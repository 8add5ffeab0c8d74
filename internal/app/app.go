package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/backend"
	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/menu"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/events"
	"github.com/xenking/kart-checkout/internal/handler"
	"github.com/xenking/kart-checkout/internal/processor"
	"github.com/xenking/kart-checkout/internal/receipt"
	"github.com/xenking/kart-checkout/internal/session"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
	"github.com/xenking/kart-checkout/pkg/health"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

// ledgerWarmUp is how far back confirmed submissions are loaded into the
// order service's prefilter on start.
const ledgerWarmUp = 24 * time.Hour

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
//
// m is usually the *app.Telemetry handed over by the go-faster/sdk runner.
func Run(ctx context.Context, lg *zap.Logger, m httpmiddleware.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))
	ctx = zctx.Base(ctx, lg)

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Upstream clients.
	backendClient, err := backend.New(backend.Config{
		BaseURL: cfg.Backend.URL,
		Timeout: cfg.Backend.Timeout,
	})
	if err != nil {
		return errors.Wrap(err, "create backend client")
	}
	processorClient, err := processor.New(processor.Config{
		BaseURL: cfg.Processor.URL,
		APIKey:  cfg.Processor.APIKey,
		Timeout: cfg.Processor.Timeout,
	})
	if err != nil {
		return errors.Wrap(err, "create processor client")
	}

	// Domain services.
	calculator, err := pricing.NewCalculator(
		decimal.RequireFromString(cfg.Pricing.DeliveryFee),
		decimal.RequireFromString(cfg.Pricing.TaxRate),
	)
	if err != nil {
		return errors.Wrap(err, "create pricing calculator")
	}
	catalog := menu.NewCache(backendClient)
	payments := payment.NewCoordinator(backendClient, processorClient, payment.CoordinatorConfig{
		Timeout: cfg.Checkout.CallTimeout,
	})
	orders := order.NewService(backendClient, postgres.NewSubmissionLedger(pool), order.ServiceConfig{
		Timeout:        cfg.Checkout.CallTimeout,
		DeliveryWindow: cfg.Checkout.DeliveryWindow,
	})

	warm, warmCtx := errgroup.WithContext(ctx)
	warm.Go(func() error {
		return catalog.Refresh(warmCtx)
	})
	warm.Go(func() error {
		return orders.WarmUp(warmCtx, time.Now().Add(-ledgerWarmUp))
	})
	if err := warm.Wait(); err != nil {
		// The menu refresher and the readiness probe take over from here.
		lg.Warn("Warm-up incomplete", zap.Error(err))
	}

	// Checkout event observers.
	metrics, err := events.NewMetrics(m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create checkout metrics")
	}
	observers := checkout.Observers{metrics}
	if cfg.Kafka.Enabled {
		publisher, err := events.NewPublisher(events.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		})
		if err != nil {
			return errors.Wrap(err, "create event publisher")
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				lg.Error("Close event publisher", zap.Error(err))
			}
		}()
		observers = append(observers, publisher)
	}
	if cfg.Receipts.Enabled {
		archiver, err := receipt.NewS3Archiver(ctx, receipt.Config{
			Bucket:   cfg.Receipts.Bucket,
			Prefix:   cfg.Receipts.Prefix,
			Region:   cfg.Receipts.Region,
			Endpoint: cfg.Receipts.Endpoint,
		})
		if err != nil {
			return errors.Wrap(err, "create receipt archiver")
		}
		defer archiver.Close()
		observers = append(observers, archiver)
	}

	// Sessions.
	registry := session.NewRegistry(
		postgres.NewCartRepository(pool),
		catalog,
		func(key string, c checkout.Cart) *checkout.Machine {
			return checkout.NewMachine(key, checkout.Deps{
				Guard:    auth.ContextGuard{},
				Cart:     c,
				Pricer:   calculator,
				Payments: payments,
				Orders:   orders,
				Observer: observers,
			}, checkout.Config{
				Currency:         cfg.Pricing.Currency,
				ClearGrace:       cfg.Checkout.ClearGrace,
				AuthorizationTTL: cfg.Checkout.AuthorizationTTL,
			})
		},
		session.Config{
			IdleTTL:     cfg.Session.IdleTTL,
			SaveTimeout: cfg.Backend.Timeout,
		},
		lg.Named("session"),
	)

	go func() {
		if err := catalog.Run(ctx, cfg.Menu.RefreshInterval); err != nil {
			lg.Error("Menu refresher stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := registry.Run(ctx, time.Minute); err != nil {
			lg.Error("Session evictor stopped", zap.Error(err))
		}
	}()

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", health.PingCheck(pool), health.Options{Timeout: 5 * time.Second})
	healthSvc.AddReadinessCheck("menu", health.FreshnessCheck(catalog.LoadedAt, 3*max(cfg.Menu.RefreshInterval, time.Minute)), health.Options{
		Timeout:          time.Second,
		FailureThreshold: 1,
	})
	healthSvc.AddLivenessCheck("goroutines", health.GoroutineCountCheck(10000), health.Options{Timeout: time.Second})
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// HTTP handlers.
	h := handler.NewHandler(registry, catalog, calculator, backendClient)
	security := handler.NewSecurity(postgres.NewSessionRepository(pool), []byte(cfg.Session.Pepper))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux, security.Authenticate)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Checkout calls may take up to two bounded upstream calls.
		WriteTimeout:   2*cfg.Checkout.CallTimeout + 5*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.RequestID(),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: httpmiddleware.ClientKey,
			}),
			httpmiddleware.Instrument("kart-checkout", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
