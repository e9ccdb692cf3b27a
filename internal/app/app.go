package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/bundle-pricing/internal/domain/order"
	"github.com/xenking/bundle-pricing/internal/handler"
	"github.com/xenking/bundle-pricing/internal/storage/postgres"
	"github.com/xenking/bundle-pricing/internal/storage/redisstore"
	"github.com/xenking/bundle-pricing/pkg/health"
	"github.com/xenking/bundle-pricing/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("currency", cfg.Pricing.Currency),
		zap.String("zero_weights", cfg.Pricing.ZeroWeights),
		zap.Int("max_depth", cfg.Pricing.MaxDepth),
	)

	currency, err := cfg.Pricing.DefaultCurrency()
	if err != nil {
		return err
	}
	lineOpts, err := cfg.Pricing.Options()
	if err != nil {
		return err
	}

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.Register(health.Check{
		Name:    "postgres",
		Kind:    health.Readiness,
		Timeout: 5 * time.Second,
		Func:    health.PingCheck(pool),
	})

	serviceOpts := []order.ServiceOption{
		order.WithDefaultCurrency(currency),
		order.WithMaterializerOptions(lineOpts...),
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	}

	// Redis is optional: without it Idempotency-Key headers are ignored.
	if cfg.Idempotency.RedisURL != "" {
		rdb, err := redisstore.NewClient(ctx, cfg.Idempotency.RedisURL, m.TracerProvider(), m.MeterProvider())
		if err != nil {
			return errors.Wrap(err, "create redis client")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				lg.Error("Close redis", zap.Error(err))
			}
		}()

		serviceOpts = append(serviceOpts,
			order.WithIdempotencyStore(redisstore.NewIdempotencyStore(rdb, cfg.Idempotency.TTL)),
		)
		healthSvc.Register(health.Check{
			Name:    "redis",
			Kind:    health.Readiness,
			Timeout: 2 * time.Second,
			Func: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		})
		lg.Info("Idempotency keys enabled", zap.Duration("ttl", cfg.Idempotency.TTL))
	}

	orderService, err := order.NewService(postgres.NewOrderRepository(pool), serviceOpts...)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	healthSvc.Register(health.Check{
		Name: "goroutines",
		Kind: health.Liveness,
		Func: health.GoroutineCountCheck(10000),
	})
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	handler.NewHandler(orderService).Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: otelhttp.NewHandler(
			httpmiddleware.Wrap(mux,
				httpmiddleware.InjectLogger(zctx.From(ctx)),
				httpmiddleware.Recovery(),
				httpmiddleware.LogRequests(),
				httpmiddleware.LimitBody(cfg.MaxBodyBytes),
			),
			"bundle-pricing",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
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
