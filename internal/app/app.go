package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/feast/internal/domain/checkout"
	"github.com/xenking/feast/internal/domain/order"
	"github.com/xenking/feast/internal/domain/payment"
	"github.com/xenking/feast/internal/domain/pricing"
	"github.com/xenking/feast/internal/events/rabbit"
	"github.com/xenking/feast/internal/gateway"
	"github.com/xenking/feast/internal/handler"
	"github.com/xenking/feast/internal/storage/memory"
	"github.com/xenking/feast/internal/storage/postgres"
	redisstore "github.com/xenking/feast/internal/storage/redis"
	"github.com/xenking/feast/pkg/health"
	"github.com/xenking/feast/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

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
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Finalization lock: Redis when configured, otherwise in-process.
	var locker payment.Locker = memory.NewLocker()
	if cfg.Redis.URL != "" {
		rdb, err := redisstore.Open(ctx, cfg.Redis.URL)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()
		locker = redisstore.NewLocker(rdb)
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(redisPinger{rdb}))
		lg.Info("Using Redis payment lock")
	}

	var events order.EventPublisher = order.NopPublisher{}
	if cfg.Rabbit.URL != "" {
		ch, closeRabbit, err := rabbit.Dial(cfg.Rabbit.URL)
		if err != nil {
			return errors.Wrap(err, "connect rabbitmq")
		}
		defer func() { _ = closeRabbit() }()
		pub, err := rabbit.NewPublisher(ch, cfg.Rabbit.Exchange)
		if err != nil {
			return errors.Wrap(err, "create event publisher")
		}
		events = pub
		lg.Info("Publishing order events", zap.String("exchange", cfg.Rabbit.Exchange))
	}

	healthSvc.Start(ctx, 10*time.Second)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	payments, err := registerAPI(mux, pool, locker, events, m.TracerProvider(), m.MeterProvider(), cfg)
	if err != nil {
		return err
	}

	scheduler, err := startJobs(zctx.Base(ctx, lg), payments, cfg.Jobs)
	if err != nil {
		return errors.Wrap(err, "start jobs")
	}
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader, httpmiddleware.RequestIDHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("feast-api", routeFinder, m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}
	healthSvc.SetReady(true)

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
		if err := scheduler.Shutdown(); err != nil {
			lg.Error("Scheduler shutdown error", zap.Error(err))
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

// registerAPI builds repositories and domain services on top of pool and
// mounts the API routes on mux.
func registerAPI(
	mux *http.ServeMux,
	pool *pgxpool.Pool,
	locker payment.Locker,
	events order.EventPublisher,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
	cfg *Config,
) (*payment.Service, error) {
	taxPolicy, feePolicy, err := cfg.Pricing.Policies()
	if err != nil {
		return nil, errors.Wrap(err, "pricing config")
	}

	// Repositories.
	orderRepo := postgres.NewOrderRepository(pool)
	checkoutRepo := postgres.NewCheckoutRepository(pool)
	catalogRepo := postgres.NewCatalogRepository(pool)
	offerRepo := postgres.NewOfferRepository(pool)
	customerRepo := postgres.NewCustomerRepository(pool)
	agentRepo := postgres.NewAgentRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	gw := gateway.NewClient(gateway.Config{
		BaseURL: cfg.Gateway.BaseURL,
		KeyID:   cfg.Gateway.KeyID,
		Secret:  cfg.Gateway.Secret,
		Timeout: cfg.Gateway.Timeout,
	}, tp, mp)

	payments, err := payment.NewService(
		gw,
		checkoutRepo,
		orderRepo,
		payment.NewSigner([]byte(cfg.Gateway.Secret)),
		locker,
		events,
		mp.Meter("feast"),
		payment.Config{Currency: cfg.Gateway.Currency, LockTTL: cfg.Gateway.LockTTL},
	)
	if err != nil {
		return nil, errors.Wrap(err, "create payment service")
	}
	orderService := order.NewService(orderRepo, agentRepo, events)
	checkoutService := checkout.NewService(
		catalogRepo,
		offerRepo,
		customerRepo,
		customerRepo,
		pricing.NewEngine(taxPolicy, feePolicy),
		payments,
	)

	// HTTP handlers.
	security := handler.NewSecurity(apikeyRepo, handler.SecurityConfig{
		APIKeyPepper: []byte(cfg.Auth.APIKeyPepper),
		JWTSecret:    []byte(cfg.Auth.JWTSecret),
		Issuer:       cfg.Auth.Issuer,
		Audience:     cfg.Auth.Audience,
	})
	handler.NewHandler(checkoutService, orderService, agentRepo, security).Register(mux)
	return payments, nil
}

// redisPinger adapts a Redis client to health.Pinger.
type redisPinger struct {
	rdb redis.UniversalClient
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}
