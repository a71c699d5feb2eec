package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimasrn/cod-ledger/internal/audit"
	"github.com/nimasrn/cod-ledger/internal/auth"
	"github.com/nimasrn/cod-ledger/internal/config"
	gateway "github.com/nimasrn/cod-ledger/internal/gateways"
	"github.com/nimasrn/cod-ledger/internal/handlers"
	"github.com/nimasrn/cod-ledger/internal/processor"
	"github.com/nimasrn/cod-ledger/internal/queue"
	"github.com/nimasrn/cod-ledger/internal/ratelimit"
	"github.com/nimasrn/cod-ledger/internal/repository"
	"github.com/nimasrn/cod-ledger/internal/services"
	xhttp "github.com/nimasrn/cod-ledger/pkg/http"
	"github.com/nimasrn/cod-ledger/pkg/logger"
	"github.com/nimasrn/cod-ledger/pkg/pg"
	"github.com/nimasrn/cod-ledger/pkg/prom"
	"github.com/nimasrn/cod-ledger/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	defer logger.Sync()
	logger.Info("starting cod-ledger api", "version", version, "commit", commit, "date", date)

	cfg, err := config.Load(config.EnvPathFromArgs(os.Args))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), cfg.IsDev())
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{cfg.RedisAddr},
		ClientName: "default",
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	metrics, err := prom.New(hostname, cfg.AppEnv, cfg.PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go func() {
		if err := metrics.ListenAndServe(cfg.PromListenAddr, "/metrics"); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	auditQ, err := queue.NewQueue(ctx, redisAdap, queueConfig(cfg, cfg.QueueName, cfg.QueueConsumerGroup))
	if err != nil {
		logger.Error("failed creating audit queue", "error", err)
		return
	}
	notifyQ, err := queue.NewQueue(ctx, redisAdap, queueConfig(cfg, cfg.NotificationQueueName, "dispatchers"))
	if err != nil {
		logger.Error("failed creating notification queue", "error", err)
		return
	}

	orderConf := gateway.DefaultConfig(cfg.OrderServiceURLs...)
	orderConf.Timeout = cfg.OrderServiceTimeout
	orderConf.MaxRetries = cfg.OrderServiceRetries
	orders, err := gateway.NewOrderClient(orderConf)
	if err != nil {
		logger.Error("failed to create order client", "error", err)
		return
	}

	authn, err := auth.NewAuthenticator(cfg.JwtSecret, cfg.JwtIssuer)
	if err != nil {
		logger.Error("failed to create authenticator", "error", err)
		return
	}

	paymentRepo := repository.NewPaymentRepository(db)
	reconciliationRepo := repository.NewReconciliationRepository(db)
	reportRepo := repository.NewReportRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	recorder := audit.NewRecorder(auditQ, auditRepo, metrics)
	limiter := ratelimit.NewSlidingWindow(redisAdap, ratelimit.Config{
		Limit:  cfg.CodRateLimit,
		Window: cfg.CodRateWindow,
	})

	idemConf := processor.DefaultIdempotencyConfig()
	idemConf.LockTTL = cfg.SweepLockTTL
	guard := processor.NewIdempotencyService(redisAdap, idemConf)

	// services
	reviewer := services.NewReviewer(reconciliationRepo, recorder, metrics, services.ReviewPolicy{
		AutoApproveTolerance: cfg.AutoApproveTolerance(),
		DiscrepancyThreshold: cfg.DiscrepancyThreshold(),
	})
	aggregator := services.NewAggregator(reconciliationRepo, paymentRepo, guard, notifyQ, recorder).WithReevaluator(reviewer)
	collector := services.NewCollectionService(orders, paymentRepo, aggregator, limiter, recorder, metrics, services.CollectionConfig{
		MaxOverpayment: cfg.MaxOverpayment(),
		Location:       cfg.Location(),
	})
	reports := services.NewReportService(paymentRepo, reconciliationRepo, reportRepo)
	payments := services.NewPaymentService(paymentRepo)
	health := services.NewHealthService(2*time.Second, map[string]services.Pinger{
		"postgres": db,
		"redis":    redisAdap,
		"orders":   orders,
	})

	// transport
	opts := xhttp.DefaultServerOption
	opts.Name = cfg.AppName
	opts.ReadTimeout = cfg.HttpServerReadTimeout
	opts.WriteTimeout = cfg.HttpServerWriteTimeout
	opts.ReadBufferSize = 1024 * 16
	opts.WriteBufferSize = 1024 * 16
	s := xhttp.NewServer(opts)
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(cfg.HttpRequestTimeout))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.ThrottleMiddleware(xhttp.NewIPThrottle(cfg.HttpThrottlePerSecond, cfg.HttpThrottleBurst)))
	s.Router = xhttp.CreateDefaultRouter()

	healthHandler := handlers.NewHealthHandler(health)
	codHandler := handlers.NewCodHandler(collector, reviewer, reports, cfg.Location())
	paymentHandler := handlers.NewPaymentHandler(payments)

	s.Router.GET("/health", healthHandler.GetHealth)
	g := s.Router.Group("/api/v1")
	handlers.RegisterHealthRoutes(g, healthHandler)
	handlers.RegisterCodRoutes(g, codHandler, auth.Middleware(authn))
	handlers.RegisterPaymentRoutes(g, paymentHandler, auth.Middleware(authn))

	go func() {
		if err := s.ListenAndServe(cfg.HttpListenAddr); err != nil {
			logger.Error("error in running http-server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down api")
	s.Shutdown()
	if err := orders.Close(); err != nil {
		logger.Error("order client close", "error", err)
	}
	for _, q := range []*queue.Queue{auditQ, notifyQ} {
		if err := q.Stop(5 * time.Second); err != nil {
			logger.Error("queue stop", "queue", q.Name(), "error", err)
		}
	}
}

func queueConfig(cfg *config.Config, name, group string) queue.QueueConfig {
	return queue.QueueConfig{
		Name:              name,
		ConsumerGroup:     group,
		ConsumerName:      cfg.QueueConsumerName,
		MaxRetries:        cfg.QueueMaxRetries,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
		PollInterval:      cfg.QueuePollInterval,
		BatchSize:         cfg.QueueBatchSize,
		MaxLen:            cfg.QueueMaxLen,
		EnableDLQ:         cfg.QueueEnableDLQ,
	}
}
