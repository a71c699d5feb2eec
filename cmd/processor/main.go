package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimasrn/cod-ledger/internal/audit"
	"github.com/nimasrn/cod-ledger/internal/config"
	"github.com/nimasrn/cod-ledger/internal/model"
	"github.com/nimasrn/cod-ledger/internal/processor"
	"github.com/nimasrn/cod-ledger/internal/queue"
	"github.com/nimasrn/cod-ledger/internal/repository"
	"github.com/nimasrn/cod-ledger/internal/scheduler"
	"github.com/nimasrn/cod-ledger/internal/services"
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

// The processor drains the audit stream into postgres and runs the daily sweep.
// With --sweep-date it sweeps that one day and exits.
func main() {
	fs := flag.NewFlagSet("processor", flag.ContinueOnError)
	fs.String("env", "", "path to a .env file")
	sweepDate := fs.String("sweep-date", "", "sweep a single YYYY-MM-DD day and exit")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	defer logger.Sync()
	logger.Info("starting cod-ledger processor", "version", version, "commit", commit, "date", date)

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
		ClientName: "processor",
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

	auditRepo := repository.NewAuditRepository(db)
	recorder := audit.NewRecorder(nil, auditRepo, metrics)

	notifyQ, err := queue.NewQueue(ctx, redisAdap, queue.QueueConfig{
		Name:          cfg.NotificationQueueName,
		ConsumerGroup: "dispatchers",
		MaxLen:        cfg.QueueMaxLen,
		EnableDLQ:     cfg.QueueEnableDLQ,
	})
	if err != nil {
		logger.Error("failed creating notification queue", "error", err)
		return
	}

	sweepConf := processor.DefaultIdempotencyConfig()
	sweepConf.LockTTL = cfg.SweepLockTTL
	sweepGuard := processor.NewIdempotencyService(redisAdap, sweepConf)
	aggregator := services.NewAggregator(
		repository.NewReconciliationRepository(db),
		repository.NewPaymentRepository(db),
		sweepGuard,
		notifyQ,
		recorder,
	)

	if *sweepDate != "" {
		if _, err := model.ParseDay(*sweepDate); err != nil {
			logger.Error("invalid --sweep-date", "value", *sweepDate, "error", err)
			return
		}
		res, err := aggregator.Sweep(ctx, *sweepDate)
		if err != nil {
			logger.Error("sweep failed", "date", *sweepDate, "error", err)
			return
		}
		logger.Info("sweep finished", "date", *sweepDate, "agents", res.Agents, "skipped", res.Skipped,
			"reconciled_payments", res.ReconciledPayments, "errors", res.Errors)
		return
	}

	go func() {
		if err := metrics.ListenAndServe(cfg.PromListenAddr, "/metrics"); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	auditGuard := processor.NewIdempotencyService(redisAdap, processor.DefaultIdempotencyConfig())
	service := processor.NewProcessorService(redisAdap, processor.NewAuditProcessor(recorder, auditGuard), processor.Options{
		Queue: queue.QueueConfig{
			Name:              cfg.QueueName,
			ConsumerGroup:     cfg.QueueConsumerGroup,
			ConsumerName:      cfg.QueueConsumerName,
			MaxRetries:        cfg.QueueMaxRetries,
			VisibilityTimeout: cfg.QueueVisibilityTimeout,
			PollInterval:      cfg.QueuePollInterval,
			BatchSize:         cfg.QueueBatchSize,
			MaxLen:            cfg.QueueMaxLen,
			EnableDLQ:         cfg.QueueEnableDLQ,
		},
		Consumers:  2,
		Workers:    cfg.WorkerCount,
		BufferSize: cfg.WorkerBufferSize,
	})
	if err := service.Start(ctx); err != nil {
		logger.Error("failed to start processor", "error", err)
		return
	}

	if cfg.SweepEnabled {
		sched, err := scheduler.New(aggregator, cfg.SweepAt, cfg.Location())
		if err != nil {
			logger.Error("failed to create sweep scheduler", "error", err)
			service.Stop()
			return
		}
		go func() {
			if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("sweep scheduler stopped", "error", err)
			}
		}()
	}

	<-ctx.Done()
	service.Stop()
	if err := notifyQ.Stop(5 * time.Second); err != nil {
		logger.Error("queue stop", "queue", notifyQ.Name(), "error", err)
	}
}
