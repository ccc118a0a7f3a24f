// Worker drains the named job queues and runs the recurring schedules (drip sequence sweep,
// token cleanup). With BACKGROUND_JOBS_ENABLED=false or Redis unreachable it logs and idles
// until signalled, so deployments can keep the process without it doing anything.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"flowcrm/backend/internal/analytics"
	analyticsrepo "flowcrm/backend/internal/analytics/repository"
	"flowcrm/backend/internal/audit"
	auditrepo "flowcrm/backend/internal/audit/repository"
	"flowcrm/backend/internal/cache"
	"flowcrm/backend/internal/config"
	"flowcrm/backend/internal/db"
	"flowcrm/backend/internal/eventlog"
	"flowcrm/backend/internal/logger"
	"flowcrm/backend/internal/mail"
	membershiprepo "flowcrm/backend/internal/membership/repository"
	"flowcrm/backend/internal/notification"
	notifrepo "flowcrm/backend/internal/notification/repository"
	"flowcrm/backend/internal/queue"
	"flowcrm/backend/internal/realtime"
	"flowcrm/backend/internal/schedule"
	"flowcrm/backend/internal/sequence"
	seqrepo "flowcrm/backend/internal/sequence/repository"
	"flowcrm/backend/internal/session"
	sessionrepo "flowcrm/backend/internal/session/repository"
	"flowcrm/backend/internal/telemetry"
	telemetryotel "flowcrm/backend/internal/telemetry/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.OTelServiceName+"-worker")
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("worker exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cfg.BackgroundJobsEnabled {
		log.Info("background processing disabled, worker idle")
		<-ctx.Done()
		return nil
	}

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.OTelServiceName + "-worker",
		Environment: cfg.Env,
		Insecure:    cfg.OTLPInsecure,
	}, log)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(sctx)
	}()
	metrics, err := telemetry.NewMetrics(providers.MeterProvider.Meter("flowcrm-worker"))
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	rdb, err := db.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		log.Warn("redis unavailable, worker idle", zap.Error(err))
		<-ctx.Done()
		return nil
	}
	defer rdb.Close()

	q := queue.Open(ctx, true, rdb, log,
		queue.WithDefaultMaxAttempts(cfg.JobMaxAttempts),
		queue.WithLease(cfg.VisibilityTimeout()),
	)
	store, ok := q.(*queue.Redis)
	if !ok {
		log.Warn("durable queue unavailable, worker idle")
		<-ctx.Done()
		return nil
	}

	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	conn, err := db.OpenWithOptions(cfg.DatabaseURL, db.DefaultPoolOptions)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer conn.Close()

	members := membershiprepo.NewPostgresRepository(conn)
	notifications := notification.NewService(notifrepo.NewPostgresRepository(conn), members, realtime.NewRedisPublisher(rdb), log)
	auditLogger := audit.NewLogger(auditrepo.NewPostgresRepository(conn), q, log)
	rollups := analytics.NewService(analyticsrepo.NewPostgresRepository(conn), cache.Open(ctx, rdb, log), cfg.CacheTTL(), log, metrics)
	cleaner := session.NewCleaner(sessionrepo.NewPostgresRepository(conn), cfg.SessionRetentionDuration(), log)

	var mailer mail.Mailer = mail.NewLogMailer(log)
	if cfg.HasSMTP() {
		mailer = mail.NewSMTP(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		})
	}

	events := eventlog.NewWriter(log,
		eventlog.NewKafkaSink(cfg.KafkaBrokersList(), cfg.EventLogKafkaTopic),
		eventlog.NewLokiSink(cfg.LokiURL, cfg.OTelServiceName),
		eventlog.NewOTelSink(providers.LoggerProvider),
	)
	defer func() {
		if err := events.Close(); err != nil {
			log.Warn("event log close", zap.Error(err))
		}
	}()

	runner := queue.NewRunner(store, log,
		queue.WithConcurrency(cfg.QueueConcurrency),
		queue.WithPollInterval(cfg.PollInterval()),
		queue.WithMetrics(metrics),
	)
	runner.Handle(queue.OutboundEmail, mail.NewWorker(mailer, log).HandleJob)
	runner.Handle(queue.UserNotification, notifications.HandleJob)
	runner.Handle(queue.DomainEventLog, events.HandleJob)
	runner.Handle(queue.AnalyticsRollup, rollups.HandleJob)
	runner.Handle(queue.AuditLog, auditLogger.HandleJob)
	runner.Handle(queue.TokenCleanup, cleaner.HandleJob)

	sequences := sequence.NewScheduler(
		seqrepo.NewPostgresRepository(conn), seqrepo.NewCRMRepository(conn), q, notifications,
		sequence.WithLogger(log), sequence.WithMetrics(metrics), sequence.WithBatchSize(cfg.SequenceSweepBatch),
	)
	cron := schedule.New(log)
	if err := cron.Add("sequence-sweep", cfg.SequenceSweepSchedule, schedule.SequenceSweep(sequences, log)); err != nil {
		return err
	}
	if err := cron.Add("token-cleanup", cfg.TokenCleanupSchedule, schedule.TokenCleanup(q, nil)); err != nil {
		return err
	}

	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("runner: %w", err)
	}
	cron.Start()
	nextSweep, _ := cron.Next("sequence-sweep")
	log.Info("worker started",
		zap.Strings("queues", queue.Names),
		zap.Int("concurrency", cfg.QueueConcurrency),
		zap.Bool("otel_exporting", providers.Exporting),
		zap.Time("next_sequence_sweep", nextSweep),
	)
	logBacklog(ctx, store, log)

	<-ctx.Done()
	log.Info("worker shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := cron.Stop(shutdownCtx); err != nil {
		log.Warn("scheduler did not stop in time", zap.Error(err))
	}
	if err := runner.Stop(shutdownCtx); err != nil {
		log.Warn("workers did not drain in time", zap.Error(err))
	}
	log.Info("worker stopped")
	return nil
}

// logBacklog reports per-queue depth at startup so a stuck or failing queue is visible in the first log lines.
func logBacklog(ctx context.Context, store *queue.Redis, log *zap.Logger) {
	for _, name := range queue.Names {
		counts, err := store.Counts(ctx, name)
		if err != nil {
			log.Warn("queue counts", zap.String("queue", name), zap.Error(err))
			continue
		}
		log.Info("queue backlog",
			zap.String("queue", name),
			zap.Int64("waiting", counts[queue.StateWaiting]),
			zap.Int64("active", counts[queue.StateActive]),
			zap.Int64("failed", counts[queue.StateFailed]),
		)
	}
}
