package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"flowcrm/backend/internal/analytics"
	analyticsrepo "flowcrm/backend/internal/analytics/repository"
	"flowcrm/backend/internal/audit"
	auditrepo "flowcrm/backend/internal/audit/repository"
	automationhandler "flowcrm/backend/internal/automation/handler"
	"flowcrm/backend/internal/cache"
	"flowcrm/backend/internal/config"
	"flowcrm/backend/internal/db"
	"flowcrm/backend/internal/event"
	"flowcrm/backend/internal/logger"
	membershiprepo "flowcrm/backend/internal/membership/repository"
	"flowcrm/backend/internal/notification"
	notifrepo "flowcrm/backend/internal/notification/repository"
	"flowcrm/backend/internal/policy/engine"
	"flowcrm/backend/internal/queue"
	"flowcrm/backend/internal/realtime"
	"flowcrm/backend/internal/security"
	"flowcrm/backend/internal/sequence"
	seqrepo "flowcrm/backend/internal/sequence/repository"
	"flowcrm/backend/internal/server"
	sessionrepo "flowcrm/backend/internal/session/repository"
	"flowcrm/backend/internal/telemetry"
	telemetryotel "flowcrm/backend/internal/telemetry/otel"
	"flowcrm/backend/internal/webhook"
	webhookrepo "flowcrm/backend/internal/webhook/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.OTelServiceName)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.OTelServiceName,
		Environment: cfg.Env,
		Insecure:    cfg.OTLPInsecure,
	}, log)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	defer shutdownWithin(log, "otel", 5*time.Second, providers.Shutdown)

	metrics, err := telemetry.NewMetrics(providers.MeterProvider.Meter("flowcrm"))
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	conn, err := db.OpenWithOptions(cfg.DatabaseURL, db.DefaultPoolOptions)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer conn.Close()

	// Redis is optional: without it the queue and cache degrade to no-ops.
	var rdb redis.UniversalClient
	if client, err := db.OpenRedis(ctx, cfg.RedisURL); err != nil {
		log.Warn("redis unavailable, background jobs, cache and realtime disabled", zap.Error(err))
	} else {
		rdb = client
		defer client.Close()
	}

	tokens, err := tokenValidator(cfg)
	if err != nil {
		return fmt.Errorf("tokens: %w", err)
	}
	authz, err := engine.NewOPAAuthorizer(ctx, engine.DefaultPolicy, log)
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	q := queue.Open(ctx, cfg.BackgroundJobsEnabled, rdb, log,
		queue.WithDefaultMaxAttempts(cfg.JobMaxAttempts),
		queue.WithLease(cfg.VisibilityTimeout()),
	)
	dashboardCache := cache.Open(ctx, rdb, log)

	audits := auditrepo.NewPostgresRepository(conn)
	auditLogger := audit.NewLogger(audits, q, log)
	members := membershiprepo.NewPostgresRepository(conn)

	webhooks, err := newDispatcher(cfg, webhookrepo.NewPostgresRepository(conn), metrics, log)
	if err != nil {
		return err
	}

	var publisher realtime.Publisher
	if rdb != nil {
		publisher = realtime.NewRedisPublisher(rdb)
	}
	notifications := notification.NewService(notifrepo.NewPostgresRepository(conn), members, publisher, log)

	sequences := sequence.NewScheduler(
		seqrepo.NewPostgresRepository(conn), seqrepo.NewCRMRepository(conn), q, notifications,
		sequence.WithLogger(log), sequence.WithMetrics(metrics), sequence.WithBatchSize(cfg.SequenceSweepBatch),
	)
	dashboard := analytics.NewService(analyticsrepo.NewPostgresRepository(conn), dashboardCache, cfg.CacheTTL(), log, metrics)

	emitter := event.NewEmitter(auditLogger, q, dashboardCache, webhooks,
		event.WithLogger(log), event.WithMetrics(metrics),
	)

	deps := automationhandler.Deps{
		Members:       members,
		Authz:         authz,
		Events:        emitter,
		Webhooks:      webhooks,
		Sequences:     sequences,
		Notifications: notifications,
		Dashboard:     dashboard,
		Audit:         audits,
		Logger:        log,
	}
	if store, ok := q.(*queue.Redis); ok {
		deps.Jobs = store
	}

	grpcServer := server.NewGRPCServer(server.Options{
		Tokens:     tokens,
		Sessions:   sessionrepo.NewPostgresRepository(conn),
		Auditor:    auditLogger,
		Logger:     log,
		Reflection: cfg.Env != "production",
	})
	health := server.NewHealth(conn, authz, log)
	server.RegisterServices(grpcServer, automationhandler.NewServer(deps), health.Server(), cfg.Env != "production")
	go health.Run(ctx, 15*time.Second)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}
	errCh := make(chan error, 2)
	go func() {
		log.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr), zap.Bool("otel_exporting", providers.Exporting))
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()

	var httpServer *http.Server
	if rdb != nil {
		hub := realtime.NewHub(rdb, log)
		go func() {
			if err := hub.Run(ctx, nil); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("realtime hub stopped", zap.Error(err))
			}
		}()
		httpServer = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           realtime.NewHandler(hub, tokens, log),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info("realtime listener started", zap.String("addr", cfg.HTTPAddr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http serve: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("listener failed, shutting down", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("realtime listener shutdown", zap.Error(err))
		}
	}
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}
	// In-flight fan-outs finish before the stores they write to are closed.
	if err := emitter.Close(shutdownCtx); err != nil {
		log.Warn("event fan-out did not drain", zap.Error(err))
	}
	log.Info("server stopped")
	return nil
}

// tokenValidator builds a verify-only token provider. Access tokens are issued elsewhere.
func tokenValidator(cfg *config.Config) (*security.TokenProvider, error) {
	if cfg.JWTPublicKey == "" {
		return nil, errors.New("JWT_PUBLIC_KEY is not set")
	}
	pub, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		return nil, err
	}
	return security.NewTokenProvider(nil, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL()), nil
}

func newDispatcher(cfg *config.Config, repo webhookrepo.Repository, metrics *telemetry.Metrics, log *zap.Logger) (*webhook.Dispatcher, error) {
	opts := []webhook.Option{
		webhook.WithTimeout(cfg.WebhookTimeoutDuration()),
		webhook.WithEventCatalog(event.WebhookEvents()),
		webhook.WithMetrics(metrics),
		webhook.WithLogger(log),
	}
	if key := cfg.WebhookSecretKeyBytes(); key != nil {
		box, err := security.NewSecretBox(key)
		if err != nil {
			return nil, fmt.Errorf("webhook secret key: %w", err)
		}
		opts = append(opts, webhook.WithSecretBox(box))
	}
	return webhook.NewDispatcher(repo, opts...), nil
}

func shutdownWithin(log *zap.Logger, name string, d time.Duration, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warn("shutdown", zap.String("component", name), zap.Error(err))
	}
}
