package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	appservice "github.com/docufort/admitd/internal/application/service"
	"github.com/docufort/admitd/internal/config"
	domainservice "github.com/docufort/admitd/internal/domain/service"
	"github.com/docufort/admitd/internal/infrastructure/antispam"
	"github.com/docufort/admitd/internal/infrastructure/audit"
	"github.com/docufort/admitd/internal/infrastructure/engine"
	"github.com/docufort/admitd/internal/infrastructure/monitoring"
	"github.com/docufort/admitd/internal/infrastructure/persistence/gormstore"
	redisstore "github.com/docufort/admitd/internal/infrastructure/persistence/redis"
	"github.com/docufort/admitd/internal/infrastructure/ratelimit"
	"github.com/docufort/admitd/internal/infrastructure/session"
	"github.com/docufort/admitd/internal/infrastructure/transport"
	httpapi "github.com/docufort/admitd/internal/interfaces/http"
	"github.com/docufort/admitd/pkg/constants"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLogger, err := monitoring.NewZapLogger(cfg.Log)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracing, err := monitoring.NewTracingManager(cfg.Tracing, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "failed to initialize tracing", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(shutdownCtx)
	}()

	db, err := gormstore.Open(cfg.Database, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "failed to open user database", err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()
	userStore := gormstore.NewStore(db, time.Minute, appLogger)

	var redisConn *redisstore.Connection
	var persister domainservice.StatePersister
	if cfg.Redis.Enabled {
		redisConn = redisstore.NewConnection(cfg.Redis, appLogger)
		if err := redisConn.Connect(ctx); err != nil {
			appLogger.Fatal(ctx, "failed to connect to redis", err)
		}
		defer redisConn.Close()
		persister = redisstore.NewStateStore(redisConn.Client(), 0, 0, appLogger)
	}

	tiers := cfg.TierPolicy()

	localEngine, err := ratelimit.NewEngine(cfg.RateLimit, tiers.LongestWindow(), appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "failed to build rate limiter", err)
	}
	var limiter domainservice.RateLimitService = localEngine
	if cfg.RateLimit.Distributed {
		policy := constants.FailOpen
		if constants.FailurePolicy(cfg.RateLimit.FailurePolicy) == constants.FailClosed {
			policy = constants.FailClosed
		}
		limiter, err = ratelimit.NewRedisLimiter(redisConn.Client(), cfg.RateLimit, policy, localEngine, appLogger)
		if err != nil {
			appLogger.Fatal(ctx, "failed to build distributed rate limiter", err)
		}
	}

	scorer := antispam.NewScorer(cfg.AntiSpam, persister, appLogger)
	sessions := session.NewStore(cfg.Session, cfg.Admission.MaxPasswordAttempts, persister, appLogger)

	metrics := monitoring.NewMetrics(func() float64 {
		return float64(sessions.ActiveCount())
	})

	var auditSvc domainservice.AuditService = audit.NoopAuditService{}
	if cfg.Kafka.Enabled {
		producer, err := audit.NewKafkaProducer(cfg.Kafka, appLogger)
		if err != nil {
			appLogger.Fatal(ctx, "failed to build kafka audit producer", err)
		}
		auditSvc = producer
	}
	defer auditSvc.Close()

	messaging := transport.NewLogTransport(appLogger)
	documents := engine.NewEcho(0, appLogger)

	admission := appservice.NewAdmissionService(
		cfg.Admission, tiers, userStore, limiter, scorer, sessions,
		documents, messaging, auditSvc, metrics, tracing, appLogger,
	)
	gateway := appservice.NewGateway(admission, messaging, appLogger)

	var cache httpapi.Pinger
	if redisConn != nil {
		cache = redisConn
	}
	health := httpapi.NewHealthHandler(userStore, cache, appLogger)
	admin := httpapi.NewAdminHandler(userStore, scorer, limiter, sessions, tiers, appLogger)
	router := httpapi.NewRouter(cfg.Server, appLogger, health, admin)

	localEngine.StartSweeper(ctx, cfg.RateLimit.SweepInterval)
	scorer.StartSweeper(ctx, cfg.AntiSpam.SweepInterval)
	sessions.StartSweeper(ctx, cfg.Session.SweepInterval)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return gateway.Run(ctx)
	})
	group.Go(func() error {
		return router.Start()
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return router.Stop(shutdownCtx)
	})

	appLogger.Info(ctx, "admitd started")
	if err := group.Wait(); err != nil && err != context.Canceled {
		appLogger.Error(context.Background(), "server exited with error", err)
	}
	appLogger.Info(context.Background(), "admitd stopped")
}
