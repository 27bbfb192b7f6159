package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"namedir/internal/audit"
	"namedir/internal/chain"
	dirmetrics "namedir/internal/directory/metrics"
	dirservice "namedir/internal/directory/service"
	dirstore "namedir/internal/directory/store"
	dirmemory "namedir/internal/directory/store/memory"
	dirpostgres "namedir/internal/directory/store/postgres"
	"namedir/internal/platform/config"
	"namedir/internal/platform/httpserver"
	"namedir/internal/platform/logger"
	"namedir/internal/platform/metrics"
	"namedir/internal/platform/postgres"
	platformredis "namedir/internal/platform/redis"
	"namedir/internal/reconciler"
	reconmetrics "namedir/internal/reconciler/metrics"
	recmetrics "namedir/internal/recovery/metrics"
	recservice "namedir/internal/recovery/service"
	recstore "namedir/internal/recovery/store"
	recmemory "namedir/internal/recovery/store/memory"
	recpostgres "namedir/internal/recovery/store/postgres"
	recredis "namedir/internal/recovery/store/redis"
	"namedir/internal/registry"
	"namedir/internal/token"
	httptransport "namedir/internal/transport/http"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	var directoryStore dirstore.Store = dirmemory.New()
	var requestStore recstore.RequestStore = recmemory.New()
	if db != nil {
		defer func() { _ = db.Close() }()
		if err := postgres.ApplySchema(ctx, db, dirpostgres.Schema, recpostgres.Schema); err != nil {
			log.Error("schema migration failed", "error", err)
			os.Exit(1)
		}
		directoryStore = dirpostgres.New(db)
		requestStore = recpostgres.New(db)
	} else {
		log.Warn("no database configured, directory and recovery state is in-memory")
	}

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	var nonceStore recstore.NonceStore = recmemory.NewNonceStore()
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		nonceStore = recredis.NewNonceStore(redisClient.Client)
	} else {
		log.Warn("no redis configured, nonce replay protection is per-replica")
	}

	var sink audit.Sink = audit.NewMemorySink()
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink, err := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.AuditTopic)
		if err != nil {
			log.Error("kafka connection failed", "error", err)
			os.Exit(1)
		}
		defer kafkaSink.Close()
		sink = kafkaSink
	} else {
		log.Warn("no kafka brokers configured, audit events stay in-process")
	}
	auditor := audit.NewPublisher(sink, audit.WithLogger(log))

	tokens, err := token.NewService(cfg.JWTSigningKey, "namedir", "namedir-api")
	if err != nil {
		log.Error("token service init failed", "error", err)
		os.Exit(1)
	}

	dir, err := dirservice.New(directoryStore,
		dirservice.WithLogger(log),
		dirservice.WithMetrics(dirmetrics.New()))
	if err != nil {
		log.Error("directory service init failed", "error", err)
		os.Exit(1)
	}

	chainClient := chain.Dial(cfg.ChainRPCURL)
	adapter, err := registry.New(chainClient, dir, registry.WithLogger(log))
	if err != nil {
		log.Error("registry adapter init failed", "error", err)
		os.Exit(1)
	}

	rec, err := recservice.New(requestStore, nonceStore, adapter, dir,
		recservice.WithLogger(log),
		recservice.WithMetrics(recmetrics.New()),
		recservice.WithAuditor(auditor),
		recservice.WithChallengeTTL(cfg.ChallengeTTL))
	if err != nil {
		log.Error("recovery service init failed", "error", err)
		os.Exit(1)
	}

	recon, err := reconciler.New(adapter, dir, reconciler.NewScanner(chainClient),
		reconciler.WithLogger(log),
		reconciler.WithMetrics(reconmetrics.New()),
		reconciler.WithAuditor(auditor),
		reconciler.WithInterval(cfg.ReconcileInterval),
		reconciler.WithParallelism(cfg.ReconcileParallelism),
		reconciler.WithStartBlock(cfg.StartBlock))
	if err != nil {
		log.Error("reconciler init failed", "error", err)
		os.Exit(1)
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:    log,
		Metrics:   metrics.New(),
		Directory: dir,
		Recovery:  rec,
		Sweeper:   recon,
		Validator: tokens,
	})
	srv := httpserver.New(cfg.HTTPAddr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting namedir", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return recon.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	log.Info("namedir stopped")
}
