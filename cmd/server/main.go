// Command server runs the formgate metering and quota service: request
// accounting, the sync trigger, quota enforcement, and the public form
// submission endpoint with its abuse gates.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	abuseguard "formgate/internal/abuse/guard"
	"formgate/internal/metering/counter"
	"formgate/internal/metering/metrics"
	syncsvc "formgate/internal/metering/service/sync"
	usagesvc "formgate/internal/metering/service/usage"
	usagestore "formgate/internal/metering/store/usage"
	"formgate/internal/platform/config"
	"formgate/internal/platform/httpserver"
	"formgate/internal/platform/logger"
	platformredis "formgate/internal/platform/redis"
	"formgate/internal/quota/cache"
	quotamw "formgate/internal/quota/middleware"
	quotasvc "formgate/internal/quota/service"
	tenantstore "formgate/internal/tenant/store"
	httptransport "formgate/internal/transport/http"
	"formgate/pkg/platform/audit"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	// Counter store: exactly one provider, the remote one behind a breaker.
	var counters counter.Store
	switch cfg.Provider {
	case config.ProviderRedis:
		client, err := platformredis.New(cfg.Redis)
		if err != nil {
			log.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		counters = counter.NewBreaker(counter.NewRedis(client),
			counter.WithBreakerLogger(log),
			counter.WithBreakerMetrics(m),
			counter.WithFailureThreshold(cfg.Breaker.FailureThreshold),
			counter.WithCooldown(cfg.Breaker.Cooldown),
			counter.WithLogThrottle(cfg.Breaker.LogThrottle),
		)
		log.Info("counter store ready", "provider", "redis")
	default:
		counters = counter.NewLocal()
		log.Info("counter store ready", "provider", "local")
	}

	// Durable stores: Postgres when configured, in-memory otherwise.
	var (
		tenants tenantstore.Store
		usage   usagestore.Store
		db      *sql.DB
	)
	if cfg.PostgresDSN != "" {
		var err error
		db, err = sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		if err := db.Ping(); err != nil {
			log.Error("postgres ping failed", "error", err)
			os.Exit(1)
		}
		tenants = tenantstore.NewPostgres(db)
		usage = usagestore.NewPostgres(db)
		log.Info("durable store ready", "backend", "postgres")
	} else {
		tenants = tenantstore.NewMemory()
		usage = usagestore.NewMemory()
		log.Warn("durable store is in-memory; data will not survive restarts")
	}

	var auditPub audit.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := audit.NewKafkaPublisher(cfg.KafkaBrokers, cfg.AuditTopic, log)
		if err != nil {
			log.Error("kafka publisher failed", "error", err)
			os.Exit(1)
		}
		auditPub = pub
	} else {
		auditPub = audit.NewLogPublisher(log)
	}

	quotaCache := cache.New(cfg.LimitsCacheSize, cfg.LimitsCacheTTL)

	usageService, err := usagesvc.New(counters, usage, tenants,
		usagesvc.WithLogger(log),
		usagesvc.WithMetrics(m),
		usagesvc.WithFlagClearer(quotaCache),
		usagesvc.WithCounterTTL(cfg.CounterTTL),
		usagesvc.WithVerbose(cfg.Verbose),
	)
	if err != nil {
		log.Error("usage service init failed", "error", err)
		os.Exit(1)
	}

	quotaService, err := quotasvc.New(tenants, usageService, quotaCache, counters,
		quotasvc.WithLogger(log),
		quotasvc.WithMetrics(m),
		quotasvc.WithAuditPublisher(auditPub),
	)
	if err != nil {
		log.Error("quota service init failed", "error", err)
		os.Exit(1)
	}

	syncService, err := syncsvc.New(counters, usage, tenants, usageService,
		syncsvc.WithLogger(log),
		syncsvc.WithMetrics(m),
		syncsvc.WithFlagRefresher(quotaService),
	)
	if err != nil {
		log.Error("sync service init failed", "error", err)
		os.Exit(1)
	}

	abuse, err := abuseguard.New(counters, cfg.Abuse,
		abuseguard.WithLogger(log),
		abuseguard.WithMetrics(m),
		abuseguard.WithAuditPublisher(auditPub),
	)
	if err != nil {
		log.Error("abuse guard init failed", "error", err)
		os.Exit(1)
	}

	requestGuard := quotamw.New(quotaService, httptransport.HeaderTenantResolver, log)

	router := httptransport.NewRouter(httptransport.Deps{
		Usage:      usageService,
		Limits:     quotaService,
		Sync:       syncService,
		Abuse:      abuse,
		Recorder:   usageService,
		QuotaGuard: requestGuard,
		SyncSecret: cfg.SyncSecret,
		Logger:     log,
	})

	// Warm the quota cache so the first requests after boot see flags.
	warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := quotaService.RefreshAll(warmCtx); err != nil {
		log.Warn("quota cache warmup failed", "error", err)
	}
	warmCancel()

	srv := httpserver.New(cfg.Addr, router)
	go func() {
		log.Info("formgate listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}

	// Drain detached usage increments before tearing down the backends.
	usageService.Wait()
	auditPub.Close()
	if err := counters.Close(); err != nil {
		log.Warn("counter store close failed", "error", err)
	}
	if db != nil {
		if err := db.Close(); err != nil {
			log.Warn("postgres close failed", "error", err)
		}
	}
}
