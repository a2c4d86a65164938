package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"idcollect/internal/analysis"
	"idcollect/internal/audit"
	"idcollect/internal/bulk"
	"idcollect/internal/email"
	"idcollect/internal/entry"
	jwttoken "idcollect/internal/jwt_token"
	"idcollect/internal/platform/config"
	"idcollect/internal/platform/httpserver"
	"idcollect/internal/platform/logger"
	"idcollect/internal/platform/metrics"
	"idcollect/internal/platform/postgres"
	"idcollect/internal/platform/redis"
	"idcollect/internal/ratelimit"
	"idcollect/internal/secrets"
	"idcollect/internal/token"
	httptransport "idcollect/internal/transport/http"
	"idcollect/internal/verification"
	"idcollect/internal/verifier"
	"idcollect/internal/verifier/providers/datapro"
	"idcollect/internal/verifier/providers/verifydata"
)

// main wires the dependency graph and supervises the long-running pieces:
// the HTTP server, the audit worker, and the bulk runner. Business logic
// lives in the internal services.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	db, err := postgres.Open(cfg.PostgresDSN)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	rdb, err := redis.New(config.RedisFromEnv())
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// Stores fall back to memory when the backing service is not
	// configured, which keeps local development a single binary.
	var entryStore entry.Store
	var auditStore audit.Store
	if db != nil {
		pgEntries := entry.NewPostgresStore(db)
		if err := pgEntries.EnsureSchema(ctx); err != nil {
			return err
		}
		pgAudit := audit.NewPostgresStore(db)
		if err := pgAudit.EnsureSchema(ctx); err != nil {
			return err
		}
		entryStore, auditStore = pgEntries, pgAudit
	} else {
		log.Warn("POSTGRES_DSN not set, using in-memory stores")
		entryStore, auditStore = entry.NewMemoryStore(), audit.NewMemoryStore()
	}

	var tokenStore token.Store
	var analysisCache analysis.Cache
	var limitStore ratelimit.Store
	if rdb != nil {
		tokenStore = token.NewRedisStore(rdb)
		analysisCache = analysis.NewRedisCache(rdb)
		limitStore = ratelimit.NewRedisStore(rdb)
	} else {
		log.Warn("REDIS_URL not set, tokens and analyses are process-local")
		tokenStore = token.NewMemoryStore()
		analysisCache = analysis.NewMemoryCache()
		limitStore = ratelimit.NewMemoryStore()
	}

	gateway, err := secrets.NewGateway(cfg.EncryptionKey, cfg.EncryptionSalt)
	if err != nil {
		return err
	}

	publisher, err := audit.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		return err
	}
	auditOpts := []audit.Option{audit.WithLogger(log)}
	if publisher != nil {
		defer publisher.Close()
		auditOpts = append(auditOpts, audit.WithPublisher(publisher))
	}
	auditor := audit.NewService(auditStore, auditOpts...)
	auditWorker := audit.NewWorker(auditor)

	tokens, err := token.New(tokenStore,
		token.WithLogger(log),
		token.WithTTL(cfg.TokenTTL),
	)
	if err != nil {
		return err
	}

	limiter, err := ratelimit.New(limitStore,
		ratelimit.WithLogger(log),
		ratelimit.WithMetrics(m),
		ratelimit.WithLimit(cfg.RateLimitPerMin, time.Minute),
	)
	if err != nil {
		return err
	}

	adapter, err := verifier.New(map[verifier.IdentityType]verifier.Provider{
		verifier.TypeNIN: datapro.New(cfg.DataproBaseURL, cfg.DataproServiceID),
		verifier.TypeCAC: verifydata.New(cfg.VerifydataBaseURL, cfg.VerifydataSecret),
	},
		verifier.WithLogger(log),
		verifier.WithMetrics(m),
		verifier.WithLimiter(limiter),
		verifier.WithTimeout(cfg.ProviderTimeout),
		verifier.WithRetryPolicy(cfg.ProviderRetries, cfg.ProviderRetryDelay),
	)
	if err != nil {
		return err
	}

	sender := email.LogSender{Logger: log}

	lists, err := entry.NewService(entryStore, tokens, sender, auditor, gateway, cfg.BaseURL,
		entry.WithLogger(log),
		entry.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	verifications, err := verification.New(entryStore, tokens, gateway, adapter, auditor,
		verification.WithLogger(log),
		verification.WithMetrics(m),
		verification.WithMaxAttempts(cfg.MaxAttempts),
	)
	if err != nil {
		return err
	}

	analyses, err := analysis.New(entryStore, analysisCache,
		analysis.WithLogger(log),
		analysis.WithTTL(cfg.AnalysisTTL),
		analysis.WithAuditor(auditor),
	)
	if err != nil {
		return err
	}

	runner, err := bulk.NewRunner(verifications, analyses, entryStore, auditor,
		bulk.WithLogger(log),
		bulk.WithMetrics(m),
		bulk.WithBatchSize(cfg.BatchSize),
		bulk.WithMaxActive(cfg.MaxActiveJobs),
		bulk.WithRetention(cfg.JobRetention),
	)
	if err != nil {
		return err
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:  log,
		Metrics: m,

		Lists:    httptransport.NewListsHandler(lists, log),
		Dispatch: httptransport.NewDispatchHandler(lists, analyses, verifications, log),
		Bulk:     httptransport.NewBulkHandler(analyses, runner, log),
		Public:   httptransport.NewPublicHandler(verifications, log),
		Activity: httptransport.NewActivityHandler(auditor, log),

		JWTValidator: jwttoken.NewJWTService(cfg.JWTSigningKey, "idcollect", "idcollect-admin"),

		PublicLimitStore:     limitStore,
		PublicLimitPerMinute: cfg.PublicPerMin,
	})
	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := auditWorker.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := runner.Shutdown(shutdownCtx); err != nil {
			log.Warn("bulk runner shutdown incomplete", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
