package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/clipgate/clipgate/internal/actions"
	"github.com/clipgate/clipgate/internal/app"
	"github.com/clipgate/clipgate/internal/audit"
	audithttp "github.com/clipgate/clipgate/internal/audit/http"
	"github.com/clipgate/clipgate/internal/auth"
	"github.com/clipgate/clipgate/internal/idempotency"
	"github.com/clipgate/clipgate/internal/observability"
	"github.com/clipgate/clipgate/internal/platform/cache"
	"github.com/clipgate/clipgate/internal/platform/db"
	"github.com/clipgate/clipgate/internal/provisioning"
	"github.com/clipgate/clipgate/internal/ratelimit"
	"github.com/clipgate/clipgate/internal/site"
	"github.com/clipgate/clipgate/jobs"
	"github.com/clipgate/clipgate/web"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("clipgate exited", slog.Any("error", err))
		os.Exit(1)
	}
}

// stores are the two repositories backed by the configured driver.
type stores struct {
	audit    audit.Repository
	profiles provisioning.Repository
	keys     idempotency.Repository
	close    func()
}

func openStores(ctx context.Context, cfg *app.Config) (stores, error) {
	switch cfg.StoreDriver {
	case app.DriverSQLite:
		handle, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return stores{}, err
		}
		return stores{
			audit:    audit.NewSQLiteRepository(handle),
			profiles: provisioning.NewSQLiteRepository(handle),
			keys:     idempotency.NewSQLiteRepository(handle),
			close:    func() { _ = handle.Close() },
		}, nil
	default:
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return stores{}, err
		}
		if err := db.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return stores{}, err
		}
		return stores{
			audit:    audit.NewPGRepository(pool),
			profiles: provisioning.NewPGRepository(pool),
			keys:     idempotency.NewPGRepository(pool),
			close:    pool.Close,
		}, nil
	}
}

func buildVerifier(ctx context.Context, cfg *app.Config, redisClient *redis.Client, logger *slog.Logger) (auth.Verifier, error) {
	oidcCfg := auth.OIDCConfig{IssuerURL: cfg.AuthIssuerURL, JWKSURL: cfg.AuthJWKSURL, Audience: cfg.AuthAudience}
	var verifier auth.Verifier
	if cfg.AuthMode == "userinfo" {
		v, err := auth.NewUserInfoVerifier(ctx, oidcCfg)
		if err != nil {
			return nil, err
		}
		verifier = v
	} else {
		v, err := auth.NewOIDCVerifier(ctx, oidcCfg)
		if err != nil {
			return nil, err
		}
		verifier = v
	}
	if redisClient != nil && cfg.AuthCacheTTL > 0 {
		verifier = auth.NewCachingVerifier(verifier, redisClient, cfg.AuthCacheTTL, logger)
	}
	return verifier, nil
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	defer st.close()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warn("redis unavailable, principal cache disabled", slog.Any("error", err))
			redisClient = nil
		} else {
			defer func() {
				if err := redisClient.Close(); err != nil {
					logger.Warn("redis close", slog.Any("error", err))
				}
			}()
		}
	}

	verifier, err := buildVerifier(ctx, cfg, redisClient, logger)
	if err != nil {
		return fmt.Errorf("identity provider: %w", err)
	}

	policy, err := ratelimit.ParseFailurePolicy(cfg.RateLimitFailurePolicy)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	auditLog := audit.NewLog(st.audit, audit.WithTimeout(cfg.StoreTimeout))
	limiter := ratelimit.NewService(auditLog, ratelimit.Config{Policy: policy, Logger: logger, Metrics: metrics})
	provisioner := provisioning.NewService(st.profiles, auditLog,
		provisioning.WithTimeout(cfg.StoreTimeout),
		provisioning.WithLogger(logger))

	var emailSink actions.EmailSink = actions.LogEmailSink{Logger: logger}
	if cfg.SendGridAPIKey != "" {
		emailSink = actions.NewSendGridEmailSink(cfg.SendGridAPIKey, cfg.EmailFromName, cfg.EmailFrom)
	}
	var conversionSink actions.ConversionSink = actions.LogConversionSink{Logger: logger}
	var jobHandler *jobs.Handler
	if cfg.ConversionQueue == "asynq" {
		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
		queue := jobs.NewClient(redisOpts)
		defer queue.Close()
		inspector := asynq.NewInspector(redisOpts)
		defer inspector.Close()
		conversionSink = actions.QueueConversionSink{Queue: queue}
		jobHandler = jobs.NewHandler(inspector, logger)
	}
	dispatcher := actions.NewDispatcher(actions.Config{
		Email:      emailSink,
		Conversion: conversionSink,
		Audit:      auditLog,
		Logger:     logger,
		Metrics:    metrics,
	})

	keys := idempotency.NewStore(st.keys, idempotency.WithTimeout(cfg.StoreTimeout))

	content, err := site.LoadContent(web.Content)
	if err != nil {
		return err
	}

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		Gate:                auth.NewGate(verifier, cfg.AuthTimeout, logger),
		Metrics:             metrics,
		RateLimitHandler:    ratelimit.NewHandler(logger, limiter),
		ProvisioningHandler: provisioning.NewHandler(logger, provisioner),
		ActionsHandler:      actions.NewHandler(logger, dispatcher, actions.WithKeyStore(keys)),
		AuditHandler:        audithttp.NewHandler(logger, auditLog),
		SiteHandler:         site.NewHandler(content, cfg.SiteBaseURL, logger),
		JobHandler:          jobHandler,
		RequestLogging:      !cfg.IsProduction(),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("store", cfg.StoreDriver),
			slog.String("rate_limit_failure_policy", string(policy)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		pruneIdempotencyKeys(gctx, keys, cfg.IdempotencyTTL, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// pruneIdempotencyKeys drops expired keys every hour until ctx is done.
func pruneIdempotencyKeys(ctx context.Context, keys *idempotency.Store, ttl time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := keys.Cleanup(ctx, ttl)
			if err != nil {
				logger.Warn("prune idempotency keys", slog.Any("error", err))
				continue
			}
			logger.Debug("pruned idempotency keys", slog.Int64("removed", removed))
		}
	}
}
