package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"govgate/internal/config"
	"govgate/internal/domain"
	cryptoinfra "govgate/internal/infra/crypto"
	"govgate/internal/infra/db"
	"govgate/internal/infra/filestore"
	httpinfra "govgate/internal/infra/http"
	"govgate/internal/infra/idempotency"
	"govgate/internal/infra/nonce"
	"govgate/internal/infra/policyopa"
	"govgate/internal/infra/ratelimit"
	"govgate/internal/infra/redisclient"
	"govgate/internal/infra/token"
	"govgate/internal/usecase"

	"github.com/redis/go-redis/v9"
)

const idempotencyPurgeInterval = 10 * time.Minute

type stores struct {
	staging     usecase.StagingRepository
	escalations usecase.EscalationRepository
	decisions   usecase.DecisionRepository
	revocations usecase.RevocationRepository
	audit       usecase.AuditEventRepository
}

type application struct {
	cfg    config.Config
	logger *slog.Logger
	server *httpinfra.Server
	stager *usecase.Stager

	db          *db.Store
	redis       *redis.Client
	memoryNonce *nonce.MemoryLedger
	pgIndex     *db.IdempotencyRepository
	watcher     *policyopa.Watcher
}

func build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	app := &application{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			app.close()
		}
	}()

	st, err := app.openStores(cfg)
	if err != nil {
		return nil, err
	}
	if err := app.openRedis(ctx, cfg); err != nil {
		return nil, err
	}

	codec, err := token.NewCodec(token.Config{
		Key:    []byte(cfg.TokenSigningKey),
		Issuer: cfg.TokenIssuer,
		MaxTTL: cfg.TokenMaxTTL,
	})
	if err != nil {
		return nil, err
	}
	signer, err := cryptoinfra.NewHMACSigner([]byte(cfg.DecisionSigningKey))
	if err != nil {
		return nil, err
	}
	cryptoSvc := cryptoinfra.NewService()

	var ledger usecase.NonceLedger
	if cfg.NonceBackend == "redis" {
		ledger = nonce.NewRedisLedger(app.redis, "", nil)
	} else {
		app.memoryNonce = nonce.NewMemoryLedger(nonce.MemoryConfig{MaxEntries: cfg.NonceMaxEntries, Logger: logger})
		ledger = app.memoryNonce
	}

	var index usecase.IdempotencyIndex
	switch cfg.IdempotencyBackend {
	case "redis":
		index = idempotency.NewRedisIndex(app.redis, "", nil)
	case "postgres":
		if !app.db.Enabled() {
			return nil, errors.New("IDEMPOTENCY_BACKEND=postgres requires a postgres store")
		}
		app.pgIndex = db.NewIdempotencyRepository(app.db.DB, nil)
		index = app.pgIndex
	default:
		index = idempotency.NewMemoryIndex(idempotency.MemoryIndexConfig{MaxKeys: cfg.IdempotencyMaxKeys})
	}

	policy, err := app.openPolicy(ctx, cfg)
	if err != nil {
		return nil, err
	}

	audit := usecase.NewAuditEmitter(st.audit, nil)
	registry := usecase.NewRevocationRegistry(st.revocations, audit, nil, logger)
	admission := usecase.NewAdmissionGate(codec, registry, ledger, audit, cfg.NonceTTLPadding, logger)
	app.stager = usecase.NewStager(index, st.staging, cryptoSvc, audit, nil, cfg.IdempotencyWindow, cfg.IdempotencyMinKeyLen, logger)
	queue := usecase.NewEscalationQueue(st.escalations, cryptoSvc, audit, nil, logger)
	binder := usecase.NewDecisionBinder(queue, st.decisions, signer, audit, nil, cfg.EscalationTTL, logger)
	gate := usecase.NewExecutionGate(queue, binder, registry, nil, cfg.EscalationTTL, logger)
	intake := &usecase.IntakePipeline{
		Stager:          app.stager,
		Policy:          policy,
		Escalations:     queue,
		Gate:            gate,
		Executor:        usecase.NewLogExecutor(logger),
		Audit:           audit,
		Logger:          logger,
		ExecutionWindow: cfg.ExecutionReplayWindow,
	}

	app.server = httpinfra.NewServer(cfg, httpinfra.ServerDeps{
		Tokens:      codec,
		Admission:   admission,
		Revocations: registry,
		Intake:      intake,
		Escalations: queue,
		Decisions:   binder,
		Gate:        gate,
		Audit:       audit,
		RateLimiter: app.rateLimiter(cfg),
		Logger:      logger,
	})
	ok = true
	return app, nil
}

func (a *application) openStores(cfg config.Config) (stores, error) {
	if cfg.PostgresDSN != "" {
		store, err := db.NewStore(cfg, a.logger)
		if err != nil {
			return stores{}, err
		}
		a.db = store
		return stores{
			staging:     db.NewStagingRepository(store.DB),
			escalations: db.NewEscalationRepository(store.DB),
			decisions:   db.NewDecisionRepository(store.DB),
			revocations: db.NewRevocationRepository(store.DB),
			audit:       db.NewAuditEventRepository(store.DB),
		}, nil
	}
	fs, err := filestore.Open(cfg.DataDir)
	if err != nil {
		return stores{}, err
	}
	a.logger.Info("file store ready", "data_dir", fs.Dir())
	return stores{
		staging:     fs.Staging(),
		escalations: fs.Escalations(),
		decisions:   fs.Decisions(),
		revocations: fs.Revocations(),
		audit:       fs.Audit(),
	}, nil
}

func (a *application) openRedis(ctx context.Context, cfg config.Config) error {
	needed := cfg.NonceBackend == "redis" || cfg.IdempotencyBackend == "redis" ||
		(cfg.RateLimitRequests > 0 && cfg.RedisAddr != "")
	if !needed {
		return nil
	}
	client, err := redisclient.New(ctx, redisclient.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return err
	}
	a.redis = client
	return nil
}

func (a *application) openPolicy(ctx context.Context, cfg config.Config) (*policyopa.Engine, error) {
	defaults := policyopa.DefaultSettings(cfg.EscalationAmountThreshold)
	settings, err := policyopa.LoadSettings(cfg.EscalationPolicyFile, defaults)
	if err != nil {
		return nil, err
	}
	engine, err := policyopa.NewEngine(ctx, settings)
	if err != nil {
		return nil, err
	}
	if cfg.EscalationPolicyFile != "" {
		a.watcher, err = policyopa.NewWatcher(engine, cfg.EscalationPolicyFile, defaults, a.logger)
		if err != nil {
			return nil, err
		}
	}
	a.logger.Info("escalation policy loaded", "policy_hash", engine.PolicyHash(), "amount_threshold", settings.AmountThreshold)
	return engine, nil
}

func (a *application) rateLimiter(cfg config.Config) domain.RateLimiter {
	if cfg.RateLimitRequests <= 0 {
		return nil
	}
	if a.redis != nil {
		return ratelimit.NewRedisLimiter(a.redis, "", nil)
	}
	return ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{MaxKeys: cfg.RateLimitMaxKeys})
}

// start warms the memory idempotency index, then launches background work
// bound to ctx: the nonce sweeper, the policy watcher and the postgres
// idempotency purge.
func (a *application) start(ctx context.Context) error {
	if a.cfg.IdempotencyBackend == "memory" {
		lookback := max(a.cfg.IdempotencyWindow, a.cfg.ExecutionReplayWindow)
		n, err := a.stager.Warm(ctx, lookback)
		if err != nil {
			return fmt.Errorf("warm idempotency index: %w", err)
		}
		a.logger.Info("idempotency index warmed", "entries", n, "lookback", lookback.String())
	}
	if a.memoryNonce != nil {
		go a.memoryNonce.Run(ctx, a.cfg.NonceSweepInterval)
	}
	if a.watcher != nil {
		go func() {
			if err := a.watcher.Run(ctx); err != nil {
				a.logger.Error("policy watcher stopped", "error", err)
			}
		}()
	}
	if a.pgIndex != nil {
		go a.purgeIdempotency(ctx)
	}
	return nil
}

func (a *application) purgeIdempotency(ctx context.Context) {
	ticker := time.NewTicker(idempotencyPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.pgIndex.Purge(ctx)
			if err != nil {
				a.logger.Warn("idempotency purge failed", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Debug("idempotency keys purged", "count", n)
			}
		}
	}
}

func (a *application) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close postgres", "error", err)
		}
	}
}
