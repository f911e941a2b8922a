package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/uavledger/internal/anchor"
	"github.com/jmerrifield20/uavledger/internal/api/handler"
	"github.com/jmerrifield20/uavledger/internal/checkpoint"
	"github.com/jmerrifield20/uavledger/internal/config"
	"github.com/jmerrifield20/uavledger/internal/health"
	"github.com/jmerrifield20/uavledger/internal/journal"
	"github.com/jmerrifield20/uavledger/internal/storage"
	"github.com/jmerrifield20/uavledger/internal/verify"
	"go.uber.org/zap"
)

// app holds the wired pipeline and the resources that need closing.
type app struct {
	store    storage.Store
	layout   storage.Layout
	anchors  *anchor.Client
	journal  journal.Journal
	emitter  *checkpoint.Emitter
	verifier *verify.Verifier
	health   *health.HealthChecker

	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// build selects backends from cfg and wires the pipeline.
func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{layout: cfg.Storage.Layout}
	deps := map[string]health.Pinger{}

	// ── Object storage ───────────────────────────────────────────────────────
	switch cfg.Storage.Backend {
	case config.BackendS3:
		s3, err := storage.NewS3Store(ctx, cfg.Storage.S3, logger)
		if err != nil {
			return nil, fmt.Errorf("object storage: %w", err)
		}
		a.store = s3
		logger.Info("object storage: s3", zap.String("bucket", cfg.Storage.S3.Bucket))
	default:
		a.store = storage.NewMemoryStore(cfg.Storage.S3.Bucket)
		logger.Warn("object storage: memory (set storage.backend=s3 to persist flight logs)")
	}
	deps["storage"] = a.store

	// ── Ledger ───────────────────────────────────────────────────────────────
	var ledger anchor.Ledger
	switch cfg.Ledger.Backend {
	case config.BackendEthereum:
		eth, err := anchor.NewEthereumLedger(ctx, cfg.Ledger.Ethereum, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("ledger: %w", err)
		}
		a.closers = append(a.closers, eth.Close)
		ledger = eth
		logger.Info("ledger: ethereum",
			zap.String("rpc_url", cfg.Ledger.Ethereum.RPCURL),
			zap.String("contract", cfg.Ledger.Ethereum.ContractAddress),
			zap.String("account", eth.Address()),
		)
	default:
		ledger = anchor.NewMemoryLedger(cfg.Ledger.Uploader)
		logger.Warn("ledger: memory (set ledger.backend=ethereum to anchor on chain)")
	}
	a.anchors = anchor.NewClient(ledger, cfg.Ledger.Scheme, cfg.Retry, logger)
	deps["ledger"] = a.anchors

	// ── Journal and run locks ────────────────────────────────────────────────
	var locker journal.Locker = journal.NewMemoryLocker()
	if cfg.Database.URL != "" {
		db, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := db.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")

		a.journal = journal.NewPostgresJournal(db, logger)
		locker = journal.NewPostgresLocker(db, logger)
		deps["database"] = health.PingFunc(db.Ping)
	} else {
		a.journal = journal.NewMemoryJournal()
		logger.Warn("journal: memory (set database.url to persist checkpoint history)")
	}

	if err := a.journal.Verify(ctx); err != nil {
		logger.Warn("checkpoint journal integrity check FAILED", zap.Error(err))
	} else {
		n, _ := a.journal.Len(ctx)
		root, _ := a.journal.Root(ctx)
		logger.Info("checkpoint journal verified", zap.Int("entries", n), zap.String("root", root))
	}

	// ── Pipeline ─────────────────────────────────────────────────────────────
	writer := storage.NewSegmentWriter(a.store, cfg.Retry, logger)
	a.emitter = checkpoint.NewEmitter(writer, a.anchors, a.layout, logger)
	a.emitter.SetJournal(a.journal)
	a.emitter.SetLocker(locker)
	a.emitter.SetMetricsRecorder(handler.RecordRun)

	verifier, err := verify.NewVerifier(a.store, a.anchors, cfg.Verify.CacheSize, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	verifier.SetMetricsRecorder(handler.RecordVerification)
	verifier.SetJournal(a.journal)
	a.verifier = verifier

	// ── Health ───────────────────────────────────────────────────────────────
	probeClient := &http.Client{Timeout: cfg.Health.ProbeTimeout}
	for name, url := range cfg.Health.HTTPProbes {
		deps[name] = health.HTTPProbe{URL: url, Client: probeClient}
	}
	a.health = health.New(deps, cfg.Health.Config, logger)

	return a, nil
}
