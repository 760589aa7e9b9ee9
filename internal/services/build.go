package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/artifact"
	"github.com/fyrsmithlabs/remedyd/internal/audit"
	"github.com/fyrsmithlabs/remedyd/internal/batch"
	"github.com/fyrsmithlabs/remedyd/internal/classify"
	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/events"
	"github.com/fyrsmithlabs/remedyd/internal/handlers"
	"github.com/fyrsmithlabs/remedyd/internal/jobs"
	"github.com/fyrsmithlabs/remedyd/internal/logging"
	"github.com/fyrsmithlabs/remedyd/internal/metrics"
	"github.com/fyrsmithlabs/remedyd/internal/pipeline"
	"github.com/fyrsmithlabs/remedyd/internal/store"
)

// BuildOptions are the process-level collaborators Build wires in.
type BuildOptions struct {
	Logger    *zap.Logger
	Publisher events.Publisher
	Metrics   *metrics.Metrics

	// Advancer receives batch decisions. Nil advances jobs in-process
	// through the pipeline.
	Advancer batch.JobAdvancer
}

// Build opens the store and wires every service from cfg. The caller
// closes Store() when done.
func Build(ctx context.Context, cfg *config.Config, o BuildOptions) (Registry, error) {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}

	c, err := classify.Default()
	if cfg.Remediation.CatalogPath != "" {
		c, err = classify.Load(cfg.Remediation.CatalogPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load classification catalog: %w", err)
	}

	reg := handlers.NewDefaultRegistry(cfg.Remediation.DefaultLanguage)
	if report := handlers.CheckCoverage(reg, c); !report.OK() {
		o.Logger.Warn("handler coverage incomplete", zap.Error(report.Err()))
	}

	arts, err := artifact.NewFS(cfg.Artifacts.Root)
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	st, err := store.Open(ctx, store.Config{
		Driver:     cfg.Storage.Driver,
		DSN:        cfg.Storage.DSN.Value(),
		MaxRetries: cfg.Storage.MaxRetries,
	}, o.Logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	o.Logger.Info("job store opened",
		zap.String("driver", cfg.Storage.Driver),
		logging.Secret("dsn", cfg.Storage.DSN))

	auditor := audit.NewRateLimited(audit.NewDocumentAuditor(o.Logger.Named("audit")),
		cfg.Audit.RateLimit, cfg.Audit.Burst)

	p, err := pipeline.Wire(st, arts, auditor, c, reg, pipeline.Options{
		MaxConcurrentPerTenant: cfg.Jobs.MaxConcurrentPerTenant,
		Publisher:              o.Publisher,
		Logger:                 o.Logger,
		Metrics:                o.Metrics,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	sweeper, err := jobs.NewSweeper(p.Jobs, cfg.Jobs.MaxActiveAge, cfg.Jobs.SweepInterval)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	advancer := o.Advancer
	if advancer == nil {
		advancer = p
	}
	agg := batch.New(st, c, advancer,
		batch.WithLogger(o.Logger.Named("batch")),
		batch.WithMetrics(o.Metrics))

	return NewRegistry(Options{
		Store:      st,
		Classifier: c,
		Handlers:   reg,
		Pipeline:   p,
		Batch:      agg,
		Sweeper:    sweeper,
	}), nil
}
