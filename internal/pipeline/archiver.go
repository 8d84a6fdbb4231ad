// Package pipeline runs the background journal maintenance: archiving old
// rows to object storage and pruning them from the database.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/domsync/internal/domain"
)

// Pruner deletes journal rows older than a cutoff.
type Pruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiverConfig tunes an Archiver. With Prune unset rows are archived but
// kept; the next run then uploads them again.
type ArchiverConfig struct {
	Retention time.Duration
	Interval  time.Duration
	Prune     bool
}

// Archiver moves old journal rows to cold storage on a fixed interval.
type Archiver struct {
	archiver domain.Archiver
	pruner   Pruner
	cfg      ArchiverConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(archiver domain.Archiver, pruner Pruner, cfg ArchiverConfig, logger *slog.Logger) *Archiver {
	return &Archiver{
		archiver: archiver,
		pruner:   pruner,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "archiver")),
		now:      time.Now,
	}
}

// Run executes a single archive pass over rows older than the retention
// window. Rows are pruned only after a successful upload.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().UTC().Add(-a.cfg.Retention)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Duration("retention", a.cfg.Retention),
	)

	archived, err := a.archiver.ArchiveJournal(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive journal before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	var pruned int64
	if a.cfg.Prune && archived > 0 && a.pruner != nil {
		pruned, err = a.pruner.DeleteBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("pipeline: prune journal before %s: %w", cutoff.Format(time.RFC3339), err)
		}
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("archived", archived),
		slog.Int64("pruned", pruned),
	)
	return nil
}

// RunEvery runs the archiver immediately and then every Interval until ctx
// is cancelled. A failed run is logged and retried on the next tick.
func (a *Archiver) RunEvery(ctx context.Context) error {
	a.logger.Info("archiver started", slog.Duration("interval", a.cfg.Interval))

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := a.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("archive run failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return nil
		case <-ticker.C:
		}
	}
}
