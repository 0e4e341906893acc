package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DraftPurger deletes drafts older than maxAge and reports how many went.
type DraftPurger interface {
	DeleteOldDrafts(ctx context.Context, maxAge time.Duration) (int, error)
}

type DraftSweepConfig struct {
	Spec    string
	MaxAge  time.Duration
	Timeout time.Duration
	Logger  *slog.Logger
}

// DraftSweep runs the old-draft purge on a cron schedule.
type DraftSweep struct {
	purger  DraftPurger
	cfg     DraftSweepConfig
	cron    *cron.Cron
	entryID cron.EntryID
}

func NewDraftSweep(purger DraftPurger, cfg DraftSweepConfig) (*DraftSweep, error) {
	if cfg.Spec == "" {
		cfg.Spec = "@every 1h"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	sweep := &DraftSweep{
		purger: purger,
		cfg:    cfg,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	id, err := sweep.cron.AddFunc(cfg.Spec, func() {
		_, _ = sweep.RunOnce(context.Background())
	})
	if err != nil {
		return nil, err
	}
	sweep.entryID = id
	return sweep, nil
}

// RunOnce performs a single sweep.
func (s *DraftSweep) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	started := time.Now()
	deleted, err := s.purger.DeleteOldDrafts(ctx, s.cfg.MaxAge)
	if err != nil {
		s.cfg.Logger.Error("draft sweep failed", slog.Any("error", err))
		return deleted, err
	}
	if deleted > 0 {
		s.cfg.Logger.Info("draft sweep",
			slog.Int("deleted", deleted),
			slog.Duration("max_age", s.cfg.MaxAge),
			slog.Duration("duration", time.Since(started)))
	}
	return deleted, nil
}

func (s *DraftSweep) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running sweep to finish or ctx to end.
func (s *DraftSweep) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Next reports when the sweep fires next. Zero before Start.
func (s *DraftSweep) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}
