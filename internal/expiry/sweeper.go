// Package expiry runs the periodic sweep that moves due plans to expired.
package expiry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/talentgrid/entitlements/internal/metrics"
	"github.com/talentgrid/entitlements/internal/model"
)

const (
	// DefaultInterval is the time between sweeps.
	DefaultInterval = 5 * time.Minute
	// DefaultBatchSize is the number of plans fetched per page.
	DefaultBatchSize = 100
)

// Expirer lists due plans and expires them one at a time.
type Expirer interface {
	DuePlans(ctx context.Context, after *model.Plan, limit int) ([]*model.Plan, error)
	ExpirePlan(ctx context.Context, planID string, reason model.ExpiryReason) (*model.ExpireOutcome, error)
}

// Result summarizes one sweep.
type Result struct {
	Scanned int
	Expired int
	Failed  int
}

// Sweeper expires plans on a fixed interval. A sweep holds no lock across
// plans; each plan is its own atomic step, so an interrupted sweep is simply
// picked up by the next one.
type Sweeper struct {
	expirer   Expirer
	logger    *slog.Logger
	metrics   metrics.Recorder
	interval  time.Duration
	batchSize int
	started   atomic.Bool
}

// NewSweeper creates a Sweeper. Zero interval or batch size fall back to the defaults.
func NewSweeper(expirer Expirer, interval time.Duration, batchSize int, logger *slog.Logger, recorder metrics.Recorder) *Sweeper {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Sweeper{
		expirer:   expirer,
		logger:    logger.With("component", "expiry.sweeper"),
		metrics:   recorder,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run sweeps once immediately, then on every interval until ctx is
// cancelled. A sweep still running when the next tick fires is not
// overlapped; the tick is skipped.
func (s *Sweeper) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("sweeper already started")
	}

	s.logger.Info("expiry sweeper started", "interval", s.interval, "batch_size", s.batchSize)

	s.sweep(ctx)

	logger := cronLogger{logger: s.logger}
	scheduler := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", s.interval), func() { s.sweep(ctx) }); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	scheduler.Start()

	<-ctx.Done()

	s.logger.Info("expiry sweeper stopping")
	<-scheduler.Stop().Done()
	return nil
}

func (s *Sweeper) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := s.SweepOnce(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error("sweep failed", "error", err, "expired", res.Expired, "failed", res.Failed)
		return
	}
	if res.Scanned > 0 {
		s.logger.Info("sweep finished", "scanned", res.Scanned, "expired", res.Expired, "failed", res.Failed)
	}
}

// SweepOnce pages through every due plan and expires it. A plan that fails
// is logged and left for the next sweep; the rest of the page continues.
func (s *Sweeper) SweepOnce(ctx context.Context) (Result, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveSweepDuration(time.Since(start)) }()

	var (
		res   Result
		after *model.Plan
	)
	for {
		plans, err := s.expirer.DuePlans(ctx, after, s.batchSize)
		if err != nil {
			return res, fmt.Errorf("list due plans: %w", err)
		}
		if len(plans) == 0 {
			return res, nil
		}

		for _, plan := range plans {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			res.Scanned++

			outcome, err := s.expirer.ExpirePlan(ctx, plan.ID, model.ExpiryReasonElapsed)
			if err != nil {
				res.Failed++
				s.metrics.IncExpiryFailure()
				s.logger.Warn("plan expiry failed", "plan_id", plan.ID, "tenant_id", plan.TenantID, "error", err)
				continue
			}
			if outcome.Transitioned {
				res.Expired++
			}
		}

		if len(plans) < s.batchSize {
			return res, nil
		}
		after = plans[len(plans)-1]
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
