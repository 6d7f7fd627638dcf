// Package ingest runs the one-minute collection and alerting cycle.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smukkama/abay-monitor/internal/metrics"
	"github.com/smukkama/abay-monitor/internal/notification"
	"github.com/smukkama/abay-monitor/internal/pi"
	"github.com/smukkama/abay-monitor/internal/series"
)

// ErrNoData is returned when no point could be fetched.
var ErrNoData = errors.New("ingest: no telemetry fetched")

// Store merges fetched series and publishes the snapshot.
type Store interface {
	Merge(all []series.Series) *series.Table
	Publish(ctx context.Context, t *series.Table) error
}

// Evaluator raises and retires alarms from a window of telemetry.
type Evaluator interface {
	Evaluate(ctx context.Context, points []pi.Point, window *series.Table, now time.Time) error
}

// Dispatcher delivers unsent alarms.
type Dispatcher interface {
	Dispatch(ctx context.Context) (notification.Summary, error)
}

// Options are the cycle's time spans.
type Options struct {
	Lookback time.Duration // telemetry fetched per cycle
	Window   time.Duration // trailing span evaluated for alarms
	Workers  int           // concurrent point fetches
}

// Cycle fetches every point, filters outliers, publishes the snapshot,
// evaluates alarms on the trailing window and dispatches notifications.
type Cycle struct {
	fetcher    pi.Fetcher
	points     []pi.Point
	filter     *series.OutlierFilter
	store      Store
	evaluator  Evaluator
	dispatcher Dispatcher
	opts       Options
	logger     *zap.Logger
	now        func() time.Time
}

func NewCycle(fetcher pi.Fetcher, points []pi.Point, filter *series.OutlierFilter, store Store,
	evaluator Evaluator, dispatcher Dispatcher, opts Options, logger *zap.Logger) *Cycle {
	return &Cycle{
		fetcher:    fetcher,
		points:     points,
		filter:     filter,
		store:      store,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// Run performs one cycle. Failures of single points or alarms are logged;
// errors returned are failures of the cycle itself.
func (c *Cycle) Run(ctx context.Context) error {
	logger := c.logger.With(zap.String("cycle_id", uuid.NewString()))
	now := c.now().UTC()

	collected := c.collect(ctx, logger, now)
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(collected) == 0 {
		return ErrNoData
	}

	table := c.store.Merge(collected)
	if err := c.store.Publish(ctx, table); err != nil {
		return err
	}

	var errs []error
	window := table.Tail(c.opts.Window)
	if err := c.evaluator.Evaluate(ctx, c.points, window, now); err != nil {
		errs = append(errs, fmt.Errorf("alarm evaluation failed: %w", err))
	}

	// Dispatch even after an evaluation failure so earlier alarms go out.
	if _, err := c.dispatcher.Dispatch(ctx); err != nil {
		errs = append(errs, err)
	}

	logger.Info("Ingest cycle complete",
		zap.Int("points", len(collected)),
		zap.Int("rows", table.Len()),
		zap.Int("window_rows", window.Len()),
	)
	return errors.Join(errs...)
}

func (c *Cycle) collect(ctx context.Context, logger *zap.Logger, now time.Time) []series.Series {
	results := fetchAll(ctx, c.fetcher, c.points, now.Add(-c.opts.Lookback), now, c.opts.Workers)
	if ctx.Err() != nil {
		return nil
	}

	collected := make([]series.Series, 0, len(c.points))
	for i, r := range results {
		p := c.points[i]
		if r.err != nil {
			metrics.IncFetchFailure(p.Column())
			logger.Warn("Failed to fetch point", zap.Stringer("point", p), zap.Error(r.err))
			continue
		}

		filtered, removed := c.filter.Apply(r.series)
		metrics.AddOutliersRemoved(r.series.Name, removed)
		collected = append(collected, filtered)
	}
	return collected
}
