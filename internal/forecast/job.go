package forecast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/abay-monitor/internal/database"
	"github.com/smukkama/abay-monitor/internal/pi"
	"github.com/smukkama/abay-monitor/internal/series"
	"github.com/smukkama/abay-monitor/pkg/config"
)

// Table holds the most recent blended forecast.
const Table = "forecast_data"

// Store persists the forecast table.
type Store interface {
	LatestForecastIssued(ctx context.Context) (*time.Time, error)
	ReplaceTable(ctx context.Context, table string, columns []string, rows [][]any) error
}

// SnapshotSource exposes the observed telemetry snapshot.
type SnapshotSource interface {
	Snapshot() *series.Table
}

// Job refreshes the forecast table.
type Job struct {
	issues    IssueSource
	pi        pi.Fetcher
	snapshot  SnapshotSource
	store     Store
	freshness time.Duration
	lookback  time.Duration
	horizon   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewJob(issues IssueSource, fetcher pi.Fetcher, snapshot SnapshotSource, store Store,
	cnrfc *config.CNRFCConfig, piCfg *config.PIConfig, logger *zap.Logger) *Job {
	return &Job{
		issues:    issues,
		pi:        fetcher,
		snapshot:  snapshot,
		store:     store,
		freshness: cnrfc.Freshness,
		lookback:  piCfg.Lookback,
		horizon:   piCfg.ForecastHorizon,
		logger:    logger,
		now:       time.Now,
	}
}

// Run downloads the hydrologic forecast, blends it with the generation
// forecast and observations, and replaces the forecast table. It does
// nothing while the stored forecast is fresher than the configured age.
func (j *Job) Run(ctx context.Context) error {
	now := j.now().UTC()

	latest, err := j.store.LatestForecastIssued(ctx)
	if err != nil {
		j.logger.Warn("Unable to read forecast age", zap.Error(err))
	} else if latest != nil && now.Sub(*latest) < j.freshness {
		j.logger.Debug("Forecast is fresh, skipping",
			zap.Time("forecast_issued", *latest),
			zap.Duration("age", now.Sub(*latest)),
		)
		return nil
	}

	issues, err := j.issues.FetchAll(ctx, now)
	switch {
	case errors.Is(err, ErrNoForecast):
		j.logger.Warn("No CNRFC forecast available, storing empty frame")
		issues = []Issue{EmptyIssue(now)}
	case err != nil:
		return fmt.Errorf("failed to fetch CNRFC forecast: %w", err)
	}

	generation, err := j.pi.Fetch(ctx, pi.GenerationForecastPoint(), now.Add(-j.lookback), now.Add(j.horizon))
	if err != nil {
		j.logger.Warn("Failed to fetch generation forecast", zap.Error(err))
	}

	var observed *series.Table
	if j.snapshot != nil {
		observed = j.snapshot.Snapshot()
	}

	result, err := Blend(issues, generation, observed)
	if err != nil {
		if result == nil {
			return err
		}
		j.logger.Warn("Afterbay forecast could not be created", zap.Error(err))
	}

	columns, rows := Rows(result)
	if err := j.store.ReplaceTable(ctx, Table, columns, rows); err != nil {
		return fmt.Errorf("failed to store forecast: %w", err)
	}

	j.logger.Info("Forecast stored",
		zap.Time("forecast_issued", result.Issued),
		zap.Int("rows", len(rows)),
		zap.Float64("bias_af", result.Bias),
	)
	return nil
}

// Columns of the forecast table.
var Columns = []string{
	"id", "gmt", "forecast_issued",
	"r20_forecast", "r30_forecast", "r4_forecast", "r11_forecast",
	"oxbow_forecasted_generation", "ra_mw", "mf_mw",
	"ra_inflow", "mf_inflow", "oxbow_outflow", "r20_adjusted", "inflow",
	"net_acre_feet", "bias_corrected_acre_feet", "afterbay_acre_feet", "afterbay_elevation",
	"pmin", "pmax",
}

// Rows flattens a result into table rows. Unknown values become NULL.
func Rows(result *Result) ([]string, [][]any) {
	var issued any
	if !result.Issued.IsZero() {
		issued = result.Issued
	}

	rows := make([][]any, len(result.Rows))
	for i, r := range result.Rows {
		corrected := r.NetAcreFeet - result.Bias
		rows[i] = []any{
			i, r.GMT, issued,
			database.NullFloat(r.R20), database.NullFloat(r.R30),
			database.NullFloat(r.R4), database.NullFloat(r.R11),
			database.NullFloat(r.OxbowGeneration),
			database.NullFloat(r.RAMW), database.NullFloat(r.MFMW),
			database.NullFloat(r.RAInflow), database.NullFloat(r.MFInflow),
			database.NullFloat(r.OxbowOutflow), database.NullFloat(r.R20Adjusted),
			database.NullFloat(r.Inflow),
			database.NullFloat(r.NetAcreFeet), database.NullFloat(corrected),
			database.NullFloat(r.AfterbayAcreFeet), database.NullFloat(r.AfterbayElevation),
			database.NullFloat(r.Pmin), database.NullFloat(r.Pmax),
		}
	}
	return Columns, rows
}
