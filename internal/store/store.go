package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/abay-monitor/internal/database"
	"github.com/smukkama/abay-monitor/internal/series"
)

// SnapshotTable is the durable rolling telemetry snapshot.
const SnapshotTable = "pi_data"

// TableReplacer atomically replaces the contents of a table.
type TableReplacer interface {
	ReplaceTable(ctx context.Context, table string, columns []string, rows [][]any) error
}

// LatestWriter records the most recent value per column. Optional.
type LatestWriter interface {
	Write(ctx context.Context, at time.Time, values map[string]float64) error
}

// Store merges per-point series into one table and publishes the snapshot.
type Store struct {
	db        TableReplacer
	latest    LatestWriter
	retention time.Duration
	logger    *zap.Logger

	mu       sync.RWMutex
	snapshot *series.Table
}

// New creates a store keeping the last retention of rows in the snapshot.
// latest may be nil.
func New(db TableReplacer, latest LatestWriter, retention time.Duration, logger *zap.Logger) *Store {
	return &Store{
		db:        db,
		latest:    latest,
		retention: retention,
		logger:    logger,
	}
}

// Merge outer-joins the series and computes the derived columns. A derive
// failure leaves the derived columns unknown.
func (s *Store) Merge(all []series.Series) *series.Table {
	t := series.Join(all...)
	if err := Derive(t); err != nil {
		s.logger.Warn("Unable to calculate Pmin/Pmax", zap.Error(err))
	}
	return t
}

// Publish replaces the snapshot with the last retention of t and refreshes
// the latest-value cache.
func (s *Store) Publish(ctx context.Context, t *series.Table) error {
	window := t.Tail(s.retention)

	columns, rows := SnapshotRows(window)
	if err := s.db.ReplaceTable(ctx, SnapshotTable, columns, rows); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	s.mu.Lock()
	s.snapshot = window
	s.mu.Unlock()

	s.logger.Info("Snapshot published",
		zap.Int("rows", window.Len()),
		zap.Int("columns", len(columns)-2),
	)

	if s.latest != nil && window.Len() > 0 {
		values := make(map[string]float64)
		for _, name := range window.Columns() {
			if v, ok := window.LastValid(name); ok {
				values[name] = v
			}
		}
		if err := s.latest.Write(ctx, window.Latest(), values); err != nil {
			s.logger.Warn("Failed to update latest values cache", zap.Error(err))
		}
	}
	return nil
}

// Snapshot returns the last published snapshot, nil before the first publish.
func (s *Store) Snapshot() *series.Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// SnapshotRows flattens a table into copy rows: id, timestamp, then one
// column per series named in lower snake case. Missing values become NULL.
func SnapshotRows(t *series.Table) ([]string, [][]any) {
	names := t.Columns()
	columns := make([]string, 0, len(names)+2)
	columns = append(columns, "id", "timestamp")
	for _, name := range names {
		columns = append(columns, ColumnName(name))
	}

	times := t.Times()
	rows := make([][]any, len(times))
	for i, ts := range times {
		row := make([]any, 0, len(columns))
		row = append(row, i, ts)
		for _, name := range names {
			row = append(row, database.NullFloat(t.Value(name, i)))
		}
		rows[i] = row
	}
	return columns, rows
}

// ColumnName maps a series name to its database column.
func ColumnName(name string) string {
	return strings.ToLower(name)
}
