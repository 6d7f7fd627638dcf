package store

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/abay-monitor/internal/pi"
	"github.com/smukkama/abay-monitor/internal/series"
)

var base = time.Date(2024, 7, 3, 14, 0, 0, 0, time.UTC)

func seriesOf(name string, values ...float64) series.Series {
	s := series.Series{Name: name}
	for i, v := range values {
		s.Samples = append(s.Samples, series.Sample{Time: base.Add(time.Duration(i) * time.Minute), Value: v})
	}
	return s
}

type fakeReplacer struct {
	table   string
	columns []string
	rows    [][]any
	err     error
}

func (f *fakeReplacer) ReplaceTable(_ context.Context, table string, columns []string, rows [][]any) error {
	if f.err != nil {
		return f.err
	}
	f.table, f.columns, f.rows = table, columns, rows
	return nil
}

func TestEnvelope_MoreRestrictiveBoundWins(t *testing.T) {
	pmin, pmax := Envelope(100, 3536)
	assert.InDelta(t, 9.0, pmin, 1e-9)
	assert.InDelta(t, 201.8234, pmax, 1e-9)

	// Negative differential: the Hell Hole term dominates the minimum.
	pmin, _ = Envelope(-50, 3536)
	assert.InDelta(t, 3.5, pmin, 1e-9)
}

func TestEnvelope_MissingHellHoleUsesRemainingCandidate(t *testing.T) {
	pmin, _ := Envelope(100, math.NaN())
	assert.InDelta(t, 9.0, pmin, 1e-9)

	pmin, pmax := Envelope(math.NaN(), 3536)
	assert.True(t, math.IsNaN(pmin))
	assert.True(t, math.IsNaN(pmax))
}

func TestDerive_MissingInputColumn(t *testing.T) {
	table := series.Join(seriesOf(pi.ColR4Flow, 100, 110), seriesOf(pi.ColR5Flow, 0, 0))

	err := Derive(table)

	require.Error(t, err)
	require.True(t, table.Has(ColPmin))
	for _, v := range table.Column(ColPmin) {
		assert.True(t, math.IsNaN(v))
	}
	for _, v := range table.Column(ColPmax) {
		assert.True(t, math.IsNaN(v))
	}
}

func TestMerge_ComputesDerivedColumns(t *testing.T) {
	s := New(&fakeReplacer{}, nil, 24*time.Hour, zap.NewNop())

	table := s.Merge([]series.Series{
		seriesOf(pi.ColR4Flow, 100, 100),
		seriesOf(pi.ColR5Flow, 0, 0),
		seriesOf(pi.ColHellHoleElevation, 3536, 3536),
	})

	assert.Equal(t, 2, table.Len())
	assert.InDelta(t, 9.0, table.Value(ColPmin, 1), 1e-9)
}

func TestPublish_ReplacesSnapshotWithRetainedWindow(t *testing.T) {
	replacer := &fakeReplacer{}
	s := New(replacer, nil, 2*time.Minute, zap.NewNop())
	table := series.Join(seriesOf(pi.ColR4Flow, 1, 2, 3, math.NaN()))

	require.NoError(t, s.Publish(context.Background(), table))

	assert.Equal(t, SnapshotTable, replacer.table)
	assert.Equal(t, []string{"id", "timestamp", "r4_flow"}, replacer.columns)
	require.Len(t, replacer.rows, 2)
	assert.Equal(t, 0, replacer.rows[0][0])
	assert.Equal(t, base.Add(2*time.Minute), replacer.rows[0][1])
	assert.Equal(t, 3.0, replacer.rows[0][2])
	assert.Nil(t, replacer.rows[1][2])

	require.NotNil(t, s.Snapshot())
	assert.Equal(t, 2, s.Snapshot().Len())
}

func TestPublish_PropagatesReplaceError(t *testing.T) {
	s := New(&fakeReplacer{err: errors.New("disk full")}, nil, time.Hour, zap.NewNop())

	err := s.Publish(context.Background(), series.Join(seriesOf(pi.ColR4Flow, 1)))
	assert.ErrorContains(t, err, "disk full")
	assert.Nil(t, s.Snapshot())
}

func TestPublish_WritesLatestValues(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cache := NewLatestCache(client, time.Hour)
	s := New(&fakeReplacer{}, cache, time.Hour, zap.NewNop())
	table := series.Join(
		seriesOf(pi.ColR4Flow, 80, 81, math.NaN()),
		seriesOf(pi.ColAfterbayElevation, 1170, 1170.5, 1171),
	)

	require.NoError(t, s.Publish(context.Background(), table))

	at, values, err := cache.Read(context.Background())
	require.NoError(t, err)
	assert.True(t, at.Equal(base.Add(2*time.Minute)))
	assert.Equal(t, 81.0, values[pi.ColR4Flow])
	assert.Equal(t, 1171.0, values[pi.ColAfterbayElevation])
	assert.True(t, mr.TTL(latestKey) > 0)
}
