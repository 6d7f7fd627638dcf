package series

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var base = time.Date(2024, 7, 3, 14, 0, 0, 0, time.UTC)

func minuteSeries(name string, values ...float64) Series {
	s := Series{Name: name}
	for i, v := range values {
		s.Samples = append(s.Samples, Sample{Time: base.Add(time.Duration(i) * time.Minute), Value: v})
	}
	return s
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestDropOutliers_ConstantSeriesUnchanged(t *testing.T) {
	for _, z := range []float64{0.1, 1, 3, 10} {
		s := minuteSeries("R4_Flow", repeat(80, 30)...)

		out, removed, err := DropOutliers(s, z)

		require.NoError(t, err)
		assert.Equal(t, 0, removed)
		assert.Equal(t, s.Samples, out.Samples, "z=%v", z)
	}
}

func TestDropOutliers_ConstantWithMissingUnchanged(t *testing.T) {
	values := repeat(80, 20)
	values[3] = Missing()
	values[11] = Missing()
	s := minuteSeries("R4_Flow", values...)

	out, removed, err := DropOutliers(s, 0.5)

	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.Len(t, out.Samples, 20)
}

func TestDropOutliers_RemovesSingleSpike(t *testing.T) {
	values := make([]float64, 60)
	for i := range values {
		values[i] = 80 + float64(i%3)*0.5
	}
	values[30] = 150
	s := minuteSeries("R4_Flow", values...)

	out, removed, err := DropOutliers(s, 3)

	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	require.Len(t, out.Samples, 59)
	for _, sample := range out.Samples {
		assert.False(t, sample.Time.Equal(base.Add(30*time.Minute)), "spike should be removed")
		assert.Less(t, sample.Value, 100.0)
	}
}

func TestDropOutliers_MissingValuesStayInPlace(t *testing.T) {
	values := repeat(80, 40)
	values[5] = Missing()
	values[20] = 400
	s := minuteSeries("R11_Flow", values...)

	out, removed, err := DropOutliers(s, 3)

	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	require.Len(t, out.Samples, 39)
	assert.True(t, IsMissing(out.Samples[5].Value))
	assert.True(t, out.Samples[5].Time.Equal(base.Add(5*time.Minute)))
}

func TestDropOutliers_AllMissing(t *testing.T) {
	s := minuteSeries("R30_Flow", Missing(), Missing())

	out, removed, err := DropOutliers(s, 3)

	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.Len(t, out.Samples, 2)
}

func TestDropOutliers_NonFiniteIsError(t *testing.T) {
	s := minuteSeries("Oxbow_Power", 1, math.Inf(1), 2)

	_, _, err := DropOutliers(s, 3)

	assert.ErrorIs(t, err, ErrNonFinite)
}

func TestOutlierFilter_ApplyKeepsSeriesOnError(t *testing.T) {
	f := NewOutlierFilter(3, zap.NewNop())
	s := minuteSeries("Oxbow_Power", 1, math.Inf(1), 2)

	out, removed := f.Apply(s)

	assert.Equal(t, 0, removed)
	assert.Equal(t, s, out)
}
