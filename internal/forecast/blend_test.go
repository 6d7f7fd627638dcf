package forecast

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/abay-monitor/internal/pi"
	"github.com/smukkama/abay-monitor/internal/series"
)

var issued = time.Date(2024, 7, 3, 12, 0, 0, 0, time.UTC)

func hydroIssue(at time.Time, hours int) Issue {
	issue := Issue{Issued: at}
	for h := 1; h <= hours; h++ {
		issue.Rows = append(issue.Rows, HydroRow{GMT: at.Add(time.Duration(h) * time.Hour), R20: 100, R30: 50, R4: 126, R11: 200})
	}
	return issue
}

func samples(name string, start time.Time, step time.Duration, values ...float64) series.Series {
	s := series.Series{Name: name}
	for i, v := range values {
		s.Samples = append(s.Samples, series.Sample{Time: start.Add(time.Duration(i) * step), Value: v})
	}
	return s
}

func observedAt(t0 time.Time, elevations ...float64) *series.Table {
	n := len(elevations)
	constant := func(v float64) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = v
		}
		return out
	}
	return series.Join(
		samples(pi.ColAfterbayElevation, t0, 30*time.Minute, elevations...),
		samples(pi.ColOxbowPower, t0, 30*time.Minute, constant(0)...),
		samples(pi.ColGenMFRA, t0, 30*time.Minute, constant(0)...),
		samples(pi.ColAfterbaySetpoint, t0, 30*time.Minute, constant(1172)...),
		samples(pi.ColHellHoleElevation, t0, 30*time.Minute, constant(3536)...),
		samples(pi.ColR5Flow, t0, 30*time.Minute, constant(10)...),
	)
}

func TestConversions_ZeroGenerationMeansZeroFlow(t *testing.T) {
	assert.Equal(t, 0.0, RAInflow(0))
	assert.Equal(t, 0.0, MFInflow(0))
	assert.Equal(t, 0.0, OxbowOutflow(0))
	assert.InDelta(t, 247.686, OxbowOutflow(1), 1e-9)
	assert.True(t, math.IsNaN(RAInflow(math.NaN())))
}

func TestSplitGeneration(t *testing.T) {
	ra, mf := SplitGeneration(100)
	assert.InDelta(t, 41, ra, 1e-9)
	assert.InDelta(t, 59, mf, 1e-9)

	ra, mf = SplitGeneration(300)
	assert.Equal(t, 86.0, ra)
	assert.Equal(t, 128.0, mf)

	ra, mf = SplitGeneration(math.NaN())
	assert.True(t, math.IsNaN(ra))
	assert.True(t, math.IsNaN(mf))
}

func TestBiasCorrection_ResidualsMeanZeroOverOverlap(t *testing.T) {
	forecast := []float64{1, 3, math.NaN(), 4, 10}
	observed := []float64{0, 0, 5, math.NaN(), 6}

	bias := BiasCorrection(forecast, observed)
	assert.InDelta(t, (1.0+3+4)/3, bias, 1e-9)

	var sum float64
	for _, i := range []int{0, 1, 4} {
		sum += (forecast[i] - bias) - observed[i]
	}
	assert.InDelta(t, 0, sum/3, 1e-9)
}

func TestBiasCorrection_NoOverlapIsZero(t *testing.T) {
	assert.Equal(t, 0.0, BiasCorrection([]float64{1, 2}, []float64{math.NaN(), math.NaN()}))
	assert.Equal(t, 0.0, BiasCorrection(nil, nil))
}

func TestEnvelope(t *testing.T) {
	pmin, pmax := Envelope(126, 3536, 10)
	assert.InDelta(t, 9, pmin, 1e-9)
	assert.InDelta(t, 197.712196, pmax, 1e-6)

	pmin, pmax = Envelope(math.NaN(), 3536, 10)
	assert.True(t, math.IsNaN(pmin))
	assert.True(t, math.IsNaN(pmax))
}

func TestLatest_PicksMostRecentIssue(t *testing.T) {
	older := hydroIssue(issued.Add(-6*time.Hour), 1)
	newer := hydroIssue(issued, 1)

	got, ok := Latest([]Issue{newer, older})
	require.True(t, ok)
	assert.True(t, got.Issued.Equal(issued))

	_, ok = Latest(nil)
	assert.False(t, ok)
}

func TestBlend_NoIssues(t *testing.T) {
	result, err := Blend(nil, series.Series{}, nil)
	assert.ErrorIs(t, err, ErrNoForecast)
	assert.Nil(t, result)
}

func TestBlend_MissingGenerationKeepsHydroRows(t *testing.T) {
	result, err := Blend([]Issue{hydroIssue(issued, 3)}, series.Series{}, observedAt(issued, 1170))
	assert.ErrorIs(t, err, ErrNoGeneration)
	require.NotNil(t, result)
	require.Len(t, result.Rows, 3)
	for _, r := range result.Rows {
		assert.Equal(t, 126.0, r.R4)
		assert.True(t, series.IsMissing(r.OxbowGeneration))
		assert.True(t, series.IsMissing(r.AfterbayElevation))
	}
}

func TestBlend_MissingObservations(t *testing.T) {
	gen := samples(pi.ColOxbowGenForecast, issued.Add(30*time.Minute), time.Hour, 10, 10)
	result, err := Blend([]Issue{hydroIssue(issued, 2)}, gen, nil)
	assert.ErrorIs(t, err, ErrNoObservations)
	require.NotNil(t, result)
	assert.Len(t, result.Rows, 2)
}

func TestBlend_ProjectsAfterbay(t *testing.T) {
	// Forecast hours 13:00..16:00, zero generation everywhere.
	gen := samples(pi.ColOxbowGenForecast, issued.Add(30*time.Minute), time.Hour, 0, 0, 0, 0)
	// Observations at 12:10, 12:40 (13:00 bucket) and 13:10 (14:00 bucket).
	observed := observedAt(issued.Add(10*time.Minute), 1170, 1170, 1171)

	result, err := Blend([]Issue{hydroIssue(issued, 4)}, gen, observed)
	require.NoError(t, err)
	require.Len(t, result.Rows, 4)

	net := (0 + (100 + 154.0) + 50) * cfsToAFPerHr
	observedChange := ElevationToAcreFeet(1171) - ElevationToAcreFeet(1170)
	assert.InDelta(t, net-observedChange, result.Bias, 1e-6)

	for i, r := range result.Rows {
		assert.True(t, r.GMT.Equal(issued.Add(time.Duration(i+1)*time.Hour)))
		assert.Equal(t, 0.0, r.RAInflow)
		assert.Equal(t, 0.0, r.MFInflow)
		assert.Equal(t, 0.0, r.OxbowOutflow)
		assert.InDelta(t, 254, r.R20Adjusted, 1e-9)
		assert.InDelta(t, net, r.NetAcreFeet, 1e-9)
		assert.LessOrEqual(t, r.AfterbayElevation, 1172.0)
		assert.InDelta(t, 9, r.Pmin, 1e-9)
	}

	// Integration starts from the first observed storage and, after bias
	// removal, reproduces the observed change over the overlap.
	assert.InDelta(t, ElevationToAcreFeet(1170), result.Rows[0].AfterbayAcreFeet, 1e-6)
	assert.InDelta(t, ElevationToAcreFeet(1171), result.Rows[1].AfterbayAcreFeet, 1e-6)
	assert.InDelta(t, 1171.005, result.Rows[1].AfterbayElevation, 1e-3)
	assert.Greater(t, result.Rows[3].AfterbayAcreFeet, result.Rows[2].AfterbayAcreFeet)
}

func TestBlend_GenerationOnlyHoursAreMerged(t *testing.T) {
	gen := samples(pi.ColOxbowGenForecast, issued.Add(30*time.Minute), time.Hour, 5, 5, 5)
	observed := observedAt(issued.Add(10*time.Minute), 1170)

	result, err := Blend([]Issue{hydroIssue(issued, 1)}, gen, observed)
	require.NoError(t, err)
	require.Len(t, result.Rows, 3)
	assert.Equal(t, 126.0, result.Rows[0].R4)
	assert.True(t, series.IsMissing(result.Rows[2].R4))
	assert.True(t, series.IsMissing(result.Rows[2].NetAcreFeet))
	assert.True(t, result.Rows[2].Issued.Equal(issued))
}
