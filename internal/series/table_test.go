package series

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoin_OuterJoinsOnTimestamp(t *testing.T) {
	a := Series{Name: "R4_Flow", Samples: []Sample{
		{Time: base, Value: 1},
		{Time: base.Add(2 * time.Minute), Value: 3},
	}}
	b := Series{Name: "R5_Flow", Samples: []Sample{
		{Time: base.Add(time.Minute), Value: 20},
		{Time: base.Add(2 * time.Minute), Value: 30},
	}}

	table := Join(a, b)

	require.Equal(t, 3, table.Len())
	assert.Equal(t, []string{"R4_Flow", "R5_Flow"}, table.Columns())
	assert.Equal(t, 1.0, table.Value("R4_Flow", 0))
	assert.True(t, IsMissing(table.Value("R4_Flow", 1)))
	assert.True(t, IsMissing(table.Value("R5_Flow", 0)))
	assert.Equal(t, 30.0, table.Value("R5_Flow", 2))
}

func TestJoin_TimesStrictlyIncreasing(t *testing.T) {
	s := Series{Name: "R4_Flow", Samples: []Sample{
		{Time: base.Add(2 * time.Minute), Value: 3},
		{Time: base, Value: 1},
		{Time: base.Add(2 * time.Minute), Value: 4},
	}}

	table := Join(s)

	require.Equal(t, 2, table.Len())
	assert.True(t, table.Times()[0].Before(table.Times()[1]))
	assert.Equal(t, 4.0, table.Value("R4_Flow", 1), "last duplicate wins")
}

func TestTable_Tail(t *testing.T) {
	table := Join(minuteSeries("R4_Flow", repeat(1, 120)...))

	window := table.Tail(time.Hour)

	assert.Equal(t, 60, window.Len())
	assert.True(t, window.Times()[0].Equal(base.Add(60*time.Minute)))
}

func TestTable_FirstAndLastValid(t *testing.T) {
	table := Join(minuteSeries("Afterbay_Elevation_Setpoint", Missing(), 1170, 1171, Missing()))

	first, ok := table.FirstValid("Afterbay_Elevation_Setpoint")
	require.True(t, ok)
	assert.Equal(t, 1170.0, first)

	last, ok := table.LastValid("Afterbay_Elevation_Setpoint")
	require.True(t, ok)
	assert.Equal(t, 1171.0, last)

	_, ok = table.LastValid("Nope")
	assert.False(t, ok)
}

func TestTable_ResampleHourlyRightLabeled(t *testing.T) {
	// 14:00..15:29 -> buckets labeled 15:00 (14:00-14:59) and 16:00 (15:00-15:29)
	values := make([]float64, 90)
	for i := range values {
		if i < 60 {
			values[i] = 10
		} else {
			values[i] = 20
		}
	}
	table := Join(minuteSeries("Oxbow_Power", values...))

	hourly := table.ResampleHourly()

	require.Equal(t, 2, hourly.Len())
	assert.True(t, hourly.Times()[0].Equal(base.Add(time.Hour)))
	assert.True(t, hourly.Times()[1].Equal(base.Add(2*time.Hour)))
	assert.Equal(t, 10.0, hourly.Value("Oxbow_Power", 0))
	assert.Equal(t, 20.0, hourly.Value("Oxbow_Power", 1))
}

func TestTable_ResampleHourlyFillsGaps(t *testing.T) {
	s := Series{Name: "Oxbow_Power", Samples: []Sample{
		{Time: base, Value: 1},
		{Time: base.Add(3 * time.Hour), Value: 4},
	}}

	hourly := Join(s).ResampleHourly()

	require.Equal(t, 4, hourly.Len())
	assert.Equal(t, 1.0, hourly.Value("Oxbow_Power", 0))
	assert.True(t, IsMissing(hourly.Value("Oxbow_Power", 1)))
	assert.Equal(t, 4.0, hourly.Value("Oxbow_Power", 3))
}

func TestMaxOfMinOf_SkipMissing(t *testing.T) {
	assert.Equal(t, 2.0, MaxOf(Missing(), 2))
	assert.Equal(t, -1.0, MinOf(-1, Missing()))
	assert.True(t, IsMissing(MaxOf(Missing(), Missing())))
}

func TestTable_SetRejectsWrongLength(t *testing.T) {
	table := Join(minuteSeries("R4_Flow", 1, 2, 3))

	assert.Error(t, table.Set("Pmin", []float64{1}))
	assert.NoError(t, table.Set("Pmin", []float64{1, 2, 3}))
}
