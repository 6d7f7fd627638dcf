package forecast

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/smukkama/abay-monitor/internal/pi"
	"github.com/smukkama/abay-monitor/internal/series"
)

var (
	// ErrNoForecast is returned when no hydrologic forecast could be loaded.
	ErrNoForecast = errors.New("forecast: no hydrologic forecast available")
	// ErrNoGeneration is returned when the generation forecast feed is empty.
	ErrNoGeneration = errors.New("forecast: generation forecast unavailable")
	// ErrNoObservations is returned when no observed snapshot is available.
	ErrNoObservations = errors.New("forecast: observed snapshot unavailable")
)

// Conversion constants.
const (
	raShare      = 0.41 // share of Middle Fork + Ralston generation made at Ralston
	raMaxMW      = 86.0
	mfMaxMW      = 128.0
	r5ValveCFS   = 28.0
	cfsToAFPerHr = 0.0826448

	forecastR5CFS  = 26.0
	forecastEnvB   = 0.135422
	forecastEnvA   = 0.09
	hellHoleMin    = 2536.0
	hellHoleSpan   = 4536.0 - 2536.0
	middleForkBase = 124.0
	ralstonBase    = 86.0
)

// HydroRow is one hour of a hydrologic forecast, flows in cfs.
type HydroRow struct {
	GMT time.Time
	R20 float64
	R30 float64
	R4  float64
	R11 float64
}

// Issue is one issued hydrologic forecast.
type Issue struct {
	Issued time.Time
	Rows   []HydroRow
}

// Row is one hour of the blended forecast.
type Row struct {
	GMT    time.Time
	Issued time.Time // zero when no forecast was available

	R20 float64
	R30 float64
	R4  float64
	R11 float64

	OxbowGeneration float64 // MW, observed where available
	RAMW            float64
	MFMW            float64
	RAInflow        float64 // cfs
	MFInflow        float64
	OxbowOutflow    float64
	R20Adjusted     float64
	Inflow          float64

	NetAcreFeet       float64 // hourly storage change before bias correction
	ObservedAcreFeet  float64 // observed hourly storage change
	AfterbayAcreFeet  float64 // projected storage
	AfterbayElevation float64 // projected elevation, clamped to the float setpoint

	Pmin float64
	Pmax float64
}

// Result is the blended forecast.
type Result struct {
	Issued time.Time
	Bias   float64 // mean acre-foot error removed from every step
	Rows   []Row
}

// Latest returns the most recently issued forecast.
func Latest(issues []Issue) (Issue, bool) {
	if len(issues) == 0 {
		return Issue{}, false
	}
	latest := issues[0]
	for _, issue := range issues[1:] {
		if issue.Issued.After(latest.Issued) {
			latest = issue
		}
	}
	return latest, true
}

// RAInflow converts Ralston generation (MW) to flow (cfs).
func RAInflow(mw float64) float64 {
	if mw == 0 {
		return 0
	}
	return 0.0005*math.Pow(mw, 3) - 0.0423*mw*mw + 10.266*mw + 2.1879
}

// MFInflow converts Middle Fork generation (MW) to flow (cfs).
func MFInflow(mw float64) float64 {
	if mw == 0 {
		return 0
	}
	return 0.0049*mw*mw + 6.2631*mw + 18.4
}

// OxbowOutflow converts Oxbow generation (MW) to flow (cfs).
func OxbowOutflow(mw float64) float64 {
	if mw == 0 {
		return 0
	}
	return mw*163.73 + 83.956
}

// ElevationToAcreFeet converts Afterbay elevation (ft) to storage.
func ElevationToAcreFeet(elevation float64) float64 {
	return 0.6334393*elevation*elevation - 1409.2226*elevation + 783749
}

// AcreFeetToElevation converts Afterbay storage to elevation (ft).
func AcreFeetToElevation(af float64) float64 {
	return -0.0000014663*af*af + 0.0197767158*af + 1135.3
}

// SplitGeneration divides combined Middle Fork + Ralston generation.
func SplitGeneration(mfra float64) (ra, mf float64) {
	ra = minNaN(raMaxMW, mfra*raShare)
	mf = minNaN(mfMaxMW, mfra-ra)
	return ra, mf
}

// BiasCorrection returns the mean of forecast minus observed over the
// steps where both are known, and 0 when there is no overlap.
func BiasCorrection(forecast, observed []float64) float64 {
	var sum float64
	var n int
	for i := range forecast {
		if i >= len(observed) || series.IsMissing(forecast[i]) || series.IsMissing(observed[i]) {
			continue
		}
		sum += forecast[i] - observed[i]
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Envelope returns the forecast Pmin/Pmax from the R4 forecast, the last
// observed Hell Hole elevation and R5 flow.
func Envelope(r4, hellHole, r5 float64) (pmin, pmax float64) {
	a, b := forecastEnvA, forecastEnvB
	diff := r4 - forecastR5CFS

	pmin1 := a * diff
	pmin2 := -0.14 * diff * ((hellHole - hellHoleMin) / hellHoleSpan)

	pmax1 := ((a + b) / b) * (middleForkBase + (a*r4 - r5))
	pmax2 := ((a + b) / a) * (ralstonBase - (b*r4 - r5))

	return series.MaxOf(pmin1, pmin2), series.MinOf(pmax1, pmax2)
}

// Blend projects Afterbay storage and elevation from the most recent
// hydrologic forecast, the generation forecast and observed telemetry.
//
// Rows of the latest issue are always returned. When the generation feed or
// the observations are missing the generation-derived columns are unknown
// and the error says why.
func Blend(issues []Issue, generation series.Series, observed *series.Table) (*Result, error) {
	latest, ok := Latest(issues)
	if !ok {
		return nil, ErrNoForecast
	}

	result := &Result{Issued: latest.Issued, Rows: hydroRows(latest)}
	if generation.Len() == 0 || series.CountValid(generation.Values()) == 0 {
		return result, ErrNoGeneration
	}
	if observed == nil || observed.Len() == 0 {
		return result, ErrNoObservations
	}

	genHourly := series.Join(series.Series{Name: "gen", Samples: generation.Samples}).ResampleHourly()
	obsHourly := observed.ResampleHourly()

	// Outer merge of the hydrologic and generation timelines.
	rows := mergeTimeline(result.Rows, genHourly.Times(), latest.Issued)
	genAt := hourIndex(genHourly)
	obsAt := hourIndex(obsHourly)

	observedAF := make([]float64, len(obsHourly.Times()))
	for i := range observedAF {
		observedAF[i] = ElevationToAcreFeet(obsHourly.Value(pi.ColAfterbayElevation, i))
	}
	initialAF := series.Missing()
	for _, af := range observedAF {
		if !series.IsMissing(af) {
			initialAF = af
			break
		}
	}

	netAF := make([]float64, len(rows))
	obsChange := make([]float64, len(rows))
	for i := range rows {
		r := &rows[i]

		forecastGen := series.Missing()
		if j, ok := genAt[r.GMT.Unix()]; ok {
			forecastGen = genHourly.Value("gen", j)
		}
		r.OxbowGeneration = forecastGen
		r.RAMW, r.MFMW = SplitGeneration(forecastGen)
		r.ObservedAcreFeet = series.Missing()

		// Observations override the forecast for past hours.
		if j, ok := obsAt[r.GMT.Unix()]; ok {
			if v := obsHourly.Value(pi.ColOxbowPower, j); !series.IsMissing(v) {
				r.OxbowGeneration = v
			}
			ra, mf := SplitGeneration(obsHourly.Value(pi.ColGenMFRA, j))
			if !series.IsMissing(ra) {
				r.RAMW = ra
			}
			if !series.IsMissing(mf) {
				r.MFMW = mf
			}
			if j > 0 {
				r.ObservedAcreFeet = observedAF[j] - observedAF[j-1]
			}
		}

		r.RAInflow = RAInflow(r.RAMW)
		r.MFInflow = MFInflow(r.MFMW)
		r.OxbowOutflow = OxbowOutflow(r.OxbowGeneration)

		spill := maxNaN(0, r.MFInflow-r.RAInflow) + r5ValveCFS + r.R4
		r.R20Adjusted = r.R20 + spill
		r.Inflow = r.RAInflow + r.R20Adjusted + r.R30
		r.NetAcreFeet = (r.Inflow - r.OxbowOutflow) * cfsToAFPerHr

		netAF[i] = r.NetAcreFeet
		obsChange[i] = r.ObservedAcreFeet
	}

	result.Bias = BiasCorrection(netAF, obsChange)

	setpoint, _ := observed.LastValid(pi.ColAfterbaySetpoint)
	hellHole, _ := observed.LastValid(pi.ColHellHoleElevation)
	r5, _ := observed.LastValid(pi.ColR5Flow)

	af := series.Missing()
	started := false
	for i := range rows {
		r := &rows[i]
		switch {
		case !started && !series.IsMissing(r.NetAcreFeet):
			started = true
			af = initialAF
		case started:
			af = af + r.NetAcreFeet - result.Bias
		}
		r.AfterbayAcreFeet = series.Missing()
		r.AfterbayElevation = series.Missing()
		if started {
			r.AfterbayAcreFeet = af
			if elev := AcreFeetToElevation(af); !series.IsMissing(elev) {
				r.AfterbayElevation = series.MinOf(setpoint, elev)
			}
		}
		r.Pmin, r.Pmax = Envelope(r.R4, hellHole, r5)
	}

	result.Rows = rows
	return result, nil
}

// hydroRows lays the issue out as blended rows with the generation columns
// unknown.
func hydroRows(issue Issue) []Row {
	rows := make([]Row, len(issue.Rows))
	for i, h := range issue.Rows {
		rows[i] = blankRow(h.GMT, issue.Issued)
		rows[i].R20, rows[i].R30, rows[i].R4, rows[i].R11 = h.R20, h.R30, h.R4, h.R11
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].GMT.Before(rows[j].GMT) })
	return rows
}

func blankRow(gmt, issued time.Time) Row {
	nan := series.Missing()
	return Row{
		GMT: gmt.UTC(), Issued: issued,
		R20: nan, R30: nan, R4: nan, R11: nan,
		OxbowGeneration: nan, RAMW: nan, MFMW: nan,
		RAInflow: nan, MFInflow: nan, OxbowOutflow: nan,
		R20Adjusted: nan, Inflow: nan,
		NetAcreFeet: nan, ObservedAcreFeet: nan,
		AfterbayAcreFeet: nan, AfterbayElevation: nan,
		Pmin: nan, Pmax: nan,
	}
}

// mergeTimeline adds a blank row for every hour present only in extra and
// returns the rows sorted by time.
func mergeTimeline(rows []Row, extra []time.Time, issued time.Time) []Row {
	seen := make(map[int64]bool, len(rows))
	out := make([]Row, len(rows), len(rows)+len(extra))
	copy(out, rows)
	for _, r := range rows {
		seen[r.GMT.Unix()] = true
	}
	for _, ts := range extra {
		if !seen[ts.Unix()] {
			seen[ts.Unix()] = true
			out = append(out, blankRow(ts, issued))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GMT.Before(out[j].GMT) })
	return out
}

func hourIndex(t *series.Table) map[int64]int {
	index := make(map[int64]int, t.Len())
	for i, ts := range t.Times() {
		index[ts.Unix()] = i
	}
	return index
}

func minNaN(a, b float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	return math.Min(a, b)
}

func maxNaN(a, b float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	return math.Max(a, b)
}
