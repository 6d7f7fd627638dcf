package store

import (
	"fmt"

	"github.com/smukkama/abay-monitor/internal/pi"
	"github.com/smukkama/abay-monitor/internal/series"
)

// Derived columns.
const (
	ColPmin = "Pmin"
	ColPmax = "Pmax"
)

// Empirical coefficients of the Middle Fork / Ralston operating envelope.
const (
	envelopeA = 0.09
	envelopeB = 0.135378

	hellHoleMin  = 2536.0
	hellHoleSpan = 4536.0 - 2536.0

	ralstonCap    = 86.0
	middleForkCap = 124.0
)

// Envelope returns the safe operating power bounds for a flow differential
// (R4 minus R5, cfs) and a Hell Hole elevation. Each bound takes the more
// restrictive of its two candidate models.
func Envelope(diff, hellHole float64) (pmin, pmax float64) {
	return envelope(envelopeA, envelopeB, diff, hellHole)
}

func envelope(a, b, diff, hellHole float64) (pmin, pmax float64) {
	pmin1 := a * diff
	pmin2 := -0.14 * diff * ((hellHole - hellHoleMin) / hellHoleSpan)

	pmax1 := ((a+b)/b)*middleForkCap + a*diff
	pmax2 := ((a+b)/a)*ralstonCap - b*diff

	return series.MaxOf(pmin1, pmin2), series.MinOf(pmax1, pmax2)
}

// Derive (re)computes Pmin and Pmax on the table. When an input column is
// absent both outputs are set missing and an error describing the gap is
// returned; the table is still usable.
func Derive(t *series.Table) error {
	required := []string{pi.ColR4Flow, pi.ColR5Flow, pi.ColHellHoleElevation}
	for _, name := range required {
		if !t.Has(name) {
			t.SetMissing(ColPmin, ColPmax)
			return fmt.Errorf("cannot derive %s/%s: column %s missing", ColPmin, ColPmax, name)
		}
	}

	r4, r5, hh := t.Column(pi.ColR4Flow), t.Column(pi.ColR5Flow), t.Column(pi.ColHellHoleElevation)
	pmin := make([]float64, t.Len())
	pmax := make([]float64, t.Len())
	for i := range pmin {
		pmin[i], pmax[i] = Envelope(r4[i]-r5[i], hh[i])
	}

	if err := t.Set(ColPmin, pmin); err != nil {
		return err
	}
	return t.Set(ColPmax, pmax)
}
