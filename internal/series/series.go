// Package series holds time-indexed numeric telemetry and the wide tables
// built from it. Missing samples are represented as NaN throughout.
package series

import (
	"math"
	"sort"
	"time"
)

// Sample is one timestamped reading. Value is NaN when the source reported no data.
type Sample struct {
	Time  time.Time
	Value float64
}

// Series is a named, time-ordered sequence of samples.
type Series struct {
	Name    string
	Samples []Sample
}

// Missing returns the marker used for absent values.
func Missing() float64 { return math.NaN() }

// IsMissing reports whether v marks an absent value.
func IsMissing(v float64) bool { return math.IsNaN(v) }

// Len returns the number of samples, missing ones included.
func (s Series) Len() int { return len(s.Samples) }

// Values returns the sample values in time order.
func (s Series) Values() []float64 {
	out := make([]float64, len(s.Samples))
	for i, sample := range s.Samples {
		out[i] = sample.Value
	}
	return out
}

// Sorted returns a copy ordered by time, keeping the last sample for duplicate timestamps.
func (s Series) Sorted() Series {
	samples := make([]Sample, len(s.Samples))
	copy(samples, s.Samples)
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Time.Before(samples[j].Time)
	})

	deduped := samples[:0]
	for _, sample := range samples {
		if n := len(deduped); n > 0 && deduped[n-1].Time.Equal(sample.Time) {
			deduped[n-1] = sample
			continue
		}
		deduped = append(deduped, sample)
	}
	return Series{Name: s.Name, Samples: deduped}
}

// Max returns the largest valid value.
func Max(values []float64) (float64, bool) {
	best, ok := math.Inf(-1), false
	for _, v := range values {
		if IsMissing(v) {
			continue
		}
		if v > best {
			best = v
		}
		ok = true
	}
	return best, ok
}

// Min returns the smallest valid value.
func Min(values []float64) (float64, bool) {
	best, ok := math.Inf(1), false
	for _, v := range values {
		if IsMissing(v) {
			continue
		}
		if v < best {
			best = v
		}
		ok = true
	}
	return best, ok
}

// Mean returns the mean of the valid values.
func Mean(values []float64) (float64, bool) {
	sum, n := 0.0, 0
	for _, v := range values {
		if IsMissing(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return Missing(), false
	}
	return sum / float64(n), true
}

// CountValid returns the number of non-missing values.
func CountValid(values []float64) int {
	n := 0
	for _, v := range values {
		if !IsMissing(v) {
			n++
		}
	}
	return n
}

// MaxOf is an element-wise maximum that skips missing operands.
// The result is missing only when every operand is.
func MaxOf(values ...float64) float64 {
	v, ok := Max(values)
	if !ok {
		return Missing()
	}
	return v
}

// MinOf is the element-wise counterpart of MaxOf.
func MinOf(values ...float64) float64 {
	v, ok := Min(values)
	if !ok {
		return Missing()
	}
	return v
}
