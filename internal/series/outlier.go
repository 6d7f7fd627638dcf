package series

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
)

// ErrNonFinite is returned when the z-score statistics cannot be computed.
var ErrNonFinite = errors.New("series statistics are not finite")

// DropOutliers removes samples whose absolute z-score, against the series'
// own population mean and standard deviation, exceeds zThresh.
//
// Missing samples are excluded from the statistics and kept in place. A
// series without variance is returned unchanged.
func DropOutliers(s Series, zThresh float64) (Series, int, error) {
	mean, ok := Mean(s.Values())
	if !ok {
		return s, 0, nil
	}

	var sumSq float64
	n := 0
	for _, sample := range s.Samples {
		if IsMissing(sample.Value) {
			continue
		}
		d := sample.Value - mean
		sumSq += d * d
		n++
	}
	std := math.Sqrt(sumSq / float64(n))

	if math.IsInf(mean, 0) || math.IsNaN(std) || math.IsInf(std, 0) {
		return s, 0, fmt.Errorf("%s: %w", s.Name, ErrNonFinite)
	}
	if std == 0 {
		return s, 0, nil
	}

	kept := make([]Sample, 0, len(s.Samples))
	for _, sample := range s.Samples {
		if !IsMissing(sample.Value) && math.Abs((sample.Value-mean)/std) > zThresh {
			continue
		}
		kept = append(kept, sample)
	}

	return Series{Name: s.Name, Samples: kept}, len(s.Samples) - len(kept), nil
}

// OutlierFilter applies DropOutliers per series and never fails the caller.
type OutlierFilter struct {
	zThresh float64
	logger  *zap.Logger
}

// NewOutlierFilter creates a filter with the given z-score threshold.
func NewOutlierFilter(zThresh float64, logger *zap.Logger) *OutlierFilter {
	return &OutlierFilter{zThresh: zThresh, logger: logger}
}

// Apply returns the filtered series and the number of samples removed.
// On a computation error the input is returned untouched.
func (f *OutlierFilter) Apply(s Series) (Series, int) {
	filtered, removed, err := DropOutliers(s, f.zThresh)
	if err != nil {
		f.logger.Warn("Unable to drop outliers, keeping series as-is",
			zap.String("series", s.Name),
			zap.Error(err),
		)
		return s, 0
	}
	if removed > 0 {
		f.logger.Info("Data spikes removed",
			zap.String("series", s.Name),
			zap.Int("removed", removed),
		)
	}
	return filtered, removed
}
