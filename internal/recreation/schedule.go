package recreation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/abay-monitor/internal/database"
)

// Repository persists the recreation release state.
type Repository interface {
	GetRecreationData(ctx context.Context) (*database.RecreationData, error)
	SaveRampTimes(ctx context.Context, r *database.RecreationData) error
}

// RampTimes holds today's and tomorrow's release windows; nil when no
// release is made that day.
type RampTimes struct {
	WaterYear string
	Today     *Window
	Tomorrow  *Window
}

// Schedule derives release windows from the configured water-year type.
type Schedule struct {
	repo   Repository
	rules  Rules
	loc    *time.Location
	logger *zap.Logger
}

// NewSchedule creates a schedule evaluating days in loc.
func NewSchedule(repo Repository, rules Rules, loc *time.Location, logger *zap.Logger) *Schedule {
	return &Schedule{
		repo:   repo,
		rules:  rules,
		loc:    loc,
		logger: logger,
	}
}

// RampTimes recomputes today's and tomorrow's windows relative to now and
// stores them as the last computed values.
func (s *Schedule) RampTimes(ctx context.Context, now time.Time) (*RampTimes, error) {
	data, err := s.repo.GetRecreationData(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load recreation data: %w", err)
	}

	today := now.In(s.loc)
	result := &RampTimes{WaterYear: data.WaterYearType}

	if result.Today, err = s.window(data.WaterYearType, today); err != nil {
		return nil, err
	}
	if result.Tomorrow, err = s.window(data.WaterYearType, today.AddDate(0, 0, 1)); err != nil {
		return nil, err
	}

	data.TodayRecStart, data.TodayRecEnd = bounds(result.Today)
	data.TomorrowRecStart, data.TomorrowRecEnd = bounds(result.Tomorrow)
	if err := s.repo.SaveRampTimes(ctx, data); err != nil {
		// The computed windows are still valid for this cycle.
		s.logger.Warn("Failed to store ramp times", zap.Error(err))
	}

	return result, nil
}

func (s *Schedule) window(waterYear string, day time.Time) (*Window, error) {
	w, ok, err := s.rules.Window(waterYear, day)
	if err != nil || !ok {
		return nil, err
	}
	return &w, nil
}

func bounds(w *Window) (*time.Time, *time.Time) {
	if w == nil {
		return nil, nil
	}
	start, end := w.Start, w.End
	return &start, &end
}
