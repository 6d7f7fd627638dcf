package alarming

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/abay-monitor/internal/database"
	"github.com/smukkama/abay-monitor/internal/metrics"
	"github.com/smukkama/abay-monitor/internal/pi"
	"github.com/smukkama/abay-monitor/internal/recreation"
	"github.com/smukkama/abay-monitor/internal/series"
	"github.com/smukkama/abay-monitor/pkg/config"
)

// Store is the persistence the evaluator needs.
type Store interface {
	ListAlertPrefs(ctx context.Context) ([]*database.AlertPrefs, error)
	GetOrCreateActiveAlarm(ctx context.Context, alarm *database.IssuedAlarm) (bool, error)
	ListActiveAlarms(ctx context.Context, trigger string) ([]*database.IssuedAlarm, error)
	DeactivateAlarm(ctx context.Context, id int64) error
	DeactivateAlarms(ctx context.Context, trigger string) (int64, error)
}

// RampSchedule provides the recreation release windows.
type RampSchedule interface {
	RampTimes(ctx context.Context, now time.Time) (*recreation.RampTimes, error)
}

// Settings are the fixed alarm parameters.
type Settings struct {
	SetpointDelta    float64 // elevation setpoint change that counts as a float change
	RampTargetMW     float64 // Oxbow setpoint held during a release
	RampRateMWPerMin float64
	MaxLeadMinutes   int // largest lead time a user can ask for
	MinWindowSamples int // fewer valid samples than this skips a point
}

// SettingsFromConfig extracts Settings from the alarm configuration.
func SettingsFromConfig(cfg *config.AlarmConfig) Settings {
	return Settings{
		SetpointDelta:    cfg.SetpointDelta,
		RampTargetMW:     cfg.RampTargetMW,
		RampRateMWPerMin: cfg.RampRateMWPerMin,
		MaxLeadMinutes:   cfg.MaxLeadMinutes,
		MinWindowSamples: cfg.MinWindowSamples,
	}
}

// Evaluator raises and retires alarms from the most recent window of
// telemetry.
type Evaluator struct {
	store    Store
	locker   Locker
	schedule RampSchedule
	settings Settings
	logger   *zap.Logger
}

// NewEvaluator creates a new alarm evaluator
func NewEvaluator(store Store, locker Locker, schedule RampSchedule, settings Settings, logger *zap.Logger) *Evaluator {
	if settings.MinWindowSamples < 1 {
		settings.MinWindowSamples = 1
	}
	return &Evaluator{
		store:    store,
		locker:   locker,
		schedule: schedule,
		settings: settings,
		logger:   logger,
	}
}

// Evaluate runs the checks of every alertable point against window.
// Failures of one check do not stop the others; they are joined.
func (e *Evaluator) Evaluate(ctx context.Context, points []pi.Point, window *series.Table, now time.Time) error {
	prefs, err := e.store.ListAlertPrefs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load alert preferences: %w", err)
	}

	var errs []error
	for _, p := range points {
		if !p.Alertable {
			continue
		}

		column := p.Column()
		switch {
		case HasThresholds(column):
			err = e.EvaluateThreshold(ctx, column, window, prefs, now)
		case column == pi.ColAfterbaySetpoint:
			err = e.EvaluateSetpointChange(ctx, window, prefs, now)
		case column == pi.ColOxbowPower:
			err = e.EvaluateRamp(ctx, window, prefs, now)
		default:
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", column, err))
		}
	}
	return errors.Join(errs...)
}

// EvaluateThreshold checks the window max against every user's hi
// threshold and the window min against every lo threshold.
func (e *Evaluator) EvaluateThreshold(ctx context.Context, column string, window *series.Table, prefs []*database.AlertPrefs, now time.Time) error {
	b, ok := thresholdPoints[column]
	if !ok {
		return fmt.Errorf("no thresholds defined for %s", column)
	}

	values := window.Column(column)
	if !e.sufficient(column, values) {
		return nil
	}
	maxValue, _ := series.Max(values)
	minValue, _ := series.Min(values)

	hiBreached := func(p *database.AlertPrefs) bool {
		t := b.hi(p)
		return t != nil && *t < maxValue
	}
	loBreached := func(p *database.AlertPrefs) bool {
		t := b.lo(p)
		return t != nil && *t > minValue
	}

	// Retire first: an alarm only clears when the whole window is back
	// inside the user's current threshold.
	if err := e.retire(ctx, b.hiTrigger, prefs, hiBreached); err != nil {
		return err
	}
	if err := e.retire(ctx, b.loTrigger, prefs, loBreached); err != nil {
		return err
	}

	for _, p := range prefs {
		if hiBreached(p) {
			if err := e.raise(ctx, p.UserID, b.hiTrigger, *b.hi(p), maxValue, now); err != nil {
				return err
			}
		}
		if loBreached(p) {
			if err := e.raise(ctx, p.UserID, b.loTrigger, *b.lo(p), minValue, now); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateSetpointChange alerts every user when the Afterbay elevation
// setpoint moved by more than the configured delta across the window.
func (e *Evaluator) EvaluateSetpointChange(ctx context.Context, window *series.Table, prefs []*database.AlertPrefs, now time.Time) error {
	column := pi.ColAfterbaySetpoint
	if !e.sufficient(column, window.Column(column)) {
		return nil
	}

	first, _ := window.FirstValid(column)
	last, _ := window.LastValid(column)

	if math.Abs(last-first) <= e.settings.SetpointDelta {
		return e.retireAll(ctx, TriggerAfterbayFloat)
	}

	setpoint := math.Trunc(last)
	for _, p := range prefs {
		if err := e.raise(ctx, p.UserID, TriggerAfterbayFloat, setpoint, setpoint, now); err != nil {
			return err
		}
	}
	return nil
}

// RampStatus is the outcome of comparing Oxbow against a release window.
type RampStatus struct {
	MinutesToRamp int // minutes needed to reach the target from current output

	RampUpDue      bool
	MinutesUntilUp int // until the ramp up must begin; negative when late

	RampDownDue      bool
	MinutesUntilDown int // until the release ends; negative when past
}

// Ramp computes ramp timing for a release window at now, given the current
// Oxbow setpoint and output in MW.
func (s Settings) Ramp(now time.Time, w recreation.Window, setpoint, current float64) RampStatus {
	var st RampStatus
	st.MinutesToRamp = int((s.RampTargetMW - current) / s.RampRateMWPerMin)

	rampDuration := time.Duration(st.MinutesToRamp) * time.Minute
	maxLead := time.Duration(s.MaxLeadMinutes) * time.Minute

	if now.Add(rampDuration+maxLead).After(w.Start) && setpoint < s.RampTargetMW && now.Before(w.End) {
		st.RampUpDue = true
		st.MinutesUntilUp = int(math.Floor(w.Start.Sub(now.Add(rampDuration)).Minutes()))
	}

	if now.Add(maxLead).After(w.End) && setpoint >= s.RampTargetMW {
		st.RampDownDue = true
		st.MinutesUntilDown = int(math.Floor(w.End.Sub(now).Minutes()))
	}
	return st
}

// EvaluateRamp raises ramp-up and ramp-down alarms for today's release.
func (e *Evaluator) EvaluateRamp(ctx context.Context, window *series.Table, prefs []*database.AlertPrefs, now time.Time) error {
	times, err := e.schedule.RampTimes(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to get ramp times: %w", err)
	}
	if times.Today == nil {
		if err := e.retireAll(ctx, TriggerRampUp); err != nil {
			return err
		}
		return e.retireAll(ctx, TriggerRampDown)
	}

	setpoint, okSetpoint := window.LastValid(pi.ColOxbowSetpoint)
	current, okCurrent := window.LastValid(pi.ColOxbowPower)
	if !okSetpoint || !okCurrent {
		e.logger.Warn("Skipping ramp check, Oxbow setpoint or power unknown",
			zap.Bool("has_setpoint", okSetpoint),
			zap.Bool("has_power", okCurrent),
		)
		return nil
	}

	st := e.settings.Ramp(now, *times.Today, setpoint, current)
	e.logger.Debug("Ramp status",
		zap.Time("release_start", times.Today.Start),
		zap.Time("release_end", times.Today.End),
		zap.Int("minutes_to_ramp", st.MinutesToRamp),
		zap.Bool("ramp_up_due", st.RampUpDue),
		zap.Bool("ramp_down_due", st.RampDownDue),
	)

	if st.RampUpDue {
		if err := e.raiseRamp(ctx, TriggerRampUp, prefs, func(p *database.AlertPrefs) *int { return p.RampUpOxbow }, st.MinutesUntilUp, now); err != nil {
			return err
		}
	} else if err := e.retireAll(ctx, TriggerRampUp); err != nil {
		return err
	}

	if st.RampDownDue {
		return e.raiseRamp(ctx, TriggerRampDown, prefs, func(p *database.AlertPrefs) *int { return p.RampDownOxbow }, st.MinutesUntilDown, now)
	}
	return e.retireAll(ctx, TriggerRampDown)
}

// raiseRamp alerts every user whose lead time exceeds the minutes left.
func (e *Evaluator) raiseRamp(ctx context.Context, trigger string, prefs []*database.AlertPrefs, lead func(*database.AlertPrefs) *int, minutes int, now time.Time) error {
	for _, p := range prefs {
		l := lead(p)
		if l == nil || *l <= minutes {
			continue
		}
		if err := e.raise(ctx, p.UserID, trigger, float64(*l), float64(minutes), now); err != nil {
			return err
		}
	}
	return nil
}

func (e *Evaluator) sufficient(column string, values []float64) bool {
	n := series.CountValid(values)
	if n < e.settings.MinWindowSamples {
		e.logger.Warn("Too few samples in window, skipping alarm evaluation",
			zap.String("point", column),
			zap.Int("samples", n),
			zap.Int("required", e.settings.MinWindowSamples),
		)
		return false
	}
	return true
}

// raise creates the active alarm for (user, trigger, setpoint) unless one
// already exists.
func (e *Evaluator) raise(ctx context.Context, userID int64, trigger string, setpoint, value float64, now time.Time) error {
	unlock, err := e.locker.Lock(ctx, LockKey(userID, trigger))
	if err != nil {
		return err
	}
	defer unlock()

	alarm := &database.IssuedAlarm{
		UserID:       userID,
		Trigger:      trigger,
		Setpoint:     setpoint,
		TriggerValue: value,
		TriggerTime:  now.UTC(),
	}
	created, err := e.store.GetOrCreateActiveAlarm(ctx, alarm)
	if err != nil {
		return fmt.Errorf("failed to record %s alarm for user %d: %w", trigger, userID, err)
	}
	if created {
		metrics.IncAlarmEvent(trigger, metrics.AlarmRaised)
		e.logger.Info("Alarm raised",
			zap.Int64("alarm_id", alarm.ID),
			zap.Int64("user_id", userID),
			zap.String("trigger", trigger),
			zap.Float64("setpoint", setpoint),
			zap.Float64("value", value),
		)
	}
	return nil
}

// retire deactivates active alarms of trigger whose owner is no longer in
// breach.
func (e *Evaluator) retire(ctx context.Context, trigger string, prefs []*database.AlertPrefs, breached func(*database.AlertPrefs) bool) error {
	active, err := e.store.ListActiveAlarms(ctx, trigger)
	if err != nil {
		return fmt.Errorf("failed to list active %s alarms: %w", trigger, err)
	}

	byUser := make(map[int64]*database.AlertPrefs, len(prefs))
	for _, p := range prefs {
		byUser[p.UserID] = p
	}

	for _, alarm := range active {
		if p, ok := byUser[alarm.UserID]; ok && breached(p) {
			continue
		}
		if err := e.deactivate(ctx, alarm); err != nil {
			return err
		}
	}
	return nil
}

func (e *Evaluator) deactivate(ctx context.Context, alarm *database.IssuedAlarm) error {
	unlock, err := e.locker.Lock(ctx, LockKey(alarm.UserID, alarm.Trigger))
	if err != nil {
		return err
	}
	defer unlock()

	if err := e.store.DeactivateAlarm(ctx, alarm.ID); err != nil {
		return fmt.Errorf("failed to retire alarm %d: %w", alarm.ID, err)
	}
	metrics.IncAlarmEvent(alarm.Trigger, metrics.AlarmRetired)
	e.logger.Info("Alarm retired",
		zap.Int64("alarm_id", alarm.ID),
		zap.Int64("user_id", alarm.UserID),
		zap.String("trigger", alarm.Trigger),
	)
	return nil
}

func (e *Evaluator) retireAll(ctx context.Context, trigger string) error {
	n, err := e.store.DeactivateAlarms(ctx, trigger)
	if err != nil {
		return fmt.Errorf("failed to retire %s alarms: %w", trigger, err)
	}
	if n > 0 {
		metrics.AddAlarmEvents(trigger, metrics.AlarmRetired, int(n))
		e.logger.Info("Alarms retired", zap.String("trigger", trigger), zap.Int64("count", n))
	}
	return nil
}
