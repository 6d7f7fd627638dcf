package recreation

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed schedules.yaml
var defaultSchedules []byte

// Water-year types.
const (
	Wet             = "wet"
	AboveNormal     = "above_normal"
	BelowNormal     = "below_normal"
	Dry             = "dry"
	Critical        = "critical"
	ExtremeCritical = "extreme_critical"
)

// ErrUnknownWaterYear is returned for a water-year type without rules.
var ErrUnknownWaterYear = errors.New("recreation: unknown water year type")

// Hours is a release window on one kind of day.
type Hours struct {
	StartHour int `yaml:"start_hour"`
	EndHour   int `yaml:"end_hour"`
	Minute    int `yaml:"minute"`
}

// Rule is the weekly release rule of one water-year type.
type Rule struct {
	BeforeLaborDay []string `yaml:"before_labor_day"`
	AfterLaborDay  []string `yaml:"after_labor_day"`
	Weekday        Hours    `yaml:"weekday"`
	Weekend        Hours    `yaml:"weekend"`

	before map[time.Weekday]bool
	after  map[time.Weekday]bool
}

// Rules maps a water-year type to its rule.
type Rules map[string]*Rule

// Window is a release period.
type Window struct {
	Start time.Time
	End   time.Time
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// DefaultRules returns the built-in rules for all six water-year types.
func DefaultRules() (Rules, error) {
	return ParseRules(defaultSchedules)
}

// ParseRules decodes a YAML rule document.
func ParseRules(data []byte) (Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse schedules: %w", err)
	}

	for name, rule := range rules {
		if rule == nil {
			return nil, fmt.Errorf("water year %s: empty rule", name)
		}
		var err error
		if rule.before, err = daySet(rule.BeforeLaborDay); err != nil {
			return nil, fmt.Errorf("water year %s: %w", name, err)
		}
		if rule.after, err = daySet(rule.AfterLaborDay); err != nil {
			return nil, fmt.Errorf("water year %s: %w", name, err)
		}
		for _, h := range []Hours{rule.Weekday, rule.Weekend} {
			if h.StartHour < 0 || h.EndHour > 23 || h.StartHour > h.EndHour || h.Minute < 0 || h.Minute > 59 {
				return nil, fmt.Errorf("water year %s: invalid hours %+v", name, h)
			}
		}
	}
	return rules, nil
}

func daySet(names []string) (map[time.Weekday]bool, error) {
	set := make(map[time.Weekday]bool, len(names))
	for _, name := range names {
		day, ok := weekdays[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		set[day] = true
	}
	return set, nil
}

// LaborDay returns the first Monday of September of year in loc.
func LaborDay(year int, loc *time.Location) time.Time {
	d := time.Date(year, time.September, 1, 0, 0, 0, 0, loc)
	offset := (int(time.Monday) - int(d.Weekday()) + 7) % 7
	return d.AddDate(0, 0, offset)
}

// Window returns the release window on the calendar day of day (in day's
// location), and false when no release is made that day.
func (r Rules) Window(waterYear string, day time.Time) (Window, bool, error) {
	rule, ok := r[waterYear]
	if !ok {
		return Window{}, false, fmt.Errorf("%w: %q", ErrUnknownWaterYear, waterYear)
	}

	loc := day.Location()
	date := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	seasonStart := time.Date(day.Year(), time.June, 1, 0, 0, 0, 0, loc)
	seasonEnd := time.Date(day.Year(), time.September, 30, 0, 0, 0, 0, loc)
	laborDay := LaborDay(day.Year(), loc)

	var days map[time.Weekday]bool
	switch {
	case !date.Before(seasonStart) && date.Before(laborDay):
		days = rule.before
	case !date.Before(laborDay) && !date.After(seasonEnd):
		days = rule.after
	default:
		return Window{}, false, nil
	}
	if !days[date.Weekday()] {
		return Window{}, false, nil
	}

	hours := rule.Weekday
	if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
		hours = rule.Weekend
	}

	return Window{
		Start: time.Date(date.Year(), date.Month(), date.Day(), hours.StartHour, hours.Minute, 0, 0, loc),
		End:   time.Date(date.Year(), date.Month(), date.Day(), hours.EndHour, hours.Minute, 0, 0, loc),
	}, true, nil
}
