package alarming

import (
	"github.com/smukkama/abay-monitor/internal/database"
	"github.com/smukkama/abay-monitor/internal/pi"
)

// Kind is the category of condition an alarm represents.
type Kind int

const (
	KindPointHi Kind = iota
	KindPointLo
	KindSetpointChange
	KindRampUp
	KindRampDown
)

func (k Kind) String() string {
	switch k {
	case KindPointHi:
		return "point-hi"
	case KindPointLo:
		return "point-lo"
	case KindSetpointChange:
		return "setpoint-change"
	case KindRampUp:
		return "ramp-up"
	case KindRampDown:
		return "ramp-down"
	default:
		return "unknown"
	}
}

// Trigger names as stored on issued alarms.
const (
	TriggerR4Hi          = "r4_hi"
	TriggerR4Lo          = "r4_lo"
	TriggerR11Hi         = "r11_hi"
	TriggerR11Lo         = "r11_lo"
	TriggerR30Hi         = "r30_hi"
	TriggerR30Lo         = "r30_lo"
	TriggerAfterbayHi    = "afterbay_hi"
	TriggerAfterbayLo    = "afterbay_lo"
	TriggerAfterbayFloat = "afterbay_float"
	TriggerRampUp        = "rampup_oxbow"
	TriggerRampDown      = "rampdown_oxbow"
)

// KindOf returns the kind of a trigger name.
func KindOf(trigger string) (Kind, bool) {
	switch trigger {
	case TriggerR4Hi, TriggerR11Hi, TriggerR30Hi, TriggerAfterbayHi:
		return KindPointHi, true
	case TriggerR4Lo, TriggerR11Lo, TriggerR30Lo, TriggerAfterbayLo:
		return KindPointLo, true
	case TriggerAfterbayFloat:
		return KindSetpointChange, true
	case TriggerRampUp:
		return KindRampUp, true
	case TriggerRampDown:
		return KindRampDown, true
	default:
		return 0, false
	}
}

// thresholdFn reads one configured threshold from a preference row.
type thresholdFn func(p *database.AlertPrefs) *float64

// bounds pairs the hi and lo triggers of a monitored point.
type bounds struct {
	hiTrigger string
	loTrigger string
	hi        thresholdFn
	lo        thresholdFn
}

// thresholdPoints maps snapshot columns to their hi/lo preferences.
var thresholdPoints = map[string]bounds{
	pi.ColR4Flow: {
		hiTrigger: TriggerR4Hi,
		loTrigger: TriggerR4Lo,
		hi:        func(p *database.AlertPrefs) *float64 { return p.R4Hi },
		lo:        func(p *database.AlertPrefs) *float64 { return p.R4Lo },
	},
	pi.ColR11Flow: {
		hiTrigger: TriggerR11Hi,
		loTrigger: TriggerR11Lo,
		hi:        func(p *database.AlertPrefs) *float64 { return p.R11Hi },
		lo:        func(p *database.AlertPrefs) *float64 { return p.R11Lo },
	},
	pi.ColR30Flow: {
		hiTrigger: TriggerR30Hi,
		loTrigger: TriggerR30Lo,
		hi:        func(p *database.AlertPrefs) *float64 { return p.R30Hi },
		lo:        func(p *database.AlertPrefs) *float64 { return p.R30Lo },
	},
	pi.ColAfterbayElevation: {
		hiTrigger: TriggerAfterbayHi,
		loTrigger: TriggerAfterbayLo,
		hi:        func(p *database.AlertPrefs) *float64 { return p.AfterbayHi },
		lo:        func(p *database.AlertPrefs) *float64 { return p.AfterbayLo },
	},
}

// HasThresholds reports whether a column carries hi/lo alarms.
func HasThresholds(column string) bool {
	_, ok := thresholdPoints[column]
	return ok
}
