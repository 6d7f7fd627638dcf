package database

import (
	"time"
)

// Profile holds a user's contact details.
type Profile struct {
	UserID       int64
	Email        string
	PhoneNumber  *string
	PhoneCarrier *string
	AlarmOn      *bool
}

// AlertPrefs are a user's alarm thresholds. A nil field means the user has
// not configured that alarm.
type AlertPrefs struct {
	ID             int64
	UserID         int64
	AfterbayHi     *float64
	AfterbayLo     *float64
	OxbowDeviation *float64
	RampUpOxbow    *int // minutes of lead time
	RampDownOxbow  *int // minutes of lead time
	R4Hi           *float64
	R4Lo           *float64
	R30Hi          *float64
	R30Lo          *float64
	R11Hi          *float64
	R11Lo          *float64
}

// IssuedAlarm records a triggered condition. At most one record per
// (UserID, Trigger, Setpoint) is active at a time.
type IssuedAlarm struct {
	ID           int64
	UserID       int64
	Trigger      string
	Setpoint     float64 // threshold in effect when triggered
	TriggerValue float64 // observed value (minutes for ramp alarms)
	TriggerTime  time.Time
	Sent         bool
	StillActive  bool
	Seen         bool
}

// RecreationData is the persisted recreation release state.
type RecreationData struct {
	ID               int64
	WaterYearType    string
	TodayRecStart    *time.Time
	TodayRecEnd      *time.Time
	TomorrowRecStart *time.Time
	TomorrowRecEnd   *time.Time
}
