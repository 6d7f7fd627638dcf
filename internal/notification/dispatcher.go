package notification

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/abay-monitor/internal/alarming"
	"github.com/smukkama/abay-monitor/internal/database"
	"github.com/smukkama/abay-monitor/internal/metrics"
)

// Carrier email-to-MMS gateways.
var carrierGateways = map[string]string{
	"AT&T":     "@mms.att.net",
	"Verizon":  "@vzwpix.com",
	"T-Mobile": "@tmomail.net",
	"Sprint":   "@pm.sprint.com",
}

var (
	thresholdTmpl = template.Must(template.New("threshold").Parse(
		`{{.Trigger}} triggered this alert
Current Value: {{printf "%g" .Value}}
Your threshold: {{printf "%g" .Setpoint}}
`))

	rampTmpl = template.Must(template.New("ramp").Parse(
		`Ramp Oxbow {{.Direction}}!

Time to Start Ramp:
{{.RampTime}}

Your settings:
Alert {{.Lead}} min in advance.

Alarm Created At:
{{.Created}}
`))
)

// Store is the alarm and profile persistence the dispatcher needs.
type Store interface {
	ListUnsentAlarms(ctx context.Context) ([]*database.IssuedAlarm, error)
	GetProfile(ctx context.Context, userID int64) (*database.Profile, error)
	MarkAlarmSent(ctx context.Context, id int64) error
}

// Dispatcher turns unsent alarms into messages and marks them sent.
type Dispatcher struct {
	store    Store
	notifier Notifier
	prefix   string
	loc      *time.Location
	logger   *zap.Logger
}

func NewDispatcher(store Store, notifier Notifier, subjectPrefix string, loc *time.Location, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		notifier: notifier,
		prefix:   subjectPrefix,
		loc:      loc,
		logger:   logger,
	}
}

// Summary counts the outcome of one dispatch pass.
type Summary struct {
	Sent   int
	Failed int
}

// Dispatch delivers every unsent alarm. A failure for one alarm is logged
// and does not stop the others; the alarm stays unsent and is retried next
// pass. Only a failure to list the alarms is returned.
func (d *Dispatcher) Dispatch(ctx context.Context) (Summary, error) {
	var sum Summary
	alarms, err := d.store.ListUnsentAlarms(ctx)
	if err != nil {
		return sum, fmt.Errorf("failed to list unsent alarms: %w", err)
	}

	profiles := make(map[int64]*database.Profile)
	for _, alarm := range alarms {
		err := d.dispatch(ctx, alarm, profiles)
		metrics.IncNotification(err)
		if err != nil {
			d.logger.Warn("Failed to dispatch alarm",
				zap.Int64("alarm_id", alarm.ID),
				zap.Int64("user_id", alarm.UserID),
				zap.String("trigger", alarm.Trigger),
				zap.Error(err),
			)
			sum.Failed++
			continue
		}
		sum.Sent++
	}

	if len(alarms) > 0 {
		d.logger.Info("Alarms dispatched", zap.Int("sent", sum.Sent), zap.Int("failed", sum.Failed))
	}
	return sum, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, alarm *database.IssuedAlarm, profiles map[int64]*database.Profile) error {
	profile, ok := profiles[alarm.UserID]
	if !ok {
		var err error
		profile, err = d.store.GetProfile(ctx, alarm.UserID)
		if err != nil {
			return fmt.Errorf("failed to load profile: %w", err)
		}
		profiles[alarm.UserID] = profile
	}

	msg, err := d.Render(alarm, Recipients(profile))
	if err != nil {
		return err
	}
	if err := d.notifier.Notify(ctx, msg); err != nil {
		return err
	}
	if err := d.store.MarkAlarmSent(ctx, alarm.ID); err != nil {
		return fmt.Errorf("failed to mark sent: %w", err)
	}
	return nil
}

// Recipients returns the addresses for a profile: the account email, plus
// the phone's MMS gateway when the carrier is known.
func Recipients(p *database.Profile) []string {
	var out []string
	if p.Email != "" {
		out = append(out, p.Email)
	}
	if p.PhoneNumber != nil && *p.PhoneNumber != "" && p.PhoneCarrier != nil {
		if gateway, ok := carrierGateways[*p.PhoneCarrier]; ok {
			out = append(out, *p.PhoneNumber+gateway)
		}
	}
	return out
}

// Subject is the message subject for a trigger, e.g. "PCWA Alarm For R4".
func (d *Dispatcher) Subject(trigger string) string {
	name, _, _ := strings.Cut(trigger, "_")
	return fmt.Sprintf("%s Alarm For %s", d.prefix, strings.ToUpper(name))
}

// Render builds the message for an alarm. Ramp alarms show the clock time
// the ramp must start: trigger time plus the stored minutes.
func (d *Dispatcher) Render(alarm *database.IssuedAlarm, recipients []string) (*Message, error) {
	var body bytes.Buffer
	kind, _ := alarming.KindOf(alarm.Trigger)

	switch kind {
	case alarming.KindRampUp, alarming.KindRampDown:
		direction := "Up"
		if kind == alarming.KindRampDown {
			direction = "Down"
		}
		rampAt := alarm.TriggerTime.Add(time.Duration(alarm.TriggerValue) * time.Minute).In(d.loc)
		err := rampTmpl.Execute(&body, map[string]any{
			"Direction": direction,
			"RampTime":  rampAt.Format("3:04 PM"),
			"Lead":      int(alarm.Setpoint),
			"Created":   alarm.TriggerTime.In(d.loc).Format("Mon 3:04 PM"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to render ramp message: %w", err)
		}
	default:
		err := thresholdTmpl.Execute(&body, map[string]any{
			"Trigger":  alarm.Trigger,
			"Value":    alarm.TriggerValue,
			"Setpoint": alarm.Setpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to render alarm message: %w", err)
		}
	}

	return &Message{
		AlarmID:    alarm.ID,
		UserID:     alarm.UserID,
		Trigger:    alarm.Trigger,
		Recipients: recipients,
		Subject:    d.Subject(alarm.Trigger),
		Body:       body.String(),
	}, nil
}
