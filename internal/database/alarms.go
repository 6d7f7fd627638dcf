package database

import (
	"context"
	"database/sql"
	"fmt"
)

const alarmColumns = `id, user_id, alarm_trigger, alarm_setpoint, trigger_value, trigger_time,
		       alarm_sent, alarm_still_active, seen_on_website`

// GetOrCreateActiveAlarm inserts alarm as a new active, unsent record unless
// an active record with the same (user, trigger, setpoint) exists. In that
// case alarm is filled from the existing row and created is false.
//
// The partial unique index on active alarms makes this safe against
// concurrent writers.
func (db *DB) GetOrCreateActiveAlarm(ctx context.Context, alarm *IssuedAlarm) (bool, error) {
	insert := `
		INSERT INTO issued_alarms (
			user_id, alarm_trigger, alarm_setpoint, trigger_value, trigger_time,
			alarm_sent, alarm_still_active, seen_on_website
		) VALUES ($1, $2, $3, $4, $5, false, true, false)
		ON CONFLICT (user_id, alarm_trigger, alarm_setpoint) WHERE alarm_still_active
		DO NOTHING
		RETURNING id
	`

	err := db.QueryRowContext(ctx, insert,
		alarm.UserID,
		alarm.Trigger,
		alarm.Setpoint,
		alarm.TriggerValue,
		alarm.TriggerTime,
	).Scan(&alarm.ID)
	if err == nil {
		alarm.StillActive = true
		alarm.Sent = false
		alarm.Seen = false
		return true, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("failed to insert alarm: %w", err)
	}

	query := `
		SELECT ` + alarmColumns + `
		FROM issued_alarms
		WHERE user_id = $1 AND alarm_trigger = $2 AND alarm_setpoint = $3 AND alarm_still_active
	`
	existing, err := scanAlarm(db.QueryRowContext(ctx, query, alarm.UserID, alarm.Trigger, alarm.Setpoint))
	if err != nil {
		return false, fmt.Errorf("failed to load existing alarm: %w", err)
	}
	*alarm = *existing
	return false, nil
}

// ListActiveAlarms returns the active alarms of one trigger
func (db *DB) ListActiveAlarms(ctx context.Context, trigger string) ([]*IssuedAlarm, error) {
	query := `
		SELECT ` + alarmColumns + `
		FROM issued_alarms
		WHERE alarm_trigger = $1 AND alarm_still_active
		ORDER BY id
	`
	return db.queryAlarms(ctx, query, trigger)
}

// ListUnsentAlarms returns every alarm not yet delivered
func (db *DB) ListUnsentAlarms(ctx context.Context) ([]*IssuedAlarm, error) {
	query := `
		SELECT ` + alarmColumns + `
		FROM issued_alarms
		WHERE NOT alarm_sent AND user_id IS NOT NULL
		ORDER BY id
	`
	return db.queryAlarms(ctx, query)
}

// DeactivateAlarm clears the active flag of one alarm. The record is kept.
func (db *DB) DeactivateAlarm(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, `UPDATE issued_alarms SET alarm_still_active = false WHERE id = $1`, id)
	return err
}

// DeactivateAlarms clears the active flag of every alarm of a trigger
func (db *DB) DeactivateAlarms(ctx context.Context, trigger string) (int64, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE issued_alarms SET alarm_still_active = false WHERE alarm_trigger = $1 AND alarm_still_active`,
		trigger,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// MarkAlarmSent flags an alarm as delivered
func (db *DB) MarkAlarmSent(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, `UPDATE issued_alarms SET alarm_sent = true WHERE id = $1`, id)
	return err
}

func (db *DB) queryAlarms(ctx context.Context, query string, args ...any) ([]*IssuedAlarm, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alarms []*IssuedAlarm
	for rows.Next() {
		alarm, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}
		alarms = append(alarms, alarm)
	}
	return alarms, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlarm(row scanner) (*IssuedAlarm, error) {
	var a IssuedAlarm
	if err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.Trigger,
		&a.Setpoint,
		&a.TriggerValue,
		&a.TriggerTime,
		&a.Sent,
		&a.StillActive,
		&a.Seen,
	); err != nil {
		return nil, err
	}
	return &a, nil
}
