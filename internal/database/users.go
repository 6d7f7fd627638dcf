package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("database: not found")

// ProvisionUser creates the profile and alert preference rows for a new
// user. It is idempotent and is called by the user-creation workflow.
func (db *DB) ProvisionUser(ctx context.Context, userID int64) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO profiles (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
			userID,
		); err != nil {
			return fmt.Errorf("failed to create profile: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO alert_prefs (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
			userID,
		); err != nil {
			return fmt.Errorf("failed to create alert prefs: %w", err)
		}
		return nil
	})
}

// GetProfile retrieves the contact details of a user
func (db *DB) GetProfile(ctx context.Context, userID int64) (*Profile, error) {
	query := `
		SELECT u.id, u.email, p.phone_number, p.phone_carrier, p.alarm_on
		FROM users u
		JOIN profiles p ON p.user_id = u.id
		WHERE u.id = $1
	`

	var p Profile
	err := db.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID,
		&p.Email,
		&p.PhoneNumber,
		&p.PhoneCarrier,
		&p.AlarmOn,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("profile for user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return &p, nil
}

// ListAlertPrefs returns the preference rows of every user
func (db *DB) ListAlertPrefs(ctx context.Context) ([]*AlertPrefs, error) {
	query := `
		SELECT id, user_id, afterbay_hi, afterbay_lo, oxbow_deviation,
		       rampup_oxbow, rampdown_oxbow, r4_hi, r4_lo, r30_hi, r30_lo,
		       r11_hi, r11_lo
		FROM alert_prefs
		WHERE user_id IS NOT NULL
		ORDER BY user_id
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prefs []*AlertPrefs
	for rows.Next() {
		var p AlertPrefs
		var rampUp, rampDown sql.NullInt64
		if err := rows.Scan(
			&p.ID,
			&p.UserID,
			&p.AfterbayHi,
			&p.AfterbayLo,
			&p.OxbowDeviation,
			&rampUp,
			&rampDown,
			&p.R4Hi,
			&p.R4Lo,
			&p.R30Hi,
			&p.R30Lo,
			&p.R11Hi,
			&p.R11Lo,
		); err != nil {
			return nil, err
		}
		p.RampUpOxbow = intPtr(rampUp)
		p.RampDownOxbow = intPtr(rampDown)
		prefs = append(prefs, &p)
	}

	return prefs, rows.Err()
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
