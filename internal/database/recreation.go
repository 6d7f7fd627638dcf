package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetRecreationData loads the recreation release row, creating the default
// row on first use.
func (db *DB) GetRecreationData(ctx context.Context) (*RecreationData, error) {
	query := `
		SELECT id, water_year_type, today_rec_start, today_rec_end,
		       tomorrow_rec_start, tomorrow_rec_end
		FROM recreation_data
		ORDER BY id
		LIMIT 1
	`

	var r RecreationData
	err := db.QueryRowContext(ctx, query).Scan(
		&r.ID,
		&r.WaterYearType,
		&r.TodayRecStart,
		&r.TodayRecEnd,
		&r.TomorrowRecStart,
		&r.TomorrowRecEnd,
	)
	if err == sql.ErrNoRows {
		r = RecreationData{WaterYearType: "above_normal"}
		if err := db.QueryRowContext(ctx,
			`INSERT INTO recreation_data (water_year_type) VALUES ($1) RETURNING id`,
			r.WaterYearType,
		).Scan(&r.ID); err != nil {
			return nil, fmt.Errorf("failed to create recreation data: %w", err)
		}
		return &r, nil
	}
	if err != nil {
		return nil, err
	}

	return &r, nil
}

// SaveRampTimes stores the last computed release windows
func (db *DB) SaveRampTimes(ctx context.Context, r *RecreationData) error {
	query := `
		UPDATE recreation_data
		SET today_rec_start = $1, today_rec_end = $2,
		    tomorrow_rec_start = $3, tomorrow_rec_end = $4
		WHERE id = $5
	`
	_, err := db.ExecContext(ctx, query,
		r.TodayRecStart,
		r.TodayRecEnd,
		r.TomorrowRecStart,
		r.TomorrowRecEnd,
		r.ID,
	)
	return err
}

// LatestForecastIssued returns the issue time of the newest stored
// forecast, nil when the table is empty.
func (db *DB) LatestForecastIssued(ctx context.Context) (*time.Time, error) {
	var issued sql.NullTime
	if err := db.QueryRowContext(ctx, `SELECT MAX(forecast_issued) FROM forecast_data`).Scan(&issued); err != nil {
		return nil, err
	}
	if !issued.Valid {
		return nil, nil
	}
	return &issued.Time, nil
}
