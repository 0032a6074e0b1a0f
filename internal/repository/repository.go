package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heliowatt/solar-telemetry-worker/internal/db"
)

// Resolution selects the bucket size for history queries.
type Resolution string

const (
	ResolutionHourly Resolution = "hourly"
	ResolutionDaily  Resolution = "daily"
)

func (r Resolution) truncUnit() (string, error) {
	switch r {
	case ResolutionHourly:
		return "hour", nil
	case ResolutionDaily:
		return "day", nil
	default:
		return "", fmt.Errorf("unsupported resolution: %s", r)
	}
}

// SampleRepository handles the durable time-series store. Rows are
// append-only; there is no update path.
type SampleRepository struct {
	pool *pgxpool.Pool
}

// NewSampleRepository creates a new sample repository
func NewSampleRepository(pool *pgxpool.Pool) *SampleRepository {
	return &SampleRepository{pool: pool}
}

// InsertSample inserts one immutable telemetry sample
func (r *SampleRepository) InsertSample(ctx context.Context, sample *db.TelemetrySample) error {
	query := `
		INSERT INTO telemetry_samples (
			time, device_id, account_id, category,
			power_kw, energy_kwh, voltage, current, frequency, power_factor,
			battery_soc, battery_voltage, battery_current, temperature,
			efficiency_pct
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.pool.Exec(ctx, query,
		sample.Time,
		sample.DeviceID,
		sample.AccountID,
		sample.Category,
		sample.PowerKW,
		sample.EnergyKWH,
		sample.Voltage,
		sample.Current,
		sample.Frequency,
		sample.PowerFactor,
		sample.BatterySOC,
		sample.BatteryVoltage,
		sample.BatteryCurrent,
		sample.Temperature,
		sample.EfficiencyPct,
	)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry sample: %w", err)
	}

	return nil
}

// LatestSample returns the most recent durable sample for an account, or
// nil when the account has no history. Used as the fallback when the
// snapshot cache entry has expired.
func (r *SampleRepository) LatestSample(ctx context.Context, accountID string) (*db.TelemetrySample, error) {
	query := `
		SELECT time, device_id, account_id, category,
		       power_kw, energy_kwh, voltage, current, frequency, power_factor,
		       battery_soc, battery_voltage, battery_current, temperature,
		       efficiency_pct
		FROM telemetry_samples
		WHERE account_id = $1
		ORDER BY time DESC
		LIMIT 1
	`

	var s db.TelemetrySample
	err := r.pool.QueryRow(ctx, query, accountID).Scan(
		&s.Time,
		&s.DeviceID,
		&s.AccountID,
		&s.Category,
		&s.PowerKW,
		&s.EnergyKWH,
		&s.Voltage,
		&s.Current,
		&s.Frequency,
		&s.PowerFactor,
		&s.BatterySOC,
		&s.BatteryVoltage,
		&s.BatteryCurrent,
		&s.Temperature,
		&s.EfficiencyPct,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest sample: %w", err)
	}

	return &s, nil
}

// History returns time-bucketed aggregates for an account between two
// instants: average/min/max power and summed energy per bucket.
func (r *SampleRepository) History(ctx context.Context, accountID string, from, to time.Time, resolution Resolution) ([]db.HistoryBucket, error) {
	unit, err := resolution.truncUnit()
	if err != nil {
		return nil, err
	}

	// date_trunc unit cannot be a bind parameter; it is validated above.
	query := fmt.Sprintf(`
		SELECT date_trunc('%s', time) AS bucket,
		       AVG(power_kw), MIN(power_kw), MAX(power_kw),
		       SUM(energy_kwh),
		       COUNT(*)
		FROM telemetry_samples
		WHERE account_id = $1 AND time >= $2 AND time < $3
		GROUP BY bucket
		ORDER BY bucket
	`, unit)

	rows, err := r.pool.Query(ctx, query, accountID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var buckets []db.HistoryBucket
	for rows.Next() {
		var b db.HistoryBucket
		if err := rows.Scan(&b.BucketStart, &b.AvgPowerKW, &b.MinPowerKW, &b.MaxPowerKW, &b.EnergyKWHSum, &b.SampleCount); err != nil {
			return nil, fmt.Errorf("failed to scan history bucket: %w", err)
		}
		buckets = append(buckets, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return buckets, nil
}

// BaselineMeanPower returns the mean generation power for a device over the
// trailing window, restricted to samples from the same hour-of-day and
// day-of-week. Returns nil when the device has no qualifying history.
func (r *SampleRepository) BaselineMeanPower(ctx context.Context, deviceID string, hour, weekday, windowDays int) (*float64, error) {
	query := `
		SELECT AVG(power_kw)
		FROM telemetry_samples
		WHERE device_id = $1
		  AND power_kw IS NOT NULL
		  AND time >= now() - make_interval(days => $2)
		  AND EXTRACT(HOUR FROM time) = $3
		  AND EXTRACT(DOW FROM time) = $4
	`

	var mean *float64
	err := r.pool.QueryRow(ctx, query, deviceID, windowDays, hour, weekday).Scan(&mean)
	if err != nil {
		return nil, fmt.Errorf("failed to query baseline: %w", err)
	}

	return mean, nil
}
