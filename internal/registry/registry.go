package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heliowatt/solar-telemetry-worker/internal/db"
)

// ErrDeviceNotFound is returned when a device does not exist or does not
// belong to the claimed account.
var ErrDeviceNotFound = errors.New("device not found")

// DeviceRegistry reads the authoritative device table and updates device
// liveness as a side effect of successful writes. The registry itself is
// owned by the provisioning service; nothing else here mutates it.
type DeviceRegistry struct {
	pool *pgxpool.Pool
}

// NewDeviceRegistry creates a new device registry backed by Postgres
func NewDeviceRegistry(pool *pgxpool.Pool) *DeviceRegistry {
	return &DeviceRegistry{pool: pool}
}

const deviceColumns = `
	device_id, account_id, category, capacity_kw, status,
	owner_name, last_seen_at, last_power_kw, last_reading_at
`

func scanDevice(row pgx.Row) (*db.Device, error) {
	var d db.Device
	err := row.Scan(
		&d.DeviceID,
		&d.AccountID,
		&d.Category,
		&d.CapacityKW,
		&d.Status,
		&d.OwnerName,
		&d.LastSeenAt,
		&d.LastPowerKW,
		&d.LastReadingAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to query device: %w", err)
	}
	return &d, nil
}

// GetDeviceForAccount looks up a device by id with an ownership check.
func (r *DeviceRegistry) GetDeviceForAccount(ctx context.Context, deviceID, accountID string) (*db.Device, error) {
	query := `
		SELECT ` + deviceColumns + `
		FROM devices
		WHERE device_id = $1 AND account_id = $2
	`
	return scanDevice(r.pool.QueryRow(ctx, query, deviceID, accountID))
}

// GetDevice looks up a device by id alone, used when the owning account
// must be resolved from the registry.
func (r *DeviceRegistry) GetDevice(ctx context.Context, deviceID string) (*db.Device, error) {
	query := `
		SELECT ` + deviceColumns + `
		FROM devices
		WHERE device_id = $1
	`
	return scanDevice(r.pool.QueryRow(ctx, query, deviceID))
}

// UpdateLiveness records that a device produced an accepted reading:
// last-seen timestamp, last-known power snapshot, and a status promotion
// back to active. Last-writer-wins; an older reading processed late may
// briefly regress the snapshot.
func (r *DeviceRegistry) UpdateLiveness(ctx context.Context, deviceID string, readingAt time.Time, powerKW *float64) error {
	query := `
		UPDATE devices
		SET last_seen_at = $2,
		    last_reading_at = $3,
		    last_power_kw = COALESCE($4, last_power_kw),
		    status = $5
		WHERE device_id = $1
	`

	_, err := r.pool.Exec(ctx, query,
		deviceID,
		time.Now().UTC(),
		readingAt,
		powerKW,
		db.DeviceStatusActive,
	)
	if err != nil {
		return fmt.Errorf("failed to update device liveness: %w", err)
	}

	return nil
}
