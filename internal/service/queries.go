package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/heliowatt/solar-telemetry-worker/internal/db"
	"github.com/heliowatt/solar-telemetry-worker/internal/models"
	"github.com/heliowatt/solar-telemetry-worker/internal/repository"
)

// SnapshotReader reads the latest-snapshot cache.
type SnapshotReader interface {
	GetLatest(ctx context.Context, accountID string) (*models.LatestSnapshot, error)
}

// HistorySource reads the durable time-series store.
type HistorySource interface {
	LatestSample(ctx context.Context, accountID string) (*db.TelemetrySample, error)
	History(ctx context.Context, accountID string, from, to time.Time, resolution repository.Resolution) ([]db.HistoryBucket, error)
}

// CommandSender dispatches operator commands to devices.
type CommandSender interface {
	Send(ctx context.Context, accountID, deviceID, command string, value interface{}) error
}

// Queries is the read/command surface the surrounding collaborators
// (dashboards, reporting, marketplace) consume.
type Queries struct {
	snapshots SnapshotReader
	samples   HistorySource
	commands  CommandSender
	logger    *zap.Logger
}

// NewQueries creates the collaborator-facing query surface
func NewQueries(snapshots SnapshotReader, samples HistorySource, commands CommandSender, logger *zap.Logger) *Queries {
	return &Queries{
		snapshots: snapshots,
		samples:   samples,
		commands:  commands,
		logger:    logger,
	}
}

// LatestReading returns the cached snapshot for an account, falling back
// to the most recent durable sample when the cache entry has expired or
// the cache is unreachable. Returns nil when the account has no readings.
func (q *Queries) LatestReading(ctx context.Context, accountID string) (*models.LatestSnapshot, error) {
	snap, err := q.snapshots.GetLatest(ctx, accountID)
	if err != nil {
		q.logger.Warn("snapshot cache read failed, falling back to durable store",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
	} else if snap != nil {
		return snap, nil
	}

	sample, err := q.samples.LatestSample(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if sample == nil {
		return nil, nil
	}

	return snapshotFromSample(sample), nil
}

// History returns time-bucketed aggregates for an account between two
// instants at hourly or daily resolution.
func (q *Queries) History(ctx context.Context, accountID string, from, to time.Time, resolution repository.Resolution) ([]db.HistoryBucket, error) {
	return q.samples.History(ctx, accountID, from, to, resolution)
}

// SendCommand dispatches a command to a device.
func (q *Queries) SendCommand(ctx context.Context, accountID, deviceID, command string, value interface{}) error {
	return q.commands.Send(ctx, accountID, deviceID, command, value)
}

// snapshotFromSample rebuilds a snapshot-shaped result from a durable row.
func snapshotFromSample(s *db.TelemetrySample) *models.LatestSnapshot {
	measurements := make(map[string]float64)
	put := func(name string, value *float64) {
		if value != nil {
			measurements[name] = *value
		}
	}
	put(models.MeasurementPowerKW, s.PowerKW)
	put(models.MeasurementEnergyKWH, s.EnergyKWH)
	put(models.MeasurementVoltage, s.Voltage)
	put(models.MeasurementCurrent, s.Current)
	put(models.MeasurementFrequency, s.Frequency)
	put(models.MeasurementPowerFactor, s.PowerFactor)
	put(models.MeasurementBatterySOC, s.BatterySOC)
	put(models.MeasurementBatteryVoltage, s.BatteryVoltage)
	put(models.MeasurementBatteryCurrent, s.BatteryCurrent)
	put(models.MeasurementTemperature, s.Temperature)

	return &models.LatestSnapshot{
		AccountID:     s.AccountID,
		DeviceID:      s.DeviceID,
		Category:      s.Category,
		Measurements:  measurements,
		EfficiencyPct: s.EfficiencyPct,
		ReadingAt:     s.Time,
		UpdatedAt:     s.Time,
	}
}
