package anomaly

import (
	"context"
	"fmt"

	"github.com/heliowatt/solar-telemetry-worker/internal/models"
)

// BaselineSource provides the trailing historical mean used as the
// comparison point. Nil means no qualifying history exists.
type BaselineSource interface {
	BaselineMeanPower(ctx context.Context, deviceID string, hour, weekday, windowDays int) (*float64, error)
}

// Detector compares generation power against the device's trailing
// hour-of-day/day-of-week baseline. The check is advisory: its failure or
// absence never blocks storage.
type Detector struct {
	baselines  BaselineSource
	enabled    bool
	windowDays int
	dropRatio  float64
}

// NewDetector creates a new anomaly detector
func NewDetector(baselines BaselineSource, enabled bool, windowDays int, dropRatio float64) *Detector {
	return &Detector{
		baselines:  baselines,
		enabled:    enabled,
		windowDays: windowDays,
		dropRatio:  dropRatio,
	}
}

// Check evaluates one stored reading. It returns an event when generation
// power has dropped below the configured fraction of the baseline, and nil
// when the detector is disabled, the reading is not generation traffic,
// power is absent, or no baseline exists yet.
func (d *Detector) Check(ctx context.Context, reading models.EnrichedReading) (*models.AnomalyEvent, error) {
	if !d.enabled {
		return nil, nil
	}
	if !models.IsGenerationCategory(reading.Category) {
		return nil, nil
	}

	observed, ok := reading.Measurements[models.MeasurementPowerKW]
	if !ok {
		return nil, nil
	}

	hour := reading.ProcessedAt.Hour()
	weekday := int(reading.ProcessedAt.Weekday())

	baseline, err := d.baselines.BaselineMeanPower(ctx, reading.DeviceID, hour, weekday, d.windowDays)
	if err != nil {
		return nil, fmt.Errorf("failed to query baseline: %w", err)
	}
	if baseline == nil || *baseline <= 0 {
		// Insufficient history is not an anomaly.
		return nil, nil
	}

	ratio := observed / *baseline
	if ratio >= d.dropRatio {
		return nil, nil
	}

	return &models.AnomalyEvent{
		DeviceID:   reading.DeviceID,
		AccountID:  reading.AccountID,
		ObservedKW: observed,
		BaselineKW: *baseline,
		Ratio:      ratio,
		DetectedAt: reading.ProcessedAt,
	}, nil
}
