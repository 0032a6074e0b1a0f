package validator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/heliowatt/solar-telemetry-worker/internal/db"
	"github.com/heliowatt/solar-telemetry-worker/internal/models"
	"github.com/heliowatt/solar-telemetry-worker/internal/registry"
	"github.com/heliowatt/solar-telemetry-worker/tools/timeparser"
)

// Rejection reasons for the non-range checks. Range rejections name the
// offending field and its valid range.
const (
	ReasonMissingFields    = "missing required fields (device_id, timestamp, measurements)"
	ReasonBadTimestamp     = "invalid timestamp format"
	ReasonFutureTimestamp  = "timestamp in the future"
	ReasonTooOld           = "data too old"
	ReasonDeviceNotFound   = "Device not found or does not belong to user"
	ReasonDecommissioned   = "device is decommissioned"
	ReasonRegistryFailed   = "device lookup failed"
)

// Verdict holds the validation outcome. Reason is set only on rejection.
type Verdict struct {
	OK     bool
	Reason string
}

func accept() Verdict {
	return Verdict{OK: true}
}

func reject(reason string) Verdict {
	return Verdict{Reason: reason}
}

// DeviceLookup is the registry read the validator needs.
type DeviceLookup interface {
	GetDeviceForAccount(ctx context.Context, deviceID, accountID string) (*db.Device, error)
}

// rangeCheck is one per-measurement physical range constraint, applied only
// when the measurement is present.
type rangeCheck struct {
	measurement string
	label       string
	min, max    float64
	unit        string
}

var rangeChecks = []rangeCheck{
	{models.MeasurementPowerKW, "Power", 0, 100, "kW"},
	{models.MeasurementVoltage, "Voltage", 200, 260, "V"},
	{models.MeasurementCurrent, "Current", 0, 100, "A"},
	{models.MeasurementBatterySOC, "Battery SOC", 0, 100, "%"},
}

// Validator checks required fields, timestamp freshness, device
// registration, and physical ranges. Checks short-circuit in order so the
// cheap ones fail before the registry is touched.
type Validator struct {
	registry               DeviceLookup
	futureToleranceMinutes int
	maxAgeMinutes          int
}

// NewValidator creates a new validator with the given freshness bounds
func NewValidator(reg DeviceLookup, futureToleranceMinutes, maxAgeMinutes int) *Validator {
	return &Validator{
		registry:               reg,
		futureToleranceMinutes: futureToleranceMinutes,
		maxAgeMinutes:          maxAgeMinutes,
	}
}

// Validate runs the check chain against one candidate reading. On accept it
// also returns the parsed reading timestamp and the registry device so the
// rest of the pipeline does not re-derive them. The only side effect is a
// single registry read.
func (v *Validator) Validate(ctx context.Context, accountID string, reading models.RawReading, receivedAt time.Time) (Verdict, time.Time, *db.Device) {
	if reading.DeviceID == "" || reading.Timestamp == "" || len(reading.Measurements) == 0 {
		return reject(ReasonMissingFields), time.Time{}, nil
	}

	readingAt, err := timeparser.ParseReadingTimestamp(reading.Timestamp)
	if err != nil {
		return reject(ReasonBadTimestamp), time.Time{}, nil
	}

	if timeparser.IsTooFarInFuture(readingAt, receivedAt, v.futureToleranceMinutes) {
		return reject(ReasonFutureTimestamp), readingAt, nil
	}

	if timeparser.IsTooOld(readingAt, receivedAt, v.maxAgeMinutes) {
		return reject(ReasonTooOld), readingAt, nil
	}

	device, err := v.registry.GetDeviceForAccount(ctx, reading.DeviceID, accountID)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			return reject(ReasonDeviceNotFound), readingAt, nil
		}
		return reject(fmt.Sprintf("%s: %v", ReasonRegistryFailed, err)), readingAt, nil
	}

	if device.Status == db.DeviceStatusDecommissioned {
		return reject(ReasonDecommissioned), readingAt, device
	}

	for _, check := range rangeChecks {
		value, ok := reading.Measurements[check.measurement]
		if !ok {
			continue
		}
		if value < check.min || value > check.max {
			reason := fmt.Sprintf("%s out of range (%g-%g %s): %.2f",
				check.label, check.min, check.max, check.unit, value)
			return reject(reason), readingAt, device
		}
	}

	return accept(), readingAt, device
}
