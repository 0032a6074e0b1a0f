package db

import (
	"time"

	"github.com/google/uuid"
)

// Device lifecycle statuses.
const (
	DeviceStatusActive         = "active"
	DeviceStatusInactive       = "inactive"
	DeviceStatusDecommissioned = "decommissioned"
)

// Device is a row in the device registry. The pipeline reads the registry
// and mutates only the liveness fields (last seen, last known reading,
// status promotion to active).
type Device struct {
	DeviceID      string
	AccountID     string
	Category      string
	CapacityKW    float64
	Status        string
	OwnerName     string
	LastSeenAt    *time.Time
	LastPowerKW   *float64
	LastReadingAt *time.Time
}

// TelemetrySample is one immutable row in the durable time-series store,
// keyed by (time, device_id). A sample exists if and only if its reading
// passed validation.
type TelemetrySample struct {
	Time      time.Time
	DeviceID  string
	AccountID string
	Category  string

	PowerKW        *float64
	EnergyKWH      *float64
	Voltage        *float64
	Current        *float64
	Frequency      *float64
	PowerFactor    *float64
	BatterySOC     *float64
	BatteryVoltage *float64
	BatteryCurrent *float64
	Temperature    *float64
	EfficiencyPct  *float64
}

// DeadLetter is an append-only record of a rejected or storage-failed
// message, kept for manual triage.
type DeadLetter struct {
	ID         uuid.UUID
	Topic      string
	Payload    []byte
	Reason     string
	ReceivedAt time.Time
}

// HistoryBucket is one time-bucketed aggregate returned by history queries.
type HistoryBucket struct {
	BucketStart  time.Time
	AvgPowerKW   *float64
	MinPowerKW   *float64
	MaxPowerKW   *float64
	EnergyKWHSum *float64
	SampleCount  int64
}
