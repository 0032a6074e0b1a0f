package models

import "time"

// Device categories as they appear in the topic namespace. Topics that omit
// the category segment are treated as generation traffic.
const (
	CategoryGeneration     = "generation"
	CategorySolarMeter     = "solar_meter"
	CategoryConsumption    = "consumption_meter"
	CategoryBatteryMgmt    = "battery_mgmt"
	CategoryWeatherStation = "weather_station"
)

// IsGenerationCategory reports whether readings of this category count as
// solar generation for efficiency and anomaly purposes.
func IsGenerationCategory(category string) bool {
	return category == CategoryGeneration || category == CategorySolarMeter
}

// Measurement names accepted in reading payloads. Anything else in the
// measurements object is carried through untouched but never range-checked.
const (
	MeasurementPowerKW        = "power_kw"
	MeasurementEnergyKWH      = "energy_kwh"
	MeasurementVoltage        = "voltage"
	MeasurementCurrent        = "current"
	MeasurementFrequency      = "frequency"
	MeasurementPowerFactor    = "power_factor"
	MeasurementBatterySOC     = "battery_soc"
	MeasurementBatteryVoltage = "battery_voltage"
	MeasurementBatteryCurrent = "battery_current"
	MeasurementTemperature    = "temperature"
)

// RawReading is the inbound reading payload as published by a device.
// Unknown extra fields are ignored by json.Unmarshal.
type RawReading struct {
	DeviceID     string             `json:"device_id"`
	Timestamp    string             `json:"timestamp"`
	Measurements map[string]float64 `json:"measurements"`
}

// InboundReading is one transport message after topic routing: the decoded
// payload plus the context extracted from the topic. It exists only for the
// duration of one pipeline pass.
type InboundReading struct {
	Topic      string
	AccountID  string
	Category   string
	Reading    RawReading
	Payload    []byte
	ReceivedAt time.Time
}

// EnrichmentStatus tags whether registry enrichment was applied or the
// reading passed through unenriched after a registry failure.
type EnrichmentStatus string

const (
	EnrichmentApplied     EnrichmentStatus = "enriched"
	EnrichmentPassthrough EnrichmentStatus = "passthrough"
)

// EnrichedReading is the unit of persistence: the validated reading plus
// owner metadata and derived fields.
type EnrichedReading struct {
	RawReading

	AccountID   string
	Category    string
	ReadingAt   time.Time
	ProcessedAt time.Time

	// EfficiencyPct is instantaneous power as a percentage of declared
	// capacity. Nil when the device is not a generation device, reports no
	// power, or its capacity is unknown.
	EfficiencyPct *float64
	OwnerName     string
	CapacityKW    float64

	Enrichment EnrichmentStatus
}

// LatestSnapshot is the fast-lookup cache entry, one per account,
// overwritten on every accepted reading.
type LatestSnapshot struct {
	AccountID     string             `json:"account_id"`
	DeviceID      string             `json:"device_id"`
	Category      string             `json:"category"`
	Measurements  map[string]float64 `json:"measurements"`
	EfficiencyPct *float64           `json:"efficiency_pct,omitempty"`
	OwnerName     string             `json:"owner_name,omitempty"`
	ReadingAt     time.Time          `json:"reading_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// AnomalyEvent is raised when generation power drops well below the
// historical baseline for the same hour-of-day and day-of-week.
type AnomalyEvent struct {
	DeviceID   string
	AccountID  string
	ObservedKW float64
	BaselineKW float64
	Ratio      float64
	DetectedAt time.Time
}

// StoreResult reports the advisory side effects of a successful durable
// write. The durable insert itself is the correctness gate; cache and
// liveness failures only degrade the fast path.
type StoreResult struct {
	CacheOK    bool
	LivenessOK bool
}

// CommandMessage is the outbound payload published to a device command
// topic. Fire-and-forget, no acknowledgment is tracked.
type CommandMessage struct {
	Command   string      `json:"command"`
	Value     interface{} `json:"value,omitempty"`
	Timestamp string      `json:"timestamp"`
}
