package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/heliowatt/solar-telemetry-worker/internal/anomaly"
	"github.com/heliowatt/solar-telemetry-worker/internal/config"
	"github.com/heliowatt/solar-telemetry-worker/internal/db"
	"github.com/heliowatt/solar-telemetry-worker/internal/enrich"
	"github.com/heliowatt/solar-telemetry-worker/internal/metrics"
	"github.com/heliowatt/solar-telemetry-worker/internal/models"
	"github.com/heliowatt/solar-telemetry-worker/internal/mq"
	"github.com/heliowatt/solar-telemetry-worker/internal/registry"
	"github.com/heliowatt/solar-telemetry-worker/internal/service"
	"github.com/heliowatt/solar-telemetry-worker/internal/validator"
)

type fakeRegistry struct {
	device *db.Device
	err    error
}

func (f *fakeRegistry) GetDeviceForAccount(_ context.Context, deviceID, accountID string) (*db.Device, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.device == nil || f.device.DeviceID != deviceID || f.device.AccountID != accountID {
		return nil, registry.ErrDeviceNotFound
	}
	return f.device, nil
}

func (f *fakeRegistry) GetDevice(_ context.Context, deviceID string) (*db.Device, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.device == nil || f.device.DeviceID != deviceID {
		return nil, registry.ErrDeviceNotFound
	}
	return f.device, nil
}

type fakeSamples struct {
	err    error
	stored []*db.TelemetrySample
}

func (f *fakeSamples) InsertSample(_ context.Context, sample *db.TelemetrySample) error {
	if f.err != nil {
		return f.err
	}
	f.stored = append(f.stored, sample)
	return nil
}

type fakeSnapshots struct {
	err    error
	latest *models.LatestSnapshot
}

func (f *fakeSnapshots) SetLatest(_ context.Context, snap *models.LatestSnapshot) error {
	if f.err != nil {
		return f.err
	}
	f.latest = snap
	return nil
}

type fakeLiveness struct {
	err     error
	updated []string
}

func (f *fakeLiveness) UpdateLiveness(_ context.Context, deviceID string, _ time.Time, _ *float64) error {
	if f.err != nil {
		return f.err
	}
	f.updated = append(f.updated, deviceID)
	return nil
}

type deadLetterRecord struct {
	topic  string
	reason string
}

type fakeDeadLetters struct {
	records []deadLetterRecord
}

func (f *fakeDeadLetters) Record(_ context.Context, topic string, _ []byte, reason string, _ time.Time) {
	f.records = append(f.records, deadLetterRecord{topic: topic, reason: reason})
}

type fakeEvents struct {
	accepted  []mq.ReadingAcceptedEvent
	anomalies []mq.AnomalyDetectedEvent
}

func (f *fakeEvents) PublishReadingAccepted(_ context.Context, event mq.ReadingAcceptedEvent, _ string) error {
	f.accepted = append(f.accepted, event)
	return nil
}

func (f *fakeEvents) PublishAnomaly(_ context.Context, event mq.AnomalyDetectedEvent, _ string) error {
	f.anomalies = append(f.anomalies, event)
	return nil
}

type fakeBaselines struct {
	mean *float64
	err  error
}

func (f *fakeBaselines) BaselineMeanPower(context.Context, string, int, int, int) (*float64, error) {
	return f.mean, f.err
}

// harness wires a Processor over fakes for every external dependency.
type harness struct {
	processor   *service.Processor
	samples     *fakeSamples
	snapshots   *fakeSnapshots
	liveness    *fakeLiveness
	deadLetters *fakeDeadLetters
	events      *fakeEvents
	metrics     *metrics.Metrics
}

func newHarness(reg *fakeRegistry, baselines *fakeBaselines) *harness {
	cfg := &config.Config{
		RabbitMQ: config.RabbitMQConfig{
			AcceptedRoutingKey: "reading.accepted",
			AnomalyRoutingKey:  "anomaly.detected",
		},
	}

	h := &harness{
		samples:     &fakeSamples{},
		snapshots:   &fakeSnapshots{},
		liveness:    &fakeLiveness{},
		deadLetters: &fakeDeadLetters{},
		events:      &fakeEvents{},
		metrics:     metrics.New("test"),
	}

	h.processor = service.NewProcessor(
		validator.NewValidator(reg, 5, 60),
		enrich.NewEnricher(reg, zap.NewNop()),
		anomaly.NewDetector(baselines, true, 30, 0.5),
		h.samples,
		h.snapshots,
		h.liveness,
		h.deadLetters,
		h.events,
		h.metrics,
		cfg,
		zap.NewNop(),
	)
	return h
}

func registeredDevice() *db.Device {
	return &db.Device{
		DeviceID:   "DEV_1",
		AccountID:  "U1",
		Category:   models.CategorySolarMeter,
		CapacityKW: 5.0,
		Status:     db.DeviceStatusActive,
		OwnerName:  "Ana Marin",
	}
}

func inbound(receivedAt time.Time, measurements map[string]float64) models.InboundReading {
	return models.InboundReading{
		Topic:     "energy/U1/solar_meter/DEV_1",
		AccountID: "U1",
		Category:  models.CategorySolarMeter,
		Reading: models.RawReading{
			DeviceID:     "DEV_1",
			Timestamp:    receivedAt.Add(-2 * time.Minute).Format(time.RFC3339),
			Measurements: measurements,
		},
		Payload:    []byte(`{"device_id":"DEV_1"}`),
		ReceivedAt: receivedAt,
	}
}

func TestProcess_AcceptedReadingReachesAllThreeTiers(t *testing.T) {
	h := newHarness(&fakeRegistry{device: registeredDevice()}, &fakeBaselines{})
	now := time.Now().UTC()

	err := h.processor.Process(context.Background(), inbound(now, map[string]float64{
		models.MeasurementPowerKW: 3.2,
		models.MeasurementVoltage: 230,
	}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(h.samples.stored) != 1 {
		t.Fatalf("Expected 1 durable sample, got %d", len(h.samples.stored))
	}
	sample := h.samples.stored[0]
	if sample.DeviceID != "DEV_1" || sample.AccountID != "U1" {
		t.Errorf("Sample misses identity fields: %+v", sample)
	}
	if sample.PowerKW == nil || *sample.PowerKW != 3.2 {
		t.Error("Expected power to be stored")
	}
	if sample.EfficiencyPct == nil || *sample.EfficiencyPct != 64.0 {
		t.Error("Expected enriched efficiency on the durable sample")
	}

	if h.snapshots.latest == nil {
		t.Fatal("Expected a snapshot cache write")
	}
	if h.snapshots.latest.AccountID != "U1" || h.snapshots.latest.DeviceID != "DEV_1" {
		t.Errorf("Snapshot misses identity fields: %+v", h.snapshots.latest)
	}

	if len(h.liveness.updated) != 1 || h.liveness.updated[0] != "DEV_1" {
		t.Error("Expected a liveness update for DEV_1")
	}

	if len(h.deadLetters.records) != 0 {
		t.Errorf("Expected no dead letters, got %+v", h.deadLetters.records)
	}
	if len(h.events.accepted) != 1 {
		t.Fatalf("Expected 1 accepted-reading event, got %d", len(h.events.accepted))
	}
	if got := testutil.ToFloat64(h.metrics.ReadingsProcessed.WithLabelValues(metrics.ResultAccepted)); got != 1 {
		t.Errorf("Expected accepted counter 1, got %g", got)
	}
}

func TestProcess_UnregisteredDeviceIsDeadLettered(t *testing.T) {
	h := newHarness(&fakeRegistry{}, &fakeBaselines{})
	now := time.Now().UTC()

	err := h.processor.Process(context.Background(), inbound(now, map[string]float64{
		models.MeasurementPowerKW: 3.2,
	}))
	if err != nil {
		t.Fatalf("Rejection must not surface as an error: %v", err)
	}

	if len(h.samples.stored) != 0 {
		t.Error("Rejected reading must not reach the durable store")
	}
	if h.snapshots.latest != nil {
		t.Error("Rejected reading must not touch the snapshot cache")
	}
	if len(h.deadLetters.records) != 1 {
		t.Fatalf("Expected 1 dead letter, got %d", len(h.deadLetters.records))
	}
	if h.deadLetters.records[0].reason != validator.ReasonDeviceNotFound {
		t.Errorf("Expected reason %q, got %q", validator.ReasonDeviceNotFound, h.deadLetters.records[0].reason)
	}
	if got := testutil.ToFloat64(h.metrics.DeadLetters); got != 1 {
		t.Errorf("Expected dead-letter counter 1, got %g", got)
	}
}

func TestProcess_OutOfRangeBatterySOCIsRejected(t *testing.T) {
	h := newHarness(&fakeRegistry{device: registeredDevice()}, &fakeBaselines{})
	now := time.Now().UTC()

	err := h.processor.Process(context.Background(), inbound(now, map[string]float64{
		models.MeasurementBatterySOC: 150,
	}))
	if err != nil {
		t.Fatalf("Rejection must not surface as an error: %v", err)
	}

	if len(h.samples.stored) != 0 {
		t.Error("Out-of-range reading must not be stored")
	}
	if len(h.deadLetters.records) != 1 {
		t.Fatalf("Expected 1 dead letter, got %d", len(h.deadLetters.records))
	}
	if got := h.deadLetters.records[0].reason; got != "Battery SOC out of range (0-100 %): 150.00" {
		t.Errorf("Unexpected rejection reason: %q", got)
	}
}

func TestProcess_DurableStoreFailureDeadLettersAndFails(t *testing.T) {
	h := newHarness(&fakeRegistry{device: registeredDevice()}, &fakeBaselines{})
	h.samples.err = errors.New("connection refused")
	now := time.Now().UTC()

	err := h.processor.Process(context.Background(), inbound(now, map[string]float64{
		models.MeasurementPowerKW: 3.2,
	}))
	if err == nil {
		t.Fatal("Expected durable store failure to propagate")
	}

	if len(h.deadLetters.records) != 1 {
		t.Fatalf("Expected 1 dead letter, got %d", len(h.deadLetters.records))
	}
	if len(h.events.accepted) != 0 {
		t.Error("Failed reading must not emit an accepted event")
	}
	if got := testutil.ToFloat64(h.metrics.ReadingsProcessed.WithLabelValues(metrics.ResultFailed)); got != 1 {
		t.Errorf("Expected failed counter 1, got %g", got)
	}
}

func TestProcess_CacheFailureIsAdvisory(t *testing.T) {
	h := newHarness(&fakeRegistry{device: registeredDevice()}, &fakeBaselines{})
	h.snapshots.err = errors.New("redis down")
	now := time.Now().UTC()

	err := h.processor.Process(context.Background(), inbound(now, map[string]float64{
		models.MeasurementPowerKW: 3.2,
	}))
	if err != nil {
		t.Fatalf("Cache failure must not fail the message: %v", err)
	}

	if len(h.samples.stored) != 1 {
		t.Error("Durable write must proceed despite a cache failure")
	}
	if len(h.deadLetters.records) != 0 {
		t.Error("Cache failure must not dead-letter the reading")
	}
}

func TestProcess_LivenessFailureIsAdvisory(t *testing.T) {
	h := newHarness(&fakeRegistry{device: registeredDevice()}, &fakeBaselines{})
	h.liveness.err = errors.New("deadlock detected")
	now := time.Now().UTC()

	err := h.processor.Process(context.Background(), inbound(now, map[string]float64{
		models.MeasurementPowerKW: 3.2,
	}))
	if err != nil {
		t.Fatalf("Liveness failure must not fail the message: %v", err)
	}
	if len(h.samples.stored) != 1 {
		t.Error("Durable write must proceed despite a liveness failure")
	}
}

func TestProcess_AnomalousDropEmitsEvent(t *testing.T) {
	baseline := 4.0
	h := newHarness(&fakeRegistry{device: registeredDevice()}, &fakeBaselines{mean: &baseline})
	now := time.Now().UTC()

	err := h.processor.Process(context.Background(), inbound(now, map[string]float64{
		models.MeasurementPowerKW: 1.5,
	}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(h.events.anomalies) != 1 {
		t.Fatalf("Expected 1 anomaly event, got %d", len(h.events.anomalies))
	}
	event := h.events.anomalies[0]
	if event.ObservedKW != 1.5 || event.BaselineKW != 4.0 {
		t.Errorf("Unexpected anomaly payload: %+v", event)
	}
	if got := testutil.ToFloat64(h.metrics.Anomalies); got != 1 {
		t.Errorf("Expected anomaly counter 1, got %g", got)
	}
}

func TestProcess_AnomalyCheckFailureDoesNotFailTheReading(t *testing.T) {
	h := newHarness(&fakeRegistry{device: registeredDevice()}, &fakeBaselines{err: errors.New("db down")})
	now := time.Now().UTC()

	err := h.processor.Process(context.Background(), inbound(now, map[string]float64{
		models.MeasurementPowerKW: 1.5,
	}))
	if err != nil {
		t.Fatalf("Anomaly check failure must not fail the message: %v", err)
	}
	if len(h.samples.stored) != 1 {
		t.Error("Reading must still be stored when the anomaly check fails")
	}
}
