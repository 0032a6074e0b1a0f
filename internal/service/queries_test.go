package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/heliowatt/solar-telemetry-worker/internal/db"
	"github.com/heliowatt/solar-telemetry-worker/internal/models"
	"github.com/heliowatt/solar-telemetry-worker/internal/repository"
	"github.com/heliowatt/solar-telemetry-worker/internal/service"
)

type fakeSnapshotReader struct {
	snap *models.LatestSnapshot
	err  error
}

func (f *fakeSnapshotReader) GetLatest(context.Context, string) (*models.LatestSnapshot, error) {
	return f.snap, f.err
}

type fakeHistorySource struct {
	sample  *db.TelemetrySample
	err     error
	buckets []db.HistoryBucket

	gotFrom, gotTo time.Time
	gotResolution  repository.Resolution
}

func (f *fakeHistorySource) LatestSample(context.Context, string) (*db.TelemetrySample, error) {
	return f.sample, f.err
}

func (f *fakeHistorySource) History(_ context.Context, _ string, from, to time.Time, resolution repository.Resolution) ([]db.HistoryBucket, error) {
	f.gotFrom, f.gotTo = from, to
	f.gotResolution = resolution
	return f.buckets, nil
}

type fakeCommandSender struct {
	err error

	gotAccountID string
	gotDeviceID  string
	gotCommand   string
	gotValue     interface{}
}

func (f *fakeCommandSender) Send(_ context.Context, accountID, deviceID, command string, value interface{}) error {
	f.gotAccountID = accountID
	f.gotDeviceID = deviceID
	f.gotCommand = command
	f.gotValue = value
	return f.err
}

func TestLatestReading_PrefersCachedSnapshot(t *testing.T) {
	cached := &models.LatestSnapshot{AccountID: "U1", DeviceID: "DEV_1"}
	samples := &fakeHistorySource{}
	q := service.NewQueries(&fakeSnapshotReader{snap: cached}, samples, &fakeCommandSender{}, zap.NewNop())

	got, err := q.LatestReading(context.Background(), "U1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != cached {
		t.Error("Expected the cached snapshot to be returned as-is")
	}
}

func TestLatestReading_FallsBackToDurableStore(t *testing.T) {
	power := 3.2
	eff := 64.0
	readingAt := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	samples := &fakeHistorySource{sample: &db.TelemetrySample{
		Time:          readingAt,
		DeviceID:      "DEV_1",
		AccountID:     "U1",
		Category:      models.CategorySolarMeter,
		PowerKW:       &power,
		EfficiencyPct: &eff,
	}}
	q := service.NewQueries(&fakeSnapshotReader{}, samples, &fakeCommandSender{}, zap.NewNop())

	got, err := q.LatestReading(context.Background(), "U1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got == nil {
		t.Fatal("Expected a snapshot rebuilt from the durable row")
	}
	if got.DeviceID != "DEV_1" || got.AccountID != "U1" {
		t.Errorf("Snapshot misses identity fields: %+v", got)
	}
	if got.Measurements[models.MeasurementPowerKW] != 3.2 {
		t.Error("Expected power measurement to be rebuilt")
	}
	if _, ok := got.Measurements[models.MeasurementVoltage]; ok {
		t.Error("Absent columns must not appear as measurements")
	}
	if got.EfficiencyPct == nil || *got.EfficiencyPct != 64.0 {
		t.Error("Expected efficiency to survive the rebuild")
	}
	if !got.ReadingAt.Equal(readingAt) {
		t.Errorf("Expected reading time %v, got %v", readingAt, got.ReadingAt)
	}
}

func TestLatestReading_CacheErrorFallsBack(t *testing.T) {
	power := 1.0
	samples := &fakeHistorySource{sample: &db.TelemetrySample{
		DeviceID:  "DEV_1",
		AccountID: "U1",
		PowerKW:   &power,
	}}
	reader := &fakeSnapshotReader{err: errors.New("redis down")}
	q := service.NewQueries(reader, samples, &fakeCommandSender{}, zap.NewNop())

	got, err := q.LatestReading(context.Background(), "U1")
	if err != nil {
		t.Fatalf("Cache failure must not surface when the durable store answers: %v", err)
	}
	if got == nil || got.DeviceID != "DEV_1" {
		t.Error("Expected the durable fallback to answer")
	}
}

func TestLatestReading_NoReadingsReturnsNil(t *testing.T) {
	q := service.NewQueries(&fakeSnapshotReader{}, &fakeHistorySource{}, &fakeCommandSender{}, zap.NewNop())

	got, err := q.LatestReading(context.Background(), "U_NOBODY")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for an account without readings, got %+v", got)
	}
}

func TestHistory_PassesWindowAndResolution(t *testing.T) {
	samples := &fakeHistorySource{buckets: []db.HistoryBucket{{SampleCount: 4}}}
	q := service.NewQueries(&fakeSnapshotReader{}, samples, &fakeCommandSender{}, zap.NewNop())

	from := time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	buckets, err := q.History(context.Background(), "U1", from, to, repository.ResolutionHourly)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(buckets) != 1 {
		t.Fatalf("Expected 1 bucket, got %d", len(buckets))
	}
	if !samples.gotFrom.Equal(from) || !samples.gotTo.Equal(to) {
		t.Error("Expected the window to pass through unchanged")
	}
	if samples.gotResolution != repository.ResolutionHourly {
		t.Errorf("Expected hourly resolution, got %s", samples.gotResolution)
	}
}

func TestSendCommand_DelegatesToDispatcher(t *testing.T) {
	sender := &fakeCommandSender{}
	q := service.NewQueries(&fakeSnapshotReader{}, &fakeHistorySource{}, sender, zap.NewNop())

	if err := q.SendCommand(context.Background(), "U1", "DEV_1", "set_mode", "eco"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if sender.gotAccountID != "U1" || sender.gotDeviceID != "DEV_1" {
		t.Error("Expected identity fields to pass through")
	}
	if sender.gotCommand != "set_mode" || sender.gotValue != "eco" {
		t.Error("Expected command and value to pass through")
	}
}

func TestSendCommand_PropagatesTransportError(t *testing.T) {
	sender := &fakeCommandSender{err: errors.New("not connected")}
	q := service.NewQueries(&fakeSnapshotReader{}, &fakeHistorySource{}, sender, zap.NewNop())

	if err := q.SendCommand(context.Background(), "U1", "DEV_1", "restart", nil); err == nil {
		t.Error("Expected the dispatcher error to propagate")
	}
}
