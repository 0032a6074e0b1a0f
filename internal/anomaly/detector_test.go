package anomaly_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/heliowatt/solar-telemetry-worker/internal/anomaly"
	"github.com/heliowatt/solar-telemetry-worker/internal/models"
)

const (
	testWindowDays = 30
	testDropRatio  = 0.5
)

type fakeBaselines struct {
	mean *float64
	err  error

	gotDeviceID string
	gotHour     int
	gotWeekday  int
	gotWindow   int
}

func (f *fakeBaselines) BaselineMeanPower(_ context.Context, deviceID string, hour, weekday, windowDays int) (*float64, error) {
	f.gotDeviceID = deviceID
	f.gotHour = hour
	f.gotWeekday = weekday
	f.gotWindow = windowDays
	return f.mean, f.err
}

func ptr(v float64) *float64 { return &v }

func generationReading(powerKW float64) models.EnrichedReading {
	return models.EnrichedReading{
		RawReading: models.RawReading{
			DeviceID:     "DEV_1",
			Measurements: map[string]float64{models.MeasurementPowerKW: powerKW},
		},
		AccountID: "U1",
		Category:  models.CategorySolarMeter,
		// Thursday, hour 12.
		ProcessedAt: time.Date(2026, 8, 20, 12, 4, 0, 0, time.UTC),
	}
}

func TestCheck_DropBelowBaselineRaisesEvent(t *testing.T) {
	baselines := &fakeBaselines{mean: ptr(4.0)}
	d := anomaly.NewDetector(baselines, true, testWindowDays, testDropRatio)

	event, err := d.Check(context.Background(), generationReading(1.5))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if event == nil {
		t.Fatal("Expected an anomaly event")
	}

	if event.ObservedKW != 1.5 || event.BaselineKW != 4.0 {
		t.Errorf("Expected observed 1.5 baseline 4.0, got %+v", event)
	}
	if event.Ratio != 1.5/4.0 {
		t.Errorf("Expected ratio %.4f, got %.4f", 1.5/4.0, event.Ratio)
	}
	if event.DeviceID != "DEV_1" || event.AccountID != "U1" {
		t.Errorf("Event misses identity fields: %+v", event)
	}
}

func TestCheck_QueriesMatchingHourAndWeekday(t *testing.T) {
	baselines := &fakeBaselines{mean: ptr(4.0)}
	d := anomaly.NewDetector(baselines, true, testWindowDays, testDropRatio)

	if _, err := d.Check(context.Background(), generationReading(1.5)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if baselines.gotDeviceID != "DEV_1" {
		t.Errorf("Expected device DEV_1, got %s", baselines.gotDeviceID)
	}
	if baselines.gotHour != 12 {
		t.Errorf("Expected hour 12, got %d", baselines.gotHour)
	}
	if baselines.gotWeekday != int(time.Thursday) {
		t.Errorf("Expected weekday %d, got %d", int(time.Thursday), baselines.gotWeekday)
	}
	if baselines.gotWindow != testWindowDays {
		t.Errorf("Expected window %d, got %d", testWindowDays, baselines.gotWindow)
	}
}

func TestCheck_NormalGenerationRaisesNothing(t *testing.T) {
	d := anomaly.NewDetector(&fakeBaselines{mean: ptr(4.0)}, true, testWindowDays, testDropRatio)

	event, err := d.Check(context.Background(), generationReading(3.8))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if event != nil {
		t.Errorf("Expected no event for 3.8 against baseline 4.0, got %+v", event)
	}
}

func TestCheck_NoBaselineIsNotAnAnomaly(t *testing.T) {
	d := anomaly.NewDetector(&fakeBaselines{mean: nil}, true, testWindowDays, testDropRatio)

	event, err := d.Check(context.Background(), generationReading(0.1))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if event != nil {
		t.Error("Absence of history must not raise an event")
	}
}

func TestCheck_DisabledDetectorDoesNothing(t *testing.T) {
	baselines := &fakeBaselines{mean: ptr(4.0)}
	d := anomaly.NewDetector(baselines, false, testWindowDays, testDropRatio)

	event, err := d.Check(context.Background(), generationReading(0.1))
	if err != nil || event != nil {
		t.Errorf("Disabled detector must be a no-op, got event=%v err=%v", event, err)
	}
	if baselines.gotDeviceID != "" {
		t.Error("Disabled detector must not query baselines")
	}
}

func TestCheck_SkipsNonGenerationCategories(t *testing.T) {
	baselines := &fakeBaselines{mean: ptr(4.0)}
	d := anomaly.NewDetector(baselines, true, testWindowDays, testDropRatio)

	reading := generationReading(0.1)
	reading.Category = models.CategoryBatteryMgmt

	event, err := d.Check(context.Background(), reading)
	if err != nil || event != nil {
		t.Errorf("Expected no event for battery category, got event=%v err=%v", event, err)
	}
}

func TestCheck_SkipsReadingsWithoutPower(t *testing.T) {
	d := anomaly.NewDetector(&fakeBaselines{mean: ptr(4.0)}, true, testWindowDays, testDropRatio)

	reading := generationReading(0)
	reading.Measurements = map[string]float64{models.MeasurementVoltage: 230}

	event, err := d.Check(context.Background(), reading)
	if err != nil || event != nil {
		t.Errorf("Expected no event without power measurement, got event=%v err=%v", event, err)
	}
}

func TestCheck_BaselineErrorPropagates(t *testing.T) {
	d := anomaly.NewDetector(&fakeBaselines{err: errors.New("db down")}, true, testWindowDays, testDropRatio)

	event, err := d.Check(context.Background(), generationReading(1.5))
	if err == nil {
		t.Error("Expected baseline query error to propagate")
	}
	if event != nil {
		t.Error("Expected no event on baseline failure")
	}
}
