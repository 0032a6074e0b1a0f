package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/heliowatt/solar-telemetry-worker/internal/anomaly"
	"github.com/heliowatt/solar-telemetry-worker/internal/config"
	"github.com/heliowatt/solar-telemetry-worker/internal/db"
	"github.com/heliowatt/solar-telemetry-worker/internal/enrich"
	"github.com/heliowatt/solar-telemetry-worker/internal/logging"
	"github.com/heliowatt/solar-telemetry-worker/internal/metrics"
	"github.com/heliowatt/solar-telemetry-worker/internal/models"
	"github.com/heliowatt/solar-telemetry-worker/internal/mq"
	"github.com/heliowatt/solar-telemetry-worker/internal/validator"
)

// SampleStore is the durable time-series tier. Its write is the sole
// correctness gate for a reading.
type SampleStore interface {
	InsertSample(ctx context.Context, sample *db.TelemetrySample) error
}

// SnapshotWriter is the fast-lookup cache tier.
type SnapshotWriter interface {
	SetLatest(ctx context.Context, snap *models.LatestSnapshot) error
}

// LivenessUpdater is the device liveness tier.
type LivenessUpdater interface {
	UpdateLiveness(ctx context.Context, deviceID string, readingAt time.Time, powerKW *float64) error
}

// DeadLetterSink records failed messages. Implementations never raise.
type DeadLetterSink interface {
	Record(ctx context.Context, topic string, payload []byte, reason string, receivedAt time.Time)
}

// EventPublisher emits accepted-reading and anomaly events to the outbound
// exchange.
type EventPublisher interface {
	PublishReadingAccepted(ctx context.Context, event mq.ReadingAcceptedEvent, routingKey string) error
	PublishAnomaly(ctx context.Context, event mq.AnomalyDetectedEvent, routingKey string) error
}

// Processor runs one reading through validate, enrich, store, and detect.
// Rejections and advisory failures are absorbed here; only a durable store
// failure propagates to the caller.
type Processor struct {
	validator   *validator.Validator
	enricher    *enrich.Enricher
	detector    *anomaly.Detector
	samples     SampleStore
	snapshots   SnapshotWriter
	liveness    LivenessUpdater
	deadLetters DeadLetterSink
	events      EventPublisher
	metrics     *metrics.Metrics
	cfg         *config.Config
	logger      *zap.Logger
}

// NewProcessor creates a new reading processor
func NewProcessor(
	v *validator.Validator,
	e *enrich.Enricher,
	d *anomaly.Detector,
	samples SampleStore,
	snapshots SnapshotWriter,
	liveness LivenessUpdater,
	deadLetters DeadLetterSink,
	events EventPublisher,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		validator:   v,
		enricher:    e,
		detector:    d,
		samples:     samples,
		snapshots:   snapshots,
		liveness:    liveness,
		deadLetters: deadLetters,
		events:      events,
		metrics:     m,
		cfg:         cfg,
		logger:      logger,
	}
}

// Process handles one inbound reading end to end.
func (p *Processor) Process(ctx context.Context, in models.InboundReading) error {
	reqLogger := logging.WithDevice(p.logger, in.Reading.DeviceID, in.AccountID)

	verdict, readingAt, _ := p.validator.Validate(ctx, in.AccountID, in.Reading, in.ReceivedAt)
	if !verdict.OK {
		reqLogger.Warn("reading rejected",
			zap.String("reason", verdict.Reason),
			zap.String("topic", in.Topic),
		)
		p.deadLetters.Record(ctx, in.Topic, in.Payload, verdict.Reason, in.ReceivedAt)
		p.metrics.ReadingsProcessed.WithLabelValues(metrics.ResultRejected).Inc()
		p.metrics.DeadLetters.Inc()
		return nil
	}

	enriched := p.enricher.Enrich(ctx, in.AccountID, in.Category, in.Reading, readingAt, time.Now().UTC())

	result, err := p.store(ctx, in, enriched)
	if err != nil {
		p.metrics.ReadingsProcessed.WithLabelValues(metrics.ResultFailed).Inc()
		return err
	}

	p.publishAccepted(ctx, enriched)
	p.detectAnomaly(ctx, enriched, reqLogger)

	p.metrics.ReadingsProcessed.WithLabelValues(metrics.ResultAccepted).Inc()
	reqLogger.Info("reading stored",
		zap.Time("reading_at", enriched.ReadingAt),
		zap.String("enrichment", string(enriched.Enrichment)),
		zap.Bool("cache_ok", result.CacheOK),
		zap.Bool("liveness_ok", result.LivenessOK),
	)

	return nil
}

// store performs the three tiered writes in order. The writes are
// independent, not transactional: cache and liveness failures only degrade
// the fast path and are reported through the result, while a durable
// insert failure dead-letters the reading and fails the message.
func (p *Processor) store(ctx context.Context, in models.InboundReading, enriched models.EnrichedReading) (models.StoreResult, error) {
	result := models.StoreResult{CacheOK: true, LivenessOK: true}

	if err := p.snapshots.SetLatest(ctx, buildSnapshot(enriched)); err != nil {
		result.CacheOK = false
		p.logger.Warn("snapshot cache write failed",
			zap.String("account_id", enriched.AccountID),
			zap.Error(err),
		)
	}

	if err := p.samples.InsertSample(ctx, toSample(enriched)); err != nil {
		reason := fmt.Sprintf("durable store write failed: %v", err)
		p.deadLetters.Record(ctx, in.Topic, in.Payload, reason, in.ReceivedAt)
		p.metrics.DeadLetters.Inc()
		return result, fmt.Errorf("failed to store reading: %w", err)
	}

	power := measurementPtr(enriched.Measurements, models.MeasurementPowerKW)
	if err := p.liveness.UpdateLiveness(ctx, enriched.DeviceID, enriched.ReadingAt, power); err != nil {
		result.LivenessOK = false
		p.logger.Warn("device liveness update failed",
			zap.String("device_id", enriched.DeviceID),
			zap.Error(err),
		)
	}

	return result, nil
}

func (p *Processor) publishAccepted(ctx context.Context, enriched models.EnrichedReading) {
	event := mq.ReadingAcceptedEvent{
		AccountID:        enriched.AccountID,
		DeviceID:         enriched.DeviceID,
		Category:         enriched.Category,
		PowerKW:          measurementPtr(enriched.Measurements, models.MeasurementPowerKW),
		EnergyKWH:        measurementPtr(enriched.Measurements, models.MeasurementEnergyKWH),
		EfficiencyPct:    enriched.EfficiencyPct,
		ReadingTimestamp: enriched.ReadingAt.Format(time.RFC3339),
	}

	if err := p.events.PublishReadingAccepted(ctx, event, p.cfg.RabbitMQ.AcceptedRoutingKey); err != nil {
		p.logger.Error("failed to publish accepted-reading event",
			zap.String("device_id", enriched.DeviceID),
			zap.Error(err),
		)
	}
}

func (p *Processor) detectAnomaly(ctx context.Context, enriched models.EnrichedReading, logger *zap.Logger) {
	event, err := p.detector.Check(ctx, enriched)
	if err != nil {
		logger.Warn("anomaly check failed", zap.Error(err))
		return
	}
	if event == nil {
		return
	}

	logger.Warn("generation anomaly detected",
		zap.Float64("observed_kw", event.ObservedKW),
		zap.Float64("baseline_kw", event.BaselineKW),
		zap.Float64("ratio", event.Ratio),
	)
	p.metrics.Anomalies.Inc()

	mqEvent := mq.AnomalyDetectedEvent{
		AccountID:  event.AccountID,
		DeviceID:   event.DeviceID,
		ObservedKW: event.ObservedKW,
		BaselineKW: event.BaselineKW,
		Ratio:      event.Ratio,
		DetectedAt: event.DetectedAt.Format(time.RFC3339),
	}
	if err := p.events.PublishAnomaly(ctx, mqEvent, p.cfg.RabbitMQ.AnomalyRoutingKey); err != nil {
		logger.Error("failed to publish anomaly event", zap.Error(err))
	}
}

func buildSnapshot(enriched models.EnrichedReading) *models.LatestSnapshot {
	return &models.LatestSnapshot{
		AccountID:     enriched.AccountID,
		DeviceID:      enriched.DeviceID,
		Category:      enriched.Category,
		Measurements:  enriched.Measurements,
		EfficiencyPct: enriched.EfficiencyPct,
		OwnerName:     enriched.OwnerName,
		ReadingAt:     enriched.ReadingAt,
		UpdatedAt:     enriched.ProcessedAt,
	}
}

func toSample(enriched models.EnrichedReading) *db.TelemetrySample {
	m := enriched.Measurements
	return &db.TelemetrySample{
		Time:           enriched.ReadingAt,
		DeviceID:       enriched.DeviceID,
		AccountID:      enriched.AccountID,
		Category:       enriched.Category,
		PowerKW:        measurementPtr(m, models.MeasurementPowerKW),
		EnergyKWH:      measurementPtr(m, models.MeasurementEnergyKWH),
		Voltage:        measurementPtr(m, models.MeasurementVoltage),
		Current:        measurementPtr(m, models.MeasurementCurrent),
		Frequency:      measurementPtr(m, models.MeasurementFrequency),
		PowerFactor:    measurementPtr(m, models.MeasurementPowerFactor),
		BatterySOC:     measurementPtr(m, models.MeasurementBatterySOC),
		BatteryVoltage: measurementPtr(m, models.MeasurementBatteryVoltage),
		BatteryCurrent: measurementPtr(m, models.MeasurementBatteryCurrent),
		Temperature:    measurementPtr(m, models.MeasurementTemperature),
		EfficiencyPct:  enriched.EfficiencyPct,
	}
}

func measurementPtr(measurements map[string]float64, name string) *float64 {
	if value, ok := measurements[name]; ok {
		return &value
	}
	return nil
}
