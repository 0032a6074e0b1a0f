package enrich

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/heliowatt/solar-telemetry-worker/internal/db"
	"github.com/heliowatt/solar-telemetry-worker/internal/models"
)

// DeviceLookup is the registry read the enricher needs.
type DeviceLookup interface {
	GetDevice(ctx context.Context, deviceID string) (*db.Device, error)
}

// Enricher augments an accepted reading with owner metadata and
// instantaneous efficiency. Enrichment is best-effort: a registry failure
// produces a passthrough reading, never a pipeline error.
type Enricher struct {
	registry DeviceLookup
	logger   *zap.Logger
}

// NewEnricher creates a new enricher
func NewEnricher(registry DeviceLookup, logger *zap.Logger) *Enricher {
	return &Enricher{registry: registry, logger: logger}
}

// Enrich builds the unit of persistence from an accepted reading. Given
// the same registry state it is deterministic: enriching twice yields
// identical output.
func (e *Enricher) Enrich(ctx context.Context, accountID, category string, reading models.RawReading, readingAt, processedAt time.Time) models.EnrichedReading {
	enriched := models.EnrichedReading{
		RawReading:  reading,
		AccountID:   accountID,
		Category:    category,
		ReadingAt:   readingAt,
		ProcessedAt: processedAt,
		Enrichment:  models.EnrichmentPassthrough,
	}

	device, err := e.registry.GetDevice(ctx, reading.DeviceID)
	if err != nil {
		e.logger.Warn("enrichment lookup failed, passing reading through",
			zap.String("device_id", reading.DeviceID),
			zap.Error(err),
		)
		return enriched
	}

	enriched.OwnerName = device.OwnerName
	enriched.CapacityKW = device.CapacityKW
	enriched.Enrichment = models.EnrichmentApplied

	if models.IsGenerationCategory(category) && device.CapacityKW > 0 {
		if power, ok := reading.Measurements[models.MeasurementPowerKW]; ok {
			efficiency := power / device.CapacityKW * 100
			enriched.EfficiencyPct = &efficiency
		}
	}

	return enriched
}
