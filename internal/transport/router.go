package transport

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/heliowatt/solar-telemetry-worker/internal/models"
	"github.com/heliowatt/solar-telemetry-worker/internal/pipeline"
)

// ReadingProcessor runs one reading through the pipeline. Only durable
// store failures surface as errors; rejections are absorbed downstream.
type ReadingProcessor interface {
	Process(ctx context.Context, in models.InboundReading) error
}

// minTopicSegments is the shortest routable topic:
// <namespace>/<account-id>/<device-category>.
const minTopicSegments = 3

// Router parses inbound topics into their logical fields and hands decoded
// readings to the worker pool. Malformed topics and undecodable payloads
// are a transport-level concern: they are logged and dropped here, never
// dead-lettered, because there is no reliable account context to attribute
// them to.
type Router struct {
	pool      *pipeline.Pool
	processor ReadingProcessor
	logger    *zap.Logger
}

// NewRouter creates a new message router
func NewRouter(pool *pipeline.Pool, processor ReadingProcessor, logger *zap.Logger) *Router {
	return &Router{
		pool:      pool,
		processor: processor,
		logger:    logger,
	}
}

// HandleMessage is the transport callback for every inbound message. It
// blocks only while the pool queue is full.
func (r *Router) HandleMessage(topic string, payload []byte) {
	segments := strings.Split(topic, "/")
	if len(segments) < minTopicSegments {
		r.logger.Warn("dropping message with malformed topic",
			zap.String("topic", topic),
			zap.Int("segments", len(segments)),
		)
		return
	}

	accountID := segments[1]
	category := segments[2]
	if category == "" {
		category = models.CategoryGeneration
	}

	var reading models.RawReading
	if err := json.Unmarshal(payload, &reading); err != nil {
		r.logger.Error("dropping undeserializable payload",
			zap.String("topic", topic),
			zap.Int("payload_size", len(payload)),
			zap.Error(err),
		)
		return
	}

	in := models.InboundReading{
		Topic:      topic,
		AccountID:  accountID,
		Category:   category,
		Reading:    reading,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}

	r.pool.Submit(func() {
		if err := r.processor.Process(context.Background(), in); err != nil {
			r.logger.Error("failed to process reading",
				zap.String("topic", in.Topic),
				zap.String("device_id", in.Reading.DeviceID),
				zap.Error(err),
			)
		}
	})
}
