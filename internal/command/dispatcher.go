package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/heliowatt/solar-telemetry-worker/internal/models"
	"github.com/heliowatt/solar-telemetry-worker/internal/transport"
)

// Publisher is the directed-publish primitive of the transport listener.
type Publisher interface {
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

// Dispatcher publishes operator-issued commands to a device's command
// topic. Fire-and-forget: no delivery acknowledgment or retry is tracked.
type Dispatcher struct {
	transport Publisher
	namespace string
	logger    *zap.Logger
}

// NewDispatcher creates a new command dispatcher
func NewDispatcher(t Publisher, namespace string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		transport: t,
		namespace: namespace,
		logger:    logger,
	}
}

// Send publishes one command to <namespace>/<account>/<device>/commands.
// While the transport is disconnected it fails fast with
// ErrTransportUnavailable instead of queuing silently.
func (d *Dispatcher) Send(ctx context.Context, accountID, deviceID, command string, value interface{}) error {
	if !d.transport.IsConnected() {
		return transport.ErrTransportUnavailable
	}

	msg := models.CommandMessage{
		Command:   command,
		Value:     value,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	topic := fmt.Sprintf("%s/%s/%s/commands", d.namespace, accountID, deviceID)
	if err := d.transport.Publish(topic, body); err != nil {
		return fmt.Errorf("failed to dispatch command: %w", err)
	}

	d.logger.Info("command dispatched",
		zap.String("topic", topic),
		zap.String("command", command),
		zap.String("device_id", deviceID),
	)

	return nil
}
