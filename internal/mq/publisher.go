package mq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher emits pipeline events to the outbound topic exchange for the
// notification and reporting collaborators. Event publishing is advisory:
// the caller logs failures and moves on.
type Publisher struct {
	conn     *Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher
func NewPublisher(conn *Connection, exchange string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	// Declare exchange
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// ReadingAcceptedEvent is published after every successful durable write.
type ReadingAcceptedEvent struct {
	AccountID        string   `json:"account_id"`
	DeviceID         string   `json:"device_id"`
	Category         string   `json:"category"`
	PowerKW          *float64 `json:"power_kw,omitempty"`
	EnergyKWH        *float64 `json:"energy_kwh,omitempty"`
	EfficiencyPct    *float64 `json:"efficiency_pct,omitempty"`
	ReadingTimestamp string   `json:"reading_timestamp"`
}

// AnomalyDetectedEvent is published for every raised anomaly.
type AnomalyDetectedEvent struct {
	AccountID  string  `json:"account_id"`
	DeviceID   string  `json:"device_id"`
	ObservedKW float64 `json:"observed_kw"`
	BaselineKW float64 `json:"baseline_kw"`
	Ratio      float64 `json:"ratio"`
	DetectedAt string  `json:"detected_at"`
}

// PublishReadingAccepted publishes an accepted-reading event
func (p *Publisher) PublishReadingAccepted(ctx context.Context, event ReadingAcceptedEvent, routingKey string) error {
	if err := p.publishJSON(ctx, routingKey, event); err != nil {
		return err
	}

	p.logger.Debug("published accepted-reading event",
		zap.String("routing_key", routingKey),
		zap.String("device_id", event.DeviceID),
	)

	return nil
}

// PublishAnomaly publishes an anomaly event
func (p *Publisher) PublishAnomaly(ctx context.Context, event AnomalyDetectedEvent, routingKey string) error {
	if err := p.publishJSON(ctx, routingKey, event); err != nil {
		return err
	}

	p.logger.Debug("published anomaly event",
		zap.String("routing_key", routingKey),
		zap.String("device_id", event.DeviceID),
	)

	return nil
}

func (p *Publisher) publishJSON(ctx context.Context, routingKey string, event interface{}) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
