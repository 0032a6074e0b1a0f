package logging

import (
	"go.uber.org/zap"
)

// NewLogger creates a new structured logger
func NewLogger(serviceName string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// WithDevice returns a logger with device_id and account_id fields
func WithDevice(logger *zap.Logger, deviceID, accountID string) *zap.Logger {
	return logger.With(
		zap.String("device_id", deviceID),
		zap.String("account_id", accountID),
	)
}
