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

// WithTopic returns a logger carrying the inbound topic of the message
// currently being processed.
func WithTopic(logger *zap.Logger, topic string) *zap.Logger {
	return logger.With(zap.String("topic", topic))
}
