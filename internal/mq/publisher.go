package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Ack is the acknowledgement published for each stored event, routed to the
// originating device.
type Ack struct {
	Schema   int    `json:"schema"`
	EventID  string `json:"event_id"`
	DeviceID string `json:"device_id"`
	Status   string `json:"status"`
}

// DeadLetter is the diagnostic record published when a message cannot be
// processed. Payload and Trace arrive pre-truncated from the dispatcher.
type DeadLetter struct {
	Error   string `json:"error"`
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
	Trace   string `json:"trace"`
}

// Publisher handles message publishing to RabbitMQ
type Publisher struct {
	conn          *Connection
	channel       *amqp.Channel
	exchange      string
	ackTemplate   string
	deadletterKey string
	logger        *zap.Logger
}

// NewPublisher creates a publisher on the event exchange. The dead-letter
// queue is declared and bound here so diagnostic records survive until an
// operator drains them.
func NewPublisher(conn *Connection, exchange, ackTemplate, deadletterKey string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

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

	_, err = ch.QueueDeclare(
		deadletterKey,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare dead-letter queue: %w", err)
	}

	err = ch.QueueBind(deadletterKey, deadletterKey, exchange, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to bind dead-letter queue: %w", err)
	}

	return &Publisher{
		conn:          conn,
		channel:       ch,
		exchange:      exchange,
		ackTemplate:   ackTemplate,
		deadletterKey: deadletterKey,
		logger:        logger,
	}, nil
}

// PublishAck publishes a storage acknowledgement to the device's ack topic.
func (p *Publisher) PublishAck(ctx context.Context, ack Ack) error {
	routingKey := strings.ReplaceAll(p.ackTemplate, "{device_id}", ack.DeviceID)

	if err := p.publish(ctx, routingKey, ack); err != nil {
		return fmt.Errorf("failed to publish ack: %w", err)
	}

	p.logger.Debug("published ack",
		zap.String("routing_key", routingKey),
		zap.String("event_id", ack.EventID),
		zap.String("device_id", ack.DeviceID),
	)

	return nil
}

// PublishDeadLetter publishes a diagnostic record to the dead-letter topic.
func (p *Publisher) PublishDeadLetter(ctx context.Context, record DeadLetter) error {
	if err := p.publish(ctx, p.deadletterKey, record); err != nil {
		return fmt.Errorf("failed to publish dead-letter record: %w", err)
	}

	p.logger.Debug("published dead-letter record",
		zap.String("routing_key", p.deadletterKey),
		zap.String("topic", record.Topic),
	)

	return nil
}

func (p *Publisher) publish(ctx context.Context, routingKey string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return p.channel.PublishWithContext(
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
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
