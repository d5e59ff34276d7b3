package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/quietstack/telemetry-ingester/internal/config"
	"github.com/quietstack/telemetry-ingester/internal/db"
	"github.com/quietstack/telemetry-ingester/internal/logging"
	"github.com/quietstack/telemetry-ingester/internal/mq"
	"github.com/quietstack/telemetry-ingester/internal/validator"
	"github.com/quietstack/telemetry-ingester/tools/timeparser"
	"go.uber.org/zap"
)

// Store persists validated events with insert-if-absent semantics.
type Store interface {
	InsertEvent(ctx context.Context, event *db.Event) error
}

// Publisher emits per-event acknowledgements and per-message dead-letter
// records.
type Publisher interface {
	PublishAck(ctx context.Context, ack mq.Ack) error
	PublishDeadLetter(ctx context.Context, record mq.DeadLetter) error
}

// ProcessorService drives one inbound message to completion: decode,
// validate, normalize, store, and acknowledge or dead-letter.
type ProcessorService struct {
	store        Store
	publisher    Publisher
	fallbackZone *time.Location
	cfg          *config.Config
	logger       *zap.Logger
}

// NewProcessorService creates a new processor service. An unresolvable
// configured device time zone degrades to UTC with a warning rather than
// failing startup.
func NewProcessorService(
	store Store,
	publisher Publisher,
	cfg *config.Config,
	logger *zap.Logger,
) *ProcessorService {
	zone, err := timeparser.ResolveZone(cfg.Ingest.DefaultDeviceTimezone)
	if err != nil {
		logger.Warn("falling back to UTC for device timestamps",
			zap.String("configured_zone", cfg.Ingest.DefaultDeviceTimezone),
			zap.Error(err))
		zone = time.UTC
	}

	return &ProcessorService{
		store:        store,
		publisher:    publisher,
		fallbackZone: zone,
		cfg:          cfg,
		logger:       logger,
	}
}

// ProcessMessage processes one inbound telemetry message. Each stored event
// gets its own acknowledgement. The first failure dead-letters the message
// and aborts the remaining candidates; events already stored stay stored.
// An error is returned only when the dead-letter record itself could not be
// published.
func (s *ProcessorService) ProcessMessage(ctx context.Context, topic string, body []byte) error {
	msgLogger := logging.WithTopic(s.logger, topic)

	candidates, err := validator.DecodeMessage(body)
	if err != nil {
		return s.deadletter(ctx, msgLogger, topic, body, err)
	}

	stored := 0
	for _, candidate := range candidates {
		event, err := validator.ValidateEvent(candidate)
		if err != nil {
			return s.deadletter(ctx, msgLogger, topic, body, err)
		}

		row := s.toRow(event, msgLogger)
		if err := s.store.InsertEvent(ctx, row); err != nil {
			return s.deadletter(ctx, msgLogger, topic, body, err)
		}
		stored++

		// The ack echoes the schema the device supplied; validation
		// guarantees it was present.
		ack := mq.Ack{
			Schema:   event.Schema,
			EventID:  event.EventID,
			DeviceID: event.DeviceID,
			Status:   "stored",
		}
		if err := s.publisher.PublishAck(ctx, ack); err != nil {
			// The event is durably stored; the device will see the ack on
			// its own redelivery.
			msgLogger.Error("failed to publish ack",
				zap.Error(err),
				zap.String("event_id", event.EventID),
				zap.String("device_id", event.DeviceID),
			)
		}
	}

	msgLogger.Info("message processed", zap.Int("events_stored", stored))
	return nil
}

// toRow converts a validated event to its row image, normalizing the device
// timestamp. An unparseable timestamp degrades to null with a warning.
func (s *ProcessorService) toRow(event *validator.Event, logger *zap.Logger) *db.Event {
	row := &db.Event{
		EventID:   event.EventID,
		DeviceID:  event.DeviceID,
		Schema:    event.Schema,
		EventType: event.EventType,
		ValueNum:  event.ValueNum,
		ValueText: event.ValueText,
		Unit:      event.Unit,
		Meta:      event.Meta,
	}

	if strings.TrimSpace(event.TsDeviceRaw) != "" {
		ts, err := timeparser.ParseDeviceTimestamp(event.TsDeviceRaw, s.fallbackZone)
		if err != nil {
			logger.Warn("unparseable device timestamp",
				zap.String("ts_device", event.TsDeviceRaw),
				zap.Error(err))
		} else {
			row.TsDevice = &ts
		}
	}

	return row
}

// deadletter publishes one diagnostic record for a failed message. Payload
// and trace are bounded so a pathological message cannot flood the
// dead-letter channel.
func (s *ProcessorService) deadletter(ctx context.Context, logger *zap.Logger, topic string, body []byte, cause error) error {
	logger.Error("ingest error", zap.Error(cause))

	record := mq.DeadLetter{
		Error:   cause.Error(),
		Topic:   topic,
		Payload: truncate(strings.ToValidUTF8(string(body), "�"), s.cfg.Ingest.MaxDeadletterPayload),
		Trace:   truncate(fmt.Sprintf("%v\n\n%s", cause, debug.Stack()), s.cfg.Ingest.MaxDeadletterTrace),
	}

	if err := s.publisher.PublishDeadLetter(ctx, record); err != nil {
		logger.Error("failed to publish dead-letter record", zap.Error(err))
		return err
	}
	return nil
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
