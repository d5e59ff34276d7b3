package main

import (
	"context"

	"github.com/quietstack/telemetry-ingester/internal/config"
	"github.com/quietstack/telemetry-ingester/internal/db"
	"github.com/quietstack/telemetry-ingester/internal/mq"
	"github.com/quietstack/telemetry-ingester/internal/repository"
	"github.com/quietstack/telemetry-ingester/internal/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func startIngester(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	repo *repository.Repository,
	processor *service.ProcessorService,
) (*mq.Consumer, error) {
	// Create context for consumer that will be cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:       conn,
		Queue:            cfg.RabbitMQ.EventsQueue,
		Exchange:         cfg.RabbitMQ.EventsExchange,
		RoutingKey:       cfg.RabbitMQ.EventsRoutingKey,
		DeadletterQueue:  cfg.RabbitMQ.DeadletterRoutingKey,
		PrefetchCount:    cfg.RabbitMQ.PrefetchCount,
		Logger:           logger,
		MessageProcessor: processor.ProcessMessage,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if err := repo.EnsureSchema(startCtx); err != nil {
				return err
			}
			logger.Info("starting ingester consumer",
				zap.String("queue", cfg.RabbitMQ.EventsQueue),
				zap.String("pattern", cfg.RabbitMQ.EventsRoutingKey))
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("ingester stopped gracefully")
			return nil
		},
	})

	return consumer, nil
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvidePublisher creates a new publisher instance
func ProvidePublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	return mq.NewPublisher(
		conn,
		cfg.RabbitMQ.EventsExchange,
		cfg.RabbitMQ.AckTemplate,
		cfg.RabbitMQ.DeadletterRoutingKey,
		logger,
	)
}

// ProvideProcessorService creates a new processor service instance
func ProvideProcessorService(
	repo *repository.Repository,
	publisher *mq.Publisher,
	cfg *config.Config,
	logger *zap.Logger,
) *service.ProcessorService {
	return service.NewProcessorService(repo, publisher, cfg, logger)
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}
