package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/MiloszKom/EcommerceAPI-sub000/internal/domain"
	"github.com/MiloszKom/EcommerceAPI-sub000/internal/gateway"
	"github.com/MiloszKom/EcommerceAPI-sub000/internal/messaging/kafka"
	"github.com/MiloszKom/EcommerceAPI-sub000/internal/resilience"
	"github.com/MiloszKom/EcommerceAPI-sub000/internal/storage/memory"
	"github.com/MiloszKom/EcommerceAPI-sub000/internal/storage/postgres"
)

// Dependencies содержит все зависимости приложения.
type Dependencies struct {
	Repo          domain.OrderRepository
	Carts         domain.CartGateway
	Inventory     domain.InventoryGateway
	Caller        *resilience.Caller
	Postgres      *postgres.Store
	KafkaProducer *kafka.Producer
}

// NewDependencies создаёт и инициализирует все зависимости приложения.
// Хранилище: PostgreSQL при заданном DSN, иначе память. Kafka опциональна:
// при ошибке подключения сервис продолжает работать без публикации событий.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	caller := resilience.NewCaller(resilience.DefaultConfig(), logger.WithField("layer", "resilience"))

	deps := &Dependencies{
		Carts:     gateway.NewCartClient(cfg.CartBaseURL, caller, logger.WithField("gateway", "cart")),
		Inventory: gateway.NewCatalogClient(cfg.CatalogBaseURL, caller, logger.WithField("gateway", "catalog")),
		Caller:    caller,
	}

	if cfg.PostgresDSN != "" {
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		deps.Postgres = store
		deps.Repo = postgres.NewOrderRepository(store)
		logger.Info("orders storage: postgres")
	} else {
		deps.Repo = memory.NewOrderRepository()
		logger.Info("orders storage: in-memory")
	}

	if cfg.KafkaBrokers != "" {
		brokers := splitBrokers(cfg.KafkaBrokers)
		producer, err := kafka.NewProducer(brokers)
		if err != nil {
			logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		} else {
			deps.KafkaProducer = producer
			logger.WithField("brokers", brokers).Info("kafka producer initialized")
		}
	}

	return deps, nil
}

// Close освобождает внешние ресурсы в обратном порядке инициализации.
func (d *Dependencies) Close(logger *log.Entry) {
	if d.KafkaProducer != nil {
		if err := d.KafkaProducer.Close(); err != nil {
			logger.WithError(err).Warn("failed to close kafka producer")
		} else {
			logger.Info("kafka producer closed")
		}
	}
	if d.Postgres != nil {
		if err := d.Postgres.Close(); err != nil {
			logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}
