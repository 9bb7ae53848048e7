package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmline/internal/domain"
	"github.com/vladislavdragonenkov/farmline/internal/storage/memory"
	"github.com/vladislavdragonenkov/farmline/internal/storage/postgres"
)

// runtimeDependencies содержит репозитории, выбранные по StorageDriver.
type runtimeDependencies struct {
	repo            domain.OrderRepository
	productRepo     domain.ProductRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository

	// store не nil только для postgres; используется health-чекером и Close.
	store *postgres.Store
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d.store == nil {
		return
	}
	if err := d.store.Close(); err != nil {
		logger.WithError(err).Warn("failed to close postgres store")
	}
}

// initRuntimeDependencies создаёт репозитории согласно конфигурации.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		return &runtimeDependencies{
			repo:            memory.NewOrderRepository(),
			productRepo:     memory.NewProductRepository(),
			outboxRepo:      memory.NewOutboxRepository(),
			timelineRepo:    memory.NewTimelineRepository(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage driver requires FARMLINE_POSTGRES_DSN")
		}

		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres schema is up to date")
		}

		return &runtimeDependencies{
			repo:            postgres.NewOrderRepository(store),
			productRepo:     postgres.NewProductRepository(store),
			outboxRepo:      postgres.NewOutboxRepository(store),
			timelineRepo:    postgres.NewTimelineRepository(store),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			store:           store,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
}
