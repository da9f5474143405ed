// Package inbound contains the primary/inbound ports.
// These interfaces define the use cases that the application exposes.
package inbound

import (
	"context"
	"time"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
)

// CatalogReader exposes read access to synchronized data.
// Inbound adapters (HTTP handlers, CLI) call these methods.
type CatalogReader interface {
	GetItem(ctx context.Context, id int64) (*entity.Item, error)
	GetRecipe(ctx context.Context, id int64) (*entity.Recipe, error)
	GetRecipesForItem(ctx context.Context, itemID int64) ([]*entity.Recipe, error)
	GetCurrentPrice(ctx context.Context, itemID int64) (*entity.PriceSnapshot, error)
	GetHistory(ctx context.Context, itemID int64, from, to time.Time) ([]*entity.PriceSnapshot, error)
}

// StatusReporter exposes the scheduler's per-kind job status.
type StatusReporter interface {
	Status() []entity.JobStatus
}

// HealthChecker defines the interface for services that can report readiness and liveness.
type HealthChecker interface {
	// IsReady returns true once the catalog has been fully synced at least once.
	IsReady() bool

	// IsHealthy returns true while the scheduler loops are running.
	IsHealthy() bool
}

// Checkpoint records that a job has durably committed everything up to page.
// completed marks the end of a full pass.
type Checkpoint func(ctx context.Context, page int, completed bool) error

// SyncJob is one independently scheduled kind of sync work.
type SyncJob interface {
	Kind() entity.JobKind

	// Run performs one pass starting from cursor, which may be nil on first run.
	// Progress is only persisted through checkpoint.
	Run(ctx context.Context, cursor *entity.SyncCursor, checkpoint Checkpoint) (entity.RunStats, error)
}
