package staging

import (
	"context"
	"time"

	"github.com/clearstage/enhance/internal/model"
)

// BatchFilter specifies criteria for listing staging batches.
type BatchFilter struct {
	TenantID     string           `json:"tenant_id,omitempty"`
	State        model.BatchState `json:"state,omitempty"`
	UpdatedUntil time.Time        `json:"updated_until,omitempty"`
	Limit        int              `json:"limit,omitempty"`
	Offset       int              `json:"offset,omitempty"`
}

// UsageRow is one persisted match-usage counter.
type UsageRow struct {
	EntityID string
	Count    int
	LastUsed time.Time
}

// Store is the persistence interface for the staging pipeline. Staging
// records, match outcomes, conflict reports and imputation log entries
// are separate append-mostly record sets keyed by (batch_id,
// row_index[, field]).
type Store interface {
	// Batches
	CreateBatch(ctx context.Context, batch *model.StagingBatch) error
	GetBatch(ctx context.Context, batchID string) (*model.StagingBatch, error)
	UpdateBatchState(ctx context.Context, batchID string, state model.BatchState) error
	ListBatches(ctx context.Context, filter BatchFilter) ([]model.StagingBatch, error)

	// Reports (replace-by-batch; entries are immutable once written
	// except imputation approval transitions)
	SaveMatches(ctx context.Context, batchID string, matches []model.MatchOutcome) error
	SaveConflicts(ctx context.Context, batchID string, conflicts []model.ConflictReport) error
	SaveImputations(ctx context.Context, batchID string, entries []model.ImputationLogEntry) error
	SaveQuality(ctx context.Context, batchID string, quality *model.BatchQuality) error

	// PromoteBatch atomically copies the batch's records into permanent
	// storage and marks the batch promoted, in one transaction. Readers
	// never observe a partially promoted batch.
	PromoteBatch(ctx context.Context, batch *model.StagingBatch) error

	// PurgeBatch removes the batch and all its report sets.
	PurgeBatch(ctx context.Context, batchID string) error

	// Master data
	ListMasterEntities(ctx context.Context, entityType string) ([]model.MasterEntity, error)
	UpsertMasterEntities(ctx context.Context, entities []model.MasterEntity) error

	// Match usage counters (tie-break history survives restarts)
	ListUsage(ctx context.Context) ([]UsageRow, error)
	RecordUsage(ctx context.Context, entityID string, usedAt time.Time) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
