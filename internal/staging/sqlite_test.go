package staging

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearstage/enhance/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "staging.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func testBatch(id, tenant string, state model.BatchState) *model.StagingBatch {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.StagingBatch{
		ID:       id,
		TenantID: tenant,
		State:    state,
		Records: []model.ImportRecord{
			model.NewImportRecord(0, []model.FieldValue{
				{Name: "name", Raw: "Acme"},
				{Name: "amount", Raw: "10"},
			}),
			model.NewImportRecord(1, []model.FieldValue{
				{Name: "name", Raw: "Globex"},
				{Name: "amount", Raw: "", Absent: true},
			}),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSQLite_BatchRoundTrip(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	in := testBatch("b1", "tenant-a", model.BatchStateCreated)
	require.NoError(t, store.CreateBatch(ctx, in))

	out, err := store.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", out.TenantID)
	assert.Equal(t, model.BatchStateCreated, out.State)
	require.Len(t, out.Records, 2)

	name, ok := out.Records[0].Get("name")
	require.True(t, ok)
	assert.Equal(t, "Acme", name)
	assert.False(t, out.Records[1].Has("amount"))
}

func TestSQLite_GetBatch_NotFound(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	_, err := store.GetBatch(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrBatchNotFound)
}

func TestSQLite_UpdateBatchState(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateBatch(ctx, testBatch("b1", "tenant-a", model.BatchStateCreated)))
	require.NoError(t, store.UpdateBatchState(ctx, "b1", model.BatchStatePopulated))

	out, err := store.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatePopulated, out.State)

	err = store.UpdateBatchState(ctx, "missing", model.BatchStatePopulated)
	assert.ErrorIs(t, err, model.ErrBatchNotFound)
}

func TestSQLite_ListBatches_Filters(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateBatch(ctx, testBatch("b1", "tenant-a", model.BatchStateCreated)))
	require.NoError(t, store.CreateBatch(ctx, testBatch("b2", "tenant-a", model.BatchStatePopulated)))
	require.NoError(t, store.CreateBatch(ctx, testBatch("b3", "tenant-b", model.BatchStatePopulated)))

	all, err := store.ListBatches(ctx, BatchFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byTenant, err := store.ListBatches(ctx, BatchFilter{TenantID: "tenant-a"})
	require.NoError(t, err)
	assert.Len(t, byTenant, 2)

	byState, err := store.ListBatches(ctx, BatchFilter{State: model.BatchStatePopulated})
	require.NoError(t, err)
	assert.Len(t, byState, 2)

	limited, err := store.ListBatches(ctx, BatchFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	// Offset works with and without an explicit limit.
	skipped, err := store.ListBatches(ctx, BatchFilter{Offset: 1})
	require.NoError(t, err)
	assert.Len(t, skipped, 2)

	page, err := store.ListBatches(ctx, BatchFilter{Limit: 1, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	none, err := store.ListBatches(ctx, BatchFilter{
		UpdatedUntil: time.Now().UTC().Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLite_SaveReports_RoundTrip(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateBatch(ctx, testBatch("b1", "tenant-a", model.BatchStateValidating)))

	matches := []model.MatchOutcome{{
		RowIndex:       0,
		Field:          "supplier",
		Classification: model.MatchMatched,
		Candidates: []model.MatchCandidate{{
			EntityID:      "sup-1",
			Confidence:    0.93,
			MatchedFields: []string{"supplier"},
		}},
	}}
	require.NoError(t, store.SaveMatches(ctx, "b1", matches))

	conflicts := []model.ConflictReport{{
		RowIndex:    1,
		FormulaID:   "line_total",
		OutputField: "line_total",
		Severity:    model.SeverityCritical,
	}}
	require.NoError(t, store.SaveConflicts(ctx, "b1", conflicts))

	entries := []model.ImputationLogEntry{{
		RowIndex:       1,
		Field:          "amount",
		OriginalAbsent: true,
		Value:          "10",
		Method:         model.MethodMajorityVote,
		Confidence:     0.8,
		RiskTier:       model.RiskLow,
		Approval:       model.ApprovalAuto,
		Revertible:     true,
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
	}}
	require.NoError(t, store.SaveImputations(ctx, "b1", entries))

	quality := &model.BatchQuality{Overall: 0.91, Verdict: model.VerdictExcellent}
	require.NoError(t, store.SaveQuality(ctx, "b1", quality))

	out, err := store.GetBatch(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, out.Matches, 1)
	assert.Equal(t, "sup-1", out.Matches[0].Best().EntityID)
	require.Len(t, out.Conflicts, 1)
	assert.Equal(t, model.SeverityCritical, out.Conflicts[0].Severity)
	require.Len(t, out.Imputations, 1)
	assert.Equal(t, "10", out.Imputations[0].Value)
	require.NotNil(t, out.Quality)
	assert.Equal(t, model.VerdictExcellent, out.Quality.Verdict)

	// Saves replace the prior report set for the batch.
	require.NoError(t, store.SaveMatches(ctx, "b1", nil))
	out, err = store.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Empty(t, out.Matches)
}

func TestSQLite_PromoteBatch(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	batch := testBatch("b1", "tenant-a", model.BatchStateValidating)
	require.NoError(t, store.CreateBatch(ctx, batch))
	require.NoError(t, store.PromoteBatch(ctx, batch))

	out, err := store.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatePromoted, out.State)

	// A second promote finds the batch out of validating and fails.
	err = store.PromoteBatch(ctx, batch)
	assert.ErrorIs(t, err, model.ErrStagingTransaction)
}

func TestSQLite_PromoteBatch_RequiresValidating(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	batch := testBatch("b1", "tenant-a", model.BatchStatePopulated)
	require.NoError(t, store.CreateBatch(ctx, batch))

	err := store.PromoteBatch(ctx, batch)
	assert.ErrorIs(t, err, model.ErrStagingTransaction)

	out, err := store.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatePopulated, out.State)
}

func TestSQLite_PurgeBatch(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateBatch(ctx, testBatch("b1", "tenant-a", model.BatchStateRejected)))
	require.NoError(t, store.SaveQuality(ctx, "b1", &model.BatchQuality{Verdict: model.VerdictRejected}))

	require.NoError(t, store.PurgeBatch(ctx, "b1"))
	_, err := store.GetBatch(ctx, "b1")
	assert.ErrorIs(t, err, model.ErrBatchNotFound)

	// Purging an already purged batch is a no-op.
	assert.NoError(t, store.PurgeBatch(ctx, "b1"))
}

func TestSQLite_MasterEntities(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertMasterEntities(ctx, []model.MasterEntity{
		{ID: "sup-1", EntityType: "supplier", Code: "91350100M000100Y43", Name: "Acme Widgets"},
		{ID: "cust-1", EntityType: "customer", Name: "Globex"},
	}))

	suppliers, err := store.ListMasterEntities(ctx, "supplier")
	require.NoError(t, err)
	require.Len(t, suppliers, 1)
	assert.Equal(t, "Acme Widgets", suppliers[0].Name)

	all, err := store.ListMasterEntities(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Upsert overwrites by id.
	require.NoError(t, store.UpsertMasterEntities(ctx, []model.MasterEntity{
		{ID: "sup-1", EntityType: "supplier", Code: "91350100M000100Y43", Name: "Acme Widgets Group"},
	}))
	suppliers, err = store.ListMasterEntities(ctx, "supplier")
	require.NoError(t, err)
	require.Len(t, suppliers, 1)
	assert.Equal(t, "Acme Widgets Group", suppliers[0].Name)
}

func TestSQLite_Usage(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.RecordUsage(ctx, "sup-1", now))
	require.NoError(t, store.RecordUsage(ctx, "sup-1", now.Add(time.Minute)))
	require.NoError(t, store.RecordUsage(ctx, "sup-2", now))

	rows, err := store.ListUsage(ctx)
	require.NoError(t, err)
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.EntityID] = r.Count
	}
	assert.Equal(t, 2, counts["sup-1"])
	assert.Equal(t, 1, counts["sup-2"])
}
