package staging

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clearstage/enhance/internal/formula"
	"github.com/clearstage/enhance/internal/impute"
	"github.com/clearstage/enhance/internal/match"
	"github.com/clearstage/enhance/internal/model"
	"github.com/clearstage/enhance/internal/quality"
	"github.com/clearstage/enhance/internal/resilience"
)

// Config controls batch lifecycle timing.
type Config struct {
	// Expiry is the maximum age of a batch in any non-terminal state
	// before the sweeper marks it expired.
	Expiry time.Duration `mapstructure:"expiry"`
	// Retention keeps promoted/rejected/expired batches and their
	// reports for audit before purge.
	Retention time.Duration `mapstructure:"retention"`
	// SweepInterval is the cadence of the expiry/purge sweeper.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// PurgePerSecond rate-limits purges so a backlog cannot starve
	// promotions contending for batch locks.
	PurgePerSecond float64 `mapstructure:"purge_per_second"`
	// UsageTTL bounds the match usage cache.
	UsageTTL time.Duration `mapstructure:"usage_ttl"`
}

// DefaultConfig returns lifecycle defaults.
func DefaultConfig() Config {
	return Config{
		Expiry:         72 * time.Hour,
		Retention:      30 * 24 * time.Hour,
		SweepInterval:  10 * time.Minute,
		PurgePerSecond: 5,
		UsageTTL:       7 * 24 * time.Hour,
	}
}

// MatchDecision resolves an ambiguous or unmatched reference to a chosen
// master entity.
type MatchDecision struct {
	RowIndex int    `json:"row_index"`
	Field    string `json:"field"`
	EntityID string `json:"entity_id"`
}

// ImputationDecision approves or rejects one pending imputation.
type ImputationDecision struct {
	RowIndex int    `json:"row_index"`
	Field    string `json:"field"`
	Approve  bool   `json:"approve"`
}

// Decisions carries the human resolutions for a held batch.
type Decisions struct {
	Imputations []ImputationDecision `json:"imputations,omitempty"`
	Matches     []MatchDecision      `json:"matches,omitempty"`
}

// Manager owns the staging batch lifecycle and orchestrates the four
// enhancement stages in order: matching, conflict detection, imputation,
// quality assessment. Batches run concurrently; operations on the same
// batch are serialized by a per-batch lock, which promotion and the
// sweeper's purge both acquire so they can never race on one batch.
type Manager struct {
	store    Store
	cfg      Config
	policies *model.PolicyRegistry
	matcher  *match.Matcher
	detector *formula.Detector
	imputer  *impute.Imputer
	assessor *quality.Assessor
	usage    *match.UsageCache

	formulaCount int
	retry        resilience.RetryConfig

	locks sync.Map // batch id -> *sync.Mutex
	now   func() time.Time
}

// NewManager wires the pipeline. Configuration errors (cyclic formulas,
// bad thresholds, invalid policy) surface here, before any batch runs.
func NewManager(
	store Store,
	policies *model.PolicyRegistry,
	formulas []model.FormulaDefinition,
	matchCfg match.Config,
	tol formula.Tolerance,
	imputeCfg impute.Config,
	qualityCfg quality.Config,
	cfg Config,
) (*Manager, error) {
	detector, err := formula.NewDetector(formulas, tol)
	if err != nil {
		return nil, err
	}
	assessor, err := quality.New(qualityCfg)
	if err != nil {
		return nil, err
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultConfig().Expiry
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}

	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("staging", "promote")

	usage := match.NewUsageCache(cfg.UsageTTL)
	return &Manager{
		store:        store,
		cfg:          cfg,
		policies:     policies,
		matcher:      match.New(matchCfg, usage),
		detector:     detector,
		imputer:      impute.New(imputeCfg),
		assessor:     assessor,
		usage:        usage,
		formulaCount: len(formulas),
		retry:        retry,
		now:          time.Now,
	}, nil
}

// SeedUsage primes the in-memory usage cache from persisted counters so
// recency tie-breaks survive restarts.
func (m *Manager) SeedUsage(ctx context.Context) error {
	rows, err := m.store.ListUsage(ctx)
	if err != nil {
		return err
	}
	for _, u := range rows {
		m.usage.Seed(u.EntityID, u.Count, u.LastUsed)
	}
	return nil
}

// Usage exposes the usage cache for maintenance (invalidation hooks).
func (m *Manager) Usage() *match.UsageCache {
	return m.usage
}

// lockFor returns the per-batch mutex, creating it on first use.
func (m *Manager) lockFor(batchID string) *sync.Mutex {
	mu, _ := m.locks.LoadOrStore(batchID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// SubmitBatch stages a parsed upload and returns the new batch id. The
// batch is left in populated, ready for Process.
func (m *Manager) SubmitBatch(ctx context.Context, tenantID string, records []model.ImportRecord) (string, error) {
	now := m.now().UTC()
	batch := &model.StagingBatch{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		State:     model.BatchStateCreated,
		Records:   records,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateBatch(ctx, batch); err != nil {
		return "", err
	}
	if err := m.transition(ctx, batch, model.BatchStatePopulated); err != nil {
		return "", err
	}
	zap.L().Info("staging: batch submitted",
		zap.String("batch", batch.ID),
		zap.String("tenant", tenantID),
		zap.Int("records", len(records)),
	)
	return batch.ID, nil
}

// GetBatchStatus returns the batch with all accumulated reports.
func (m *Manager) GetBatchStatus(ctx context.Context, batchID string) (*model.StagingBatch, error) {
	return m.store.GetBatch(ctx, batchID)
}

// Process runs the enhancement pipeline on a populated batch and routes
// it to promoted, rejected or held_for_approval. Per-record conditions
// degrade that record only; only configuration and storage failures
// abort.
func (m *Manager) Process(ctx context.Context, batchID string) error {
	mu := m.lockFor(batchID)
	mu.Lock()
	defer mu.Unlock()

	batch, err := m.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.State != model.BatchStatePopulated {
		return eris.Wrapf(model.ErrInvalidTransition, "process: batch %s in %s", batchID, batch.State)
	}
	if err := m.transition(ctx, batch, model.BatchStateValidating); err != nil {
		return err
	}

	log := zap.L().With(zap.String("batch", batch.ID), zap.String("tenant", batch.TenantID))

	// Stage 1: master-data matching.
	snapshot, err := m.loadSnapshot(ctx)
	if err != nil {
		return err
	}
	matches, err := m.matcher.MatchBatch(ctx, batch.Records, m.policies, snapshot)
	if err != nil {
		return err
	}
	batch.Matches = matches
	if err := m.store.SaveMatches(ctx, batch.ID, matches); err != nil {
		return err
	}
	log.Info("staging: matching complete", zap.Int("outcomes", len(matches)))

	// Stage 2: formula conflict detection.
	conflicts, err := m.detector.Detect(ctx, batch.Records)
	if err != nil {
		return err
	}
	batch.Conflicts = conflicts
	if err := m.store.SaveConflicts(ctx, batch.ID, conflicts); err != nil {
		return err
	}
	log.Info("staging: conflict detection complete", zap.Int("reports", len(conflicts)))

	// Stage 3: risk-gated imputation.
	imputed, err := m.imputer.Impute(ctx, batch.Records, m.policies)
	if err != nil {
		return err
	}
	batch.Imputations = imputed.Entries
	if err := m.store.SaveImputations(ctx, batch.ID, imputed.Entries); err != nil {
		return err
	}
	log.Info("staging: imputation complete",
		zap.Int("fills", len(imputed.Entries)),
		zap.Int("gaps", len(imputed.Gaps)),
	)

	// Stage 4: quality assessment. Blocked imputation gaps need no
	// separate input; the fields stay absent, which completeness already
	// counts against the record.
	return m.assessAndRoute(ctx, batch)
}

// assessAndRoute recomputes quality from the batch's current reports and
// moves the batch out of validating.
func (m *Manager) assessAndRoute(ctx context.Context, batch *model.StagingBatch) error {
	bq := m.assessor.Assess(batch.Records, quality.Inputs{
		Policies:     m.policies,
		Matches:      batch.Matches,
		Conflicts:    batch.Conflicts,
		Imputations:  batch.Imputations,
		FormulaCount: m.formulaCount,
	})
	batch.Quality = bq
	if err := m.store.SaveQuality(ctx, batch.ID, bq); err != nil {
		return err
	}

	// Pending human work parks the batch; no worker waits on it.
	if len(batch.PendingImputations()) > 0 || hasAmbiguous(batch.Matches) {
		return m.transition(ctx, batch, model.BatchStateHeldForApproval)
	}

	switch bq.Verdict {
	case model.VerdictExcellent, model.VerdictGood:
		return m.promote(ctx, batch)
	case model.VerdictFixable:
		return m.transition(ctx, batch, model.BatchStateHeldForApproval)
	default:
		// Rejected batches are retained with their reports for audit
		// until the retention window elapses.
		return m.transition(ctx, batch, model.BatchStateRejected)
	}
}

// promote atomically moves the batch to permanent storage, retrying
// transient transaction errors. On success, match usage history is
// updated for future tie-breaking.
func (m *Manager) promote(ctx context.Context, batch *model.StagingBatch) error {
	err := resilience.Do(ctx, m.retry, func(ctx context.Context) error {
		return m.store.PromoteBatch(ctx, batch)
	})
	if err != nil {
		// Batch remains in validating for retry or escalation.
		zap.L().Error("staging: promotion failed",
			zap.String("batch", batch.ID),
			zap.Error(err),
		)
		return eris.Wrapf(model.ErrStagingTransaction, "batch %s: %v", batch.ID, err)
	}
	batch.State = model.BatchStatePromoted

	now := m.now().UTC()
	for _, o := range batch.Matches {
		if o.Classification != model.MatchMatched {
			continue
		}
		best := o.Best()
		if best == nil {
			continue
		}
		m.usage.Record(best.EntityID)
		if err := m.store.RecordUsage(ctx, best.EntityID, now); err != nil {
			zap.L().Warn("staging: usage record failed",
				zap.String("entity", best.EntityID),
				zap.Error(err),
			)
		}
	}

	zap.L().Info("staging: batch promoted",
		zap.String("batch", batch.ID),
		zap.Int("records", len(batch.Records)),
	)
	return nil
}

// ResolvePending applies human approve/reject decisions to a held batch
// and resumes it: the batch returns to validating, is re-assessed and
// re-routed.
func (m *Manager) ResolvePending(ctx context.Context, batchID string, decisions Decisions) error {
	mu := m.lockFor(batchID)
	mu.Lock()
	defer mu.Unlock()

	batch, err := m.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.State != model.BatchStateHeldForApproval {
		return eris.Wrapf(model.ErrInvalidTransition, "resolve: batch %s in %s", batchID, batch.State)
	}

	now := m.now().UTC()
	for _, d := range decisions.Imputations {
		batch.Imputations, err = impute.Decide(batch.Imputations, d.RowIndex, d.Field, d.Approve, now)
		if err != nil {
			return err
		}
	}
	if len(decisions.Imputations) > 0 {
		if err := m.store.SaveImputations(ctx, batchID, batch.Imputations); err != nil {
			return err
		}
	}

	if len(decisions.Matches) > 0 {
		if err := applyMatchDecisions(batch, decisions.Matches); err != nil {
			return err
		}
		if err := m.store.SaveMatches(ctx, batchID, batch.Matches); err != nil {
			return err
		}
	}

	if err := m.transition(ctx, batch, model.BatchStateValidating); err != nil {
		return err
	}
	return m.assessAndRoute(ctx, batch)
}

// RevertImputation appends a reverting log entry restoring the original
// absent marker for one field and re-saves the log.
func (m *Manager) RevertImputation(ctx context.Context, batchID string, rowIndex int, field string) error {
	mu := m.lockFor(batchID)
	mu.Lock()
	defer mu.Unlock()

	batch, err := m.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.State.Terminal() {
		return eris.Wrapf(model.ErrInvalidTransition, "revert: batch %s in %s", batchID, batch.State)
	}

	batch.Imputations, err = impute.Revert(batch.Imputations, rowIndex, field, m.now().UTC())
	if err != nil {
		return err
	}
	return m.store.SaveImputations(ctx, batchID, batch.Imputations)
}

// Cancel moves a batch in any non-terminal state directly to rejected.
func (m *Manager) Cancel(ctx context.Context, batchID string) error {
	mu := m.lockFor(batchID)
	mu.Lock()
	defer mu.Unlock()

	batch, err := m.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.State.Terminal() {
		return eris.Wrapf(model.ErrInvalidTransition, "cancel: batch %s in %s", batchID, batch.State)
	}
	return m.transition(ctx, batch, model.BatchStateRejected)
}

// transition validates and persists a state change.
func (m *Manager) transition(ctx context.Context, batch *model.StagingBatch, to model.BatchState) error {
	if !model.CanTransition(batch.State, to) {
		return eris.Wrapf(model.ErrInvalidTransition, "%s -> %s", batch.State, to)
	}
	if err := m.store.UpdateBatchState(ctx, batch.ID, to); err != nil {
		return err
	}
	from := batch.State
	batch.State = to
	batch.UpdatedAt = m.now().UTC()
	zap.L().Debug("staging: state transition",
		zap.String("batch", batch.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return nil
}

// loadSnapshot builds a point-in-time master data snapshot for matching.
func (m *Manager) loadSnapshot(ctx context.Context) (*match.Snapshot, error) {
	entities, err := m.store.ListMasterEntities(ctx, "")
	if err != nil {
		return nil, err
	}
	return match.NewSnapshot(entities), nil
}

func hasAmbiguous(matches []model.MatchOutcome) bool {
	for _, o := range matches {
		if o.Classification == model.MatchAmbiguous {
			return true
		}
	}
	return false
}

// applyMatchDecisions overrides ambiguous/unmatched outcomes with the
// human-chosen entity at confidence 1.0.
func applyMatchDecisions(batch *model.StagingBatch, decisions []MatchDecision) error {
	for _, d := range decisions {
		applied := false
		for i := range batch.Matches {
			o := &batch.Matches[i]
			if o.RowIndex != d.RowIndex || o.Field != d.Field {
				continue
			}
			o.Classification = model.MatchMatched
			o.Candidates = []model.MatchCandidate{{
				EntityID:      d.EntityID,
				Confidence:    1.0,
				MatchedFields: []string{d.Field},
			}}
			applied = true
			break
		}
		if !applied {
			return eris.Errorf("staging: no match outcome for row %d field %q", d.RowIndex, d.Field)
		}
	}
	return nil
}
