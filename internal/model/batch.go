package model

import "time"

// BatchState is the lifecycle state of a staging batch.
type BatchState string

const (
	BatchStateCreated         BatchState = "created"
	BatchStatePopulated       BatchState = "populated"
	BatchStateValidating      BatchState = "validating"
	BatchStateHeldForApproval BatchState = "held_for_approval"
	BatchStatePromoted        BatchState = "promoted"
	BatchStateRejected        BatchState = "rejected"
	BatchStateExpired         BatchState = "expired"
	BatchStatePurged          BatchState = "purged"
)

// validTransitions is the staging batch state machine. held_for_approval
// returns to validating when every pending decision is recorded; any
// non-terminal state may expire or be cancelled to rejected.
var validTransitions = map[BatchState][]BatchState{
	BatchStateCreated:         {BatchStatePopulated, BatchStateRejected, BatchStateExpired},
	BatchStatePopulated:       {BatchStateValidating, BatchStateRejected, BatchStateExpired},
	BatchStateValidating:      {BatchStatePromoted, BatchStateRejected, BatchStateHeldForApproval, BatchStateExpired},
	BatchStateHeldForApproval: {BatchStateValidating, BatchStateRejected, BatchStateExpired},
	BatchStatePromoted:        {BatchStatePurged},
	BatchStateRejected:        {BatchStatePurged},
	BatchStateExpired:         {BatchStatePurged},
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to BatchState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state accepts no further pipeline work.
// Purge is the only move out of a terminal state.
func (s BatchState) Terminal() bool {
	switch s {
	case BatchStatePromoted, BatchStateRejected, BatchStateExpired, BatchStatePurged:
		return true
	}
	return false
}

// StagingBatch is one submitted upload processed as a unit. Records are
// immutable after population; the report slices accumulate as the pipeline
// stages run.
type StagingBatch struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	State     BatchState     `json:"state"`
	Records   []ImportRecord `json:"records"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`

	Matches     []MatchOutcome       `json:"matches,omitempty"`
	Conflicts   []ConflictReport     `json:"conflicts,omitempty"`
	Imputations []ImputationLogEntry `json:"imputations,omitempty"`
	Quality     *BatchQuality        `json:"quality,omitempty"`
}

// Record returns the record with the given row index, or nil.
func (b *StagingBatch) Record(rowIndex int) *ImportRecord {
	for i := range b.Records {
		if b.Records[i].RowIndex == rowIndex {
			return &b.Records[i]
		}
	}
	return nil
}

// PendingImputations returns log entries still awaiting a human decision.
func (b *StagingBatch) PendingImputations() []ImputationLogEntry {
	var pending []ImputationLogEntry
	for _, e := range b.Imputations {
		if e.Approval == ApprovalPending {
			pending = append(pending, e)
		}
	}
	return pending
}
