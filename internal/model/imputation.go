package model

import "time"

// ApprovalState tracks the decision lifecycle of one imputation proposal.
type ApprovalState string

const (
	ApprovalAuto     ApprovalState = "auto_approved"
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalRejected ApprovalState = "rejected"
)

// ImputationMethod names the strategy that produced a value.
type ImputationMethod string

const (
	MethodBusinessRule    ImputationMethod = "business_rule"
	MethodNeighborAverage ImputationMethod = "neighbor_average"
	MethodRegression      ImputationMethod = "regression"
	MethodMajorityVote    ImputationMethod = "majority_vote"
	MethodRevert          ImputationMethod = "revert"
)

// ImputationLogEntry is one append-only annotation over an immutable
// record field. OriginalAbsent is always true for a fill (the absent
// marker is the original value, never a synthesized stand-in); a revert
// entry restores it. History is never deleted: a revert is a new entry.
type ImputationLogEntry struct {
	RowIndex       int              `json:"row_index"`
	Field          string           `json:"field"`
	OriginalAbsent bool             `json:"original_absent"`
	Value          string           `json:"value"`
	Method         ImputationMethod `json:"method"`
	Confidence     float64          `json:"confidence"`
	RiskTier       RiskTier         `json:"risk_tier"`
	Approval       ApprovalState    `json:"approval"`
	Revertible     bool             `json:"revertible"`
	Reverted       bool             `json:"reverted,omitempty"` // true on revert entries
	CreatedAt      time.Time        `json:"created_at"`
}

// Applied reports whether this entry's value is live on the record view.
func (e ImputationLogEntry) Applied() bool {
	if e.Reverted {
		return false
	}
	return e.Approval == ApprovalAuto || e.Approval == ApprovalApproved
}

// ImputationGap reports a missing field the policy gate refused to fill.
type ImputationGap struct {
	RowIndex int    `json:"row_index"`
	Field    string `json:"field"`
	Reason   string `json:"reason"`
}
