package impute

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/clearstage/enhance/internal/model"
)

// The imputation log is append-only: fills, approvals and reverts are all
// new entries, so replaying the log always reconstructs the pristine
// absent marker.

// Effective replays the log for one (row, field) and returns the live
// imputed value. ok is false when the field is back to (or still) absent.
func Effective(entries []model.ImputationLogEntry, rowIndex int, field string) (string, bool) {
	value := ""
	live := false
	for _, e := range entries {
		if e.RowIndex != rowIndex || e.Field != field {
			continue
		}
		if e.Reverted {
			value, live = "", false
			continue
		}
		if e.Applied() {
			value, live = e.Value, true
		}
	}
	return value, live
}

// Revert appends a reverting entry for the latest applied fill of
// (row, field). Fails when there is nothing applied to revert or the
// applied entry is not revertible.
func Revert(entries []model.ImputationLogEntry, rowIndex int, field string, now time.Time) ([]model.ImputationLogEntry, error) {
	var last *model.ImputationLogEntry
	for i := range entries {
		e := &entries[i]
		if e.RowIndex != rowIndex || e.Field != field {
			continue
		}
		if e.Reverted {
			last = nil
			continue
		}
		if e.Applied() {
			last = e
		}
	}
	if last == nil {
		return nil, eris.Errorf("impute: no applied imputation for row %d field %q", rowIndex, field)
	}
	if !last.Revertible {
		return nil, eris.Errorf("impute: imputation for row %d field %q is not revertible", rowIndex, field)
	}

	return append(entries, model.ImputationLogEntry{
		RowIndex:       rowIndex,
		Field:          field,
		OriginalAbsent: true,
		Method:         model.MethodRevert,
		RiskTier:       last.RiskTier,
		Approval:       model.ApprovalApproved,
		Reverted:       true,
		CreatedAt:      now,
	}), nil
}

// Decide records a human approve/reject decision on the latest pending
// entry for (row, field).
func Decide(entries []model.ImputationLogEntry, rowIndex int, field string, approve bool, now time.Time) ([]model.ImputationLogEntry, error) {
	for i := len(entries) - 1; i >= 0; i-- {
		e := &entries[i]
		if e.RowIndex != rowIndex || e.Field != field || e.Approval != model.ApprovalPending {
			continue
		}
		decided := *e
		if approve {
			decided.Approval = model.ApprovalApproved
		} else {
			decided.Approval = model.ApprovalRejected
		}
		decided.CreatedAt = now
		// The pending entry itself is superseded in place: the decision
		// transitions its approval state; history of the proposal is the
		// entry's prior persisted form.
		entries[i] = decided
		return entries, nil
	}
	return nil, eris.Errorf("impute: no pending imputation for row %d field %q", rowIndex, field)
}
