package model

import "github.com/rotisserie/eris"

// Batch-fatal and operational sentinels. Per-record conditions (no match,
// conflict, blocked imputation) are reports, not errors; only
// configuration and storage-transaction failures abort a batch.
var (
	// ErrConfiguration marks invalid pipeline configuration (cyclic
	// formula graph, unknown field in policy, malformed expression).
	ErrConfiguration = eris.New("configuration error")

	// ErrBatchNotFound marks a lookup of an unknown or purged batch.
	ErrBatchNotFound = eris.New("batch not found")

	// ErrInvalidTransition marks an illegal batch state change.
	ErrInvalidTransition = eris.New("invalid batch state transition")

	// ErrImputationBlocked marks a fill refused by the policy gate.
	ErrImputationBlocked = eris.New("imputation blocked by policy")

	// ErrStagingTransaction marks a promotion that failed mid-flight.
	// The batch stays in validating; partial writes are never visible.
	ErrStagingTransaction = eris.New("staging transaction failed")
)
