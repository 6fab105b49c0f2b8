package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrIntegrity is wrapped by every hash chain violation
	ErrIntegrity = errors.New("ledger: integrity check failed")

	// ErrEncoding means a block could not be canonically encoded
	ErrEncoding = errors.New("ledger: canonical encoding failed")

	// ErrContention means the writer lock was not acquired in time
	ErrContention = errors.New("ledger: writer lock contention")

	// ErrPersist means a sealed block could not be written to the store
	ErrPersist = errors.New("ledger: failed to persist block")

	// ErrStoreNotEmpty means Replay was given a store that already holds blocks
	ErrStoreNotEmpty = errors.New("ledger: replay target store is not empty")
)

// IntegrityError describes a single violated chain invariant
type IntegrityError struct {
	Index  int64  `json:"index"`
	Reason string `json:"reason"`
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("block %d: %s", e.Index, e.Reason)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrity
}
