package store

import (
	"context"
	"time"
)

// DefaultHistoryLimit caps a history query that did not name its own
// limit.
const DefaultHistoryLimit = 200

// LedgerRecord is one checkout/check-in cycle for a key tag.
// EmployeeCredentialID is the credential the borrowing employee's tag was
// registered under at checkout time, nil when it could not be resolved.
// CheckedInAt is nil while the key is out.
type LedgerRecord struct {
	ID                   int64
	KeyUID               int64
	CredentialID         string
	EmployeeCredentialID *string
	CheckedOutAt         time.Time
	CheckedInAt          *time.Time
}

// LedgerListing joins a ledger row with the encrypted labels of the key
// and the borrowing employee, for history-style reads. A blob is nil when
// its reference dangles or, for the employee, was never resolved.
type LedgerListing struct {
	Entry             LedgerRecord
	KeyLabelBlob      []byte
	EmployeeLabelBlob []byte
}

// HistoryFilter bounds a ledger history query by checkout time. Zero
// times mean unbounded; Limit <= 0 falls back to DefaultHistoryLimit.
type HistoryFilter struct {
	Since time.Time
	Until time.Time
	Limit int
}

type LedgerStore interface {
	// Last returns the most recent cycle for the key/credential pair,
	// newest by checkout time, or ErrNotFound when the pair has no
	// history.
	Last(ctx context.Context, keyUID int64, credentialID string) (LedgerRecord, error)

	// Checkout opens a new cycle at the given time, resolving the
	// employee's credential from their current registration. It fails
	// with ErrKeyAlreadyOut when the pair already has an open cycle; the
	// check and the insert are atomic with respect to other writers.
	Checkout(ctx context.Context, keyUID int64, credentialID string, employeeUID int64, at time.Time) error

	// Checkin stamps the most recent open cycle for the pair, or fails
	// with ErrKeyNotCheckedOut when none is open.
	Checkin(ctx context.Context, keyUID int64, credentialID string, at time.Time) error

	// History returns cycles newest-first, joined with label blobs.
	History(ctx context.Context, f HistoryFilter) ([]LedgerListing, error)
}
