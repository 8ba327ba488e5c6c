package store

import (
	"context"
	"time"

	"github.com/pkarsten/clavis/internal/clavis/types"
)

// TagRecord is one row of the tag registration relation. UID is the
// immutable hardware identifier and the natural key. CredentialID points
// at the label record whose credential is currently written on the tag;
// re-registration repoints it, it never edits the label record itself.
type TagRecord struct {
	UID          int64
	CredentialID string
	Role         types.Role
	Active       bool
	RegisteredAt time.Time
	UpdatedAt    time.Time
}

// TagListing pairs a registration with the encrypted label blob its
// credential resolves to, for roster-style reads. LabelBlob is nil when
// the reference dangles.
type TagListing struct {
	Tag       TagRecord
	LabelBlob []byte
}

type TagStore interface {
	// Get returns the registration for uid, or ErrNotFound.
	Get(ctx context.Context, uid int64) (TagRecord, error)

	// Upsert inserts the registration, or overwrites the existing one for
	// the same uid. On overwrite the original RegisteredAt is kept and
	// everything else is replaced.
	Upsert(ctx context.Context, rec TagRecord) error

	// SetActive flips the active flag and bumps UpdatedAt. Repeating the
	// same flag is harmless; an unknown uid is ErrNotFound.
	SetActive(ctx context.Context, uid int64, active bool, at time.Time) error

	// ListWithLabels returns every registration joined with its encrypted
	// label blob, ordered by role then uid.
	ListWithLabels(ctx context.Context) ([]TagListing, error)
}
