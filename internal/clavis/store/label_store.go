package store

import (
	"context"
	"time"
)

// LabelRecord maps a credential to the encrypted human-readable label it
// was registered under. Records are immutable once written; retiring a
// tag retires the registration, not the label.
type LabelRecord struct {
	CredentialID   string
	EncryptedLabel []byte
	CreatedAt      time.Time
}

type LabelStore interface {
	// Insert stores a new label record. Inserting a credential that
	// already exists is a no-op and the original record wins: credentials
	// carry enough entropy that a collision means the caller reused one.
	Insert(ctx context.Context, rec LabelRecord) error

	// Get returns the label record for a credential, or ErrNotFound.
	Get(ctx context.Context, credentialID string) (LabelRecord, error)
}
