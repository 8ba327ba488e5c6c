package service

import (
	"context"
	"errors"
	"time"

	"github.com/pkarsten/clavis/internal/clavis/store"
	"github.com/pkarsten/clavis/internal/clavis/types"
)

// TagDirectory answers questions about tag registrations and moves the
// checkout ledger. It holds no policy: the Engine decides what a tap
// means, the directory only reads and writes on its behalf.
type TagDirectory struct {
	tags   store.TagStore
	labels store.LabelStore
	ledger store.LedgerStore
}

func NewTagDirectory(tags store.TagStore, labels store.LabelStore, ledger store.LedgerStore) *TagDirectory {
	return &TagDirectory{tags: tags, labels: labels, ledger: ledger}
}

// Classify reports the role and active flag registered for uid.
// store.ErrNotFound means the tag was never registered.
func (d *TagDirectory) Classify(ctx context.Context, uid int64) (types.Role, bool, error) {
	rec, err := d.tags.Get(ctx, uid)
	if err != nil {
		return "", false, err
	}
	return rec.Role, rec.Active, nil
}

// VerifyContent reports whether observed equals the credential bound to
// an active registration for uid and that credential still resolves to a
// label record. A missing registration, an inactive tag, a mismatched
// credential, and a dangling label reference all count as not verified;
// only storage failures return an error.
func (d *TagDirectory) VerifyContent(ctx context.Context, uid int64, observed string) (bool, error) {
	rec, err := d.tags.Get(ctx, uid)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !rec.Active || rec.CredentialID != observed {
		return false, nil
	}
	if _, err := d.labels.Get(ctx, rec.CredentialID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Activate marks uid active again. Safe to repeat; an unknown uid is
// store.ErrNotFound.
func (d *TagDirectory) Activate(ctx context.Context, uid int64) error {
	return d.tags.SetActive(ctx, uid, true, time.Now().UTC())
}

// SetActive flips the active flag without touching the rest of the
// registration; operators use it to retire a lost tag while keeping its
// ledger history intact.
func (d *TagDirectory) SetActive(ctx context.Context, uid int64, active bool) error {
	return d.tags.SetActive(ctx, uid, active, time.Now().UTC())
}

// RegisterOrOverwrite binds a credential and its encrypted label to uid.
// The label record goes in first so the registration's reference always
// resolves; the registration itself is an insert-or-overwrite and leaves
// the tag active. An overwritten registration keeps its original
// registered-at stamp, and the old label record stays behind for the
// ledger rows that still reference it.
func (d *TagDirectory) RegisterOrOverwrite(ctx context.Context, uid int64, role types.Role, credentialID string, encryptedLabel []byte) error {
	now := time.Now().UTC()

	if err := d.labels.Insert(ctx, store.LabelRecord{
		CredentialID:   credentialID,
		EncryptedLabel: encryptedLabel,
		CreatedAt:      now,
	}); err != nil {
		return err
	}

	return d.tags.Upsert(ctx, store.TagRecord{
		UID:          uid,
		CredentialID: credentialID,
		Role:         role,
		Active:       true,
		RegisteredAt: now,
		UpdatedAt:    now,
	})
}

// LedgerState returns the most recent cycle's checkout and check-in times
// for the key/credential pair, both nil when the pair has no history.
func (d *TagDirectory) LedgerState(ctx context.Context, keyUID int64, credentialID string) (checkedOut, checkedIn *time.Time, err error) {
	rec, err := d.ledger.Last(ctx, keyUID, credentialID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	out := rec.CheckedOutAt
	return &out, rec.CheckedInAt, nil
}

// Checkout opens a ledger cycle; store.ErrKeyAlreadyOut passes through.
func (d *TagDirectory) Checkout(ctx context.Context, keyUID int64, credentialID string, employeeUID int64, at time.Time) error {
	return d.ledger.Checkout(ctx, keyUID, credentialID, employeeUID, at)
}

// Checkin closes the open ledger cycle; store.ErrKeyNotCheckedOut passes
// through.
func (d *TagDirectory) Checkin(ctx context.Context, keyUID int64, credentialID string, at time.Time) error {
	return d.ledger.Checkin(ctx, keyUID, credentialID, at)
}
