package service

import (
	"context"
	"time"

	"github.com/pkarsten/clavis/internal/clavis/crypto"
	"github.com/pkarsten/clavis/internal/clavis/store"
	"github.com/pkarsten/clavis/internal/clavis/types"
)

// UnknownLabel stands in for a label that is missing or that the cipher
// cannot open. Reports always render something for a key.
const UnknownLabel = "(unknown)"

// HistoryEntry is one checkout/check-in cycle with its labels decrypted
// for display. EmployeeName is empty when the borrower's credential was
// never resolved or its label cannot be read.
type HistoryEntry struct {
	ID           int64
	KeyUID       int64
	KeyLabel     string
	EmployeeName string
	CheckedOutAt time.Time
	CheckedInAt  *time.Time
}

// RosterEntry is one tag registration with its label decrypted for
// display.
type RosterEntry struct {
	UID          int64
	Role         types.Role
	Active       bool
	Label        string
	RegisteredAt time.Time
	UpdatedAt    time.Time
}

// Reporter renders the ledger and the registration roster with labels
// decrypted. Unreadable labels degrade, they never fail a report: an
// audit view with a hole in it beats no audit view.
type Reporter struct {
	tags   store.TagStore
	ledger store.LedgerStore
	cipher *crypto.LabelCipher
}

func NewReporter(tags store.TagStore, ledger store.LedgerStore, cipher *crypto.LabelCipher) *Reporter {
	return &Reporter{tags: tags, ledger: ledger, cipher: cipher}
}

// History returns ledger cycles newest-first within the filter's bounds.
func (r *Reporter) History(ctx context.Context, f store.HistoryFilter) ([]HistoryEntry, error) {
	listings, err := r.ledger.History(ctx, f)
	if err != nil {
		return nil, err
	}

	out := make([]HistoryEntry, 0, len(listings))
	for _, li := range listings {
		e := HistoryEntry{
			ID:           li.Entry.ID,
			KeyUID:       li.Entry.KeyUID,
			KeyLabel:     r.labelOr(li.KeyLabelBlob, UnknownLabel),
			CheckedOutAt: li.Entry.CheckedOutAt,
			CheckedInAt:  li.Entry.CheckedInAt,
		}
		if li.Entry.EmployeeCredentialID != nil {
			e.EmployeeName = r.labelOr(li.EmployeeLabelBlob, "")
		}
		out = append(out, e)
	}
	return out, nil
}

// Roster returns every registration ordered by role then uid.
func (r *Reporter) Roster(ctx context.Context) ([]RosterEntry, error) {
	listings, err := r.tags.ListWithLabels(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]RosterEntry, 0, len(listings))
	for _, li := range listings {
		out = append(out, RosterEntry{
			UID:          li.Tag.UID,
			Role:         li.Tag.Role,
			Active:       li.Tag.Active,
			Label:        r.labelOr(li.LabelBlob, UnknownLabel),
			RegisteredAt: li.Tag.RegisteredAt,
			UpdatedAt:    li.Tag.UpdatedAt,
		})
	}
	return out, nil
}

// labelOr decrypts a label blob, falling back when the blob is missing
// or unreadable.
func (r *Reporter) labelOr(blob []byte, fallback string) string {
	if blob == nil {
		return fallback
	}
	label, err := r.cipher.Decrypt(blob)
	if err != nil {
		return fallback
	}
	return label
}
