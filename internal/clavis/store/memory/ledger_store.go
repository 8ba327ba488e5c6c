package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkarsten/clavis/internal/clavis/store"
)

// LedgerStore is an in-memory checkout ledger. It is intended for use in
// tests and dev environments. Employee credentials are resolved from the
// TagStore at checkout time, and label joins go through the LabelStore,
// both mirroring the SQL implementation.
type LedgerStore struct {
	mu      sync.Mutex
	entries []store.LedgerRecord
	nextID  int64
	tags    *TagStore
	labels  *LabelStore
}

func NewLedgerStore(tags *TagStore, labels *LabelStore) *LedgerStore {
	return &LedgerStore{nextID: 1, tags: tags, labels: labels}
}

func (s *LedgerStore) Last(_ context.Context, keyUID int64, credentialID string) (store.LedgerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := range s.entries {
		if s.entries[i].KeyUID != keyUID || s.entries[i].CredentialID != credentialID {
			continue
		}
		if idx == -1 || newer(s.entries[i], s.entries[idx]) {
			idx = i
		}
	}
	if idx == -1 {
		return store.LedgerRecord{}, store.ErrNotFound
	}
	return cloneRecord(s.entries[idx]), nil
}

func (s *LedgerStore) Checkout(ctx context.Context, keyUID int64, credentialID string, employeeUID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		if s.entries[i].KeyUID == keyUID &&
			s.entries[i].CredentialID == credentialID &&
			s.entries[i].CheckedInAt == nil {
			return store.ErrKeyAlreadyOut
		}
	}

	if at.IsZero() {
		at = time.Now().UTC()
	}

	var empCred *string
	if emp, err := s.tags.Get(ctx, employeeUID); err == nil {
		v := emp.CredentialID
		empCred = &v
	}

	s.entries = append(s.entries, store.LedgerRecord{
		ID:                   s.nextID,
		KeyUID:               keyUID,
		CredentialID:         credentialID,
		EmployeeCredentialID: empCred,
		CheckedOutAt:         at,
	})
	s.nextID++
	return nil
}

func (s *LedgerStore) Checkin(_ context.Context, keyUID int64, credentialID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := range s.entries {
		if s.entries[i].KeyUID != keyUID ||
			s.entries[i].CredentialID != credentialID ||
			s.entries[i].CheckedInAt != nil {
			continue
		}
		if idx == -1 || newer(s.entries[i], s.entries[idx]) {
			idx = i
		}
	}
	if idx == -1 {
		return store.ErrKeyNotCheckedOut
	}

	if at.IsZero() {
		at = time.Now().UTC()
	}
	t := at
	s.entries[idx].CheckedInAt = &t
	return nil
}

func (s *LedgerStore) History(_ context.Context, f store.HistoryFilter) ([]store.LedgerListing, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = store.DefaultHistoryLimit
	}

	s.mu.Lock()
	matched := make([]store.LedgerRecord, 0, len(s.entries))
	for i := range s.entries {
		e := s.entries[i]
		if !f.Since.IsZero() && e.CheckedOutAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && e.CheckedOutAt.After(f.Until) {
			continue
		}
		matched = append(matched, cloneRecord(e))
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return newer(matched[i], matched[j]) })
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]store.LedgerListing, 0, len(matched))
	for _, e := range matched {
		li := store.LedgerListing{Entry: e}
		li.KeyLabelBlob = s.labels.blob(e.CredentialID)
		if e.EmployeeCredentialID != nil {
			li.EmployeeLabelBlob = s.labels.blob(*e.EmployeeCredentialID)
		}
		out = append(out, li)
	}
	return out, nil
}

// Entries returns a copy of all ledger records.  Test-only helper.
func (s *LedgerStore) Entries() []store.LedgerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.LedgerRecord, 0, len(s.entries))
	for i := range s.entries {
		out = append(out, cloneRecord(s.entries[i]))
	}
	return out
}

// newer orders by checkout time, breaking ties by id, matching the SQL
// implementation's ORDER BY.
func newer(a, b store.LedgerRecord) bool {
	if !a.CheckedOutAt.Equal(b.CheckedOutAt) {
		return a.CheckedOutAt.After(b.CheckedOutAt)
	}
	return a.ID > b.ID
}

func cloneRecord(rec store.LedgerRecord) store.LedgerRecord {
	out := rec
	if rec.EmployeeCredentialID != nil {
		v := *rec.EmployeeCredentialID
		out.EmployeeCredentialID = &v
	}
	if rec.CheckedInAt != nil {
		t := *rec.CheckedInAt
		out.CheckedInAt = &t
	}
	return out
}
