package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkarsten/clavis/internal/clavis/store"
)

// TagStore is an in-memory tag registration table. It is intended for use
// in tests and dev environments. Label joins go through the LabelStore it
// was built with, mirroring what the SQL implementation does with a JOIN.
type TagStore struct {
	mu     sync.RWMutex
	tags   map[int64]store.TagRecord
	labels *LabelStore
}

func NewTagStore(labels *LabelStore) *TagStore {
	return &TagStore{
		tags:   make(map[int64]store.TagRecord),
		labels: labels,
	}
}

func (s *TagStore) Get(_ context.Context, uid int64) (store.TagRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tags[uid]
	if !ok {
		return store.TagRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *TagStore) Upsert(_ context.Context, rec store.TagRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.tags[rec.UID]; ok {
		rec.RegisteredAt = prev.RegisteredAt
	}
	s.tags[rec.UID] = rec
	return nil
}

func (s *TagStore) SetActive(_ context.Context, uid int64, active bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tags[uid]
	if !ok {
		return store.ErrNotFound
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	rec.Active = active
	rec.UpdatedAt = at
	s.tags[uid] = rec
	return nil
}

func (s *TagStore) ListWithLabels(_ context.Context) ([]store.TagListing, error) {
	s.mu.RLock()
	out := make([]store.TagListing, 0, len(s.tags))
	for _, rec := range s.tags {
		out = append(out, store.TagListing{Tag: rec})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Tag.Role != out[j].Tag.Role {
			return out[i].Tag.Role < out[j].Tag.Role
		}
		return out[i].Tag.UID < out[j].Tag.UID
	})
	for i := range out {
		out[i].LabelBlob = s.labels.blob(out[i].Tag.CredentialID)
	}
	return out, nil
}
