package memory

import (
	"context"
	"sync"

	"github.com/pkarsten/clavis/internal/clavis/store"
)

// LabelStore is an in-memory label record table. It is intended for use
// in tests and dev environments.
type LabelStore struct {
	mu      sync.RWMutex
	records map[string]store.LabelRecord
}

func NewLabelStore() *LabelStore {
	return &LabelStore{records: make(map[string]store.LabelRecord)}
}

func (s *LabelStore) Insert(_ context.Context, rec store.LabelRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// First write wins, per the LabelStore contract.
	if _, ok := s.records[rec.CredentialID]; ok {
		return nil
	}
	s.records[rec.CredentialID] = rec
	return nil
}

func (s *LabelStore) Get(_ context.Context, credentialID string) (store.LabelRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[credentialID]
	if !ok {
		return store.LabelRecord{}, store.ErrNotFound
	}
	return rec, nil
}

// blob returns the encrypted label for a credential, nil when absent.
func (s *LabelStore) blob(credentialID string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[credentialID]
	if !ok {
		return nil
	}
	return rec.EncryptedLabel
}
