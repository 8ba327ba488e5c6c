package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkarsten/clavis/internal/clavis/store"
	dbpkg "github.com/pkarsten/clavis/internal/db"
)

type LabelStore struct {
	db     *sql.DB
	writer *dbpkg.Writer
}

func NewLabelStore(db *sql.DB, writer *dbpkg.Writer) *LabelStore {
	return &LabelStore{db: db, writer: writer}
}

// Insert is first-write-wins: an existing credential_id is left untouched.
// Credential IDs never appear in error text; they are what gets written
// onto the physical tags.
func (s *LabelStore) Insert(ctx context.Context, rec store.LabelRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	ms := rec.CreatedAt.UTC().UnixMilli()

	return s.writer.Tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO label_records(credential_id, encrypted_label, created_at_ms)
VALUES (?, ?, ?)
ON CONFLICT(credential_id) DO NOTHING;
`, rec.CredentialID, rec.EncryptedLabel, ms); err != nil {
			return fmt.Errorf("Insert label record: %w", err)
		}
		return nil
	})
}

func (s *LabelStore) Get(ctx context.Context, credentialID string) (store.LabelRecord, error) {
	var (
		rec store.LabelRecord
		ms  int64
	)

	err := s.db.QueryRowContext(ctx, `
SELECT credential_id, encrypted_label, created_at_ms
FROM label_records
WHERE credential_id = ?;
`, credentialID).Scan(&rec.CredentialID, &rec.EncryptedLabel, &ms)

	if err == sql.ErrNoRows {
		return store.LabelRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.LabelRecord{}, fmt.Errorf("Get label record: %w", err)
	}

	rec.CreatedAt = time.UnixMilli(ms).UTC()
	return rec, nil
}
