package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkarsten/clavis/internal/clavis/store"
	"github.com/pkarsten/clavis/internal/clavis/types"
	dbpkg "github.com/pkarsten/clavis/internal/db"
)

type TagStore struct {
	db     *sql.DB
	writer *dbpkg.Writer
}

func NewTagStore(db *sql.DB, writer *dbpkg.Writer) *TagStore {
	return &TagStore{db: db, writer: writer}
}

func (s *TagStore) Get(ctx context.Context, uid int64) (store.TagRecord, error) {
	var (
		rec    store.TagRecord
		role   string
		active int
		regMs  int64
		updMs  int64
	)

	err := s.db.QueryRowContext(ctx, `
SELECT uid, credential_id, role, active, registered_at_ms, updated_at_ms
FROM tag_registrations
WHERE uid = ?;
`, uid).Scan(&rec.UID, &rec.CredentialID, &role, &active, &regMs, &updMs)

	if err == sql.ErrNoRows {
		return store.TagRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.TagRecord{}, fmt.Errorf("Get tag %d: %w", uid, err)
	}

	// Reject corrupt roles here so callers only ever see the closed set.
	r, err := types.ParseRole(role)
	if err != nil {
		return store.TagRecord{}, fmt.Errorf("Get tag %d: %w", uid, err)
	}

	rec.Role = r
	rec.Active = active == 1
	rec.RegisteredAt = time.UnixMilli(regMs).UTC()
	rec.UpdatedAt = time.UnixMilli(updMs).UTC()
	return rec, nil
}

// Upsert keeps registered_at_ms on conflict; everything else, the active
// flag included, is replaced with the incoming record.
func (s *TagStore) Upsert(ctx context.Context, rec store.TagRecord) error {
	var active int
	if rec.Active {
		active = 1
	}
	regMs := rec.RegisteredAt.UTC().UnixMilli()
	updMs := rec.UpdatedAt.UTC().UnixMilli()

	return s.writer.Tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO tag_registrations(
  uid, credential_id, role, active, registered_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(uid) DO UPDATE SET
  credential_id = excluded.credential_id,
  role          = excluded.role,
  active        = excluded.active,
  updated_at_ms = excluded.updated_at_ms;
`, rec.UID, rec.CredentialID, string(rec.Role), active, regMs, updMs); err != nil {
			return fmt.Errorf("Upsert tag %d: %w", rec.UID, err)
		}
		return nil
	})
}

func (s *TagStore) SetActive(ctx context.Context, uid int64, active bool, at time.Time) error {
	var v int
	if active {
		v = 1
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	ms := at.UTC().UnixMilli()

	return s.writer.Tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE tag_registrations
SET active        = ?,
    updated_at_ms = ?
WHERE uid = ?;
`, v, ms, uid)
		if err != nil {
			return fmt.Errorf("SetActive tag %d: %w", uid, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("SetActive tag %d: %w", uid, err)
		}
		if n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

func (s *TagStore) ListWithLabels(ctx context.Context) ([]store.TagListing, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT t.uid, t.credential_id, t.role, t.active, t.registered_at_ms, t.updated_at_ms,
       l.encrypted_label
FROM tag_registrations t
LEFT JOIN label_records l ON l.credential_id = t.credential_id
ORDER BY t.role, t.uid;
`)
	if err != nil {
		return nil, fmt.Errorf("ListWithLabels query: %w", err)
	}
	defer rows.Close()

	var out []store.TagListing
	for rows.Next() {
		var (
			li     store.TagListing
			role   string
			active int
			regMs  int64
			updMs  int64
		)
		if err := rows.Scan(
			&li.Tag.UID, &li.Tag.CredentialID, &role, &active, &regMs, &updMs,
			&li.LabelBlob,
		); err != nil {
			return nil, fmt.Errorf("ListWithLabels scan: %w", err)
		}
		r, err := types.ParseRole(role)
		if err != nil {
			return nil, fmt.Errorf("ListWithLabels tag %d: %w", li.Tag.UID, err)
		}
		li.Tag.Role = r
		li.Tag.Active = active == 1
		li.Tag.RegisteredAt = time.UnixMilli(regMs).UTC()
		li.Tag.UpdatedAt = time.UnixMilli(updMs).UTC()
		out = append(out, li)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListWithLabels rows: %w", err)
	}
	return out, nil
}
