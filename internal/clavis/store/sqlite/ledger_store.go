package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkarsten/clavis/internal/clavis/store"
	dbpkg "github.com/pkarsten/clavis/internal/db"
)

type LedgerStore struct {
	db     *sql.DB
	writer *dbpkg.Writer
}

func NewLedgerStore(db *sql.DB, writer *dbpkg.Writer) *LedgerStore {
	return &LedgerStore{db: db, writer: writer}
}

func (s *LedgerStore) Last(ctx context.Context, keyUID int64, credentialID string) (store.LedgerRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, key_uid, credential_id, employee_credential_id, checkout_at_ms, checkin_at_ms
FROM ledger_entries
WHERE key_uid = ? AND credential_id = ?
ORDER BY checkout_at_ms DESC, id DESC
LIMIT 1;
`, keyUID, credentialID)

	rec, err := scanLedgerRecord(row)
	if err == sql.ErrNoRows {
		return store.LedgerRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.LedgerRecord{}, fmt.Errorf("Last entry for key %d: %w", keyUID, err)
	}
	return rec, nil
}

// Checkout re-checks for an open cycle inside the writer transaction, so
// the decision a caller made from an earlier read cannot go stale between
// read and insert. The partial unique index on open entries backs this up
// should anything else ever write the table.
func (s *LedgerStore) Checkout(ctx context.Context, keyUID int64, credentialID string, employeeUID int64, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	ms := at.UTC().UnixMilli()

	return s.writer.Tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, `
SELECT id FROM ledger_entries
WHERE key_uid = ? AND credential_id = ? AND checkin_at_ms IS NULL
LIMIT 1;
`, keyUID, credentialID).Scan(&id)
		if err == nil {
			return store.ErrKeyAlreadyOut
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("Checkout open-cycle check for key %d: %w", keyUID, err)
		}

		// The employee's credential is resolved from their registration as
		// of now; a missing registration leaves the column NULL rather than
		// failing the checkout.
		if _, err := tx.ExecContext(ctx, `
INSERT INTO ledger_entries(
  key_uid, credential_id, employee_credential_id, checkout_at_ms
) VALUES (
  ?, ?, (SELECT credential_id FROM tag_registrations WHERE uid = ?), ?
);
`, keyUID, credentialID, employeeUID, ms); err != nil {
			if isUniqueViolation(err) {
				return store.ErrKeyAlreadyOut
			}
			return fmt.Errorf("Checkout insert for key %d: %w", keyUID, err)
		}
		return nil
	})
}

func (s *LedgerStore) Checkin(ctx context.Context, keyUID int64, credentialID string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	ms := at.UTC().UnixMilli()

	return s.writer.Tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, `
SELECT id FROM ledger_entries
WHERE key_uid = ? AND credential_id = ? AND checkin_at_ms IS NULL
ORDER BY checkout_at_ms DESC, id DESC
LIMIT 1;
`, keyUID, credentialID).Scan(&id)
		if err == sql.ErrNoRows {
			return store.ErrKeyNotCheckedOut
		}
		if err != nil {
			return fmt.Errorf("Checkin open-cycle lookup for key %d: %w", keyUID, err)
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE ledger_entries SET checkin_at_ms = ? WHERE id = ?;
`, ms, id); err != nil {
			return fmt.Errorf("Checkin stamp for key %d: %w", keyUID, err)
		}
		return nil
	})
}

func (s *LedgerStore) History(ctx context.Context, f store.HistoryFilter) ([]store.LedgerListing, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = store.DefaultHistoryLimit
	}

	q := `
SELECT e.id, e.key_uid, e.credential_id, e.employee_credential_id,
       e.checkout_at_ms, e.checkin_at_ms,
       kl.encrypted_label, el.encrypted_label
FROM ledger_entries e
LEFT JOIN label_records kl ON kl.credential_id = e.credential_id
LEFT JOIN label_records el ON el.credential_id = e.employee_credential_id
`
	var (
		where []string
		args  []any
	)
	if !f.Since.IsZero() {
		where = append(where, "e.checkout_at_ms >= ?")
		args = append(args, f.Since.UTC().UnixMilli())
	}
	if !f.Until.IsZero() {
		where = append(where, "e.checkout_at_ms <= ?")
		args = append(args, f.Until.UTC().UnixMilli())
	}
	if len(where) > 0 {
		q += "WHERE " + strings.Join(where, " AND ") + "\n"
	}
	q += "ORDER BY e.checkout_at_ms DESC, e.id DESC\nLIMIT ?;"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("History query: %w", err)
	}
	defer rows.Close()

	var out []store.LedgerListing
	for rows.Next() {
		var (
			li    store.LedgerListing
			emp   sql.NullString
			outMs int64
			inMs  sql.NullInt64
		)
		if err := rows.Scan(
			&li.Entry.ID, &li.Entry.KeyUID, &li.Entry.CredentialID, &emp,
			&outMs, &inMs,
			&li.KeyLabelBlob, &li.EmployeeLabelBlob,
		); err != nil {
			return nil, fmt.Errorf("History scan: %w", err)
		}
		if emp.Valid {
			v := emp.String
			li.Entry.EmployeeCredentialID = &v
		}
		li.Entry.CheckedOutAt = time.UnixMilli(outMs).UTC()
		if inMs.Valid {
			t := time.UnixMilli(inMs.Int64).UTC()
			li.Entry.CheckedInAt = &t
		}
		out = append(out, li)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("History rows: %w", err)
	}
	return out, nil
}

func scanLedgerRecord(row *sql.Row) (store.LedgerRecord, error) {
	var (
		rec   store.LedgerRecord
		emp   sql.NullString
		outMs int64
		inMs  sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &rec.KeyUID, &rec.CredentialID, &emp, &outMs, &inMs); err != nil {
		return store.LedgerRecord{}, err
	}
	if emp.Valid {
		v := emp.String
		rec.EmployeeCredentialID = &v
	}
	rec.CheckedOutAt = time.UnixMilli(outMs).UTC()
	if inMs.Valid {
		t := time.UnixMilli(inMs.Int64).UTC()
		rec.CheckedInAt = &t
	}
	return rec, nil
}

// isUniqueViolation matches SQLite's unique-constraint failure on the
// open-entry index. modernc.org/sqlite exposes no stable typed error for
// it, so the documented message text is the contract.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
