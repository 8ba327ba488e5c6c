package sqlite_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pkarsten/clavis/internal/clavis/store"
	"github.com/pkarsten/clavis/internal/clavis/store/sqlite"
	"github.com/pkarsten/clavis/internal/clavis/types"
	"github.com/pkarsten/clavis/internal/db"
)

// Fixed 32-hex credentials shared by the store tests.
const (
	empCred  = "0f8fad5bd9cb469fa16570867728950e"
	emp2Cred = "7d4448409dc04d398bb839d47a4f8f70"
	keyCred  = "7c9e6679742540de944be07fc1f90ae7"
	key2Cred = "16fd27068baf433b82eb8c7fada847da"
)

var seedTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// openTestDB returns an in-memory SQLite connection with the same PRAGMAs
// and schema as production.  The connection is closed automatically when
// the test finishes.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Each call gets a unique in-memory database.  The shared-cache URI
	// keeps the database alive for the lifetime of the connection pool
	// (important because sql.DB may close/reopen the underlying conn).
	dsn := fmt.Sprintf(
		"file:test_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		t.Name(),
	)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("openTestDB: sql.Open: %v", err)
	}

	// Match production: single connection for SQLite safety.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: ping: %v", err)
	}

	// Apply the same migrations as production.
	if err := db.Migrate(context.Background(), conn); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: migrate: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestWriter returns a db.Writer backed by conn.  The writer is closed
// automatically when the test finishes.
func newTestWriter(t *testing.T, conn *sql.DB) *db.Writer {
	t.Helper()

	w := db.NewWriter(conn)
	t.Cleanup(func() { w.Close() })
	return w
}

// seedTag registers uid with a credential through the real stores, label
// record first so the registration's foreign key holds.
func seedTag(t *testing.T, conn *sql.DB, w *db.Writer, uid int64, role types.Role, credentialID string) {
	t.Helper()
	ctx := context.Background()

	labels := sqlite.NewLabelStore(conn, w)
	if err := labels.Insert(ctx, store.LabelRecord{
		CredentialID:   credentialID,
		EncryptedLabel: []byte("blob-" + credentialID),
		CreatedAt:      seedTime,
	}); err != nil {
		t.Fatalf("seedTag: label insert: %v", err)
	}

	tags := sqlite.NewTagStore(conn, w)
	if err := tags.Upsert(ctx, store.TagRecord{
		UID:          uid,
		CredentialID: credentialID,
		Role:         role,
		Active:       true,
		RegisteredAt: seedTime,
		UpdatedAt:    seedTime,
	}); err != nil {
		t.Fatalf("seedTag: upsert %d: %v", uid, err)
	}
}
