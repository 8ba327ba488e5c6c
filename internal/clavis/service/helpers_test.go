package service_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pkarsten/clavis/internal/clavis/crypto"
	"github.com/pkarsten/clavis/internal/clavis/service"
	"github.com/pkarsten/clavis/internal/clavis/store/memory"
	"github.com/pkarsten/clavis/internal/clavis/types"
)

// Fixed 32-hex credentials used across the service tests.
const (
	empCred  = "0f8fad5bd9cb469fa16570867728950e"
	emp2Cred = "7d4448409dc04d398bb839d47a4f8f70"
	keyCred  = "7c9e6679742540de944be07fc1f90ae7"
	key2Cred = "16fd27068baf433b82eb8c7fada847da"
)

// fixture bundles the in-memory stores behind one TagDirectory so tests
// can drive the public API and inspect raw state.
type fixture struct {
	Tags   *memory.TagStore
	Labels *memory.LabelStore
	Ledger *memory.LedgerStore
	Dir    *service.TagDirectory
	Cipher *crypto.LabelCipher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	labels := memory.NewLabelStore()
	tags := memory.NewTagStore(labels)
	ledger := memory.NewLedgerStore(tags, labels)

	cipher, err := crypto.New(bytes.Repeat([]byte{0x42}, crypto.KeySize))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}

	return &fixture{
		Tags:   tags,
		Labels: labels,
		Ledger: ledger,
		Dir:    service.NewTagDirectory(tags, labels, ledger),
		Cipher: cipher,
	}
}

// register binds uid to credentialID with an encrypted label, the way a
// completed registration persists it.
func (f *fixture) register(t *testing.T, uid int64, role types.Role, credentialID, label string) {
	t.Helper()

	blob, err := f.Cipher.Encrypt(label)
	if err != nil {
		t.Fatalf("encrypt label %q: %v", label, err)
	}
	if err := f.Dir.RegisterOrOverwrite(context.Background(), uid, role, credentialID, blob); err != nil {
		t.Fatalf("register uid %d: %v", uid, err)
	}
}

// fakeClock drives the engine's time guards from the test.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestEngine(t *testing.T, f *fixture, clk *fakeClock) *service.Engine {
	t.Helper()
	return service.NewEngine(f.Dir, service.EngineConfig{Now: clk.Now})
}

// tap runs one tap through the engine. Storage errors fail the test;
// expected conditions come back as outcomes.
func tap(t *testing.T, eng *service.Engine, uid int64, content string) types.Outcome {
	t.Helper()

	out, err := eng.HandleTap(context.Background(), types.TagEvent{UID: uid, Content: content})
	if err != nil {
		t.Fatalf("HandleTap(%d): %v", uid, err)
	}
	return out
}

func silentLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
