package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pkarsten/clavis/internal/clavis/service"
	"github.com/pkarsten/clavis/internal/clavis/store"
	"github.com/pkarsten/clavis/internal/clavis/types"
)

// ── Classification and verification ──────────────────────────────────────────

func TestHandleTap_UnregisteredTag(t *testing.T) {
	f := newFixture(t)
	clk := newFakeClock()
	eng := newTestEngine(t, f, clk)

	out := tap(t, eng, 42, "anything")
	if out.Kind != types.OutcomeUnregistered {
		t.Fatalf("expected unregistered, got %v", out.Kind)
	}
	if out.UID != 42 {
		t.Errorf("expected uid=42, got %d", out.UID)
	}

	// An unregistered tap mutates nothing.
	if _, _, err := f.Dir.Classify(context.Background(), 42); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected tag 42 to stay unregistered, got err=%v", err)
	}
	if n := len(f.Ledger.Entries()); n != 0 {
		t.Errorf("expected empty ledger, got %d entries", n)
	}
	if eng.Session().Armed {
		t.Error("expected session to stay idle")
	}
}

func TestHandleTap_InactiveTag(t *testing.T) {
	f := newFixture(t)
	clk := newFakeClock()
	eng := newTestEngine(t, f, clk)
	f.register(t, 1001, types.RoleEmployee, empCred, "Avery")
	if err := f.Dir.SetActive(context.Background(), 1001, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	out := tap(t, eng, 1001, empCred)
	if out.Kind != types.OutcomeInactive {
		t.Fatalf("expected inactive, got %v", out.Kind)
	}
	if out.Role != types.RoleEmployee {
		t.Errorf("expected role=emp, got %q", out.Role)
	}
	if eng.Session().Armed {
		t.Error("expected inactive tap to leave the session idle")
	}
}

func TestHandleTap_ContentMismatchReportsTamper(t *testing.T) {
	f := newFixture(t)
	clk := newFakeClock()
	eng := newTestEngine(t, f, clk)
	f.register(t, 1001, types.RoleEmployee, empCred, "Avery")
	f.register(t, 2001, types.RoleKey, keyCred, "Server Room")

	tap(t, eng, 1001, empCred) // arm

	out := tap(t, eng, 2001, "zzz999")
	if out.Kind != types.OutcomeTamper {
		t.Fatalf("expected tamper, got %v", out.Kind)
	}
	if out.Role != types.RoleKey {
		t.Errorf("expected role=key, got %q", out.Role)
	}

	// Tamper must not touch the ledger or the session.
	if n := len(f.Ledger.Entries()); n != 0 {
		t.Errorf("expected empty ledger after tamper, got %d entries", n)
	}
	if !eng.Session().Armed {
		t.Error("expected session to survive a tamper report")
	}
}

func TestHandleTap_StaleCredentialAfterOverwriteReportsTamper(t *testing.T) {
	f := newFixture(t)
	clk := newFakeClock()
	eng := newTestEngine(t, f, clk)
	f.register(t, 2001, types.RoleKey, keyCred, "Server Room")
	f.register(t, 2001, types.RoleKey, key2Cred, "Server Room")

	// The physical tag still carries the pre-overwrite credential.
	out := tap(t, eng, 2001, keyCred)
	if out.Kind != types.OutcomeTamper {
		t.Fatalf("expected tamper for stale credential, got %v", out.Kind)
	}
}

func TestHandleTap_DanglingLabelReportsTamper(t *testing.T) {
	f := newFixture(t)
	clk := newFakeClock()
	eng := newTestEngine(t, f, clk)

	// A registration whose credential resolves to no label record. The
	// registrar always writes the label first, so only manual edits or
	// partial restores produce this shape.
	err := f.Tags.Upsert(context.Background(), store.TagRecord{
		UID:          2001,
		CredentialID: keyCred,
		Role:         types.RoleKey,
		Active:       true,
		RegisteredAt: clk.Now(),
		UpdatedAt:    clk.Now(),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	out := tap(t, eng, 2001, keyCred)
	if out.Kind != types.OutcomeTamper {
		t.Fatalf("expected tamper for dangling label reference, got %v", out.Kind)
	}
}

func TestHandleTap_CorruptRoleReportedNotActedOn(t *testing.T) {
	f := newFixture(t)
	clk := newFakeClock()
	eng := newTestEngine(t, f, clk)

	// Bypass the directory: a role outside the closed set can only come
	// from storage corruption.
	blob, err := f.Cipher.Encrypt("Mystery")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if err := f.Labels.Insert(context.Background(), store.LabelRecord{
		CredentialID:   keyCred,
		EncryptedLabel: blob,
		CreatedAt:      clk.Now(),
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := f.Tags.Upsert(context.Background(), store.TagRecord{
		UID:          9,
		CredentialID: keyCred,
		Role:         types.Role("door"),
		Active:       true,
		RegisteredAt: clk.Now(),
		UpdatedAt:    clk.Now(),
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	out := tap(t, eng, 9, keyCred)
	if out.Kind != types.OutcomeInconsistent {
		t.Fatalf("expected inconsistent for corrupt role, got %v", out.Kind)
	}
	if out.Reason == "" {
		t.Error("expected a reason naming the corrupt role")
	}
	if n := len(f.Ledger.Entries()); n != 0 {
		t.Errorf("expected no ledger writes for corrupt role, got %d", n)
	}
}

// ── Employee session ──────────────────────────────────────────────────────────

func TestEmployeeTap_ArmsSession(t *testing.T) {
	f := newFixture(t)
	clk := newFakeClock()
	eng := newTestEngine(t, f, clk)
	f.register(t, 1001, types.RoleEmployee, empCred, "Avery")

	out := tap(t, eng, 1001, empCred)
	if out.Kind != types.OutcomeEmployeeArmed {
		t.Fatalf("expected employee-armed, got %v", out.Kind)
	}
	if out.EmployeeUID != 1001 {
		t.Errorf("expected employee_uid=1001, got %d", out.EmployeeUID)
	}
	wantExpiry := clk.Now().Add(service.DefaultCheckoutWindow)
	if !out.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("expected expiry %v, got %v", wantExpiry, out.ExpiresAt)
	}

	sess := eng.Session()
	if !sess.Armed || sess.EmployeeUID != 1001 {
		t.Errorf("expected armed session for 1001, got %+v", sess)
	}
	if !sess.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("expected session expiry %v, got %v", wantExpiry, sess.ExpiresAt)
	}
}

func TestEmployeeTap_SecondTapCancels(t *testing.T) {
	f := newFixture(t)
	clk := newFakeClock()
	eng := newTestEngine(t, f, clk)
	f.register(t, 1001, types.RoleEmployee, empCred, "Avery")

	tap(t, eng, 1001, empCred)
	clk.Advance(5 * time.Second)

	out := tap(t, eng, 1001, empCred)
	if out.Kind != types.OutcomeEmployeeDisarmed {
		t.Fatalf("expected employee-disarmed, got %v", out.Kind)
	}
	if eng.Session().Armed {
		t.Error("expected session cleared after cancel")
	}

	// A third tap arms a fresh window rather than resuming the old one.
	clk.Advance(time.Second)
	out = tap(t, eng, 1001, empCred)
	if out.Kind != types.OutcomeEmployeeArmed {
		t.Fatalf("expected employee-armed after cancel, got %v", out.Kind)
	}
	wantExpiry := clk.Now().Add(service.DefaultCheckoutWindow)
	if !out.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("expected fresh expiry %v, got %v", wantExpiry, out.ExpiresAt)
	}
}

func TestEmployeeTap_CancelAtExactExpiryBoundary(t *testing.T) {
	f := newFixture(t)
	clk := newFakeClock()
	eng := newTestEngine(t, f, clk)
	f.register(t, 1001, types.RoleEmployee, empCred, "Avery")

	tap(t, eng, 1001, empCred)
	clk.Advance(service.DefaultCheckoutWindow) // now == expires_at, still valid

	out := tap(t, eng, 1001, empCred)
	if out.Kind != types.OutcomeEmployeeDisarmed {
		t.Fatalf("expected disarm at the expiry instant, got %v", out.Kind)
	}
}

func TestEmployeeTap_AfterExpiryRearmsInsteadOfCancelling(t *testing.T) {
	f := newFixture(t)
	clk := newFakeClock()
	eng := newTestEngine(t, f, clk)
	f.register(t, 1001, types.RoleEmployee, empCred, "Avery")

	tap(t, eng, 1001, empCred)
	clk.Advance(service.DefaultCheckoutWindow + time.Second)

	out := tap(t, eng, 1001, empCred)
	if out.Kind != types.OutcomeEmployeeArmed {
		t.Fatalf("expected re-arm after expiry, got %v", out.Kind)
	}
	wantExpiry := clk.Now().Add(service.DefaultCheckoutWindow)
	if !eng.Session().ExpiresAt.Equal(wantExpiry) {
		t.Errorf("expected fresh expiry %v, got %v", wantExpiry, eng.Session().ExpiresAt)
	}
}

func TestEmployeeTap_DifferentEmployeeReplacesSession(t *testing.T) {
	f := newFixture(t)
	clk := newFakeClock()
	eng := newTestEngine(t, f, clk)
	f.register(t, 1001, types.RoleEmployee, empCred, "Avery")
	f.register(t, 1002, types.RoleEmployee, emp2Cred, "Blake")

	tap(t, eng, 1001, empCred)
	clk.Advance(5 * time.Second)

	out := tap(t, eng, 1002, emp2Cred)
	if out.Kind != types.OutcomeEmployeeArmed {
		t.Fatalf("expected employee-armed for the second employee, got %v", out.Kind)
	}

	sess := eng.Session()
	if sess.EmployeeUID != 1002 {
		t.Errorf("expected session to belong to 1002, got %d", sess.EmployeeUID)
	}
	wantExpiry := clk.Now().Add(service.DefaultCheckoutWindow)
	if !sess.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("expected replaced window expiry %v, got %v", wantExpiry, sess.ExpiresAt)
	}
}

// ── Key checkout ──────────────────────────────────────────────────────────────

func TestKeyTap_NoSessionFailsCheckout(t *testing.T) {
	f := newFixture(t)
	clk := newFakeClock()
	eng := newTestEngine(t, f, clk)
	f.register(t, 2001, types.RoleKey, keyCred, "Server Room")

	out := tap(t, eng, 2001, keyCred)
	if out.Kind != types.OutcomeCheckoutFailed {
		t.Fatalf("expected checkout-failed, got %v", out.Kind)
	}
	if out.Reason != service.ErrNoActiveSession.Error() {
		t.Errorf("expected reason=%q, got %q", service.ErrNoActiveSession.Error(), out.Reason)
	}
	if n := len(f.Ledger.Entries()); n != 0 {
		t.Errorf("expected no ledger entry on refusal, got %d", n)
	}
}

func TestKeyTap_ExpiredSessionFailsAndClearsIt(t *testing.T) {
	f := newFixture(t)
	clk := newFakeClock()
	eng := newTestEngine(t, f, clk)
	f.register(t, 1001, types.RoleEmployee, empCred, "Avery")
	f.register(t, 2001, types.RoleKey, keyCred, "Server Room")

	tap(t, eng, 1001, empCred)
	clk.Advance(service.DefaultCheckoutWindow + time.Second)

	out := tap(t, eng, 2001, keyCred)
	if out.Kind != types.OutcomeCheckoutFailed {
		t.Fatalf("expected checkout-failed, got %v", out.Kind)
	}
	if out.Reason != service.ErrSessionExpired.Error() {
		t.Errorf("expected reason=%q, got %q", service.ErrSessionExpired.Error(), out.Reason)
	}
	if eng.Session().Armed {
		t.Error("expected the expired session to be cleared")
	}
	if n := len(f.Ledger.Entries()); n != 0 {
		t.Errorf("expected no ledger entry on refusal, got %d", n)
	}
}

func TestKeyTap_ChecksOutWithArmedSession(t *testing.T) {
	f := newFixture(t)
	clk := newFakeClock()
	eng := newTestEngine(t, f, clk)
	f.register(t, 1001, types.RoleEmployee, empCred, "Avery")
	f.register(t, 2001, types.RoleKey, keyCred, "Server Room")

	tap(t, eng, 1001, empCred)
	clk.Advance(3 * time.Second)

	out := tap(t, eng, 2001, keyCred)
	if out.Kind != types.OutcomeKeyCheckedOut {
		t.Fatalf("expected key-checked-out, got %v", out.Kind)
	}
	if out.EmployeeUID != 1001 {
		t.Errorf("expected employee_uid=1001, got %d", out.EmployeeUID)
	}
	if out.Wait != service.DefaultCheckinMinAge {
		t.Errorf("expected wait=%v, got %v", service.DefaultCheckinMinAge, out.Wait)
	}

	entries := f.Ledger.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(entries))
	}
	e := entries[0]
	if e.KeyUID != 2001 || e.CredentialID != keyCred {
		t.Errorf("expected entry for key 2001/%s, got %d/%s", keyCred, e.KeyUID, e.CredentialID)
	}
	if e.EmployeeCredentialID == nil || *e.EmployeeCredentialID != empCred {
		t.Errorf("expected employee credential %q, got %v", empCred, e.EmployeeCredentialID)
	}
	if !e.CheckedOutAt.Equal(clk.Now()) {
		t.Errorf("expected checked_out_at=%v, got %v", clk.Now(), e.CheckedOutAt)
	}
	if e.CheckedInAt != nil {
		t.Errorf("expected open entry, got checked_in_at=%v", *e.CheckedInAt)
	}

	// The session survives a success so more keys fit in the same window.
	if !eng.Session().Armed {
		t.Error("expected session to stay armed after checkout")
	}
}

func TestKeyTap_MultipleKeysInOneWindow(t *testing.T) {
	f := newFixture(t)
	clk := newFakeClock()
	eng := newTestEngine(t, f, clk)
	f.register(t, 1001, types.RoleEmployee, empCred, "Avery")
	f.register(t, 2001, types.RoleKey, keyCred, "Server Room")
	f.register(t, 2002, types.RoleKey, key2Cred, "Supply Cabinet")

	tap(t, eng, 1001, empCred)

	clk.Advance(2 * time.Second)
	if out := tap(t, eng, 2001, keyCred); out.Kind != types.OutcomeKeyCheckedOut {
		t.Fatalf("expected first checkout to succeed, got %v", out.Kind)
	}
	clk.Advance(5 * time.Second)
	if out := tap(t, eng, 2002, key2Cred); out.Kind != types.OutcomeKeyCheckedOut {
		t.Fatalf("expected second checkout to succeed, got %v", out.Kind)
	}

	open := 0
	for _, e := range f.Ledger.Entries() {
		if e.CheckedInAt == nil {
			open++
		}
	}
	if open != 2 {
		t.Errorf("expected 2 open entries, got %d", open)
	}
}

func TestKeyTap_CheckoutRaceKeepsSessionArmed(t *testing.T) {
	f := newFixture(t)
	clk := newFakeClock()
	eng := newTestEngine(t, f, clk)
	f.register(t, 1001, types.RoleEmployee, empCred, "Avery")
	f.register(t, 2001, types.RoleKey, keyCred, "Server Room")

	// Ledger shape a raced writer leaves behind: the newest cycle is
	// closed, but an older one is still open.
	ctx := context.Background()
	base := clk.Now()
	if err := f.Dir.Checkout(ctx, 2001, keyCred, 1001, base.Add(-10*time.Minute)); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if err := f.Dir.Checkin(ctx, 2001, keyCred, base.Add(-8*time.Minute)); err != nil {
		t.Fatalf("Checkin: %v", err)
	}
	if err := f.Dir.Checkout(ctx, 2001, keyCred, 1001, base.Add(-20*time.Minute)); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	tap(t, eng, 1001, empCred)

	out := tap(t, eng, 2001, keyCred)
	if out.Kind != types.OutcomeCheckoutFailed {
		t.Fatalf("expected checkout-failed on already-out key, got %v", out.Kind)
	}
	if out.Reason != store.ErrKeyAlreadyOut.Error() {
		t.Errorf("expected reason=%q, got %q", store.ErrKeyAlreadyOut.Error(), out.Reason)
	}
	if !eng.Session().Armed {
		t.Error("expected session to stay armed after losing the race")
	}
}

// ── Key check-in ──────────────────────────────────────────────────────────────

func TestKeyTap_CooldownBlocksEarlyCheckin(t *testing.T) {
	f := newFixture(t)
	clk := newFakeClock()
	eng := newTestEngine(t, f, clk)
	f.register(t, 1001, types.RoleEmployee, empCred, "Avery")
	f.register(t, 2001, types.RoleKey, keyCred, "Server Room")

	tap(t, eng, 1001, empCred)
	tap(t, eng, 2001, keyCred)

	out := tap(t, eng, 2001, keyCred)
	if out.Kind != types.OutcomeCheckinWait {
		t.Fatalf("expected checkin-wait, got %v", out.Kind)
	}
	if got := out.WaitSeconds(); got != 120 {
		t.Errorf("expected 120s wait immediately after checkout, got %d", got)
	}

	// Fractional remainders round up, never down.
	clk.Advance(30*time.Second + 400*time.Millisecond)
	out = tap(t, eng, 2001, keyCred)
	if out.Kind != types.OutcomeCheckinWait {
		t.Fatalf("expected checkin-wait, got %v", out.Kind)
	}
	if got := out.WaitSeconds(); got != 90 {
		t.Errorf("expected 90s wait after 30.4s, got %d", got)
	}

	// Still exactly one entry, still open.
	entries := f.Ledger.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(entries))
	}
	if entries[0].CheckedInAt != nil {
		t.Error("expected the entry to stay open during cooldown")
	}
}

func TestKeyTap_CheckinAtExactCooldownBoundary(t *testing.T) {
	f := newFixture(t)
	clk := newFakeClock()
	eng := newTestEngine(t, f, clk)
	f.register(t, 1001, types.RoleEmployee, empCred, "Avery")
	f.register(t, 2001, types.RoleKey, keyCred, "Server Room")

	tap(t, eng, 1001, empCred)
	tap(t, eng, 2001, keyCred)
	clk.Advance(service.DefaultCheckinMinAge) // now == checkout + min age

	out := tap(t, eng, 2001, keyCred)
	if out.Kind != types.OutcomeKeyCheckedIn {
		t.Fatalf("expected check-in at the boundary instant, got %v", out.Kind)
	}
}

func TestKeyTap_CheckinAfterCooldown(t *testing.T) {
	f := newFixture(t)
	clk := newFakeClock()
	eng := newTestEngine(t, f, clk)
	f.register(t, 1001, types.RoleEmployee, empCred, "Avery")
	f.register(t, 2001, types.RoleKey, keyCred, "Server Room")

	tap(t, eng, 1001, empCred)
	tap(t, eng, 2001, keyCred)
	clk.Advance(service.DefaultCheckinMinAge + time.Second)

	out := tap(t, eng, 2001, keyCred)
	if out.Kind != types.OutcomeKeyCheckedIn {
		t.Fatalf("expected key-checked-in, got %v", out.Kind)
	}

	entries := f.Ledger.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(entries))
	}
	if entries[0].CheckedInAt == nil {
		t.Fatal("expected the entry to be closed")
	}
	if !entries[0].CheckedInAt.Equal(clk.Now()) {
		t.Errorf("expected checked_in_at=%v, got %v", clk.Now(), *entries[0].CheckedInAt)
	}
}

func TestKeyTap_CheckinNeedsNoSession(t *testing.T) {
	f := newFixture(t)
	clk := newFakeClock()
	eng := newTestEngine(t, f, clk)
	f.register(t, 1001, types.RoleEmployee, empCred, "Avery")
	f.register(t, 2001, types.RoleKey, keyCred, "Server Room")

	tap(t, eng, 1001, empCred)
	tap(t, eng, 2001, keyCred)

	// Let both the session and the cooldown lapse; anyone holding the key
	// can return it.
	clk.Advance(10 * time.Minute)

	out := tap(t, eng, 2001, keyCred)
	if out.Kind != types.OutcomeKeyCheckedIn {
		t.Fatalf("expected check-in without a session, got %v", out.Kind)
	}
}

func TestKeyTap_AvailableAgainAfterFullCycle(t *testing.T) {
	f := newFixture(t)
	clk := newFakeClock()
	eng := newTestEngine(t, f, clk)
	f.register(t, 1001, types.RoleEmployee, empCred, "Avery")
	f.register(t, 2001, types.RoleKey, keyCred, "Server Room")

	tap(t, eng, 1001, empCred)
	tap(t, eng, 2001, keyCred)
	clk.Advance(3 * time.Minute)
	tap(t, eng, 2001, keyCred) // check in

	// Closed cycle: the next key tap is a checkout attempt again.
	out := tap(t, eng, 2001, keyCred)
	if out.Kind != types.OutcomeCheckoutFailed {
		t.Fatalf("expected checkout-failed with no session, got %v", out.Kind)
	}

	tap(t, eng, 1001, empCred)
	out = tap(t, eng, 2001, keyCred)
	if out.Kind != types.OutcomeKeyCheckedOut {
		t.Fatalf("expected second cycle checkout, got %v", out.Kind)
	}

	entries := f.Ledger.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(entries))
	}
}

// ── End to end ────────────────────────────────────────────────────────────────

func TestScenario_CheckoutCooldownCheckin(t *testing.T) {
	f := newFixture(t)
	clk := newFakeClock()
	eng := newTestEngine(t, f, clk)
	f.register(t, 1001, types.RoleEmployee, empCred, "Avery")
	f.register(t, 2001, types.RoleKey, keyCred, "Server Room")

	out := tap(t, eng, 1001, empCred)
	if out.Kind != types.OutcomeEmployeeArmed {
		t.Fatalf("step 1: expected employee-armed, got %v", out.Kind)
	}

	clk.Advance(10 * time.Second) // inside the window
	out = tap(t, eng, 2001, keyCred)
	if out.Kind != types.OutcomeKeyCheckedOut {
		t.Fatalf("step 2: expected key-checked-out, got %v", out.Kind)
	}

	out = tap(t, eng, 2001, keyCred)
	if out.Kind != types.OutcomeCheckinWait {
		t.Fatalf("step 3: expected checkin-wait, got %v", out.Kind)
	}
	if got := out.WaitSeconds(); got != 120 {
		t.Errorf("step 3: expected 120s wait, got %d", got)
	}

	clk.Advance(121 * time.Second)
	out = tap(t, eng, 2001, keyCred)
	if out.Kind != types.OutcomeKeyCheckedIn {
		t.Fatalf("step 4: expected key-checked-in, got %v", out.Kind)
	}

	entries := f.Ledger.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one cycle, got %d entries", len(entries))
	}
	if entries[0].CheckedInAt == nil {
		t.Error("expected the cycle to be closed")
	}
}
