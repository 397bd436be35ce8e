package escrow

import (
	"errors"
	"math/big"
	"testing"

	"tutorpay/core/events"
	"tutorpay/ledger"
)

type mockState struct {
	records map[[32]byte]*Record
}

func newMockState() *mockState {
	return &mockState{records: make(map[[32]byte]*Record)}
}

func (m *mockState) EscrowCreate(r *Record) error {
	sanitized, err := SanitizeRecord(r)
	if err != nil {
		return err
	}
	if _, ok := m.records[sanitized.Key]; ok {
		return ErrDuplicateSession
	}
	m.records[sanitized.Key] = sanitized.Clone()
	return nil
}

func (m *mockState) EscrowGet(key [32]byte) (*Record, bool, error) {
	rec, ok := m.records[key]
	if !ok {
		return nil, false, nil
	}
	return rec.Clone(), true, nil
}

func (m *mockState) EscrowPut(r *Record) error {
	sanitized, err := SanitizeRecord(r)
	if err != nil {
		return err
	}
	m.records[sanitized.Key] = sanitized.Clone()
	return nil
}

func (m *mockState) EscrowDelete(key [32]byte) error {
	delete(m.records, key)
	return nil
}

type captureEmitter struct {
	emitted []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) { c.emitted = append(c.emitted, evt) }

func (c *captureEmitter) types() []string {
	out := make([]string, 0, len(c.emitted))
	for _, evt := range c.emitted {
		out = append(out, evt.EventType())
	}
	return out
}

type failingLedger struct {
	ledger.Adapter
	depositErr error
	payoutErr  error
	refundErr  error
}

func (f *failingLedger) Deposit(holder [20]byte, amount *big.Int) error {
	if f.depositErr != nil {
		return f.depositErr
	}
	return f.Adapter.Deposit(holder, amount)
}

func (f *failingLedger) Payout(holder, recipient [20]byte, amount *big.Int) error {
	if f.payoutErr != nil {
		return f.payoutErr
	}
	return f.Adapter.Payout(holder, recipient, amount)
}

func (f *failingLedger) Refund(holder, recipient [20]byte, amount *big.Int) error {
	if f.refundErr != nil {
		return f.refundErr
	}
	return f.Adapter.Refund(holder, recipient, amount)
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

type engineFixture struct {
	engine *Engine
	state  *mockState
	ledger *ledger.BalanceLedger
	events *captureEmitter
	now    int64
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	fix := &engineFixture{
		state:  newMockState(),
		ledger: ledger.NewBalanceLedger(),
		events: &captureEmitter{},
		now:    1_700_000_000,
	}
	fix.engine = NewEngine()
	fix.engine.SetState(fix.state)
	fix.engine.SetLedger(fix.ledger)
	fix.engine.SetEmitter(fix.events)
	fix.engine.SetNowFunc(func() int64 { return fix.now })
	return fix
}

func (f *engineFixture) fund(t *testing.T, addr [20]byte, amount int64) {
	t.Helper()
	if err := f.ledger.Credit(addr, big.NewInt(amount)); err != nil {
		t.Fatalf("credit: %v", err)
	}
}

func TestOpenEscrowLocksFunds(t *testing.T) {
	fix := newEngineFixture(t)
	payer := newTestAddress(0x01)
	payee := newTestAddress(0x02)
	fix.fund(t, payer, 1500)

	rec, err := fix.engine.OpenEscrow("S1", payer, payee, big.NewInt(1000))
	if err != nil {
		t.Fatalf("open escrow: %v", err)
	}
	if rec.Status != StatusLocked {
		t.Fatalf("expected StatusLocked, got %v", rec.Status)
	}
	if rec.ConfirmationDeadline != fix.now+DefaultConfirmationWindow {
		t.Fatalf("expected deadline %d, got %d", fix.now+DefaultConfirmationWindow, rec.ConfirmationDeadline)
	}
	if got := fix.ledger.Balance(payer); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected payer balance 500, got %s", got)
	}
	if got := fix.ledger.Custody(payer); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected custody 1000, got %s", got)
	}
	if types := fix.events.types(); len(types) != 1 || types[0] != EventTypeEscrowOpened {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestSessionIDWhitespaceInsensitive(t *testing.T) {
	fix := newEngineFixture(t)
	payer := newTestAddress(0x01)
	payee := newTestAddress(0x02)
	fix.fund(t, payer, 2000)

	if _, err := fix.engine.OpenEscrow(" S1 ", payer, payee, big.NewInt(1000)); err != nil {
		t.Fatalf("open escrow: %v", err)
	}
	if _, err := fix.engine.Confirm(" S1 ", payer, true); err != nil {
		t.Fatalf("confirm with padded session id: %v", err)
	}
	if _, err := fix.engine.Confirm("S1", payer, false); err != nil {
		t.Fatalf("confirm with trimmed session id: %v", err)
	}
	rec, err := fix.engine.Settle(" S1 ", payer, fix.now+60)
	if err != nil {
		t.Fatalf("settle with padded session id: %v", err)
	}
	if rec.SessionID != "S1" {
		t.Fatalf("expected stored session id %q, got %q", "S1", rec.SessionID)
	}

	if _, err := fix.engine.OpenEscrow("S2", payer, payee, big.NewInt(1000)); err != nil {
		t.Fatalf("open second escrow: %v", err)
	}
	if _, err := fix.engine.Cancel(" S2 ", payer, payer); err != nil {
		t.Fatalf("cancel with padded session id: %v", err)
	}
}

func TestOpenEscrowDuplicateSession(t *testing.T) {
	fix := newEngineFixture(t)
	payer := newTestAddress(0x01)
	payee := newTestAddress(0x02)
	fix.fund(t, payer, 5000)

	if _, err := fix.engine.OpenEscrow("S1", payer, payee, big.NewInt(1000)); err != nil {
		t.Fatalf("first open: %v", err)
	}
	_, err := fix.engine.OpenEscrow("S1", payer, payee, big.NewInt(1000))
	if !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("expected ErrDuplicateSession, got %v", err)
	}
	// Only the first deposit went through.
	if got := fix.ledger.Custody(payer); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected custody 1000, got %s", got)
	}

	// Same session under a different payer is a distinct escrow.
	other := newTestAddress(0x03)
	fix.fund(t, other, 1000)
	if _, err := fix.engine.OpenEscrow("S1", other, payee, big.NewInt(1000)); err != nil {
		t.Fatalf("open for other payer: %v", err)
	}
}

func TestOpenEscrowDepositFailureRollsBackRecord(t *testing.T) {
	fix := newEngineFixture(t)
	payer := newTestAddress(0x01)
	payee := newTestAddress(0x02)

	_, err := fix.engine.OpenEscrow("S1", payer, payee, big.NewInt(1000))
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, ok, _ := fix.engine.Get("S1", payer); ok {
		t.Fatalf("expected no record after failed deposit")
	}
	if len(fix.events.emitted) != 0 {
		t.Fatalf("expected no events, got %v", fix.events.types())
	}

	// The key is reusable once the failed creation has been rolled back.
	fix.fund(t, payer, 1000)
	if _, err := fix.engine.OpenEscrow("S1", payer, payee, big.NewInt(1000)); err != nil {
		t.Fatalf("reopen after rollback: %v", err)
	}
}

func TestOpenEscrowValidation(t *testing.T) {
	fix := newEngineFixture(t)
	payer := newTestAddress(0x01)
	payee := newTestAddress(0x02)

	if _, err := fix.engine.OpenEscrow("", payer, payee, big.NewInt(1)); err == nil {
		t.Fatalf("expected error for empty session id")
	}
	if _, err := fix.engine.OpenEscrow("S1", [20]byte{}, payee, big.NewInt(1)); err == nil {
		t.Fatalf("expected error for zero payer")
	}
	if _, err := fix.engine.OpenEscrow("S1", payer, payer, big.NewInt(1)); err == nil {
		t.Fatalf("expected error for payer == payee")
	}
	if _, err := fix.engine.OpenEscrow("S1", payer, payee, big.NewInt(0)); err == nil {
		t.Fatalf("expected error for zero amount")
	}
}

func TestConfirmRatchet(t *testing.T) {
	fix := newEngineFixture(t)
	payer := newTestAddress(0x01)
	payee := newTestAddress(0x02)
	fix.fund(t, payer, 1000)
	if _, err := fix.engine.OpenEscrow("S1", payer, payee, big.NewInt(1000)); err != nil {
		t.Fatalf("open: %v", err)
	}

	rec, err := fix.engine.Confirm("S1", payer, true)
	if err != nil {
		t.Fatalf("payer confirm: %v", err)
	}
	if rec.Status != StatusAwaitingConfirmation {
		t.Fatalf("expected ratchet to StatusAwaitingConfirmation, got %v", rec.Status)
	}
	if !rec.ConfirmedByPayer || rec.PayerConfirmedAt != fix.now {
		t.Fatalf("payer confirmation not recorded: %+v", rec)
	}
	if rec.ConfirmedByPayee {
		t.Fatalf("payee confirmation set unexpectedly")
	}

	_, err = fix.engine.Confirm("S1", payer, true)
	if !errors.Is(err, ErrAlreadyConfirmed) {
		t.Fatalf("expected ErrAlreadyConfirmed, got %v", err)
	}

	rec, err = fix.engine.Confirm("S1", payer, false)
	if err != nil {
		t.Fatalf("payee confirm: %v", err)
	}
	if !rec.ConfirmedByPayee || rec.Status != StatusAwaitingConfirmation {
		t.Fatalf("payee confirmation not recorded: %+v", rec)
	}
}

func TestConfirmUnknownEscrow(t *testing.T) {
	fix := newEngineFixture(t)
	_, err := fix.engine.Confirm("missing", newTestAddress(0x01), true)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSettleRequiresDeadlineOrBothConfirmations(t *testing.T) {
	fix := newEngineFixture(t)
	payer := newTestAddress(0x01)
	payee := newTestAddress(0x02)
	fix.fund(t, payer, 500)
	rec, err := fix.engine.OpenEscrow("S1", payer, payee, big.NewInt(500))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// One second before the deadline, no confirmations.
	if _, err := fix.engine.Settle("S1", payer, rec.ConfirmationDeadline-1); !errors.Is(err, ErrNotYetSettleable) {
		t.Fatalf("expected ErrNotYetSettleable, got %v", err)
	}
	// Exactly at the deadline counts as passed.
	settled, err := fix.engine.Settle("S1", payer, rec.ConfirmationDeadline)
	if err != nil {
		t.Fatalf("settle at deadline: %v", err)
	}
	if settled.Status != StatusReleased || settled.ReleasedAt != rec.ConfirmationDeadline {
		t.Fatalf("unexpected settled record %+v", settled)
	}
	if got := fix.ledger.Balance(payee); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected payee balance 500, got %s", got)
	}
}

func TestSettleAfterDeadlineWithoutConfirmations(t *testing.T) {
	fix := newEngineFixture(t)
	payer := newTestAddress(0x01)
	payee := newTestAddress(0x02)
	fix.fund(t, payer, 500)
	rec, err := fix.engine.OpenEscrow("S1", payer, payee, big.NewInt(500))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// The record stayed in StatusLocked the whole time; the deadline alone
	// releases it.
	settled, err := fix.engine.Settle("S1", payer, rec.ConfirmationDeadline+1)
	if err != nil {
		t.Fatalf("settle after deadline: %v", err)
	}
	if settled.Status != StatusReleased {
		t.Fatalf("expected StatusReleased, got %v", settled.Status)
	}
}

func TestSettleEarlyWithBothConfirmations(t *testing.T) {
	fix := newEngineFixture(t)
	payer := newTestAddress(0x01)
	payee := newTestAddress(0x02)
	fix.fund(t, payer, 1000)
	if _, err := fix.engine.OpenEscrow("S1", payer, payee, big.NewInt(1000)); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := fix.engine.Confirm("S1", payer, true); err != nil {
		t.Fatalf("payer confirm: %v", err)
	}
	if _, err := fix.engine.Confirm("S1", payer, false); err != nil {
		t.Fatalf("payee confirm: %v", err)
	}

	settled, err := fix.engine.Settle("S1", payer, fix.now+60)
	if err != nil {
		t.Fatalf("settle before deadline: %v", err)
	}
	if settled.Status != StatusReleased {
		t.Fatalf("expected StatusReleased, got %v", settled.Status)
	}
	if got := fix.ledger.Balance(payee); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected payee balance 1000, got %s", got)
	}
}

func TestSettleIsTerminal(t *testing.T) {
	fix := newEngineFixture(t)
	payer := newTestAddress(0x01)
	payee := newTestAddress(0x02)
	fix.fund(t, payer, 1000)
	rec, err := fix.engine.OpenEscrow("S1", payer, payee, big.NewInt(1000))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := fix.engine.Settle("S1", payer, rec.ConfirmationDeadline); err != nil {
		t.Fatalf("settle: %v", err)
	}

	if _, err := fix.engine.Settle("S1", payer, rec.ConfirmationDeadline+1); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
	if _, err := fix.engine.Cancel("S1", payer, payer); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if _, err := fix.engine.Confirm("S1", payer, true); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	// No double payout: custody stays empty.
	if got := fix.ledger.Custody(payer); got.Sign() != 0 {
		t.Fatalf("expected empty custody, got %s", got)
	}
}

func TestSettlePayoutFailureKeepsStatus(t *testing.T) {
	fix := newEngineFixture(t)
	payer := newTestAddress(0x01)
	payee := newTestAddress(0x02)
	fix.fund(t, payer, 500)
	failing := &failingLedger{Adapter: fix.ledger}
	fix.engine.SetLedger(failing)
	rec, err := fix.engine.OpenEscrow("S1", payer, payee, big.NewInt(500))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	failing.payoutErr = ledger.ErrTransferFailed
	if _, err := fix.engine.Settle("S1", payer, rec.ConfirmationDeadline); !errors.Is(err, ledger.ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	stored, ok, err := fix.engine.Get("S1", payer)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if stored.Status != StatusLocked || stored.ReleasedAt != 0 {
		t.Fatalf("expected status rolled back to StatusLocked, got %+v", stored)
	}

	// Settlement succeeds once the adapter recovers.
	failing.payoutErr = nil
	if _, err := fix.engine.Settle("S1", payer, rec.ConfirmationDeadline); err != nil {
		t.Fatalf("settle retry: %v", err)
	}
}

func TestCancelRefundsPayer(t *testing.T) {
	fix := newEngineFixture(t)
	payer := newTestAddress(0x01)
	payee := newTestAddress(0x02)
	fix.fund(t, payer, 1000)
	if _, err := fix.engine.OpenEscrow("S1", payer, payee, big.NewInt(1000)); err != nil {
		t.Fatalf("open: %v", err)
	}

	rec, err := fix.engine.Cancel("S1", payer, payer)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if rec.Status != StatusCancelled {
		t.Fatalf("expected StatusCancelled, got %v", rec.Status)
	}
	if got := fix.ledger.Balance(payer); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected payer balance restored, got %s", got)
	}
	if got := fix.ledger.Custody(payer); got.Sign() != 0 {
		t.Fatalf("expected empty custody, got %s", got)
	}
	// Cancelled is terminal.
	if _, err := fix.engine.Settle("S1", payer, fix.now+DefaultConfirmationWindow); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled after cancel, got %v", err)
	}
}

func TestCancelUnauthorizedCaller(t *testing.T) {
	fix := newEngineFixture(t)
	payer := newTestAddress(0x01)
	payee := newTestAddress(0x02)
	fix.fund(t, payer, 1000)
	if _, err := fix.engine.OpenEscrow("S1", payer, payee, big.NewInt(1000)); err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := fix.engine.Cancel("S1", payer, payee); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if got := fix.ledger.Custody(payer); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("custody changed on rejected cancel: %s", got)
	}
}

func TestCancelRefundFailureKeepsStatus(t *testing.T) {
	fix := newEngineFixture(t)
	payer := newTestAddress(0x01)
	payee := newTestAddress(0x02)
	fix.fund(t, payer, 500)
	failing := &failingLedger{Adapter: fix.ledger}
	fix.engine.SetLedger(failing)
	if _, err := fix.engine.OpenEscrow("S1", payer, payee, big.NewInt(500)); err != nil {
		t.Fatalf("open: %v", err)
	}

	failing.refundErr = ledger.ErrTransferFailed
	if _, err := fix.engine.Cancel("S1", payer, payer); !errors.Is(err, ledger.ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	stored, ok, _ := fix.engine.Get("S1", payer)
	if !ok || stored.Status != StatusLocked {
		t.Fatalf("expected status rolled back, got %+v", stored)
	}
}

func TestCustodyInvariantAcrossLifecycle(t *testing.T) {
	fix := newEngineFixture(t)
	payer := newTestAddress(0x01)
	payee := newTestAddress(0x02)
	fix.fund(t, payer, 3000)

	outstanding := big.NewInt(0)
	check := func(step string) {
		t.Helper()
		if got := fix.ledger.Custody(payer); got.Cmp(outstanding) != 0 {
			t.Fatalf("%s: custody %s != outstanding %s", step, got, outstanding)
		}
	}

	check("initial")
	recA, err := fix.engine.OpenEscrow("S1", payer, payee, big.NewInt(1000))
	if err != nil {
		t.Fatalf("open S1: %v", err)
	}
	outstanding.Add(outstanding, big.NewInt(1000))
	check("after open S1")

	if _, err := fix.engine.OpenEscrow("S2", payer, payee, big.NewInt(2000)); err != nil {
		t.Fatalf("open S2: %v", err)
	}
	outstanding.Add(outstanding, big.NewInt(2000))
	check("after open S2")

	if _, err := fix.engine.Settle("S1", payer, recA.ConfirmationDeadline); err != nil {
		t.Fatalf("settle S1: %v", err)
	}
	outstanding.Sub(outstanding, big.NewInt(1000))
	check("after settle S1")

	if _, err := fix.engine.Cancel("S2", payer, payer); err != nil {
		t.Fatalf("cancel S2: %v", err)
	}
	outstanding.Sub(outstanding, big.NewInt(2000))
	check("after cancel S2")
}

func TestFullSessionScenario(t *testing.T) {
	fix := newEngineFixture(t)
	payer := newTestAddress(0x0A)
	payee := newTestAddress(0x0B)
	fix.fund(t, payer, 1000)

	if _, err := fix.engine.OpenEscrow("S1", payer, payee, big.NewInt(1000)); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := fix.engine.Confirm("S1", payer, true); err != nil {
		t.Fatalf("payer confirm: %v", err)
	}
	if _, err := fix.engine.Confirm("S1", payer, false); err != nil {
		t.Fatalf("payee confirm: %v", err)
	}
	rec, err := fix.engine.Settle("S1", payer, fix.now+1)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if rec.Status != StatusReleased {
		t.Fatalf("expected StatusReleased, got %v", rec.Status)
	}
	if got := fix.ledger.Balance(payee); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected payee to receive 1000, got %s", got)
	}

	want := []string{
		EventTypeEscrowOpened,
		EventTypeEscrowConfirmed,
		EventTypeEscrowConfirmed,
		EventTypeEscrowReleased,
	}
	got := fix.events.types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}
