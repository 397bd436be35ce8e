package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"tutorpay/core/events"
	"tutorpay/core/types"
	"tutorpay/ledger"
)

var (
	errNilState  = errors.New("escrow engine: state not configured")
	errNilLedger = errors.New("escrow engine: ledger not configured")

	// ErrNotFound marks lookups for escrows that were never opened.
	ErrNotFound = errors.New("escrow: not found")
	// ErrDuplicateSession is returned when an escrow already exists for the
	// (session, payer) pair.
	ErrDuplicateSession = errors.New("escrow: duplicate session")
	// ErrInvalidState marks transitions requested against a terminal escrow.
	ErrInvalidState = errors.New("escrow: invalid state for transition")
	// ErrAlreadyConfirmed is returned when a party confirms twice.
	ErrAlreadyConfirmed = errors.New("escrow: party already confirmed")
	// ErrAlreadySettled is returned when settlement is requested against an
	// escrow that has already been released or cancelled.
	ErrAlreadySettled = errors.New("escrow: already settled")
	// ErrNotYetSettleable is returned when neither the deadline has passed
	// nor both parties have confirmed.
	ErrNotYetSettleable = errors.New("escrow: not yet settleable")
	// ErrUnauthorized marks calls from a party other than the recorded one.
	ErrUnauthorized = errors.New("escrow: unauthorized caller")
)

type engineState interface {
	// EscrowCreate persists a new record, returning ErrDuplicateSession when
	// the key has already been written.
	EscrowCreate(*Record) error
	EscrowGet(key [32]byte) (*Record, bool, error)
	EscrowPut(*Record) error
	// EscrowDelete removes a record. Used only to roll back a creation whose
	// deposit failed; settled records are never deleted.
	EscrowDelete(key [32]byte) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine wires the escrow state machine with external state, the custody
// ledger adapter and an event emitter. It is the only component permitted to
// transition a record's status or trigger ledger payouts and refunds.
type Engine struct {
	state   engineState
	ledger  ledger.Adapter
	emitter events.Emitter
	nowFn   func() int64
	window  int64

	// lockMu guards locks; each record's mutex serialises the
	// load-mutate-put cycle for that key so concurrent transitions
	// on the same escrow resolve to exactly one success.
	lockMu sync.Mutex
	locks  map[[32]byte]*sync.Mutex
}

// NewEngine creates an escrow engine with a no-op emitter and the default
// 24 hour confirmation window. Callers configure the state backend and the
// ledger adapter before use.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		window:  DefaultConfirmationWindow,
		locks:   make(map[[32]byte]*sync.Mutex),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the custody ledger adapter.
func (e *Engine) SetLedger(adapter ledger.Adapter) { e.ledger = adapter }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetConfirmationWindow overrides the seconds between creation and the
// confirmation deadline. Non-positive values reset the default.
func (e *Engine) SetConfirmationWindow(seconds int64) {
	if seconds <= 0 {
		e.window = DefaultConfirmationWindow
		return
	}
	e.window = seconds
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// lockRecord takes the per-key mutex for the escrow record, creating it on
// first use. Mutexes are retained for the engine's lifetime; the set of keys
// is bounded by the set of sessions.
func (e *Engine) lockRecord(key [32]byte) *sync.Mutex {
	e.lockMu.Lock()
	if e.locks == nil {
		e.locks = make(map[[32]byte]*sync.Mutex)
	}
	mu, ok := e.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[key] = mu
	}
	e.lockMu.Unlock()
	mu.Lock()
	return mu
}

func (e *Engine) loadEscrow(sessionID string, payer [20]byte) (*Record, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	rec, ok, err := e.state.EscrowGet(RecordKey(strings.TrimSpace(sessionID), payer))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// OpenEscrow creates the escrow for (sessionID, payer) and moves amount from
// the payer's balance into custody. Creation and the deposit are atomic:
// if the deposit fails the record is rolled back and the error propagated.
func (e *Engine) OpenEscrow(sessionID string, payer, payee [20]byte, amount *big.Int) (*Record, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	trimmed := strings.TrimSpace(sessionID)
	if trimmed == "" {
		return nil, errors.New("escrow: session id required")
	}
	if len(trimmed) > maxSessionIDLength {
		return nil, errors.New("escrow: session id too long")
	}
	if payer == ([20]byte{}) || payee == ([20]byte{}) {
		return nil, errors.New("escrow: payer and payee required")
	}
	if payer == payee {
		return nil, errors.New("escrow: payer and payee must differ")
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return nil, errors.New("escrow: amount must be positive")
	}
	key := RecordKey(trimmed, payer)
	mu := e.lockRecord(key)
	defer mu.Unlock()
	now := e.now()
	rec := &Record{
		Key:                  key,
		SessionID:            trimmed,
		Payer:                payer,
		Payee:                payee,
		Amount:               amt,
		Status:               StatusLocked,
		CreatedAt:            now,
		ConfirmationDeadline: now + e.window,
	}
	if err := e.state.EscrowCreate(rec); err != nil {
		return nil, err
	}
	if err := e.ledger.Deposit(payer, amt); err != nil {
		if delErr := e.state.EscrowDelete(rec.Key); delErr != nil {
			return nil, fmt.Errorf("escrow: rollback after failed deposit: %v: %w", delErr, err)
		}
		return nil, err
	}
	e.emit(NewOpenedEvent(rec))
	return rec.Clone(), nil
}

// Confirm records that one party considers the session complete. The first
// confirmation advances the status to StatusAwaitingConfirmation; confirming
// twice by the same party fails with ErrAlreadyConfirmed.
func (e *Engine) Confirm(sessionID string, payer [20]byte, actorIsPayer bool) (*Record, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	mu := e.lockRecord(RecordKey(strings.TrimSpace(sessionID), payer))
	defer mu.Unlock()
	rec, err := e.loadEscrow(sessionID, payer)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusLocked && rec.Status != StatusAwaitingConfirmation {
		return nil, ErrInvalidState
	}
	now := e.now()
	if actorIsPayer {
		if rec.ConfirmedByPayer {
			return nil, ErrAlreadyConfirmed
		}
		rec.ConfirmedByPayer = true
		rec.PayerConfirmedAt = now
	} else {
		if rec.ConfirmedByPayee {
			return nil, ErrAlreadyConfirmed
		}
		rec.ConfirmedByPayee = true
		rec.PayeeConfirmedAt = now
	}
	// One-way ratchet: the first confirmation already makes the advance
	// visible to observers.
	rec.Status = StatusAwaitingConfirmation
	if err := e.state.EscrowPut(rec); err != nil {
		return nil, err
	}
	e.emit(NewConfirmedEvent(rec, actorIsPayer))
	return rec.Clone(), nil
}

// Settle releases the escrowed amount to the payee once the confirmation
// deadline has passed or both parties have confirmed. The status change and
// the payout are atomic: a failed payout rolls the record back.
func (e *Engine) Settle(sessionID string, payer [20]byte, now int64) (*Record, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	mu := e.lockRecord(RecordKey(strings.TrimSpace(sessionID), payer))
	defer mu.Unlock()
	rec, err := e.loadEscrow(sessionID, payer)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusLocked && rec.Status != StatusAwaitingConfirmation {
		return nil, ErrAlreadySettled
	}
	deadlinePassed := now >= rec.ConfirmationDeadline
	bothConfirmed := rec.ConfirmedByPayer && rec.ConfirmedByPayee
	if !deadlinePassed && !bothConfirmed {
		return nil, ErrNotYetSettleable
	}
	prev := rec.Clone()
	rec.Status = StatusReleased
	rec.ReleasedAt = now
	if err := e.state.EscrowPut(rec); err != nil {
		return nil, err
	}
	if err := e.ledger.Payout(rec.Payer, rec.Payee, rec.Amount); err != nil {
		if putErr := e.state.EscrowPut(prev); putErr != nil {
			return nil, fmt.Errorf("escrow: rollback after failed payout: %v: %w", putErr, err)
		}
		return nil, err
	}
	e.emit(NewReleasedEvent(rec))
	return rec.Clone(), nil
}

// Cancel refunds the escrowed amount to the payer. Only the payer may cancel,
// and only before settlement.
func (e *Engine) Cancel(sessionID string, payer, caller [20]byte) (*Record, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	mu := e.lockRecord(RecordKey(strings.TrimSpace(sessionID), payer))
	defer mu.Unlock()
	rec, err := e.loadEscrow(sessionID, payer)
	if err != nil {
		return nil, err
	}
	if caller != rec.Payer {
		return nil, ErrUnauthorized
	}
	if rec.Status != StatusLocked && rec.Status != StatusAwaitingConfirmation {
		return nil, ErrInvalidState
	}
	prev := rec.Clone()
	rec.Status = StatusCancelled
	if err := e.state.EscrowPut(rec); err != nil {
		return nil, err
	}
	if err := e.ledger.Refund(rec.Payer, rec.Payer, rec.Amount); err != nil {
		if putErr := e.state.EscrowPut(prev); putErr != nil {
			return nil, fmt.Errorf("escrow: rollback after failed refund: %v: %w", putErr, err)
		}
		return nil, err
	}
	e.emit(NewCancelledEvent(rec))
	return rec.Clone(), nil
}

// Get returns a copy of the escrow for (sessionID, payer) when present.
func (e *Engine) Get(sessionID string, payer [20]byte) (*Record, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	rec, ok, err := e.state.EscrowGet(RecordKey(strings.TrimSpace(sessionID), payer))
	if err != nil || !ok {
		return nil, false, err
	}
	return rec.Clone(), true, nil
}
