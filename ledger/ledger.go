// Package ledger defines the custody ledger boundary used by the escrow
// engine. The engine decides when and how much value moves; the adapter moves
// it between party balances and the custody holding slot.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
)

var (
	// ErrInsufficientFunds is returned when the source balance cannot cover
	// the requested amount.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrTransferFailed marks any other non-success outcome of a fund
	// movement. The caller must treat it as abort-and-rollback.
	ErrTransferFailed = errors.New("ledger: transfer failed")
)

// Adapter moves value between a payer, a payee and a custody holding slot.
// Every method reports failure distinctly from success and leaves balances
// untouched on failure.
type Adapter interface {
	// Deposit debits amount from the holder's balance into custody.
	Deposit(holder [20]byte, amount *big.Int) error
	// Payout releases amount from the holder's custody slot to the recipient.
	Payout(holder, recipient [20]byte, amount *big.Int) error
	// Refund returns amount from the holder's custody slot to the recipient.
	Refund(holder, recipient [20]byte, amount *big.Int) error
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// BalanceLedger is an in-process Adapter keeping account balances and per
// holder custody slots in memory. It backs tests and single-node deployments;
// production deployments substitute the institution's funds-transfer service
// behind the same interface.
type BalanceLedger struct {
	mu       sync.Mutex
	balances map[[20]byte]*big.Int
	custody  map[[20]byte]*big.Int
}

// NewBalanceLedger returns an empty ledger.
func NewBalanceLedger() *BalanceLedger {
	return &BalanceLedger{
		balances: make(map[[20]byte]*big.Int),
		custody:  make(map[[20]byte]*big.Int),
	}
}

func (l *BalanceLedger) balance(addr [20]byte) *big.Int {
	bal, ok := l.balances[addr]
	if !ok {
		bal = big.NewInt(0)
		l.balances[addr] = bal
	}
	return bal
}

func (l *BalanceLedger) custodySlot(holder [20]byte) *big.Int {
	held, ok := l.custody[holder]
	if !ok {
		held = big.NewInt(0)
		l.custody[holder] = held
	}
	return held
}

func checkAmount(amount *big.Int) (*big.Int, error) {
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrTransferFailed)
	}
	return amt, nil
}

// Credit adds amount to the holder's spendable balance. Used to seed accounts
// before deposits; the external funds source plays this role in production.
func (l *BalanceLedger) Credit(addr [20]byte, amount *big.Int) error {
	amt, err := checkAmount(amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balance(addr)
	bal.Add(bal, amt)
	return nil
}

// Deposit implements the Adapter interface.
func (l *BalanceLedger) Deposit(holder [20]byte, amount *big.Int) error {
	amt, err := checkAmount(amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balance(holder)
	if bal.Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	bal.Sub(bal, amt)
	held := l.custodySlot(holder)
	held.Add(held, amt)
	return nil
}

// Payout implements the Adapter interface.
func (l *BalanceLedger) Payout(holder, recipient [20]byte, amount *big.Int) error {
	return l.releaseCustody(holder, recipient, amount)
}

// Refund implements the Adapter interface.
func (l *BalanceLedger) Refund(holder, recipient [20]byte, amount *big.Int) error {
	return l.releaseCustody(holder, recipient, amount)
}

func (l *BalanceLedger) releaseCustody(holder, recipient [20]byte, amount *big.Int) error {
	amt, err := checkAmount(amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	held := l.custodySlot(holder)
	if held.Cmp(amt) < 0 {
		return fmt.Errorf("%w: custody slot underfunded", ErrTransferFailed)
	}
	held.Sub(held, amt)
	bal := l.balance(recipient)
	bal.Add(bal, amt)
	return nil
}

// Balance returns the spendable balance for addr.
func (l *BalanceLedger) Balance(addr [20]byte) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneBigInt(l.balances[addr])
}

// Custody returns the amount currently held for the holder's escrows.
func (l *BalanceLedger) Custody(holder [20]byte) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneBigInt(l.custody[holder])
}
