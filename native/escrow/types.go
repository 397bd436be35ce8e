package escrow

import (
	"errors"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Status represents the lifecycle states supported by the escrow engine.
// StatusReleased and StatusCancelled are terminal.
type Status uint8

const (
	StatusLocked Status = iota
	StatusAwaitingConfirmation
	StatusReleased
	StatusCancelled
)

const maxSessionIDLength = 64

// DefaultConfirmationWindow is the number of seconds between escrow creation
// and the confirmation deadline.
const DefaultConfirmationWindow int64 = 24 * 60 * 60

var recordKeySeed = []byte("escrow")

// Record captures the custody state of a single tutoring session payment. The
// key is the keccak256 hash of the session identifier and the payer, ensuring
// deterministic addressing and at most one escrow per (session, payer) pair.
type Record struct {
	Key                  [32]byte
	SessionID            string
	Payer                [20]byte
	Payee                [20]byte
	Amount               *big.Int
	Status               Status
	ConfirmedByPayer     bool
	ConfirmedByPayee     bool
	PayerConfirmedAt     int64
	PayeeConfirmedAt     int64
	CreatedAt            int64
	ConfirmationDeadline int64
	ReleasedAt           int64
}

// RecordKey derives the storage key for the escrow identified by session and
// payer.
func RecordKey(sessionID string, payer [20]byte) [32]byte {
	hash := ethcrypto.Keccak256(recordKeySeed, []byte(sessionID), payer[:])
	var key [32]byte
	copy(key[:], hash)
	return key
}

// Clone returns a deep copy of the record so callers can safely mutate the
// copy without affecting the stored instance.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusCancelled
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusLocked, StatusAwaitingConfirmation, StatusReleased, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusLocked:
		return "locked"
	case StatusAwaitingConfirmation:
		return "awaiting_confirmation"
	case StatusReleased:
		return "released"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// SanitizeRecord validates the supplied record and returns a cloned instance
// with a non-nil amount field. The function does not mutate the original
// value.
func SanitizeRecord(r *Record) (*Record, error) {
	if r == nil {
		return nil, errors.New("escrow: nil record")
	}
	clone := r.Clone()
	if strings.TrimSpace(clone.SessionID) == "" {
		return nil, errors.New("escrow: session id required")
	}
	if len(clone.SessionID) > maxSessionIDLength {
		return nil, errors.New("escrow: session id too long")
	}
	if clone.Payer == ([20]byte{}) {
		return nil, errors.New("escrow: payer required")
	}
	if clone.Payee == ([20]byte{}) {
		return nil, errors.New("escrow: payee required")
	}
	if clone.Amount.Sign() <= 0 {
		return nil, errors.New("escrow: amount must be positive")
	}
	if !clone.Status.Valid() {
		return nil, errors.New("escrow: invalid status")
	}
	if clone.Key == ([32]byte{}) {
		clone.Key = RecordKey(clone.SessionID, clone.Payer)
	}
	return clone, nil
}
