package escrow

import (
	"errors"
	"fmt"
	"math/big"

	"tutorpay/state"
)

var escrowRecordPrefix = []byte("escrow/record/")

func escrowRecordKey(key [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", escrowRecordPrefix, key))
}

// storedRecord mirrors Record with rlp-friendly field types. Timestamps are
// stored as uint64 with zero meaning unset.
type storedRecord struct {
	Key                  [32]byte
	SessionID            string
	Payer                [20]byte
	Payee                [20]byte
	Amount               *big.Int
	Status               uint8
	ConfirmedByPayer     bool
	ConfirmedByPayee     bool
	PayerConfirmedAt     uint64
	PayeeConfirmedAt     uint64
	CreatedAt            uint64
	ConfirmationDeadline uint64
	ReleasedAt           uint64
}

func toStored(r *Record) *storedRecord {
	return &storedRecord{
		Key:                  r.Key,
		SessionID:            r.SessionID,
		Payer:                r.Payer,
		Payee:                r.Payee,
		Amount:               r.Amount,
		Status:               uint8(r.Status),
		ConfirmedByPayer:     r.ConfirmedByPayer,
		ConfirmedByPayee:     r.ConfirmedByPayee,
		PayerConfirmedAt:     uint64(r.PayerConfirmedAt),
		PayeeConfirmedAt:     uint64(r.PayeeConfirmedAt),
		CreatedAt:            uint64(r.CreatedAt),
		ConfirmationDeadline: uint64(r.ConfirmationDeadline),
		ReleasedAt:           uint64(r.ReleasedAt),
	}
}

func fromStored(s *storedRecord) *Record {
	return &Record{
		Key:                  s.Key,
		SessionID:            s.SessionID,
		Payer:                s.Payer,
		Payee:                s.Payee,
		Amount:               new(big.Int).Set(s.Amount),
		Status:               Status(s.Status),
		ConfirmedByPayer:     s.ConfirmedByPayer,
		ConfirmedByPayee:     s.ConfirmedByPayee,
		PayerConfirmedAt:     int64(s.PayerConfirmedAt),
		PayeeConfirmedAt:     int64(s.PayeeConfirmedAt),
		CreatedAt:            int64(s.CreatedAt),
		ConfirmationDeadline: int64(s.ConfirmationDeadline),
		ReleasedAt:           int64(s.ReleasedAt),
	}
}

// Store persists escrow records through a state manager. It satisfies the
// engine's state contract, including atomic create-if-absent.
type Store struct {
	state *state.Manager
}

// NewStore binds a store to the provided state manager.
func NewStore(mgr *state.Manager) *Store {
	return &Store{state: mgr}
}

func (s *Store) ensure() error {
	if s == nil || s.state == nil {
		return errors.New("escrow: store not initialised")
	}
	return nil
}

// EscrowCreate persists a new record, failing with ErrDuplicateSession if one
// already exists under the derived key.
func (s *Store) EscrowCreate(r *Record) error {
	if err := s.ensure(); err != nil {
		return err
	}
	sanitized, err := SanitizeRecord(r)
	if err != nil {
		return err
	}
	err = s.state.KVPutIfAbsent(escrowRecordKey(sanitized.Key), toStored(sanitized))
	if errors.Is(err, state.ErrKeyExists) {
		return ErrDuplicateSession
	}
	return err
}

// EscrowGet loads the record stored under key.
func (s *Store) EscrowGet(key [32]byte) (*Record, bool, error) {
	if err := s.ensure(); err != nil {
		return nil, false, err
	}
	var stored storedRecord
	ok, err := s.state.KVGet(escrowRecordKey(key), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return fromStored(&stored), true, nil
}

// EscrowPut overwrites the record stored under its key.
func (s *Store) EscrowPut(r *Record) error {
	if err := s.ensure(); err != nil {
		return err
	}
	sanitized, err := SanitizeRecord(r)
	if err != nil {
		return err
	}
	return s.state.KVPut(escrowRecordKey(sanitized.Key), toStored(sanitized))
}

// EscrowDelete removes the record stored under key. Only the creation
// rollback path uses this; settled records stay as an audit trail.
func (s *Store) EscrowDelete(key [32]byte) error {
	if err := s.ensure(); err != nil {
		return err
	}
	return s.state.KVDelete(escrowRecordKey(key))
}
