package rating

import (
	"errors"
	"fmt"

	"tutorpay/state"
)

var (
	ratingRecordPrefix = []byte("rating/record/")
	aggregatePrefix    = []byte("rating/aggregate/")
)

func ratingRecordKey(key [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", ratingRecordPrefix, key))
}

func aggregateKey(payee [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", aggregatePrefix, payee))
}

type storedRating struct {
	Key       [32]byte
	SessionID string
	Payee     [20]byte
	Rater     [20]byte
	Score     uint8
	Comment   string
	CreatedAt uint64
}

type storedAggregate struct {
	Payee      [20]byte
	TotalCount uint64
	TotalScore uint64
}

// Store persists ratings and aggregates through a state manager. It satisfies
// the engine's state contract.
type Store struct {
	state *state.Manager
}

// NewStore binds a store to the provided state manager.
func NewStore(mgr *state.Manager) *Store {
	return &Store{state: mgr}
}

func (s *Store) ensure() error {
	if s == nil || s.state == nil {
		return errors.New("rating: store not initialised")
	}
	return nil
}

// RatingCreate persists a new rating, failing with ErrDuplicateRating when
// one already exists under the derived key.
func (s *Store) RatingCreate(r *Rating) error {
	if err := s.ensure(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}
	stored := &storedRating{
		Key:       r.Key,
		SessionID: r.SessionID,
		Payee:     r.Payee,
		Rater:     r.Rater,
		Score:     r.Score,
		Comment:   r.Comment,
		CreatedAt: uint64(r.CreatedAt),
	}
	err := s.state.KVPutIfAbsent(ratingRecordKey(r.Key), stored)
	if errors.Is(err, state.ErrKeyExists) {
		return ErrDuplicateRating
	}
	return err
}

// RatingGet loads the rating stored under key.
func (s *Store) RatingGet(key [32]byte) (*Rating, bool, error) {
	if err := s.ensure(); err != nil {
		return nil, false, err
	}
	var stored storedRating
	ok, err := s.state.KVGet(ratingRecordKey(key), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Rating{
		Key:       stored.Key,
		SessionID: stored.SessionID,
		Payee:     stored.Payee,
		Rater:     stored.Rater,
		Score:     stored.Score,
		Comment:   stored.Comment,
		CreatedAt: int64(stored.CreatedAt),
	}, true, nil
}

// RatingDelete removes the rating stored under key. Only the aggregate
// rollback path uses this; committed ratings are never deleted.
func (s *Store) RatingDelete(key [32]byte) error {
	if err := s.ensure(); err != nil {
		return err
	}
	return s.state.KVDelete(ratingRecordKey(key))
}

// AggregateGet loads the accumulated summary for payee.
func (s *Store) AggregateGet(payee [20]byte) (*Aggregate, bool, error) {
	if err := s.ensure(); err != nil {
		return nil, false, err
	}
	var stored storedAggregate
	ok, err := s.state.KVGet(aggregateKey(payee), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Aggregate{
		Payee:      stored.Payee,
		TotalCount: stored.TotalCount,
		TotalScore: stored.TotalScore,
	}, true, nil
}

// AggregatePut overwrites the accumulated summary for the aggregate's payee.
func (s *Store) AggregatePut(a *Aggregate) error {
	if err := s.ensure(); err != nil {
		return err
	}
	if a == nil {
		return errors.New("rating: nil aggregate")
	}
	if a.Payee == ([20]byte{}) {
		return errors.New("rating: aggregate payee required")
	}
	stored := &storedAggregate{
		Payee:      a.Payee,
		TotalCount: a.TotalCount,
		TotalScore: a.TotalScore,
	}
	return s.state.KVPut(aggregateKey(a.Payee), stored)
}
