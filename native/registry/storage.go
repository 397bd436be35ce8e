package registry

import (
	"errors"
	"fmt"

	"tutorpay/state"
)

var (
	claimPrefix   = []byte("registry/claim/")
	profilePrefix = []byte("registry/profile/")
)

func claimStorageKey(key string) []byte {
	return []byte(fmt.Sprintf("%s%s", claimPrefix, key))
}

func profileStorageKey(wallet [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", profilePrefix, wallet))
}

// storedClaim carries no payload beyond its existence.
type storedClaim struct {
	Claimed bool
}

type storedProfile struct {
	Wallet         [20]byte
	RegistrationID string
	Email          string
	RegisteredAt   uint64
}

// Store persists claims and profiles through a state manager. It satisfies
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
		return errors.New("registry: store not initialised")
	}
	return nil
}

// ClaimCreate consumes key, failing with ErrAlreadyClaimed when it has been
// consumed before.
func (s *Store) ClaimCreate(key string) error {
	if err := s.ensure(); err != nil {
		return err
	}
	err := s.state.KVPutIfAbsent(claimStorageKey(key), &storedClaim{Claimed: true})
	if errors.Is(err, state.ErrKeyExists) {
		return ErrAlreadyClaimed
	}
	return err
}

// ClaimHas reports whether key has been consumed.
func (s *Store) ClaimHas(key string) (bool, error) {
	if err := s.ensure(); err != nil {
		return false, err
	}
	return s.state.KVHas(claimStorageKey(key))
}

// ClaimDelete releases a claim. Only the registration rollback path uses
// this.
func (s *Store) ClaimDelete(key string) error {
	if err := s.ensure(); err != nil {
		return err
	}
	return s.state.KVDelete(claimStorageKey(key))
}

// ProfilePut stores the profile record under its wallet key.
func (s *Store) ProfilePut(p *ProfileRecord) error {
	if err := s.ensure(); err != nil {
		return err
	}
	if p == nil {
		return errors.New("registry: nil profile")
	}
	stored := &storedProfile{
		Wallet:         p.Wallet,
		RegistrationID: p.RegistrationID,
		Email:          p.Email,
		RegisteredAt:   uint64(p.RegisteredAt),
	}
	return s.state.KVPut(profileStorageKey(p.Wallet), stored)
}

// ProfileGet loads the profile registered for wallet.
func (s *Store) ProfileGet(wallet [20]byte) (*ProfileRecord, bool, error) {
	if err := s.ensure(); err != nil {
		return nil, false, err
	}
	var stored storedProfile
	ok, err := s.state.KVGet(profileStorageKey(wallet), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &ProfileRecord{
		Wallet:         stored.Wallet,
		RegistrationID: stored.RegistrationID,
		Email:          stored.Email,
		RegisteredAt:   int64(stored.RegisteredAt),
	}, true, nil
}
