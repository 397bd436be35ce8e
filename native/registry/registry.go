// Package registry guarantees global uniqueness of externally meaningful
// identifiers. Each claim is an independent key whose existence marks the
// identifier as consumed; concurrent claims of the same key resolve so that
// exactly one succeeds.
package registry

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"tutorpay/core/events"
	"tutorpay/core/identity"
	"tutorpay/core/types"
)

var (
	errNilState = errors.New("registry engine: state not configured")

	// ErrAlreadyClaimed is returned when the key has been consumed before.
	ErrAlreadyClaimed = errors.New("registry: key already claimed")
	// ErrInvalidCredentials is returned when a verification attempt does not
	// match the stored profile.
	ErrInvalidCredentials = errors.New("registry: invalid credentials")
)

const (
	registrationClaimPrefix = "registration/"
	emailClaimPrefix        = "email/"
	walletClaimPrefix       = "wallet/"
)

// ProfileRecord stores the registered identity claims for a wallet.
type ProfileRecord struct {
	Wallet         [20]byte
	RegistrationID string
	Email          string
	RegisteredAt   int64
}

// Clone returns a copy of the profile record.
func (p *ProfileRecord) Clone() *ProfileRecord {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

type engineState interface {
	// ClaimCreate consumes key, returning ErrAlreadyClaimed when it has been
	// consumed before.
	ClaimCreate(key string) error
	ClaimHas(key string) (bool, error)
	// ClaimDelete releases a claim. Used only to roll back a partially
	// registered profile.
	ClaimDelete(key string) error
	ProfilePut(*ProfileRecord) error
	ProfileGet(wallet [20]byte) (*ProfileRecord, bool, error)
}

type registryEvent struct {
	evt *types.Event
}

func (e registryEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e registryEvent) Event() *types.Event { return e.evt }

// Engine mediates uniqueness claims and profile registration.
type Engine struct {
	state       engineState
	emitter     events.Emitter
	emailDomain string
}

// NewEngine creates a registry engine with a no-op emitter and the default
// campus email domain.
func NewEngine() *Engine {
	return &Engine{
		emitter:     events.NoopEmitter{},
		emailDomain: identity.DefaultEmailDomain,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetEmailDomain overrides the required email domain suffix. Blank resets the
// default.
func (e *Engine) SetEmailDomain(domain string) {
	if strings.TrimSpace(domain) == "" {
		e.emailDomain = identity.DefaultEmailDomain
		return
	}
	e.emailDomain = domain
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(registryEvent{evt: event})
}

// Claim consumes an arbitrary identifier key.
func (e *Engine) Claim(key string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return errors.New("registry: key required")
	}
	if err := e.state.ClaimCreate(trimmed); err != nil {
		return err
	}
	e.emit(NewClaimedEvent(trimmed))
	return nil
}

// Claimed reports whether key has been consumed.
func (e *Engine) Claimed(key string) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.ClaimHas(strings.TrimSpace(key))
}

// RegisterProfile claims the registration identifier, email and wallet for a
// new profile and stores the profile record. A clash on any claim aborts the
// registration with no partial claims left behind.
func (e *Engine) RegisterProfile(registrationID, email string, wallet [20]byte, now int64) (*ProfileRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	regID, err := identity.NormalizeRegistrationID(registrationID)
	if err != nil {
		return nil, err
	}
	normalizedEmail, err := identity.NormalizeEmail(email, e.emailDomain)
	if err != nil {
		return nil, err
	}
	if wallet == ([20]byte{}) {
		return nil, errors.New("registry: wallet required")
	}
	claims := []string{
		registrationClaimPrefix + regID,
		emailClaimPrefix + normalizedEmail,
		walletClaimPrefix + hex.EncodeToString(wallet[:]),
	}
	for i, key := range claims {
		if err := e.state.ClaimCreate(key); err != nil {
			e.releaseClaims(claims[:i])
			return nil, err
		}
	}
	record := &ProfileRecord{
		Wallet:         wallet,
		RegistrationID: regID,
		Email:          normalizedEmail,
		RegisteredAt:   now,
	}
	if err := e.state.ProfilePut(record); err != nil {
		e.releaseClaims(claims)
		return nil, fmt.Errorf("registry: store profile: %w", err)
	}
	e.emit(NewProfileRegisteredEvent(record))
	return record.Clone(), nil
}

func (e *Engine) releaseClaims(keys []string) {
	for _, key := range keys {
		// Rollback of claims that were taken in this call; a delete failure
		// leaves the key consumed, which is safe (never grants duplicates).
		_ = e.state.ClaimDelete(key)
	}
}

// Verify checks the supplied credentials against the profile registered for
// wallet.
func (e *Engine) Verify(registrationID, email string, wallet [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	profile, ok, err := e.state.ProfileGet(wallet)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}
	regID, err := identity.NormalizeRegistrationID(registrationID)
	if err != nil {
		return ErrInvalidCredentials
	}
	normalizedEmail, err := identity.NormalizeEmail(email, e.emailDomain)
	if err != nil {
		return ErrInvalidCredentials
	}
	if profile.RegistrationID != regID || profile.Email != normalizedEmail {
		return ErrInvalidCredentials
	}
	return nil
}

// Profile returns the stored profile for wallet when present.
func (e *Engine) Profile(wallet [20]byte) (*ProfileRecord, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	profile, ok, err := e.state.ProfileGet(wallet)
	if err != nil || !ok {
		return nil, false, err
	}
	return profile.Clone(), true, nil
}
