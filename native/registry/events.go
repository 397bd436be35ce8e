package registry

import (
	"encoding/hex"
	"strconv"

	"tutorpay/core/types"
)

const (
	// EventTypeClaimed is emitted when an identifier key is consumed.
	EventTypeClaimed = "registry.claimed"
	// EventTypeProfileRegistered is emitted when a profile registration
	// completes with all of its claims.
	EventTypeProfileRegistered = "registry.profileRegistered"
)

// NewClaimedEvent returns the canonical event payload for a consumed key.
func NewClaimedEvent(key string) *types.Event {
	return &types.Event{
		Type:       EventTypeClaimed,
		Attributes: map[string]string{"key": key},
	}
}

// NewProfileRegisteredEvent returns the canonical event payload for a
// completed registration.
func NewProfileRegisteredEvent(p *ProfileRecord) *types.Event {
	attrs := make(map[string]string)
	if p == nil {
		return &types.Event{Type: EventTypeProfileRegistered, Attributes: attrs}
	}
	attrs["wallet"] = hex.EncodeToString(p.Wallet[:])
	attrs["registrationId"] = p.RegistrationID
	attrs["email"] = p.Email
	attrs["registeredAt"] = strconv.FormatInt(p.RegisteredAt, 10)
	return &types.Event{Type: EventTypeProfileRegistered, Attributes: attrs}
}
