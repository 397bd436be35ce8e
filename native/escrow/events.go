package escrow

import (
	"encoding/hex"
	"strconv"

	"tutorpay/core/types"
)

const (
	EventTypeEscrowOpened    = "escrow.opened"
	EventTypeEscrowConfirmed = "escrow.confirmed"
	EventTypeEscrowReleased  = "escrow.released"
	EventTypeEscrowCancelled = "escrow.cancelled"
)

// NewOpenedEvent returns the canonical event payload for a newly opened
// escrow.
func NewOpenedEvent(r *Record) *types.Event { return newEscrowEvent(EventTypeEscrowOpened, r) }

// NewConfirmedEvent returns the canonical event payload emitted when one
// party confirms session completion.
func NewConfirmedEvent(r *Record, byPayer bool) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowConfirmed, r)
	party := "payee"
	if byPayer {
		party = "payer"
	}
	evt.Attributes["party"] = party
	return evt
}

// NewReleasedEvent returns the canonical event payload for a release of the
// escrowed amount to the payee.
func NewReleasedEvent(r *Record) *types.Event { return newEscrowEvent(EventTypeEscrowReleased, r) }

// NewCancelledEvent returns the canonical event payload for a refund of the
// escrowed amount to the payer.
func NewCancelledEvent(r *Record) *types.Event { return newEscrowEvent(EventTypeEscrowCancelled, r) }

func newEscrowEvent(eventType string, r *Record) *types.Event {
	attrs := make(map[string]string)
	if r == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeRecord(r)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["key"] = hex.EncodeToString(sanitized.Key[:])
	attrs["sessionId"] = sanitized.SessionID
	attrs["payer"] = hex.EncodeToString(sanitized.Payer[:])
	attrs["payee"] = hex.EncodeToString(sanitized.Payee[:])
	attrs["amount"] = sanitized.Amount.String()
	attrs["status"] = sanitized.Status.String()
	attrs["createdAt"] = strconv.FormatInt(sanitized.CreatedAt, 10)
	attrs["confirmationDeadline"] = strconv.FormatInt(sanitized.ConfirmationDeadline, 10)
	if sanitized.ReleasedAt > 0 {
		attrs["releasedAt"] = strconv.FormatInt(sanitized.ReleasedAt, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
