package rating

import (
	"encoding/hex"
	"strconv"

	"tutorpay/core/types"
)

const (
	// EventTypeRatingSubmitted is emitted when a rating is accepted and the
	// payee's aggregate updated.
	EventTypeRatingSubmitted = "rating.submitted"
)

// NewSubmittedEvent returns the canonical event payload for an accepted
// rating.
func NewSubmittedEvent(r *Rating) *types.Event {
	attrs := make(map[string]string)
	if r == nil {
		return &types.Event{Type: EventTypeRatingSubmitted, Attributes: attrs}
	}
	if err := r.Validate(); err != nil {
		return &types.Event{Type: EventTypeRatingSubmitted, Attributes: attrs}
	}
	attrs["sessionId"] = r.SessionID
	attrs["payee"] = hex.EncodeToString(r.Payee[:])
	attrs["rater"] = hex.EncodeToString(r.Rater[:])
	attrs["score"] = strconv.FormatUint(uint64(r.Score), 10)
	attrs["createdAt"] = strconv.FormatInt(r.CreatedAt, 10)
	return &types.Event{Type: EventTypeRatingSubmitted, Attributes: attrs}
}
