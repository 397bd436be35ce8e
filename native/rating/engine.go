package rating

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"tutorpay/core/events"
	"tutorpay/core/types"
	"tutorpay/native/escrow"
)

var (
	errNilState   = errors.New("rating engine: state not configured")
	errNilEscrows = errors.New("rating engine: escrow source not configured")

	// ErrInvalidScore is returned for scores outside the 1-5 scale.
	ErrInvalidScore = errors.New("rating: invalid score")
	// ErrCommentTooLong is returned when the review text exceeds the cap.
	ErrCommentTooLong = errors.New("rating: comment too long")
	// ErrPaymentNotReleased is returned when the referenced escrow is missing
	// or has not been released.
	ErrPaymentNotReleased = errors.New("rating: payment not released")
	// ErrDuplicateRating is returned when a rating already exists for the
	// (session, rater) pair.
	ErrDuplicateRating = errors.New("rating: duplicate rating")
	// ErrUnauthorized marks ratings filed by anyone but the recorded payer,
	// or against a payee other than the recorded one.
	ErrUnauthorized = errors.New("rating: unauthorized rater")
)

type engineState interface {
	// RatingCreate persists a new rating, returning ErrDuplicateRating when
	// the key has already been written.
	RatingCreate(*Rating) error
	RatingGet(key [32]byte) (*Rating, bool, error)
	// RatingDelete removes a rating. Used only to roll back a creation whose
	// aggregate update failed.
	RatingDelete(key [32]byte) error
	AggregateGet(payee [20]byte) (*Aggregate, bool, error)
	AggregatePut(*Aggregate) error
}

type escrowSource interface {
	Get(sessionID string, payer [20]byte) (*escrow.Record, bool, error)
}

type ratingEvent struct {
	evt *types.Event
}

func (e ratingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e ratingEvent) Event() *types.Event { return e.evt }

// Engine validates and records post-session ratings and maintains the
// per-payee aggregate. A rating may only be filed by the payer of a released
// escrow.
type Engine struct {
	state   engineState
	escrows escrowSource
	emitter events.Emitter

	// aggMu serialises read-modify-write cycles on the per-payee aggregate.
	aggMu sync.Mutex
}

// NewEngine creates a rating engine with a no-op emitter. Callers configure
// the state backend and the escrow source before use.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEscrowSource configures the escrow lookup used to authorise ratings.
func (e *Engine) SetEscrowSource(src escrowSource) { e.escrows = src }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(ratingEvent{evt: event})
}

// Submit files a rating for the released escrow identified by (sessionID,
// payer). The rating record and the aggregate update are atomic: a failed
// aggregate write rolls the rating back.
func (e *Engine) Submit(sessionID string, payer, rater, payee [20]byte, score uint8, comment string, now int64) (*Rating, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.escrows == nil {
		return nil, errNilEscrows
	}
	if score < MinScore || score > MaxScore {
		return nil, ErrInvalidScore
	}
	if len(comment) > maxCommentLength {
		return nil, ErrCommentTooLong
	}
	trimmed := strings.TrimSpace(sessionID)
	if trimmed == "" {
		return nil, errors.New("rating: session id required")
	}
	rec, ok, err := e.escrows.Get(trimmed, payer)
	if err != nil {
		return nil, err
	}
	if !ok || rec.Status != escrow.StatusReleased {
		return nil, ErrPaymentNotReleased
	}
	if rater != rec.Payer {
		return nil, ErrUnauthorized
	}
	if payee != rec.Payee {
		return nil, ErrUnauthorized
	}
	rating := &Rating{
		Key:       RatingKey(trimmed, rater),
		SessionID: trimmed,
		Payee:     payee,
		Rater:     rater,
		Score:     score,
		Comment:   comment,
		CreatedAt: now,
	}
	if err := e.state.RatingCreate(rating); err != nil {
		return nil, err
	}
	if err := e.updateAggregate(payee, score); err != nil {
		if delErr := e.state.RatingDelete(rating.Key); delErr != nil {
			return nil, fmt.Errorf("rating: rollback after failed aggregate update: %v: %w", delErr, err)
		}
		return nil, err
	}
	e.emit(NewSubmittedEvent(rating))
	return rating.Clone(), nil
}

func (e *Engine) updateAggregate(payee [20]byte, score uint8) error {
	e.aggMu.Lock()
	defer e.aggMu.Unlock()
	agg, ok, err := e.state.AggregateGet(payee)
	if err != nil {
		return err
	}
	if !ok {
		agg = &Aggregate{Payee: payee}
	}
	agg.TotalCount++
	agg.TotalScore += uint64(score)
	return e.state.AggregatePut(agg)
}

// Get returns the rating filed for (sessionID, rater) when present.
func (e *Engine) Get(sessionID string, rater [20]byte) (*Rating, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	rating, ok, err := e.state.RatingGet(RatingKey(strings.TrimSpace(sessionID), rater))
	if err != nil || !ok {
		return nil, false, err
	}
	return rating.Clone(), true, nil
}

// Aggregate returns the accumulated rating summary for the payee.
func (e *Engine) Aggregate(payee [20]byte) (*Aggregate, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	agg, ok, err := e.state.AggregateGet(payee)
	if err != nil || !ok {
		return nil, false, err
	}
	return agg.Clone(), true, nil
}
