package rating

import (
	"errors"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// MinScore and MaxScore bound the accepted rating scale.
	MinScore uint8 = 1
	MaxScore uint8 = 5

	maxCommentLength = 512
)

var ratingKeySeed = []byte("rating")

// Rating records a single post-session score filed by the payer. Exactly one
// rating may exist per (session, rater) pair.
type Rating struct {
	Key       [32]byte
	SessionID string
	Payee     [20]byte
	Rater     [20]byte
	Score     uint8
	Comment   string
	CreatedAt int64
}

// RatingKey derives the storage key for the rating identified by session and
// rater.
func RatingKey(sessionID string, rater [20]byte) [32]byte {
	hash := ethcrypto.Keccak256(ratingKeySeed, []byte(sessionID), rater[:])
	var key [32]byte
	copy(key[:], hash)
	return key
}

// Clone returns a copy of the rating.
func (r *Rating) Clone() *Rating {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// Validate ensures the rating payload is well formed.
func (r *Rating) Validate() error {
	if r == nil {
		return errors.New("rating: nil rating")
	}
	if strings.TrimSpace(r.SessionID) == "" {
		return errors.New("rating: session id required")
	}
	if r.Payee == ([20]byte{}) {
		return errors.New("rating: payee required")
	}
	if r.Rater == ([20]byte{}) {
		return errors.New("rating: rater required")
	}
	if r.Score < MinScore || r.Score > MaxScore {
		return errors.New("rating: score out of range")
	}
	if len(r.Comment) > maxCommentLength {
		return errors.New("rating: comment too long")
	}
	return nil
}

// Aggregate accumulates the rating history for a payee. The average is not
// stored; it is derived from the integer accumulators at read time to avoid
// floating point drift.
type Aggregate struct {
	Payee      [20]byte
	TotalCount uint64
	TotalScore uint64
}

// Clone returns a copy of the aggregate.
func (a *Aggregate) Clone() *Aggregate {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

// AverageHundredths returns the mean score scaled by 100 (a 4.0 average is
// reported as 400). It returns 0 when no ratings have been filed.
func (a *Aggregate) AverageHundredths() uint64 {
	if a == nil || a.TotalCount == 0 {
		return 0
	}
	return a.TotalScore * 100 / a.TotalCount
}
