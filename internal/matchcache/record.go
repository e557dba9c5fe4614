package matchcache

import (
	"errors"
	"fmt"
	"time"

	"github.com/crossarb/crossarb/internal/market"
)

// State of a cross-venue pair's equivalence claim.
type State string

const (
	StateUnknown  State = "UNKNOWN"
	StatePending  State = "PENDING"
	StateVerified State = "VERIFIED"
	StateRejected State = "REJECTED"
)

// MatchRecord is the latest judgment about one pair. Every write appends a
// new revision at the storage layer; this struct is always the newest one.
type MatchRecord struct {
	Key        market.MatchKey `json:"key"`
	State      State           `json:"state"`
	Actor      string          `json:"actor"`
	Reason     string          `json:"reason"`
	Active     bool            `json:"active"`
	Confidence float64         `json:"confidence"`
	Evidence   string          `json:"evidence"`
	DecidedAt  time.Time       `json:"decided_at"`
}

// ConflictError marks an illegal state transition. The offending upsert is
// aborted; the cycle continues.
type ConflictError struct {
	From, To State
	Detail   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("match cache: illegal transition %s -> %s: %s", e.From, e.To, e.Detail)
}

// IsConflict reports whether err is a lifecycle conflict.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// checkTransition enforces the lifecycle: UNKNOWN -> PENDING ->
// VERIFIED|REJECTED, with VERIFIED allowed to toggle active, and REJECTED
// permanent unless the write carries the reopen flag.
func checkTransition(current *MatchRecord, next State, reopen bool) error {
	if current == nil {
		return nil
	}
	from := current.State
	switch from {
	case StatePending:
		if next == StatePending || next == StateVerified || next == StateRejected {
			return nil
		}
	case StateVerified:
		if next == StateVerified {
			return nil // active toggle / attribution refresh
		}
	case StateRejected:
		if reopen {
			return nil
		}
		return &ConflictError{From: from, To: next, Detail: "rejected records are permanent without reopen"}
	}
	return &ConflictError{From: from, To: next, Detail: "not a forward lifecycle step"}
}
