package market

import (
	"fmt"
	"time"

	"github.com/crossarb/crossarb/internal/hashutil"
)

// Venue identifies the platform a contract trades on.
type Venue string

const (
	VenuePolymarket Venue = "polymarket"
	VenueKalshi     Venue = "kalshi"
)

// Side of a quote or order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ContractRef names one binary contract on one venue. Immutable once observed.
type ContractRef struct {
	Venue      Venue     `json:"venue"`
	ContractID string    `json:"contract_id"`
	Label      string    `json:"label"`
	Expiry     time.Time `json:"expiry"`
}

func (r ContractRef) String() string {
	return fmt.Sprintf("%s:%s", r.Venue, r.ContractID)
}

// MatchKey is the canonical identity of a cross-venue contract pair.
// A is always the lexicographically smaller leg (by venue, then contract ID),
// so NewMatchKey(a, b) and NewMatchKey(b, a) produce the same key.
type MatchKey struct {
	A ContractRef `json:"a"`
	B ContractRef `json:"b"`
}

// NewMatchKey canonicalizes a pair of refs from two distinct venues.
func NewMatchKey(a, b ContractRef) (MatchKey, error) {
	if a.Venue == b.Venue {
		return MatchKey{}, fmt.Errorf("match key: both refs on venue %q", a.Venue)
	}
	if a.Venue == "" || b.Venue == "" || a.ContractID == "" || b.ContractID == "" {
		return MatchKey{}, fmt.Errorf("match key: venue and contract id required")
	}
	if b.String() < a.String() {
		a, b = b, a
	}
	return MatchKey{A: a, B: b}, nil
}

// Hash is the stable identity used for cache lookups and dedup.
func (k MatchKey) Hash() string {
	return hashutil.HashStrings(k.A.String(), k.B.String())
}

func (k MatchKey) String() string {
	return fmt.Sprintf("%s|%s", k.A, k.B)
}

// Other returns the leg of the pair that is not ref.
func (k MatchKey) Other(ref ContractRef) ContractRef {
	if ref.String() == k.A.String() {
		return k.B
	}
	return k.A
}

// TighterExpiry returns the earlier of the two leg expiries. Zero expiries
// (venues that do not report one) are ignored.
func (k MatchKey) TighterExpiry() time.Time {
	a, b := k.A.Expiry, k.B.Expiry
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case b.Before(a):
		return b
	default:
		return a
	}
}
