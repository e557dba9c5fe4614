package suggest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossarb/crossarb/internal/market"
	"github.com/crossarb/crossarb/internal/resolver"
)

type fakeCompleter struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeCompleter) Complete(_ context.Context, _ string, userPrompt string) (string, error) {
	f.prompts = append(f.prompts, userPrompt)
	return f.response, f.err
}

type fakeListings struct {
	refs []market.ContractRef
	err  error
}

func (f *fakeListings) Listings(context.Context) ([]market.ContractRef, error) {
	return f.refs, f.err
}

func testProviders(t *testing.T) map[market.Venue]ListingProvider {
	t.Helper()
	expiry := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	return map[market.Venue]ListingProvider{
		market.VenueKalshi: &fakeListings{refs: []market.ContractRef{
			{Venue: market.VenueKalshi, ContractID: "FED-24", Label: "Fed cuts in March", Expiry: expiry},
			{Venue: market.VenueKalshi, ContractID: "BTC-100K", Label: "BTC above 100k"},
		}},
		market.VenuePolymarket: &fakeListings{refs: []market.ContractRef{
			{Venue: market.VenuePolymarket, ContractID: "0xabc", Label: "Fed cuts in March", Expiry: expiry},
		}},
	}
}

func collect(t *testing.T, s resolver.Suggester) (cands []resolver.CandidatePair, errs []error) {
	t.Helper()
	for cand, err := range s.Candidates(context.Background()) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cands = append(cands, cand)
	}
	return cands, errs
}

func TestCandidates_ParsesSuggestions(t *testing.T) {
	completer := &fakeCompleter{
		response: `Here are the pairs:
[{"a": "FED-24", "b": "0xabc", "confidence": 0.92, "evidence": "same event and cutoff"}]`,
	}
	s, err := New(Config{LLM: completer, Providers: testProviders(t)})
	require.NoError(t, err)

	cands, errs := collect(t, s)
	assert.Empty(t, errs)
	require.Len(t, cands, 1)
	assert.Equal(t, 0.92, cands[0].Confidence)
	assert.Equal(t, "same event and cutoff", cands[0].Evidence)

	// Kalshi sorts before polymarket in the canonical key.
	assert.Equal(t, market.VenueKalshi, cands[0].Key.A.Venue)
	assert.Equal(t, "0xabc", cands[0].Key.B.ContractID)
}

func TestCandidates_LowConfidenceDropped(t *testing.T) {
	completer := &fakeCompleter{
		response: `[{"a": "FED-24", "b": "0xabc", "confidence": 0.3, "evidence": "weak"}]`,
	}
	s, err := New(Config{LLM: completer, Providers: testProviders(t), MinConfidence: 0.5})
	require.NoError(t, err)

	cands, errs := collect(t, s)
	assert.Empty(t, errs)
	assert.Empty(t, cands)
}

func TestCandidates_UnknownContractYieldsError(t *testing.T) {
	completer := &fakeCompleter{
		response: `[
			{"a": "NOPE", "b": "0xabc", "confidence": 0.9, "evidence": "x"},
			{"a": "FED-24", "b": "0xabc", "confidence": 0.9, "evidence": "good"}
		]`,
	}
	s, err := New(Config{LLM: completer, Providers: testProviders(t)})
	require.NoError(t, err)

	cands, errs := collect(t, s)
	require.Len(t, errs, 1)
	require.Len(t, cands, 1)
	assert.Equal(t, "FED-24", cands[0].Key.A.ContractID)
}

func TestCandidates_ListingFailureStopsCycle(t *testing.T) {
	providers := testProviders(t)
	providers[market.VenueKalshi] = &fakeListings{err: errors.New("rate limited")}
	s, err := New(Config{LLM: &fakeCompleter{response: "[]"}, Providers: providers})
	require.NoError(t, err)

	cands, errs := collect(t, s)
	assert.Empty(t, cands)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "rate limited")
}

func TestCandidates_BadJSON(t *testing.T) {
	s, err := New(Config{LLM: &fakeCompleter{response: "no pairs today"}, Providers: testProviders(t)})
	require.NoError(t, err)

	cands, errs := collect(t, s)
	assert.Empty(t, cands)
	assert.Len(t, errs, 1)
}

func TestStaticSuggester(t *testing.T) {
	key, err := market.NewMatchKey(
		market.ContractRef{Venue: market.VenuePolymarket, ContractID: "0xabc", Label: "x"},
		market.ContractRef{Venue: market.VenueKalshi, ContractID: "FED-24", Label: "x"},
	)
	require.NoError(t, err)

	s := Static{{Key: key, Confidence: 1, Evidence: "operator curated"}}
	cands, errs := collect(t, s)
	assert.Empty(t, errs)
	require.Len(t, cands, 1)
	assert.Equal(t, key, cands[0].Key)
}
