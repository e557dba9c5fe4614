package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/crossarb/crossarb/internal/llm"
	"github.com/crossarb/crossarb/internal/logging"
	"github.com/crossarb/crossarb/internal/market"
	"github.com/crossarb/crossarb/internal/resolver"
)

const systemPrompt = "You are a market-matching assistant for a cross-venue arbitrage system. Given contract listings from two prediction-market venues, propose pairs that plausibly settle on the same binary outcome. Respond only with JSON."

// ListingProvider lists the tradable contracts on one venue.
type ListingProvider interface {
	Listings(ctx context.Context) ([]market.ContractRef, error)
}

// Completer is the slice of the LLM client the suggester needs.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Config for the LLM-backed suggester.
type Config struct {
	LLM           Completer
	Providers     map[market.Venue]ListingProvider
	MaxCandidates int     // cap per cycle; default 25
	MinConfidence float64 // below this the suggestion is dropped; default 0.5
}

// Suggester proposes candidate pairs each cycle by showing both venues'
// listings to an LLM. Purely advisory: everything it emits still goes
// through verification.
type Suggester struct {
	llm           Completer
	providers     map[market.Venue]ListingProvider
	maxCandidates int
	minConfidence float64
}

func New(cfg Config) (*Suggester, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("suggest: llm client is required")
	}
	if len(cfg.Providers) != 2 {
		return nil, fmt.Errorf("suggest: exactly two venue listing providers required, got %d", len(cfg.Providers))
	}
	maxCandidates := cfg.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = 25
	}
	minConfidence := cfg.MinConfidence
	if minConfidence <= 0 {
		minConfidence = 0.5
	}
	return &Suggester{
		llm:           cfg.LLM,
		providers:     cfg.Providers,
		maxCandidates: maxCandidates,
		minConfidence: minConfidence,
	}, nil
}

type rawSuggestion struct {
	A          string  `json:"a"`
	B          string  `json:"b"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence"`
}

// Candidates fetches both listings, asks the model for pairs, and yields the
// parsed candidates lazily. Fetch or model failures surface as a single
// yielded error; a malformed suggestion is skipped with its own error.
func (s *Suggester) Candidates(ctx context.Context) iter.Seq2[resolver.CandidatePair, error] {
	return func(yield func(resolver.CandidatePair, error) bool) {
		venues := make([]market.Venue, 0, 2)
		for v := range s.providers {
			venues = append(venues, v)
		}
		if venues[0] > venues[1] {
			venues[0], venues[1] = venues[1], venues[0]
		}

		byID := map[market.Venue]map[string]market.ContractRef{}
		var sections []string
		for _, venue := range venues {
			refs, err := s.providers[venue].Listings(ctx)
			if err != nil {
				yield(resolver.CandidatePair{}, fmt.Errorf("list %s: %w", venue, err))
				return
			}
			byID[venue] = map[string]market.ContractRef{}
			lines := make([]string, 0, len(refs))
			for _, ref := range refs {
				byID[venue][ref.ContractID] = ref
				line := fmt.Sprintf("- id=%s label=%q", ref.ContractID, ref.Label)
				if !ref.Expiry.IsZero() {
					line += " expires=" + ref.Expiry.UTC().Format(time.RFC3339)
				}
				lines = append(lines, line)
			}
			sections = append(sections, fmt.Sprintf("%s contracts:\n%s", venue, strings.Join(lines, "\n")))
		}

		userPrompt := strings.Join([]string{
			fmt.Sprintf("Propose up to %d pairs of contracts that likely settle on the same binary outcome.", s.maxCandidates),
			"Only pair contracts across the two venues, never within one venue.",
			"For each pair give a confidence in [0,1] and one line of evidence (matching event, timing, settlement).",
			fmt.Sprintf("Field %q must be an id from the first list, %q an id from the second.", "a", "b"),
			`Return EXACTLY a JSON array: [{"a": "...", "b": "...", "confidence": 0.0, "evidence": "..."}]`,
			"",
			strings.Join(sections, "\n\n"),
		}, "\n")

		raw, err := s.llm.Complete(ctx, systemPrompt, userPrompt)
		if err != nil {
			yield(resolver.CandidatePair{}, fmt.Errorf("llm suggest: %w", err))
			return
		}
		payload, err := llm.ExtractJSON(raw)
		if err != nil {
			yield(resolver.CandidatePair{}, err)
			return
		}
		var suggestions []rawSuggestion
		if err := json.Unmarshal([]byte(payload), &suggestions); err != nil {
			yield(resolver.CandidatePair{}, fmt.Errorf("decode suggestions: %w", err))
			return
		}
		if len(suggestions) > s.maxCandidates {
			suggestions = suggestions[:s.maxCandidates]
		}

		for _, sug := range suggestions {
			if sug.Confidence < s.minConfidence {
				logging.Debugf("[suggest] dropped %s/%s at confidence %.2f", sug.A, sug.B, sug.Confidence)
				continue
			}
			refA, okA := byID[venues[0]][sug.A]
			refB, okB := byID[venues[1]][sug.B]
			if !okA || !okB {
				if !yield(resolver.CandidatePair{}, fmt.Errorf("suggestion references unknown contract %q/%q", sug.A, sug.B)) {
					return
				}
				continue
			}
			key, err := market.NewMatchKey(refA, refB)
			if err != nil {
				if !yield(resolver.CandidatePair{}, err) {
					return
				}
				continue
			}
			cand := resolver.CandidatePair{Key: key, Confidence: sug.Confidence, Evidence: sug.Evidence}
			if !yield(cand, nil) {
				return
			}
		}
	}
}

// Static yields a fixed candidate list; used for operator-curated pairs.
type Static []resolver.CandidatePair

func (s Static) Candidates(context.Context) iter.Seq2[resolver.CandidatePair, error] {
	return func(yield func(resolver.CandidatePair, error) bool) {
		for _, cand := range s {
			if !yield(cand, nil) {
				return
			}
		}
	}
}
