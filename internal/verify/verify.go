package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/crossarb/crossarb/internal/llm"
	"github.com/crossarb/crossarb/internal/logging"
	"github.com/crossarb/crossarb/internal/resolver"
)

const systemPrompt = "You are a strict arbitrage validator. Determine if two binary prediction-market contracts resolve identically with no ambiguity. Reject if timing, definitions, or data sources differ. Respond only with JSON."

// Completer is the slice of the LLM client the verifier needs.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// AutoVerifier queues verification requests and judges them with an LLM on
// the next collect pass. It is both a request sink and a verdict source, so
// pairs can be settled without an operator in the loop.
type AutoVerifier struct {
	llm Completer

	mu      sync.Mutex
	pending []resolver.VerificationRequest
}

func New(completer Completer) (*AutoVerifier, error) {
	if completer == nil {
		return nil, fmt.Errorf("verify: llm client is required")
	}
	return &AutoVerifier{llm: completer}, nil
}

// SendVerificationRequest queues a request for the next Collect pass.
func (v *AutoVerifier) SendVerificationRequest(_ context.Context, req resolver.VerificationRequest) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pending = append(v.pending, req)
	return nil
}

type rawVerdict struct {
	ValidResolution  bool   `json:"ValidResolution"`
	ResolutionReason string `json:"ResolutionReason"`
}

// Collect drains the queue and returns one verdict per judged request. A
// failed LLM call leaves that request queued for the next cycle rather than
// guessing.
func (v *AutoVerifier) Collect(ctx context.Context) ([]resolver.Verdict, error) {
	v.mu.Lock()
	pending := v.pending
	v.pending = nil
	v.mu.Unlock()

	var (
		verdicts []resolver.Verdict
		retry    []resolver.VerificationRequest
	)
	for _, req := range pending {
		verdict, err := v.judge(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				retry = append(retry, req)
				break
			}
			logging.Warnf("[verify] %s deferred: %v", req.Key, err)
			retry = append(retry, req)
			continue
		}
		verdicts = append(verdicts, verdict)
	}

	if len(retry) > 0 {
		v.mu.Lock()
		v.pending = append(retry, v.pending...)
		v.mu.Unlock()
	}
	return verdicts, ctx.Err()
}

func (v *AutoVerifier) judge(ctx context.Context, req resolver.VerificationRequest) (resolver.Verdict, error) {
	input, err := json.MarshalIndent(map[string]any{
		"contract_a": req.A,
		"contract_b": req.B,
		"confidence": req.Confidence,
		"evidence":   req.Evidence,
	}, "", "  ")
	if err != nil {
		return resolver.Verdict{}, fmt.Errorf("marshal request: %w", err)
	}

	userPrompt := strings.Join([]string{
		"Compare the following two prediction-market contracts. A risk-free arbitrage is only possible if they resolve identically.",
		"They must represent the exact same binary outcome with matching resolution criteria and cutoff timing.",
		"Different resolution sources are acceptable only when the criteria guarantee the sources agree on the exact definition.",
		"If either contract allows outcomes that are not strictly YES/NO for the same event, answer false.",
		"Pay special attention to timing, settlement sources, definitions, tiebreakers, cancellations, or alternate clauses.",
		"If unsure, treat it as invalid. Answer concisely.",
		"Return EXACTLY this JSON format:\n{\n  \"ValidResolution\": true|false,\n  \"ResolutionReason\": \"short explanation\"\n}\n\nInput JSON:\n" + string(input),
	}, "\n")

	raw, err := v.llm.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return resolver.Verdict{}, fmt.Errorf("llm call: %w", err)
	}
	payload, err := llm.ExtractJSON(raw)
	if err != nil {
		return resolver.Verdict{}, err
	}
	var res rawVerdict
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return resolver.Verdict{}, fmt.Errorf("parse verdict: %w", err)
	}

	reason := strings.TrimSpace(res.ResolutionReason)
	if !res.ValidResolution && reason == "" {
		reason = "llm rejected without reason"
	}
	return resolver.Verdict{
		Key:        req.Key,
		Verified:   res.ValidResolution,
		Actor:      "llm",
		Reason:     reason,
		Confidence: req.Confidence,
		Evidence:   req.Evidence,
	}, nil
}
