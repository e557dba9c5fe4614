package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/crossarb/crossarb/internal/arb"
	"github.com/crossarb/crossarb/internal/engine"
	"github.com/crossarb/crossarb/internal/resolver"
)

// MessageWriter is the slice of kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher fans engine and resolver events out to the three outbound topics.
// Quiet cycles publish nothing.
type Publisher struct {
	alerts   MessageWriter
	requests MessageWriter
	errors   MessageWriter
	now      func() time.Time
}

func NewPublisher(alerts, requests, errors MessageWriter) *Publisher {
	return &Publisher{alerts: alerts, requests: requests, errors: errors, now: time.Now}
}

func (p *Publisher) Close() error {
	var first error
	for _, w := range []MessageWriter{p.alerts, p.requests, p.errors} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OpportunityAlert is the outbound alert record.
type OpportunityAlert struct {
	EventID       string    `json:"event_id"`
	Kind          string    `json:"kind"` // "detected" or "executed"
	OpportunityID int64     `json:"opportunity_id"`
	MatchKey      string    `json:"match_key"`
	NetProfit     float64   `json:"net_profit"`
	ProfitPct     float64   `json:"profit_pct"`
	Strategy      string    `json:"strategy"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
	FilledSize    float64   `json:"filled_size,omitempty"`
	RealizedCost  float64   `json:"realized_cost,omitempty"`
	PublishedAt   time.Time `json:"published_at"`
}

// SystemErrorAlert is kept on its own topic so operators can page on it
// without wading through opportunity traffic.
type SystemErrorAlert struct {
	EventID     string    `json:"event_id"`
	Subject     string    `json:"subject"`
	Error       string    `json:"error"`
	PublishedAt time.Time `json:"published_at"`
}

// StrategyDescription renders the two legs as an operator-readable line.
func StrategyDescription(op *arb.Opportunity) string {
	return fmt.Sprintf("buy YES %s:%s @ %.3f, buy NO %s:%s @ %.3f, size %.1f",
		op.YesLeg.Venue, op.YesLeg.ContractID, op.YesLeg.EffectivePrice,
		op.NoLeg.Venue, op.NoLeg.ContractID, op.NoLeg.EffectivePrice,
		op.Size)
}

func (p *Publisher) PublishOpportunity(ctx context.Context, op *arb.Opportunity) error {
	return p.publishAlert(ctx, op, "detected", nil)
}

func (p *Publisher) PublishExecution(ctx context.Context, op *arb.Opportunity, res engine.ExecResult) error {
	return p.publishAlert(ctx, op, "executed", &res)
}

func (p *Publisher) publishAlert(ctx context.Context, op *arb.Opportunity, kind string, res *engine.ExecResult) error {
	alert := OpportunityAlert{
		EventID:       uuid.NewString(),
		Kind:          kind,
		OpportunityID: op.ID,
		MatchKey:      op.Key.String(),
		NetProfit:     op.NetProfit,
		ProfitPct:     op.ProfitPct,
		Strategy:      StrategyDescription(op),
		ExpiresAt:     op.ExpiresAt(),
		PublishedAt:   p.now().UTC(),
	}
	if res != nil {
		alert.FilledSize = res.FilledSize
		alert.RealizedCost = res.RealizedCost
	}
	return p.write(ctx, p.alerts, op.Key.Hash(), alert)
}

func (p *Publisher) SendVerificationRequest(ctx context.Context, req resolver.VerificationRequest) error {
	return p.write(ctx, p.requests, req.Key.Hash(), req)
}

func (p *Publisher) PublishSystemError(ctx context.Context, subject string, err error) error {
	alert := SystemErrorAlert{
		EventID:     uuid.NewString(),
		Subject:     subject,
		Error:       err.Error(),
		PublishedAt: p.now().UTC(),
	}
	return p.write(ctx, p.errors, alert.EventID, alert)
}

func (p *Publisher) write(ctx context.Context, w MessageWriter, key string, payload any) error {
	if w == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: raw})
}
