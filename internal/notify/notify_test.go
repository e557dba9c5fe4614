package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossarb/crossarb/internal/arb"
	"github.com/crossarb/crossarb/internal/engine"
	"github.com/crossarb/crossarb/internal/market"
	"github.com/crossarb/crossarb/internal/matchcache"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		raw  string
		want Command
	}{
		{"STATUS", Command{Kind: CommandStatus}},
		{"  halt  ", Command{Kind: CommandHalt}},
		{"Resume", Command{Kind: CommandResume}},
		{"EXECUTE 42", Command{Kind: CommandExecute, OpportunityID: 42}},
		{"execute  7", Command{Kind: CommandExecute, OpportunityID: 7}},
	}
	for _, tc := range cases {
		got, err := ParseCommand(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}

	for _, raw := range []string{"", "EXECUTE", "EXECUTE abc", "EXECUTE -3", "EXECUTE 1 2", "STATUS now", "NUKE"} {
		_, err := ParseCommand(raw)
		assert.Error(t, err, raw)
	}
}

type captureWriter struct {
	msgs []kafka.Message
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error { return nil }

func sampleOpportunity(t *testing.T) *arb.Opportunity {
	t.Helper()
	key, err := market.NewMatchKey(
		market.ContractRef{Venue: market.VenuePolymarket, ContractID: "0xabc", Label: "Fed cuts"},
		market.ContractRef{Venue: market.VenueKalshi, ContractID: "FED-24", Label: "Fed cuts"},
	)
	require.NoError(t, err)
	return &arb.Opportunity{
		ID:        7,
		Key:       key,
		Direction: arb.DirectionYesANoB,
		Size:      50,
		YesLeg: arb.LegExec{
			Venue: market.VenuePolymarket, ContractID: "0xabc", Outcome: "yes",
			Size: 50, EffectivePrice: 0.45,
		},
		NoLeg: arb.LegExec{
			Venue: market.VenueKalshi, ContractID: "FED-24", Outcome: "no",
			Size: 50, EffectivePrice: 0.50,
		},
		Payout:       50,
		NetProfit:    2.05,
		ProfitPct:    4.3,
		TimeToExpiry: time.Hour,
		DetectedAt:   time.Now().UTC(),
		Status:       arb.StatusAlerted,
	}
}

func TestPublishOpportunity(t *testing.T) {
	alerts := &captureWriter{}
	p := NewPublisher(alerts, nil, nil)

	op := sampleOpportunity(t)
	require.NoError(t, p.PublishOpportunity(context.Background(), op))
	require.Len(t, alerts.msgs, 1)
	assert.Equal(t, op.Key.Hash(), string(alerts.msgs[0].Key))

	var alert OpportunityAlert
	require.NoError(t, json.Unmarshal(alerts.msgs[0].Value, &alert))
	assert.Equal(t, "detected", alert.Kind)
	assert.Equal(t, int64(7), alert.OpportunityID)
	assert.Equal(t, 2.05, alert.NetProfit)
	assert.NotEmpty(t, alert.EventID)
	assert.Contains(t, alert.Strategy, "buy YES polymarket:0xabc @ 0.450")
	assert.Contains(t, alert.Strategy, "buy NO kalshi:FED-24 @ 0.500")
}

func TestPublishExecution(t *testing.T) {
	alerts := &captureWriter{}
	p := NewPublisher(alerts, nil, nil)

	op := sampleOpportunity(t)
	res := engine.ExecResult{Success: true, FilledSize: 50, RealizedCost: 47.95}
	require.NoError(t, p.PublishExecution(context.Background(), op, res))
	require.Len(t, alerts.msgs, 1)

	var alert OpportunityAlert
	require.NoError(t, json.Unmarshal(alerts.msgs[0].Value, &alert))
	assert.Equal(t, "executed", alert.Kind)
	assert.Equal(t, 50.0, alert.FilledSize)
	assert.Equal(t, 47.95, alert.RealizedCost)
}

func TestPublishSystemError_SeparateTopic(t *testing.T) {
	alerts := &captureWriter{}
	sysErrs := &captureWriter{}
	p := NewPublisher(alerts, nil, sysErrs)

	require.NoError(t, p.PublishSystemError(context.Background(), "execution failed", errors.New("venue 500")))
	assert.Empty(t, alerts.msgs)
	require.Len(t, sysErrs.msgs, 1)

	var alert SystemErrorAlert
	require.NoError(t, json.Unmarshal(sysErrs.msgs[0].Value, &alert))
	assert.Equal(t, "execution failed", alert.Subject)
	assert.Equal(t, "venue 500", alert.Error)
}

func TestRenderStatus(t *testing.T) {
	var buf bytes.Buffer
	op := sampleOpportunity(t)
	rec := matchcache.MatchRecord{
		Key: op.Key, State: matchcache.StateVerified, Actor: "operator",
		Active: true, Confidence: 0.95, DecidedAt: time.Now().UTC(),
	}
	health := engine.Health{LastCycle: time.Now().UTC(), Running: false, Halted: true}

	RenderStatus(&buf, health, 3, 12.40, []*arb.Opportunity{op}, []matchcache.MatchRecord{rec})

	out := buf.String()
	assert.Contains(t, out, "HALTED")
	assert.Contains(t, out, "realized profit: $12.40")
	assert.Contains(t, out, "open alerts (1)")
	assert.Contains(t, out, "active verified pairs (1)")
	assert.True(t, strings.Contains(out, "operator"))
}
