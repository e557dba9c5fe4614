package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossarb/crossarb/internal/market"
	"github.com/crossarb/crossarb/internal/resolver"
)

type scriptedCompleter struct {
	responses []string
	errs      []error
	calls     int
}

func (s *scriptedCompleter) Complete(context.Context, string, string) (string, error) {
	i := s.calls
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	var resp string
	if i < len(s.responses) {
		resp = s.responses[i]
	}
	return resp, err
}

func request(t *testing.T, polyID, kalshiID string) resolver.VerificationRequest {
	t.Helper()
	key, err := market.NewMatchKey(
		market.ContractRef{Venue: market.VenuePolymarket, ContractID: polyID, Label: "test"},
		market.ContractRef{Venue: market.VenueKalshi, ContractID: kalshiID, Label: "test"},
	)
	require.NoError(t, err)
	return resolver.VerificationRequest{Key: key, A: key.A, B: key.B, Confidence: 0.9, Evidence: "same event"}
}

func TestCollect_ValidAndInvalid(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{
		`{"ValidResolution": true, "ResolutionReason": "identical settlement"}`,
		"Some chatter first.\n{\"ValidResolution\": false, \"ResolutionReason\": \"cutoff differs by a day\"}",
	}}
	v, err := New(completer)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, v.SendVerificationRequest(ctx, request(t, "0xaaa", "FED-A")))
	require.NoError(t, v.SendVerificationRequest(ctx, request(t, "0xbbb", "FED-B")))

	verdicts, err := v.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, verdicts, 2)

	assert.True(t, verdicts[0].Verified)
	assert.Equal(t, "llm", verdicts[0].Actor)
	assert.False(t, verdicts[1].Verified)
	assert.Equal(t, "cutoff differs by a day", verdicts[1].Reason)

	// Queue drained.
	verdicts, err = v.Collect(ctx)
	require.NoError(t, err)
	assert.Empty(t, verdicts)
}

func TestCollect_FailedCallStaysQueued(t *testing.T) {
	completer := &scriptedCompleter{
		responses: []string{"", `{"ValidResolution": true, "ResolutionReason": "ok"}`},
		errs:      []error{errors.New("rate limited"), nil},
	}
	v, err := New(completer)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, v.SendVerificationRequest(ctx, request(t, "0xccc", "FED-C")))

	verdicts, err := v.Collect(ctx)
	require.NoError(t, err)
	assert.Empty(t, verdicts)

	// Next cycle retries the deferred request.
	verdicts, err = v.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
	assert.True(t, verdicts[0].Verified)
}

func TestCollect_RejectionAlwaysHasReason(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{
		`{"ValidResolution": false, "ResolutionReason": ""}`,
	}}
	v, err := New(completer)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, v.SendVerificationRequest(ctx, request(t, "0xddd", "FED-D")))
	verdicts, err := v.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
	assert.False(t, verdicts[0].Verified)
	assert.NotEmpty(t, verdicts[0].Reason)
}
