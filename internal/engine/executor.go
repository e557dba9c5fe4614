package engine

import (
	"context"
	"fmt"

	"github.com/crossarb/crossarb/internal/arb"
	"github.com/crossarb/crossarb/internal/logging"
)

// ExecResult reports what the execution venue actually filled.
type ExecResult struct {
	Success      bool    `json:"success"`
	FilledSize   float64 `json:"filled_size"`
	RealizedCost float64 `json:"realized_cost"`
}

// ExecutionError classifies a failed execution attempt. Transient failures
// (network, rate limit) are retried at most once before the opportunity
// expires; fatal ones suppress the opportunity immediately.
type ExecutionError struct {
	Transient bool
	Message   string
}

func (e *ExecutionError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("execution error (%s): %s", kind, e.Message)
}

// Executor places both legs of an opportunity.
type Executor interface {
	Execute(ctx context.Context, op *arb.Opportunity) (ExecResult, error)
}

// PaperExecutor fills every opportunity at its detected prices without
// touching a venue. The default until live order routing is wired in.
type PaperExecutor struct{}

func (PaperExecutor) Execute(_ context.Context, op *arb.Opportunity) (ExecResult, error) {
	cost := op.YesLeg.Notional + op.YesLeg.Fee + op.NoLeg.Notional + op.NoLeg.Fee
	logging.Infof("[paper] filled %s size %.2f cost %.2f", op.Key, op.Size, cost)
	return ExecResult{Success: true, FilledSize: op.Size, RealizedCost: cost}, nil
}
