package notify

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/crossarb/crossarb/internal/arb"
	"github.com/crossarb/crossarb/internal/engine"
	"github.com/crossarb/crossarb/internal/matchcache"
)

// RenderStatus writes the operator STATUS report: engine liveness, realized
// profit, open alerts awaiting EXECUTE, and the active verified pairs.
func RenderStatus(w io.Writer, health engine.Health, executed int, totalProfit float64,
	open []*arb.Opportunity, verified []matchcache.MatchRecord) {

	mode := "running"
	if health.Halted {
		mode = "HALTED"
	}
	lastCycle := "never"
	if !health.LastCycle.IsZero() {
		lastCycle = health.LastCycle.UTC().Format(time.RFC3339)
	}
	fmt.Fprintf(w, "engine: %s | last cycle: %s | executed: %d | realized profit: $%.2f\n",
		mode, lastCycle, executed, totalProfit)

	if len(open) > 0 {
		fmt.Fprintf(w, "\nopen alerts (%d):\n", len(open))
		table := tablewriter.NewWriter(w)
		table.Header("ID", "Pair", "Profit", "Pct", "Size", "Expires")
		for _, op := range open {
			expires := "-"
			if at := op.ExpiresAt(); !at.IsZero() {
				expires = at.UTC().Format(time.RFC3339)
			}
			table.Append(
				fmt.Sprintf("%d", op.ID),
				op.Key.String(),
				fmt.Sprintf("$%.2f", op.NetProfit),
				fmt.Sprintf("%.2f%%", op.ProfitPct),
				fmt.Sprintf("%.1f", op.Size),
				expires,
			)
		}
		table.Render()
	}

	if len(verified) > 0 {
		fmt.Fprintf(w, "\nactive verified pairs (%d):\n", len(verified))
		table := tablewriter.NewWriter(w)
		table.Header("Pair", "Verified By", "Decided At", "Confidence")
		for _, rec := range verified {
			table.Append(
				rec.Key.String(),
				rec.Actor,
				rec.DecidedAt.UTC().Format(time.RFC3339),
				fmt.Sprintf("%.2f", rec.Confidence),
			)
		}
		table.Render()
	}
}
