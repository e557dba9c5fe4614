package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crossarb/crossarb/internal/arb"
	"github.com/crossarb/crossarb/internal/logging"
	"github.com/crossarb/crossarb/internal/matchcache"
	"github.com/crossarb/crossarb/internal/resolver"
)

// OpportunityLog is the append-only opportunity store (sqlite in production).
type OpportunityLog interface {
	AppendOpportunity(ctx context.Context, op *arb.Opportunity) (int64, error)
	RecordStatus(ctx context.Context, id int64, status arb.Status, note string, at time.Time) error
	OpenAlerts(ctx context.Context) ([]*arb.Opportunity, error)
	GetOpportunity(ctx context.Context, id int64) (*arb.Opportunity, error)
	ProfitSummary(ctx context.Context) (int, float64, error)
}

// AlertSink receives outbound notifications. Opportunity alerts and system
// errors go out on distinct channels; quiet cycles publish nothing.
type AlertSink interface {
	PublishOpportunity(ctx context.Context, op *arb.Opportunity) error
	PublishExecution(ctx context.Context, op *arb.Opportunity, res ExecResult) error
	PublishSystemError(ctx context.Context, subject string, err error) error
}

// Config wires the engine's collaborators.
type Config struct {
	Detector  *arb.Detector
	Resolver  *resolver.Resolver
	Suggester resolver.Suggester // optional
	Verifier  resolver.Verifier  // optional
	Cache     *matchcache.Store
	Log       OpportunityLog
	Halt      *HaltFlag
	Executor  Executor
	Alerts    AlertSink

	MinProfitUSD float64
	MinProfitPct float64
	Interval     time.Duration // default 900s
	Now          func() time.Time
}

// Engine runs the scan cycle and owns every opportunity status transition.
type Engine struct {
	detector  *arb.Detector
	resolver  *resolver.Resolver
	suggester resolver.Suggester
	verifier  resolver.Verifier
	cache     *matchcache.Store
	log       OpportunityLog
	halt      *HaltFlag
	executor  Executor
	alerts    AlertSink

	minProfitUSD float64
	minProfitPct float64
	interval     time.Duration
	now          func() time.Time

	// mu serializes status transitions and the EXECUTING set; cycleMu keeps
	// cycles from overlapping.
	mu        sync.Mutex
	executing map[string]int64
	cycleMu   sync.Mutex

	stateMu   sync.Mutex
	lastCycle time.Time
	running   bool

	kick chan struct{}
}

func New(cfg Config) *Engine {
	e := &Engine{
		detector:     cfg.Detector,
		resolver:     cfg.Resolver,
		suggester:    cfg.Suggester,
		verifier:     cfg.Verifier,
		cache:        cfg.Cache,
		log:          cfg.Log,
		halt:         cfg.Halt,
		executor:     cfg.Executor,
		alerts:       cfg.Alerts,
		minProfitUSD: cfg.MinProfitUSD,
		minProfitPct: cfg.MinProfitPct,
		interval:     cfg.Interval,
		now:          cfg.Now,
		executing:    map[string]int64{},
		kick:         make(chan struct{}, 1),
	}
	if e.interval <= 0 {
		e.interval = 15 * time.Minute
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Health is the liveness view for an external supervisor.
type Health struct {
	LastCycle time.Time `json:"last_cycle"`
	Running   bool      `json:"running"`
	Halted    bool      `json:"halted"`
}

func (e *Engine) Health() Health {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return Health{LastCycle: e.lastCycle, Running: e.running, Halted: e.halt.Halted()}
}

// TriggerCycle requests an on-demand cycle from the Run loop.
func (e *Engine) TriggerCycle() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Run drives cycles on the fixed interval, or sooner when triggered, until
// the context ends. An immediate first cycle runs on start.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		if err := e.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Errorf("[engine] cycle: %v", err)
			if e.alerts != nil {
				if perr := e.alerts.PublishSystemError(ctx, "cycle failed", err); perr != nil {
					logging.Errorf("[engine] system alert: %v", perr)
				}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-e.kick:
		}
	}
}

// Cycle runs one full pass: expiry sweeps, match resolution, detection, and
// the decision pass. Cycles never overlap.
func (e *Engine) Cycle(ctx context.Context) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	e.setRunning(true)
	defer e.setRunning(false)

	if err := e.sweepExpiredAlerts(ctx); err != nil {
		return fmt.Errorf("alert sweep: %w", err)
	}
	if _, err := e.resolver.ExpirePending(ctx); err != nil {
		return fmt.Errorf("pending sweep: %w", err)
	}
	if e.suggester != nil {
		if err := e.resolver.Resolve(ctx, e.suggester); err != nil {
			return fmt.Errorf("resolve: %w", err)
		}
	}
	if e.verifier != nil {
		verdicts, err := e.verifier.Collect(ctx)
		if err != nil {
			logging.Warnf("[engine] verdict collection: %v", err)
		} else if err := e.resolver.ApplyVerdicts(ctx, verdicts); err != nil {
			return fmt.Errorf("apply verdicts: %w", err)
		}
	}

	records, err := e.cache.ListActiveVerified(ctx)
	if err != nil {
		return fmt.Errorf("list verified: %w", err)
	}
	ops := e.detector.Scan(ctx, records)
	if len(ops) > 0 {
		logging.Infof("[engine] cycle found %d opportunity(ies) across %d pair(s)", len(ops), len(records))
	}
	for _, op := range ops {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.decide(ctx, op); err != nil {
			logging.Errorf("[engine] decide %s: %v", op.Key, err)
		}
	}

	e.stateMu.Lock()
	e.lastCycle = e.now().UTC()
	e.stateMu.Unlock()
	return nil
}

func (e *Engine) setRunning(v bool) {
	e.stateMu.Lock()
	e.running = v
	e.stateMu.Unlock()
}

// decide routes one detected opportunity: suppress while halted, execute when
// the pair is verified+active and profit clears both thresholds, otherwise
// alert and wait for an operator command.
func (e *Engine) decide(ctx context.Context, op *arb.Opportunity) error {
	id, err := e.log.AppendOpportunity(ctx, op)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	op.ID = id

	if e.halt.Halted() {
		return e.transition(ctx, op, arb.StatusSuppressed, "halted")
	}

	rec, err := e.cache.Lookup(ctx, op.Key)
	if err != nil {
		return fmt.Errorf("lookup: %w", err)
	}
	autoExec := rec != nil && rec.State == matchcache.StateVerified && rec.Active &&
		op.NetProfit >= e.minProfitUSD && op.ProfitPct >= e.minProfitPct

	if !autoExec {
		if err := e.transition(ctx, op, arb.StatusAlerted, "awaiting execute command"); err != nil {
			return err
		}
		if e.alerts != nil {
			if err := e.alerts.PublishOpportunity(ctx, op); err != nil {
				logging.Warnf("[engine] alert %d: %v", op.ID, err)
			}
		}
		return nil
	}

	if !e.claimExecution(ctx, op, "") {
		return nil
	}
	e.runExecution(ctx, op)
	return nil
}

// claimExecution moves an opportunity to EXECUTING under the writer mutex,
// enforcing the one-EXECUTING-per-pair invariant and the halt flag. Returns
// false when the opportunity was suppressed or rejected instead.
func (e *Engine) claimExecution(ctx context.Context, op *arb.Opportunity, note string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.halt.Halted() {
		e.mustTransition(ctx, op, arb.StatusSuppressed, "halted")
		return false
	}
	hash := op.Key.Hash()
	if other, busy := e.executing[hash]; busy {
		e.mustTransition(ctx, op, arb.StatusSuppressed,
			fmt.Sprintf("pair already executing as opportunity %d", other))
		return false
	}
	if err := e.transition(ctx, op, arb.StatusExecuting, note); err != nil {
		logging.Errorf("[engine] mark executing %d: %v", op.ID, err)
		return false
	}
	e.executing[hash] = op.ID
	return true
}

// runExecution performs the external call. Transient failures get exactly one
// retry, and only while the opportunity has not expired and the engine is not
// halted; an execution already in flight is never cancelled by halt.
func (e *Engine) runExecution(ctx context.Context, op *arb.Opportunity) {
	defer func() {
		e.mu.Lock()
		delete(e.executing, op.Key.Hash())
		e.mu.Unlock()
	}()

	res, err := e.executor.Execute(ctx, op)
	if err != nil {
		var execErr *ExecutionError
		if errors.As(err, &execErr) && execErr.Transient &&
			!op.ExpiredBy(e.now().UTC()) && !e.halt.Halted() {
			logging.Warnf("[engine] transient failure on %d, retrying once: %v", op.ID, err)
			res, err = e.executor.Execute(ctx, op)
		}
	}

	if err != nil || !res.Success {
		if err == nil {
			err = fmt.Errorf("execution reported failure (filled %.2f)", res.FilledSize)
		}
		e.mu.Lock()
		e.mustTransition(ctx, op, arb.StatusSuppressed, err.Error())
		e.mu.Unlock()
		if e.alerts != nil && !e.halt.Halted() {
			if perr := e.alerts.PublishSystemError(ctx, fmt.Sprintf("execution failed for opportunity %d", op.ID), err); perr != nil {
				logging.Errorf("[engine] system alert: %v", perr)
			}
		}
		return
	}

	e.mu.Lock()
	e.mustTransition(ctx, op, arb.StatusExecuted,
		fmt.Sprintf("filled %.2f at cost %.2f", res.FilledSize, res.RealizedCost))
	e.mu.Unlock()
	logging.Infof("[engine] executed %d: profit %.2f (%.2f%%)", op.ID, op.NetProfit, op.ProfitPct)
	if e.alerts != nil {
		if perr := e.alerts.PublishExecution(ctx, op, res); perr != nil {
			logging.Warnf("[engine] execution alert %d: %v", op.ID, perr)
		}
	}
}

func (e *Engine) transition(ctx context.Context, op *arb.Opportunity, status arb.Status, note string) error {
	op.Status = status
	op.StatusNote = note
	return e.log.RecordStatus(ctx, op.ID, status, note, e.now().UTC())
}

func (e *Engine) mustTransition(ctx context.Context, op *arb.Opportunity, status arb.Status, note string) {
	if err := e.transition(ctx, op, status, note); err != nil {
		logging.Errorf("[engine] record %s on %d: %v", status, op.ID, err)
	}
}

// sweepExpiredAlerts expires alerted opportunities whose window elapsed.
// Wall-clock deadline, evaluated once at cycle start.
func (e *Engine) sweepExpiredAlerts(ctx context.Context) error {
	open, err := e.log.OpenAlerts(ctx)
	if err != nil {
		return err
	}
	now := e.now().UTC()
	for _, op := range open {
		if !op.ExpiredBy(now) {
			continue
		}
		if err := e.transition(ctx, op, arb.StatusExpired, "alert window elapsed"); err != nil {
			return err
		}
		logging.Infof("[engine] alert %d expired", op.ID)
	}
	return nil
}

// ExecuteByID acts on an operator EXECUTE command for an alerted opportunity.
func (e *Engine) ExecuteByID(ctx context.Context, id int64) error {
	op, err := e.log.GetOpportunity(ctx, id)
	if err != nil {
		return err
	}
	if op == nil {
		return fmt.Errorf("no opportunity %d", id)
	}
	if op.Status != arb.StatusAlerted {
		return fmt.Errorf("opportunity %d is %s, not %s", id, op.Status, arb.StatusAlerted)
	}
	if op.ExpiredBy(e.now().UTC()) {
		e.mustTransition(ctx, op, arb.StatusExpired, "alert window elapsed")
		return fmt.Errorf("opportunity %d expired", id)
	}
	if !e.claimExecution(ctx, op, "operator execute command") {
		return fmt.Errorf("opportunity %d could not start executing", id)
	}
	e.runExecution(ctx, op)
	if op.Status != arb.StatusExecuted {
		return fmt.Errorf("opportunity %d finished %s: %s", id, op.Status, op.StatusNote)
	}
	return nil
}
