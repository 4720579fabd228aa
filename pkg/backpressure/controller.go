// Package backpressure implements the degradation ladder controller.
//
// The controller observes queue pressure and walks the ladder one level at
// a time: raise at ≥0.80, clear at ≤0.50 after a 2 s dwell. Every
// transition is itself Tier A truth — a PolicyDecision event is committed
// before the new level becomes observable, so the ladder history is always
// derivable from the log. Fatal storage failures bypass the ladder and
// jump directly to L5.
package backpressure

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Mindburn-Labs/vifei/pkg/event"
	"github.com/Mindburn-Labs/vifei/pkg/projection"
)

const (
	// TickInterval is the evaluation cadence.
	TickInterval = 100 * time.Millisecond
	// RaiseThreshold escalates one level when pressure reaches it.
	RaiseThreshold = 0.80
	// ClearThreshold is the recovery ceiling.
	ClearThreshold = 0.50
	// Dwell is how long pressure must hold at or below ClearThreshold
	// before one de-escalation step. Prevents flapping between adjacent
	// levels.
	Dwell = 2 * time.Second
	// FlushBudget bounds the best-effort flush when entering L5.
	FlushBudget = 5 * time.Second
)

// Transition triggers as they appear in PolicyDecision events.
const (
	TriggerPressureExceeded  = "queue_pressure_exceeded"
	TriggerPressureRecovered = "queue_pressure_recovered"
	TriggerProjectionBudget  = "projection_overbudget"
)

// CommitFunc commits a Tier A event to the log. The controller calls it
// before exposing a new level.
type CommitFunc func(event.ImportEvent) (event.CommittedEvent, error)

// DepthFunc reports the ingest queue depth and capacity.
type DepthFunc func() (depth, capacity int)

// Controller is the ladder state machine. All append paths it uses funnel
// through the single writer via the injected CommitFunc.
type Controller struct {
	mu         sync.Mutex
	level      projection.LadderLevel
	runID      string
	commit     CommitFunc
	depth      DepthFunc
	now        func() time.Time
	belowSince time.Time
	seq        uint64
	log        *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock injects a clock for dwell timing in tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// New builds a controller at L0.
func New(runID string, commit CommitFunc, depth DepthFunc, opts ...Option) *Controller {
	c := &Controller{
		runID:  runID,
		commit: commit,
		depth:  depth,
		now:    time.Now,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Level returns the current ladder level.
func (c *Controller) Level() projection.LadderLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// Pressure returns clamp(depth/capacity, 0, 1).
func (c *Controller) Pressure() float64 {
	depth, capacity := c.depth()
	if capacity <= 0 {
		return 0
	}
	p := float64(depth) / float64(capacity)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// Tick runs one evaluation. At most one transition happens per tick:
// escalation when pressure is at or above the raise threshold, or one
// de-escalation step after the dwell below the clear threshold. The
// returned event is the committed PolicyDecision, nil when no transition
// occurred.
func (c *Controller) Tick() (*event.CommittedEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.level == projection.L5 {
		// Safe stop is terminal for the controller; only truth survives.
		return nil, nil
	}

	pressure := c.Pressure()
	now := c.now()

	if pressure >= RaiseThreshold {
		c.belowSince = time.Time{}
		if c.level >= projection.L4 {
			// Pressure alone never reaches L5.
			return nil, nil
		}
		return c.transitionLocked(c.level.Escalate(), TriggerPressureExceeded, pressure)
	}

	if pressure <= ClearThreshold {
		if c.belowSince.IsZero() {
			c.belowSince = now
			return nil, nil
		}
		if c.level > projection.L0 && now.Sub(c.belowSince) >= Dwell {
			committed, err := c.transitionLocked(c.level.Deescalate(), TriggerPressureRecovered, pressure)
			// Each recovery step requires its own dwell.
			c.belowSince = now
			return committed, err
		}
		return nil, nil
	}

	// Between thresholds: hold, and restart the dwell clock.
	c.belowSince = time.Time{}
	return nil, nil
}

// Run ticks the controller every TickInterval until ctx is canceled.
// Transition commit failures are fatal: the controller fails safe to L5
// and returns the error.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.Tick(); err != nil {
				c.FailSafe("transition_commit_failure")
				return err
			}
		}
	}
}

// OverBudget escalates one level for a projection frame exceeding its
// budget. Drives the ladder at most to L4, never L5 — the event store is
// healthy.
func (c *Controller) OverBudget(elapsed time.Duration) (*event.CommittedEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.level >= projection.L4 {
		return nil, nil
	}
	c.belowSince = time.Time{}
	trigger := fmt.Sprintf("%s:%dms", TriggerProjectionBudget, elapsed.Milliseconds())
	return c.transitionLocked(c.level.Escalate(), trigger, c.Pressure())
}

// FailSafe jumps directly to L5 for a fatal storage failure. The
// PolicyDecision commit is best-effort: if the writer can no longer write,
// the failure is logged and the level still changes — truth preservation
// beats bookkeeping here.
func (c *Controller) FailSafe(trigger string) *event.CommittedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.level == projection.L5 {
		return nil
	}
	committed, err := c.transitionLocked(projection.L5, trigger, c.Pressure())
	if err != nil {
		c.log.Error("safe-stop policy decision could not be committed",
			"trigger", trigger, "error", err)
		c.level = projection.L5
		return nil
	}
	return committed
}

// transitionLocked commits the PolicyDecision, then updates the level.
// The order is the contract: the new level is never observable before its
// decision event is durable.
func (c *Controller) transitionLocked(to projection.LadderLevel, trigger string, pressure float64) (*event.CommittedEvent, error) {
	from := c.level
	decision := event.ImportEvent{
		RunID:       c.runID,
		EventID:     fmt.Sprintf("policy:%s:%d", c.runID, c.seq),
		SourceID:    "backpressure",
		TimestampNS: uint64(c.now().UnixNano()),
		Tier:        event.TierA,
		Payload:     event.PolicyDecision(from.String(), to.String(), trigger, pressure),
		Synthesized: true,
	}
	committed, err := c.commit(decision)
	if err != nil {
		return nil, fmt.Errorf("backpressure: commit policy decision %s→%s: %w", from, to, err)
	}
	c.seq++
	c.level = to
	c.log.Info("ladder transition",
		"from", from.String(), "to", to.String(),
		"trigger", trigger, "queue_pressure", pressure)
	return &committed, nil
}
