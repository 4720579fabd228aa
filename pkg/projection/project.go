package projection

import (
	"time"

	"github.com/Mindburn-Labs/vifei/pkg/canonical"
	"github.com/Mindburn-Labs/vifei/pkg/event"
	"github.com/Mindburn-Labs/vifei/pkg/reduce"
)

// InvariantsVersion names the projection rule set. Any change to an
// invariant rule or to the ViewModel hash surface requires a bump.
const InvariantsVersion = "projection-invariants-v0.1"

// Frame budgets. Exceeding the active budget is FM-PROJECTION-OVERBUDGET
// and drives the ladder (never the event store, never L5).
const (
	FrameBudgetNormal = 10 * time.Millisecond
	FrameBudgetStress = 33 * time.Millisecond
)

// Invariants parameterizes the projection. It is a separate input from
// State so the reducer stays pure and presentation concerns never leak
// into state_hash.
type Invariants struct {
	// Version of the invariant rule set, embedded in the ViewModel.
	Version string `json:"version"`
	// DegradationLevel is the current ladder position, owned by the
	// backpressure controller.
	DegradationLevel LadderLevel `json:"degradation_level"`
	// ExportSafety is the latest scan outcome, ExportUnknown before any
	// scan.
	ExportSafety ExportSafetyState `json:"export_safety"`
}

// NewInvariants returns the current rule set at L0 with unknown export
// safety.
func NewInvariants() Invariants {
	return Invariants{
		Version:          InvariantsVersion,
		DegradationLevel: L0,
		ExportSafety:     ExportUnknown,
	}
}

// WithLevel returns the invariants positioned at a ladder level.
func (inv Invariants) WithLevel(level LadderLevel) Invariants {
	inv.DegradationLevel = level
	return inv
}

// Project is the pure projection State × Invariants → ViewModel.
//
// Honesty mechanics: never fabricate events, never reorder truth, iterate
// by commit_index only. Tier B/C may coarsen per the ladder level, and the
// coarsening is confessed in the aggregation fields. Synthesized events
// are surfaced through SynthesizedEvents so forensic views can mark them.
func Project(s *reduce.State, inv Invariants) ViewModel {
	summaries := map[string]uint64{}
	for _, name := range event.TierATypes {
		if n := s.EventCountsByType[name]; n > 0 {
			summaries[name] = n
		}
	}

	mode, binSize := aggregation(inv.DegradationLevel)

	// Queue pressure comes from the last committed PolicyDecision — the
	// projection reads truth, not the controller's live counters.
	var pressureFixed int64
	if n := len(s.PolicyDecisions); n > 0 {
		pressureFixed = int64(s.PolicyDecisions[n-1].QueuePressureMicro)
	}

	return ViewModel{
		TierASummaries:              summaries,
		AggregationMode:             mode,
		AggregationBinSize:          binSize,
		DegradationLevel:            inv.DegradationLevel,
		QueuePressureFixed:          pressureFixed,
		TierADrops:                  s.TierADrops,
		SynthesizedEvents:           s.SynthesizedCount,
		ExportSafetyState:           inv.ExportSafety,
		ProjectionInvariantsVersion: inv.Version,
	}
}

// ProjectWithPressure overrides the recorded pressure with a live reading
// from the controller.
func ProjectWithPressure(s *reduce.State, inv Invariants, queuePressure float64) ViewModel {
	vm := Project(s, inv)
	vm.SetQueuePressure(queuePressure)
	return vm
}

func aggregation(level LadderLevel) (string, *uint64) {
	switch level {
	case L0:
		return "1:1", nil
	case L1:
		bin := uint64(10)
		return "10:1", &bin
	case L5:
		return "frozen", nil
	default: // L2..L4 collapse Tier B/C to counts
		return "collapsed", nil
	}
}

// Hash computes viewmodel_hash: BLAKE3 of the RFC 8785 canonical form of
// the ViewModel. The invariants version is a hashed field of the ViewModel
// itself, so rule changes shift every hash. All ViewModel numbers are
// counts or millionth-scale fixed-point values, safely inside the ES6
// integer range JCS requires.
func Hash(vm *ViewModel) string {
	data, err := canonical.JCS(vm)
	if err != nil {
		// The ViewModel's fields are bounded; canonicalization cannot
		// fail on a well-formed value.
		panic("projection: viewmodel hash: " + err.Error())
	}
	return canonical.HashBytes(data)
}

// HashLine returns the hash newline-terminated, the on-disk form of the
// viewmodel.hash proof artifact.
func HashLine(vm *ViewModel) string {
	return Hash(vm) + "\n"
}
