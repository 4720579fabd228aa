package reduce

import (
	"math"

	"github.com/Mindburn-Labs/vifei/pkg/canonical"
	"github.com/Mindburn-Labs/vifei/pkg/event"
)

const (
	// ReducerVersion is folded into state_hash so reducer logic changes
	// produce visibly different hashes. A checkpoint carrying a different
	// version is discarded and replaced by full replay.
	ReducerVersion = "reducer-v0.1"

	// CheckpointInterval is the number of committed events between
	// checkpoints.
	CheckpointInterval = 5000

	// pressureScale quantizes queue pressure to millionths.
	pressureScale = 1_000_000
)

// QuantizePressure clamps p to [0,1] and converts it to millionths,
// rounded. This is the only place a payload float crosses into State.
func QuantizePressure(p float64) uint64 {
	if math.IsNaN(p) || p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return uint64(math.Round(p * pressureScale))
}

// Reduce applies one committed event to a copy of state and returns the
// new state. Defined for composition; replay-heavy call sites use
// ReduceInPlace.
func Reduce(s *State, e *event.CommittedEvent) *State {
	out := s.Clone()
	ReduceInPlace(out, e)
	return out
}

// ReduceInPlace applies one committed event to state. Pure in the
// observable sense: no I/O, no randomness, no wall clock; the same state
// and event always produce the same mutation. Synthesized events are
// folded identically to observed ones — the flag is counted, not special-
// cased.
func ReduceInPlace(s *State, e *event.CommittedEvent) {
	s.LastCommitIndex = e.CommitIndex

	s.EventCountsByType[e.Payload.Type]++
	s.EventCountsByTier[e.Tier]++
	if e.Tier == event.TierA {
		s.TierACount++
	}
	if e.Synthesized {
		s.SynthesizedCount++
	}

	run := s.RunMetadata[e.RunID]
	if run == nil {
		run = &RunInfo{}
		s.RunMetadata[e.RunID] = run
	}
	run.EventCount++

	src := s.SourceStats[e.SourceID]
	if src == nil {
		src = &SourceStats{}
		s.SourceStats[e.SourceID] = src
	}
	src.EventCount++
	if e.SourceSeq != nil {
		seq := *e.SourceSeq
		if src.SeqPresent > 0 && seq <= src.LastSeq {
			src.SeqRegressions++
		}
		if seq > src.LastSeq {
			src.LastSeq = seq
		}
		src.SeqPresent++
	}

	switch e.Payload.Type {
	case event.TypeRunStart:
		run.Agent = e.Payload.Agent
		run.Args = e.Payload.Args
	case event.TypeRunEnd:
		run.Ended = true
		run.ExitCode = e.Payload.ExitCode
		run.Reason = e.Payload.Reason
	case event.TypeToolCall:
		s.tool(e.Payload.Tool).CallCount++
	case event.TypeToolResult:
		summary := s.tool(e.Payload.Tool)
		summary.ResultCount++
		switch e.Payload.Status {
		case "success":
			summary.SuccessCount++
		case "error":
			summary.ErrorCount++
		}
	case event.TypePolicyDecision:
		var pressure float64
		if e.Payload.QueuePressure != nil {
			pressure = *e.Payload.QueuePressure
		}
		s.PolicyDecisions = append(s.PolicyDecisions, PolicyTransition{
			CommitIndex:        e.CommitIndex,
			FromLevel:          e.Payload.FromLevel,
			ToLevel:            e.Payload.ToLevel,
			Trigger:            e.Payload.Trigger,
			QueuePressureMicro: QuantizePressure(pressure),
		})
		s.LastDegradationLevel = e.Payload.ToLevel
	case event.TypeRedactionApplied:
		s.RedactionLog = append(s.RedactionLog, RedactionEntry{
			CommitIndex:   e.CommitIndex,
			TargetEventID: e.Payload.TargetEventID,
			FieldPath:     e.Payload.FieldPath,
			Reason:        e.Payload.Reason,
		})
	case event.TypeError:
		s.ErrorLog = append(s.ErrorLog, ErrorEntry{
			CommitIndex: e.CommitIndex,
			Kind:        e.Payload.Kind,
			Message:     e.Payload.Message,
			Severity:    e.Payload.Severity,
		})
	case event.TypeClockSkewDetected:
		entry := ClockSkewEntry{CommitIndex: e.CommitIndex}
		if e.Payload.ExpectedNS != nil {
			entry.ExpectedNS = *e.Payload.ExpectedNS
		}
		if e.Payload.ActualNS != nil {
			entry.ActualNS = *e.Payload.ActualNS
		}
		if e.Payload.DeltaNS != nil {
			entry.DeltaNS = *e.Payload.DeltaNS
		}
		s.ClockSkewEvents = append(s.ClockSkewEvents, entry)
		s.SkewStats.Count++
		s.SkewStats.TotalDeltaNS += entry.DeltaNS
		if entry.DeltaNS > s.SkewStats.MaxDeltaNS {
			s.SkewStats.MaxDeltaNS = entry.DeltaNS
		}
	case event.TypeGeneric:
		// Generic events are already counted by the "Generic" type name;
		// count the specific event_type for finer granularity.
		s.EventCountsByType["Generic:"+e.Payload.EventType]++
	}
}

func (s *State) tool(name string) *ToolSummary {
	t := s.ToolSummaries[name]
	if t == nil {
		t = &ToolSummary{}
		s.ToolSummaries[name] = t
	}
	return t
}

// Replay folds a committed sequence from an empty state. It returns the
// final state and the commit_index values at checkpoint boundaries
// (after index 4999, 9999, ...).
func Replay(events []event.CommittedEvent) (*State, []uint64) {
	return ReplayFrom(NewState(), events)
}

// ReplayFrom folds events onto an initial state (e.g. one loaded from a
// checkpoint).
func ReplayFrom(initial *State, events []event.CommittedEvent) (*State, []uint64) {
	state := initial
	var boundaries []uint64
	for i := range events {
		ReduceInPlace(state, &events[i])
		if (events[i].CommitIndex+1)%CheckpointInterval == 0 {
			boundaries = append(boundaries, events[i].CommitIndex)
		}
	}
	return state, boundaries
}

// StateHash computes BLAKE3(reducer_version || canonical_bytes(State)) as
// lowercase hex. Every State field participates; nothing is excluded.
func StateHash(s *State) string {
	h, err := canonical.Hash(ReducerVersion, s)
	if err != nil {
		// State contains only primitives, sorted maps, and slices;
		// serialization cannot fail on a well-formed value.
		panic("reduce: state hash: " + err.Error())
	}
	return h
}
