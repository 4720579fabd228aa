// Package reduce implements the pure reducer: the fold of committed events
// into State, its BLAKE3 state hash, and versioned checkpoints.
//
// Purity contract: no I/O, no randomness, no wall clock, same inputs always
// produce the same output. All map containers serialize with sorted keys;
// no floats appear anywhere in State — queue pressure is quantized to
// millionths before it enters the fold.
package reduce

import (
	"encoding/json"
	"fmt"

	"github.com/Mindburn-Labs/vifei/pkg/event"
)

// State is the accumulated result of replaying the EventLog. It is the
// single input to projection, and it hashes: every field participates in
// state_hash, nothing is excluded.
type State struct {
	// RunMetadata keys run_id to run-level accumulation.
	RunMetadata map[string]*RunInfo `json:"run_metadata"`
	// EventCountsByType counts events by payload type name.
	EventCountsByType map[string]uint64 `json:"event_counts_by_type"`
	// EventCountsByTier counts events by tier.
	EventCountsByTier map[event.Tier]uint64 `json:"event_counts_by_tier"`
	// SourceStats tracks per-source sequence statistics.
	SourceStats map[string]*SourceStats `json:"source_stats"`
	// ToolSummaries keys tool name to call/result correlation counters.
	ToolSummaries map[string]*ToolSummary `json:"tool_summaries"`
	// PolicyDecisions records ladder transitions in commit order.
	PolicyDecisions []PolicyTransition `json:"policy_decisions"`
	// ErrorLog records Error events in commit order.
	ErrorLog []ErrorEntry `json:"error_log"`
	// ClockSkewEvents records skew detections in commit order.
	ClockSkewEvents []ClockSkewEntry `json:"clock_skew_events"`
	// RedactionLog records redactions in commit order.
	RedactionLog []RedactionEntry `json:"redaction_log"`
	// SkewStats summarizes clock skew detections.
	SkewStats SkewStats `json:"skew_stats"`
	// LastCommitIndex is the commit_index of the last reduced event.
	LastCommitIndex uint64 `json:"last_commit_index"`
	// TierACount is the total of Tier A events processed.
	TierACount uint64 `json:"tier_a_count"`
	// TierADrops must remain 0; any other value is an invariant breach.
	TierADrops uint64 `json:"tier_a_drops"`
	// SynthesizedCount counts events whose fields were inferred.
	SynthesizedCount uint64 `json:"synthesized_count"`
	// LastDegradationLevel is the to_level of the most recent
	// PolicyDecision, "L0" before any transition.
	LastDegradationLevel string `json:"last_degradation_level"`
}

// NewState returns an empty initial state.
func NewState() *State {
	return &State{
		RunMetadata:          make(map[string]*RunInfo),
		EventCountsByType:    make(map[string]uint64),
		EventCountsByTier:    make(map[event.Tier]uint64),
		SourceStats:          make(map[string]*SourceStats),
		ToolSummaries:        make(map[string]*ToolSummary),
		PolicyDecisions:      []PolicyTransition{},
		ErrorLog:             []ErrorEntry{},
		ClockSkewEvents:      []ClockSkewEntry{},
		RedactionLog:         []RedactionEntry{},
		LastDegradationLevel: "L0",
	}
}

// Clone deep-copies the state via its canonical serialization. Used by the
// non-mutating Reduce composition helper; replay-heavy paths use
// ReduceInPlace.
func (s *State) Clone() *State {
	data, err := json.Marshal(s)
	if err != nil {
		// State contains only primitives, maps, and slices of such;
		// serialization cannot fail on a well-formed value.
		panic(fmt.Sprintf("reduce: state clone: %v", err))
	}
	out := NewState()
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("reduce: state clone: %v", err))
	}
	return out
}

// RunInfo accumulates run-level metadata from RunStart/RunEnd events.
type RunInfo struct {
	Agent      string `json:"agent"`
	Args       string `json:"args,omitempty"`
	Ended      bool   `json:"ended"`
	ExitCode   *int   `json:"exit_code,omitempty"`
	Reason     string `json:"reason,omitempty"`
	EventCount uint64 `json:"event_count"`
}

// SourceStats tracks sequence behavior for one source_id.
type SourceStats struct {
	// EventCount is the number of events from this source.
	EventCount uint64 `json:"event_count"`
	// SeqPresent counts events that carried a source_seq.
	SeqPresent uint64 `json:"seq_present"`
	// LastSeq is the highest source_seq observed.
	LastSeq uint64 `json:"last_seq"`
	// SeqRegressions counts source_seq values that moved backward or
	// repeated, a signal of source-side reordering.
	SeqRegressions uint64 `json:"seq_regressions"`
}

// ToolSummary correlates ToolCall and ToolResult events per tool.
type ToolSummary struct {
	CallCount    uint64 `json:"call_count"`
	ResultCount  uint64 `json:"result_count"`
	SuccessCount uint64 `json:"success_count"`
	ErrorCount   uint64 `json:"error_count"`
}

// Pending returns calls not yet matched by a result.
func (t *ToolSummary) Pending() uint64 {
	if t.CallCount > t.ResultCount {
		return t.CallCount - t.ResultCount
	}
	return 0
}

// PolicyTransition is one recorded ladder transition.
type PolicyTransition struct {
	CommitIndex uint64 `json:"commit_index"`
	FromLevel   string `json:"from_level"`
	ToLevel     string `json:"to_level"`
	Trigger     string `json:"trigger"`
	// QueuePressureMicro is queue_pressure clamped to [0,1], multiplied
	// by 1_000_000 and rounded. Floats are forbidden in State; this
	// quantization is the documented conversion at the hash boundary.
	QueuePressureMicro uint64 `json:"queue_pressure_micro"`
}

// ErrorEntry is one recorded Error event.
type ErrorEntry struct {
	CommitIndex uint64 `json:"commit_index"`
	Kind        string `json:"kind"`
	Message     string `json:"message"`
	Severity    string `json:"severity,omitempty"`
}

// ClockSkewEntry is one recorded skew detection.
type ClockSkewEntry struct {
	CommitIndex uint64 `json:"commit_index"`
	ExpectedNS  uint64 `json:"expected_ns"`
	ActualNS    uint64 `json:"actual_ns"`
	DeltaNS     uint64 `json:"delta_ns"`
}

// RedactionEntry is one recorded redaction.
type RedactionEntry struct {
	CommitIndex   uint64 `json:"commit_index"`
	TargetEventID string `json:"target_event_id"`
	FieldPath     string `json:"field_path"`
	Reason        string `json:"reason"`
}

// SkewStats summarizes clock skew across the log.
type SkewStats struct {
	Count        uint64 `json:"count"`
	MaxDeltaNS   uint64 `json:"max_delta_ns"`
	TotalDeltaNS uint64 `json:"total_delta_ns"`
}
