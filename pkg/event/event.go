// Package event defines the Vifei event schema: the tier taxonomy, the
// tagged payload variants, and the two event shapes that enforce
// commit_index ownership.
//
// Two shapes exist at the boundary:
//
//   - ImportEvent: produced by importers and internal emitters. It has every
//     field except commit_index — the field does not exist on the type, so
//     no producer can set canonical ordering.
//   - CommittedEvent: created exclusively by the append writer via Commit.
//     This is what gets serialized to the EventLog as JSONL.
//
// Serialization is byte-stable: struct field order is the canonical JSON
// field order, optional fields are omitted when zero, and dynamic-key maps
// marshal with sorted keys (encoding/json sorts map keys).
package event

import "fmt"

// Tier classifies loss discipline under backpressure.
//
// A is never dropped and never reordered. B may be sampled or aggregated
// under load. C is best-effort telemetry.
type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
)

// Lossless reports whether events of this tier are never dropped.
func (t Tier) Lossless() bool { return t == TierA }

// Valid reports whether t is one of the three defined tiers.
func (t Tier) Valid() bool { return t == TierA || t == TierB || t == TierC }

// rank orders tiers by importance: A > B > C.
func (t Tier) rank() int {
	switch t {
	case TierA:
		return 2
	case TierB:
		return 1
	default:
		return 0
	}
}

// Compare returns -1, 0, or 1 as t is less important than, equal to, or
// more important than other.
func (t Tier) Compare(other Tier) int {
	switch {
	case t.rank() < other.rank():
		return -1
	case t.rank() > other.rank():
		return 1
	default:
		return 0
	}
}

// ParseTier parses "A", "B", or "C" (case-insensitive).
func ParseTier(s string) (Tier, error) {
	switch s {
	case "A", "a":
		return TierA, nil
	case "B", "b":
		return TierB, nil
	case "C", "c":
		return TierC, nil
	default:
		return "", fmt.Errorf("invalid tier %q (expected A, B, or C)", s)
	}
}

// ImportEvent is an event before commit_index assignment.
//
// This is the importer-facing shape. It deliberately lacks commit_index so
// importers cannot set it; the append writer converts it into a
// CommittedEvent by assigning the next monotonic index.
type ImportEvent struct {
	// RunID identifies the run. Scopes uniqueness of EventID.
	RunID string `json:"run_id"`
	// EventID is unique within RunID. Recommended format when the source
	// has no ID: "{source_id}:{source_seq}".
	EventID string `json:"event_id"`
	// SourceID identifies the source or importer that produced this event.
	SourceID string `json:"source_id"`
	// SourceSeq is the monotonic per-source sequence number, when the
	// source provides one. Nil when unknown.
	SourceSeq *uint64 `json:"source_seq,omitempty"`
	// TimestampNS is informative metadata only, never used for ordering.
	TimestampNS uint64 `json:"timestamp_ns"`
	// Tier classifies loss discipline.
	Tier Tier `json:"tier"`
	// Payload holds the variant-specific data.
	Payload Payload `json:"payload"`
	// PayloadRef is the lowercase hex BLAKE3 digest of an offloaded
	// payload blob, set when the inline content exceeded the threshold.
	PayloadRef string `json:"payload_ref,omitempty"`
	// Synthesized is true when any field was inferred rather than
	// observed in the source data.
	Synthesized bool `json:"synthesized,omitempty"`
}

// CommittedEvent is an event committed to the EventLog with a canonical
// commit_index. Only the append writer creates these, via Commit. All
// readers iterate by commit_index, never by timestamp_ns.
//
// Canonical JSONL field order:
//
//	commit_index, run_id, event_id, source_id, [source_seq], timestamp_ns,
//	tier, payload, [payload_ref], [synthesized]
type CommittedEvent struct {
	// CommitIndex is the canonical replay order. Assigned by the append
	// writer only. Starts at 0, increments by exactly 1.
	CommitIndex uint64  `json:"commit_index"`
	RunID       string  `json:"run_id"`
	EventID     string  `json:"event_id"`
	SourceID    string  `json:"source_id"`
	SourceSeq   *uint64 `json:"source_seq,omitempty"`
	TimestampNS uint64  `json:"timestamp_ns"`
	Tier        Tier    `json:"tier"`
	Payload     Payload `json:"payload"`
	PayloadRef  string  `json:"payload_ref,omitempty"`
	Synthesized bool    `json:"synthesized,omitempty"`
}

// Commit wraps an import event with a canonical commit_index. This is the
// only construction path for CommittedEvent; it belongs to the append
// writer.
func Commit(ev ImportEvent, commitIndex uint64) CommittedEvent {
	return CommittedEvent{
		CommitIndex: commitIndex,
		RunID:       ev.RunID,
		EventID:     ev.EventID,
		SourceID:    ev.SourceID,
		SourceSeq:   ev.SourceSeq,
		TimestampNS: ev.TimestampNS,
		Tier:        ev.Tier,
		Payload:     ev.Payload,
		PayloadRef:  ev.PayloadRef,
		Synthesized: ev.Synthesized,
	}
}

// ImportShape extracts the import event, discarding the commit_index.
func (e CommittedEvent) ImportShape() ImportEvent {
	return ImportEvent{
		RunID:       e.RunID,
		EventID:     e.EventID,
		SourceID:    e.SourceID,
		SourceSeq:   e.SourceSeq,
		TimestampNS: e.TimestampNS,
		Tier:        e.Tier,
		Payload:     e.Payload,
		PayloadRef:  e.PayloadRef,
		Synthesized: e.Synthesized,
	}
}

// Uint64 returns a pointer to v, for optional numeric fields.
func Uint64(v uint64) *uint64 { return &v }

// Int returns a pointer to v, for optional numeric fields.
func Int(v int) *int { return &v }

// Float64 returns a pointer to v, for optional numeric fields.
func Float64(v float64) *float64 { return &v }
