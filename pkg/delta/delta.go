// Package delta compares two committed event streams deterministically.
//
// Events are matched by canonical commit_index only — never by timestamp.
// Divergences are keyed and ordered by (commit_index, path, change_class),
// so the same pair of runs always produces byte-identical output.
package delta

import (
	"fmt"
	"sort"

	"github.com/Mindburn-Labs/vifei/pkg/canonical"
	"github.com/Mindburn-Labs/vifei/pkg/event"
)

// ChangeClass classifies one divergence.
type ChangeClass string

const (
	// EventMissingLeft: present on the right, absent on the left.
	EventMissingLeft ChangeClass = "EventMissingLeft"
	// EventMissingRight: present on the left, absent on the right.
	EventMissingRight ChangeClass = "EventMissingRight"
	// ValueMismatch: both present, canonical values differ at a path.
	ValueMismatch ChangeClass = "ValueMismatch"
)

// Divergence is one deterministic difference record.
type Divergence struct {
	CommitIndex uint64      `json:"commit_index"`
	Path        string      `json:"path"`
	ChangeClass ChangeClass `json:"change_class"`
	LeftValue   string      `json:"left_value,omitempty"`
	RightValue  string      `json:"right_value,omitempty"`
}

// RunDelta is the full comparison result.
type RunDelta struct {
	LeftRunID       string       `json:"left_run_id"`
	RightRunID      string       `json:"right_run_id"`
	LeftEventCount  int          `json:"left_event_count"`
	RightEventCount int          `json:"right_event_count"`
	Divergences     []Divergence `json:"divergences"`
}

// Clean reports whether the two streams are identical.
func (d *RunDelta) Clean() bool { return len(d.Divergences) == 0 }

// DiffRuns compares two committed streams. Input order does not matter;
// all access goes through maps keyed by commit_index.
func DiffRuns(left, right []event.CommittedEvent) *RunDelta {
	leftByIndex := indexByCommit(left)
	rightByIndex := indexByCommit(right)

	indexSet := map[uint64]bool{}
	for i := range leftByIndex {
		indexSet[i] = true
	}
	for i := range rightByIndex {
		indexSet[i] = true
	}
	indices := make([]uint64, 0, len(indexSet))
	for i := range indexSet {
		indices = append(indices, i)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	delta := &RunDelta{
		LeftRunID:       firstRunID(left),
		RightRunID:      firstRunID(right),
		LeftEventCount:  len(left),
		RightEventCount: len(right),
		Divergences:     []Divergence{},
	}

	for _, idx := range indices {
		l, lok := leftByIndex[idx]
		r, rok := rightByIndex[idx]
		switch {
		case !lok:
			delta.Divergences = append(delta.Divergences, Divergence{
				CommitIndex: idx,
				Path:        "$event",
				ChangeClass: EventMissingLeft,
				RightValue:  "present",
			})
		case !rok:
			delta.Divergences = append(delta.Divergences, Divergence{
				CommitIndex: idx,
				Path:        "$event",
				ChangeClass: EventMissingRight,
				LeftValue:   "present",
			})
		default:
			delta.Divergences = append(delta.Divergences, compareEvents(idx, l, r)...)
		}
	}
	return delta
}

func indexByCommit(events []event.CommittedEvent) map[uint64]*event.CommittedEvent {
	out := make(map[uint64]*event.CommittedEvent, len(events))
	for i := range events {
		e := &events[i]
		// A duplicated index is itself corruption; keep the first and let
		// the value comparison surface the difference.
		if _, seen := out[e.CommitIndex]; !seen {
			out[e.CommitIndex] = e
		}
	}
	return out
}

func firstRunID(events []event.CommittedEvent) string {
	best := ""
	bestIdx := uint64(0)
	for i := range events {
		if best == "" || events[i].CommitIndex < bestIdx {
			best = events[i].RunID
			bestIdx = events[i].CommitIndex
		}
	}
	return best
}

// compareEvents flattens both events to path → canonical value and emits a
// ValueMismatch for each differing path, sorted by path.
func compareEvents(idx uint64, l, r *event.CommittedEvent) []Divergence {
	lf := flatten(l)
	rf := flatten(r)

	pathSet := map[string]bool{}
	for p := range lf {
		pathSet[p] = true
	}
	for p := range rf {
		pathSet[p] = true
	}
	paths := make([]string, 0, len(pathSet))
	for p := range pathSet {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var out []Divergence
	for _, p := range paths {
		lv, rv := lf[p], rf[p]
		if lv == rv {
			continue
		}
		out = append(out, Divergence{
			CommitIndex: idx,
			Path:        p,
			ChangeClass: ValueMismatch,
			LeftValue:   lv,
			RightValue:  rv,
		})
	}
	return out
}

// flatten maps the event's scalar surface to canonical string values.
func flatten(e *event.CommittedEvent) map[string]string {
	out := map[string]string{
		"run_id":       e.RunID,
		"event_id":     e.EventID,
		"source_id":    e.SourceID,
		"timestamp_ns": fmt.Sprintf("%d", e.TimestampNS),
		"tier":         string(e.Tier),
		"payload.type": e.Payload.Type,
	}
	if e.SourceSeq != nil {
		out["source_seq"] = fmt.Sprintf("%d", *e.SourceSeq)
	}
	if e.PayloadRef != "" {
		out["payload_ref"] = e.PayloadRef
	}
	if e.Synthesized {
		out["synthesized"] = "true"
	}
	for _, f := range e.Payload.StringFields() {
		out["payload."+f.Name] = f.Value
	}
	// Numeric payload fields compare through the canonical payload form,
	// which also catches anything the scalar surface misses.
	if raw, err := canonical.Marshal(e.Payload); err == nil {
		out["payload"] = string(raw)
	}
	return out
}
