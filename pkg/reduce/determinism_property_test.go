//go:build property
// +build property

// Property-based determinism tests for the reducer fold and state hash.
package reduce

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/vifei/pkg/event"
)

// eventsFromSeeds maps arbitrary byte seeds onto a committed sequence.
func eventsFromSeeds(seeds []uint8) []event.CommittedEvent {
	events := make([]event.CommittedEvent, 0, len(seeds))
	for i, seed := range seeds {
		idx := uint64(i)
		var p event.Payload
		switch seed % 9 {
		case 0:
			p = event.RunStart(fmt.Sprintf("agent-%d", seed), "")
		case 1:
			p = event.RunEnd(event.Int(int(seed)), "done")
		case 2:
			p = event.ToolCall(fmt.Sprintf("tool-%d", seed%4), fmt.Sprintf("args-%d", seed))
		case 3:
			p = event.ToolResult(fmt.Sprintf("tool-%d", seed%4), "out", []string{"success", "error", ""}[seed%3])
		case 4:
			p = event.PolicyDecision("L0", "L1", "t", float64(seed)/255)
		case 5:
			p = event.RedactionApplied("e-x", "payload.args", "r")
		case 6:
			p = event.ErrorPayload("io", fmt.Sprintf("m-%d", seed), "")
		case 7:
			p = event.ClockSkewDetected(uint64(seed)+100, uint64(seed), 100)
		default:
			p = event.Generic("G", map[string]string{"s": fmt.Sprint(seed)})
		}
		events = append(events, event.Commit(event.ImportEvent{
			RunID:       fmt.Sprintf("run-%d", seed%3),
			EventID:     fmt.Sprintf("e-%d", i),
			SourceID:    fmt.Sprintf("src-%d", seed%2),
			SourceSeq:   event.Uint64(idx),
			TimestampNS: 1_000_000_000 + idx,
			Tier:        []event.Tier{event.TierA, event.TierB, event.TierC}[seed%3],
			Payload:     p,
		}, idx))
	}
	return events
}

// TestReplayDeterminismProperty verifies that for any event sequence,
// independent replays produce identical state hashes.
func TestReplayDeterminismProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("replay is deterministic", prop.ForAll(
		func(seeds []uint8) bool {
			events := eventsFromSeeds(seeds)
			s1, _ := Replay(events)
			s2, _ := Replay(events)
			return StateHash(s1) == StateHash(s2)
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("in-place and composing reduce agree", prop.ForAll(
		func(seeds []uint8) bool {
			events := eventsFromSeeds(seeds)
			inPlace := NewState()
			composed := NewState()
			for i := range events {
				ReduceInPlace(inPlace, &events[i])
				composed = Reduce(composed, &events[i])
			}
			return StateHash(inPlace) == StateHash(composed)
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
