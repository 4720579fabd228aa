package delta

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/vifei/pkg/event"
)

func stream(n int, argPrefix string) []event.CommittedEvent {
	events := make([]event.CommittedEvent, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, event.Commit(event.ImportEvent{
			RunID:       "run-1",
			EventID:     fmt.Sprintf("e-%d", i),
			SourceID:    "test",
			SourceSeq:   event.Uint64(uint64(i)),
			TimestampNS: uint64(i + 1),
			Tier:        event.TierA,
			Payload:     event.ToolCall("bash", fmt.Sprintf("%s-%d", argPrefix, i)),
		}, uint64(i)))
	}
	return events
}

func TestIdenticalStreamsClean(t *testing.T) {
	left := stream(10, "cmd")
	right := stream(10, "cmd")
	d := DiffRuns(left, right)
	assert.True(t, d.Clean())
	assert.Equal(t, 10, d.LeftEventCount)
	assert.Equal(t, 10, d.RightEventCount)
	assert.Equal(t, "run-1", d.LeftRunID)
}

func TestValueMismatchDetected(t *testing.T) {
	left := stream(3, "cmd")
	right := stream(3, "cmd")
	right[1].Payload.Args = "tampered"

	d := DiffRuns(left, right)
	require.False(t, d.Clean())
	for _, div := range d.Divergences {
		assert.Equal(t, uint64(1), div.CommitIndex)
		assert.Equal(t, ValueMismatch, div.ChangeClass)
	}
	paths := map[string]bool{}
	for _, div := range d.Divergences {
		paths[div.Path] = true
	}
	assert.True(t, paths["payload.args"], "divergence at payload.args expected, got %v", paths)
}

func TestMissingEventsDetected(t *testing.T) {
	left := stream(3, "cmd")
	right := stream(5, "cmd")
	d := DiffRuns(left, right)
	require.False(t, d.Clean())

	missing := 0
	for _, div := range d.Divergences {
		if div.ChangeClass == EventMissingLeft {
			missing++
			assert.Equal(t, "$event", div.Path)
			assert.GreaterOrEqual(t, div.CommitIndex, uint64(3))
		}
	}
	assert.Equal(t, 2, missing)

	d2 := DiffRuns(right, left)
	for _, div := range d2.Divergences {
		assert.Equal(t, EventMissingRight, div.ChangeClass)
	}
}

func TestDivergencesDeterministicallyOrdered(t *testing.T) {
	left := stream(5, "cmd")
	right := stream(5, "other")
	d1 := DiffRuns(left, right)
	d2 := DiffRuns(left, right)
	require.Equal(t, d1.Divergences, d2.Divergences)

	// Ordered by commit_index, then path.
	for i := 1; i < len(d1.Divergences); i++ {
		prev, cur := d1.Divergences[i-1], d1.Divergences[i]
		if prev.CommitIndex == cur.CommitIndex {
			assert.LessOrEqual(t, prev.Path, cur.Path)
		} else {
			assert.Less(t, prev.CommitIndex, cur.CommitIndex)
		}
	}
}

func TestInputOrderIrrelevant(t *testing.T) {
	left := stream(4, "cmd")
	shuffled := []event.CommittedEvent{left[2], left[0], left[3], left[1]}
	d := DiffRuns(left, shuffled)
	assert.True(t, d.Clean(), "matching is by commit_index, not input position")
}

func TestSynthesizedFlagCompared(t *testing.T) {
	left := stream(1, "cmd")
	right := stream(1, "cmd")
	right[0].Synthesized = true
	d := DiffRuns(left, right)
	require.False(t, d.Clean())
	found := false
	for _, div := range d.Divergences {
		if div.Path == "synthesized" {
			found = true
			assert.Equal(t, "", div.LeftValue)
			assert.Equal(t, "true", div.RightValue)
		}
	}
	assert.True(t, found)
}
