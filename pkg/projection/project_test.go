package projection

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/vifei/pkg/event"
	"github.com/Mindburn-Labs/vifei/pkg/reduce"
)

func reducedState(n int) *reduce.State {
	s := reduce.NewState()
	for i := 0; i < n; i++ {
		e := event.Commit(event.ImportEvent{
			RunID:       "run-1",
			EventID:     fmt.Sprintf("e-%d", i),
			SourceID:    "test",
			TimestampNS: uint64(i + 1),
			Tier:        event.TierA,
			Payload:     event.ToolCall("bash", "x"),
		}, uint64(i))
		reduce.ReduceInPlace(s, &e)
	}
	return s
}

func TestLadderOrderingAndTransitions(t *testing.T) {
	assert.True(t, L0 < L1 && L1 < L2 && L2 < L3 && L3 < L4 && L4 < L5)
	assert.Equal(t, L1, L0.Escalate())
	assert.Equal(t, L5, L5.Escalate())
	assert.Equal(t, L0, L0.Deescalate())
	assert.Equal(t, L4, L5.Deescalate())
	assert.True(t, L5.SafeFailure())
	assert.True(t, L4.UIFrozen())
	assert.False(t, L3.UIFrozen())
	assert.True(t, L1.ShouldAggregate())
	assert.False(t, L0.ShouldAggregate())
	assert.True(t, L2.ShouldCollapse())
}

func TestLadderLevelJSON(t *testing.T) {
	raw, err := json.Marshal(L3)
	require.NoError(t, err)
	assert.Equal(t, `"L3"`, string(raw))

	var l LadderLevel
	require.NoError(t, json.Unmarshal([]byte(`"L5"`), &l))
	assert.Equal(t, L5, l)
	assert.Error(t, json.Unmarshal([]byte(`"L9"`), &l))
}

func TestParseLadderLevel(t *testing.T) {
	for _, l := range Levels {
		got, err := ParseLadderLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
	_, err := ParseLadderLevel("normal")
	assert.Error(t, err)
}

func TestProjectAggregationPerLevel(t *testing.T) {
	s := reducedState(5)
	cases := []struct {
		level LadderLevel
		mode  string
		bin   *uint64
	}{
		{L0, "1:1", nil},
		{L1, "10:1", event.Uint64(10)},
		{L2, "collapsed", nil},
		{L3, "collapsed", nil},
		{L4, "collapsed", nil},
		{L5, "frozen", nil},
	}
	for _, tc := range cases {
		vm := Project(s, NewInvariants().WithLevel(tc.level))
		assert.Equal(t, tc.mode, vm.AggregationMode, tc.level.String())
		if tc.bin == nil {
			assert.Nil(t, vm.AggregationBinSize, tc.level.String())
		} else {
			require.NotNil(t, vm.AggregationBinSize)
			assert.Equal(t, *tc.bin, *vm.AggregationBinSize)
		}
		assert.Equal(t, tc.level, vm.DegradationLevel)
	}
}

func TestProjectTierASummaries(t *testing.T) {
	s := reducedState(3)
	vm := Project(s, NewInvariants())
	assert.Equal(t, uint64(3), vm.TierASummaries["ToolCall"])
	_, present := vm.TierASummaries["RunStart"]
	assert.False(t, present, "zero counts are omitted, never fabricated")
}

func TestProjectPressureFromLastPolicyDecision(t *testing.T) {
	s := reducedState(1)
	pd := event.Commit(event.ImportEvent{
		RunID: "run-1", EventID: "p-0", SourceID: "backpressure",
		TimestampNS: 10, Tier: event.TierA,
		Payload: event.PolicyDecision("L0", "L1", "t", 0.85),
	}, 1)
	reduce.ReduceInPlace(s, &pd)

	vm := Project(s, NewInvariants())
	assert.Equal(t, int64(850_000), vm.QueuePressureFixed)
	assert.InDelta(t, 0.85, vm.QueuePressure(), 1e-6)
}

func TestProjectWithPressureOverride(t *testing.T) {
	vm := ProjectWithPressure(reducedState(1), NewInvariants(), 0.42)
	assert.Equal(t, int64(420_000), vm.QueuePressureFixed)
}

func TestQuantizePressureFixedClamps(t *testing.T) {
	assert.Equal(t, int64(0), QuantizePressureFixed(-1))
	assert.Equal(t, int64(1_000_000), QuantizePressureFixed(2))
	assert.Equal(t, int64(500_000), QuantizePressureFixed(0.5))
}

func TestHashStableAndSensitive(t *testing.T) {
	s := reducedState(10)
	inv := NewInvariants()
	vm1 := Project(s, inv)
	vm2 := Project(s, inv)
	assert.Equal(t, Hash(&vm1), Hash(&vm2))
	assert.Len(t, Hash(&vm1), 64)
	assert.Equal(t, strings.ToLower(Hash(&vm1)), Hash(&vm1))

	vm3 := Project(s, inv.WithLevel(L2))
	assert.NotEqual(t, Hash(&vm1), Hash(&vm3))

	vm4 := vm1
	vm4.ProjectionInvariantsVersion = "projection-invariants-v9.9"
	assert.NotEqual(t, Hash(&vm1), Hash(&vm4), "invariants version must shift the hash")
}

func TestHashLineNewlineTerminated(t *testing.T) {
	vm := NewViewModel()
	line := HashLine(&vm)
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.Equal(t, Hash(&vm)+"\n", line)
}

func TestViewModelSerializedSurface(t *testing.T) {
	vm := NewViewModel()
	raw, err := json.Marshal(vm)
	require.NoError(t, err)
	js := string(raw)
	for _, field := range []string{
		"tier_a_summaries", "aggregation_mode", "aggregation_bin_size",
		"degradation_level", "queue_pressure_fixed", "tier_a_drops",
		"synthesized_events", "export_safety_state", "projection_invariants_version",
	} {
		assert.Contains(t, js, `"`+field+`"`)
	}
	// UI-only state never enters the hashed surface.
	for _, banned := range []string{"terminal", "focus", "cursor", "wall_clock", "random"} {
		assert.NotContains(t, js, banned)
	}
}

func TestExportSafetyStateParse(t *testing.T) {
	for _, s := range []ExportSafetyState{ExportUnknown, ExportClean, ExportDirty, ExportRefused} {
		got, err := ParseExportSafetyState(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseExportSafetyState("clean")
	assert.Error(t, err)
	assert.True(t, ExportDirty.HasSecrets())
	assert.True(t, ExportRefused.HasSecrets())
	assert.False(t, ExportClean.HasSecrets())
}

func TestViewModelHashNormalizationInvariant(t *testing.T) {
	// The same run recorded with precomposed and combining spellings of
	// identical text must project to the same viewmodel_hash.
	build := func(runID string) *reduce.State {
		s := reduce.NewState()
		e := event.Commit(event.ImportEvent{
			RunID: runID, EventID: "e-0", SourceID: "s", TimestampNS: 1,
			Tier: event.TierA, Payload: event.RunStart("agent", "go"),
		}, 0)
		reduce.ReduceInPlace(s, &e)
		return s
	}
	s1 := build("caf\u00e9-run")
	s2 := build("cafe\u0301-run")

	vm1 := Project(s1, NewInvariants())
	vm2 := Project(s2, NewInvariants())
	assert.Equal(t, Hash(&vm1), Hash(&vm2))
	assert.Equal(t, reduce.StateHash(s1), reduce.StateHash(s2))
}

func TestSynthesizedEventsSurfaced(t *testing.T) {
	s := reduce.NewState()
	e := event.Commit(event.ImportEvent{
		RunID: "r", EventID: "e", SourceID: "s", TimestampNS: 1,
		Tier: event.TierA, Payload: event.RunStart("a", ""), Synthesized: true,
	}, 0)
	reduce.ReduceInPlace(s, &e)
	vm := Project(s, NewInvariants())
	assert.Equal(t, uint64(1), vm.SynthesizedEvents)
}
