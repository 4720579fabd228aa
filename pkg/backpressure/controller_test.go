package backpressure

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/vifei/pkg/event"
	"github.com/Mindburn-Labs/vifei/pkg/projection"
)

// harness wires a controller to a fake queue, a fake clock, and an
// in-memory commit log.
type harness struct {
	mu        sync.Mutex
	depth     int
	capacity  int
	now       time.Time
	committed []event.CommittedEvent
	commitErr error
	next      uint64
	ctrl      *Controller
}

func newHarness() *harness {
	h := &harness{capacity: 100, now: time.Unix(1000, 0)}
	h.ctrl = New("run-1",
		func(ev event.ImportEvent) (event.CommittedEvent, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			if h.commitErr != nil {
				return event.CommittedEvent{}, h.commitErr
			}
			c := event.Commit(ev, h.next)
			h.next++
			h.committed = append(h.committed, c)
			return c, nil
		},
		func() (int, int) {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.depth, h.capacity
		},
		WithClock(func() time.Time {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.now
		}))
	return h
}

func (h *harness) setPressure(p float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.depth = int(p * float64(h.capacity))
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

func TestRaiseAtThreshold(t *testing.T) {
	h := newHarness()
	h.setPressure(0.80)

	committed, err := h.ctrl.Tick()
	require.NoError(t, err)
	require.NotNil(t, committed)
	assert.Equal(t, projection.L1, h.ctrl.Level())

	p := committed.Payload
	assert.Equal(t, event.TypePolicyDecision, p.Type)
	assert.Equal(t, "L0", p.FromLevel)
	assert.Equal(t, "L1", p.ToLevel)
	assert.Equal(t, TriggerPressureExceeded, p.Trigger)
	assert.InDelta(t, 0.80, *p.QueuePressure, 1e-9)
	assert.Equal(t, event.TierA, committed.Tier)
	assert.True(t, committed.Synthesized)
}

func TestNoRaiseBelowThreshold(t *testing.T) {
	h := newHarness()
	h.setPressure(0.79)
	committed, err := h.ctrl.Tick()
	require.NoError(t, err)
	assert.Nil(t, committed)
	assert.Equal(t, projection.L0, h.ctrl.Level())
}

func TestEscalationOneLevelPerTick(t *testing.T) {
	h := newHarness()
	h.setPressure(0.95)
	for i, want := range []projection.LadderLevel{projection.L1, projection.L2, projection.L3, projection.L4} {
		_, err := h.ctrl.Tick()
		require.NoError(t, err)
		assert.Equal(t, want, h.ctrl.Level(), "tick %d", i)
	}
	// Pressure alone never reaches L5.
	committed, err := h.ctrl.Tick()
	require.NoError(t, err)
	assert.Nil(t, committed)
	assert.Equal(t, projection.L4, h.ctrl.Level())
}

func TestRecoveryRequiresDwell(t *testing.T) {
	h := newHarness()
	h.setPressure(0.90)
	_, err := h.ctrl.Tick()
	require.NoError(t, err)
	require.Equal(t, projection.L1, h.ctrl.Level())

	h.setPressure(0.50)
	// First low tick only starts the dwell clock.
	committed, err := h.ctrl.Tick()
	require.NoError(t, err)
	assert.Nil(t, committed)
	assert.Equal(t, projection.L1, h.ctrl.Level())

	// Still inside the dwell window.
	h.advance(Dwell - time.Millisecond)
	committed, err = h.ctrl.Tick()
	require.NoError(t, err)
	assert.Nil(t, committed)

	// Dwell satisfied: one step down.
	h.advance(time.Millisecond)
	committed, err = h.ctrl.Tick()
	require.NoError(t, err)
	require.NotNil(t, committed)
	assert.Equal(t, projection.L0, h.ctrl.Level())
	assert.Equal(t, TriggerPressureRecovered, committed.Payload.Trigger)
}

func TestMidBandResetsDwell(t *testing.T) {
	h := newHarness()
	h.setPressure(0.90)
	_, err := h.ctrl.Tick()
	require.NoError(t, err)

	h.setPressure(0.40)
	_, err = h.ctrl.Tick() // dwell starts
	require.NoError(t, err)
	h.advance(Dwell)

	// A spike into the mid band resets the dwell.
	h.setPressure(0.60)
	_, err = h.ctrl.Tick()
	require.NoError(t, err)

	h.setPressure(0.40)
	_, err = h.ctrl.Tick()
	require.NoError(t, err)
	committed, err := h.ctrl.Tick()
	require.NoError(t, err)
	assert.Nil(t, committed, "dwell must restart after a mid-band excursion")
	assert.Equal(t, projection.L1, h.ctrl.Level())
}

func TestRecoveryStepwiseWithDwellEachStep(t *testing.T) {
	h := newHarness()
	h.setPressure(0.95)
	for i := 0; i < 3; i++ {
		_, err := h.ctrl.Tick()
		require.NoError(t, err)
	}
	require.Equal(t, projection.L3, h.ctrl.Level())

	h.setPressure(0.10)
	_, err := h.ctrl.Tick() // start dwell
	require.NoError(t, err)
	for want := projection.L2; want >= projection.L0; want-- {
		h.advance(Dwell)
		_, err := h.ctrl.Tick()
		require.NoError(t, err)
		assert.Equal(t, want, h.ctrl.Level())
		if want == projection.L0 {
			break
		}
	}
}

func TestCommitFailureLeavesLevelUnchanged(t *testing.T) {
	h := newHarness()
	h.commitErr = errors.New("writer down")
	h.setPressure(0.95)

	_, err := h.ctrl.Tick()
	require.Error(t, err)
	assert.Equal(t, projection.L0, h.ctrl.Level(),
		"the new level must not be observable before its decision event is committed")
}

func TestFailSafeJumpsToL5(t *testing.T) {
	h := newHarness()
	committed := h.ctrl.FailSafe("append_failure")
	require.NotNil(t, committed)
	assert.Equal(t, projection.L5, h.ctrl.Level())
	assert.Equal(t, "L0", committed.Payload.FromLevel)
	assert.Equal(t, "L5", committed.Payload.ToLevel)
	assert.Equal(t, "append_failure", committed.Payload.Trigger)

	// Safe stop is terminal: further ticks never transition.
	h.setPressure(0.99)
	again, err := h.ctrl.Tick()
	require.NoError(t, err)
	assert.Nil(t, again)
	assert.Equal(t, projection.L5, h.ctrl.Level())
}

func TestFailSafeBestEffortWhenWriterDead(t *testing.T) {
	h := newHarness()
	h.commitErr = errors.New("writer down")
	committed := h.ctrl.FailSafe("append_failure")
	assert.Nil(t, committed)
	assert.Equal(t, projection.L5, h.ctrl.Level(),
		"truth preservation beats bookkeeping: the level still changes")
}

func TestOverBudgetCapsAtL4(t *testing.T) {
	h := newHarness()
	for i := 0; i < 6; i++ {
		_, err := h.ctrl.OverBudget(40 * time.Millisecond)
		require.NoError(t, err)
	}
	assert.Equal(t, projection.L4, h.ctrl.Level(), "projection overbudget drives the ladder, never L5")
}

func TestEveryTransitionHasMatchingDecisionEvent(t *testing.T) {
	h := newHarness()
	h.setPressure(0.90)
	for i := 0; i < 4; i++ {
		_, err := h.ctrl.Tick()
		require.NoError(t, err)
	}
	h.setPressure(0.10)
	_, err := h.ctrl.Tick()
	require.NoError(t, err)
	h.advance(Dwell)
	_, err = h.ctrl.Tick()
	require.NoError(t, err)

	require.Len(t, h.committed, 5)
	wantPairs := [][2]string{{"L0", "L1"}, {"L1", "L2"}, {"L2", "L3"}, {"L3", "L4"}, {"L4", "L3"}}
	for i, c := range h.committed {
		assert.Equal(t, uint64(i), c.CommitIndex)
		assert.Equal(t, wantPairs[i][0], c.Payload.FromLevel)
		assert.Equal(t, wantPairs[i][1], c.Payload.ToLevel)
	}
}

func TestPressureClamped(t *testing.T) {
	h := newHarness()
	h.mu.Lock()
	h.depth = 250 // over capacity
	h.mu.Unlock()
	assert.Equal(t, 1.0, h.ctrl.Pressure())

	h.mu.Lock()
	h.capacity = 0
	h.mu.Unlock()
	assert.Equal(t, 0.0, h.ctrl.Pressure())
}
