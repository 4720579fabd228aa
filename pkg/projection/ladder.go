// Package projection implements the deterministic State → ViewModel
// projection and the degradation ladder vocabulary it confesses through.
package projection

import (
	"encoding/json"
	"fmt"
)

// LadderLevel is a position on the degradation ladder. Lower levels are
// healthier; L0 < L1 < ... < L5. Escalation moves one level at a time,
// except fatal storage failures which jump directly to L5.
type LadderLevel int

const (
	// L0 Normal: 1:1 events rendered.
	L0 LadderLevel = iota
	// L1 Aggregate: bin Tier B/C. Tier A stays 1:1.
	L1
	// L2 Collapse: collapse Tier B/C to counts/histograms.
	L2
	// L3 Reduce fidelity: fewer redraws.
	L3
	// L4 Freeze UI: non-HUD panes frozen; HUD live.
	L4
	// L5 Safe stop: ingest halted; last-known-good readable.
	L5
)

// Levels lists all ladder levels from healthiest to most degraded.
var Levels = []LadderLevel{L0, L1, L2, L3, L4, L5}

func (l LadderLevel) String() string {
	if l < L0 || l > L5 {
		return fmt.Sprintf("L?(%d)", int(l))
	}
	return fmt.Sprintf("L%d", int(l))
}

// ParseLadderLevel parses "L0".."L5".
func ParseLadderLevel(s string) (LadderLevel, error) {
	for _, l := range Levels {
		if s == l.String() {
			return l, nil
		}
	}
	return L0, fmt.Errorf("invalid ladder level %q: expected L0..L5", s)
}

// MarshalJSON serializes the level as its string form ("L0").
func (l LadderLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON parses the string form.
func (l *LadderLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLadderLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Normal reports whether this is healthy operation.
func (l LadderLevel) Normal() bool { return l == L0 }

// SafeFailure reports the L5 safe failure posture.
func (l LadderLevel) SafeFailure() bool { return l == L5 }

// UIFrozen reports whether non-HUD panes are frozen at this level.
func (l LadderLevel) UIFrozen() bool { return l >= L4 }

// ShouldAggregate reports whether Tier B/C events are binned.
func (l LadderLevel) ShouldAggregate() bool { return l >= L1 }

// ShouldCollapse reports whether Tier B/C collapse to counts.
func (l LadderLevel) ShouldCollapse() bool { return l >= L2 }

// Escalate returns the next more degraded level; L5 escalates to itself.
func (l LadderLevel) Escalate() LadderLevel {
	if l >= L5 {
		return L5
	}
	return l + 1
}

// Deescalate returns the next healthier level; L0 de-escalates to itself.
func (l LadderLevel) Deescalate() LadderLevel {
	if l <= L0 {
		return L0
	}
	return l - 1
}
