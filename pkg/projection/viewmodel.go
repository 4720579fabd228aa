package projection

import "fmt"

// ExportSafetyState is the HUD confession of whether the log is safe to
// share.
type ExportSafetyState string

const (
	// ExportUnknown: safety has not been evaluated.
	ExportUnknown ExportSafetyState = "UNKNOWN"
	// ExportClean: a scan found no secrets.
	ExportClean ExportSafetyState = "CLEAN"
	// ExportDirty: secrets were detected.
	ExportDirty ExportSafetyState = "DIRTY"
	// ExportRefused: an export was attempted and refused.
	ExportRefused ExportSafetyState = "REFUSED"
)

// ParseExportSafetyState parses the HUD string forms.
func ParseExportSafetyState(s string) (ExportSafetyState, error) {
	switch ExportSafetyState(s) {
	case ExportUnknown, ExportClean, ExportDirty, ExportRefused:
		return ExportSafetyState(s), nil
	}
	return "", fmt.Errorf("invalid export safety state %q: expected UNKNOWN, CLEAN, DIRTY, or REFUSED", s)
}

// HasSecrets reports whether the state implies detected secrets.
func (s ExportSafetyState) HasSecrets() bool {
	return s == ExportDirty || s == ExportRefused
}

// PressureScale converts queue pressure to fixed-point millionths.
// Floats are forbidden in hashed structures; the ViewModel carries
// queue_pressure_fixed = clamp(p, 0, 1) * 1_000_000 truncated.
const PressureScale = 1_000_000

// ViewModel is the hashable projection output: everything a renderer needs
// plus the HUD confession fields. Terminal dimensions, focus/cursor state,
// wall clock, and randomness are excluded by construction — they never
// enter this struct.
type ViewModel struct {
	// TierASummaries counts Tier A events by type name.
	TierASummaries map[string]uint64 `json:"tier_a_summaries"`
	// AggregationMode describes Tier B/C summarization: "1:1", "10:1",
	// "collapsed", "frozen".
	AggregationMode string `json:"aggregation_mode"`
	// AggregationBinSize is the bin size when aggregating, nil for 1:1.
	AggregationBinSize *uint64 `json:"aggregation_bin_size"`
	// DegradationLevel is the current ladder level.
	DegradationLevel LadderLevel `json:"degradation_level"`
	// QueuePressureFixed is queue pressure in millionths.
	QueuePressureFixed int64 `json:"queue_pressure_fixed"`
	// TierADrops must be 0; the HUD shows it so a breach is loud.
	TierADrops uint64 `json:"tier_a_drops"`
	// SynthesizedEvents counts events carrying inferred fields, so
	// forensic views can distinguish them from observed truth.
	SynthesizedEvents uint64 `json:"synthesized_events"`
	// ExportSafetyState is the share-safety confession.
	ExportSafetyState ExportSafetyState `json:"export_safety_state"`
	// ProjectionInvariantsVersion traces which rule set produced this
	// ViewModel.
	ProjectionInvariantsVersion string `json:"projection_invariants_version"`
}

// NewViewModel returns an empty healthy ViewModel.
func NewViewModel() ViewModel {
	return ViewModel{
		TierASummaries:              map[string]uint64{},
		AggregationMode:             "1:1",
		DegradationLevel:            L0,
		ExportSafetyState:           ExportUnknown,
		ProjectionInvariantsVersion: InvariantsVersion,
	}
}

// QueuePressure converts the fixed-point field back to a float in [0,1].
func (vm *ViewModel) QueuePressure() float64 {
	return float64(vm.QueuePressureFixed) / PressureScale
}

// SetQueuePressure clamps and quantizes a live pressure reading.
func (vm *ViewModel) SetQueuePressure(p float64) {
	vm.QueuePressureFixed = QuantizePressureFixed(p)
}

// QuantizePressureFixed clamps p to [0,1] and truncates to millionths.
func QuantizePressureFixed(p float64) int64 {
	if p < 0 || p != p {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return int64(p * PressureScale)
}

// Healthy reports normal operation with zero Tier A drops.
func (vm *ViewModel) Healthy() bool {
	return vm.DegradationLevel.Normal() && vm.TierADrops == 0
}
