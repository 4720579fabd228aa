package tour

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/vifei/pkg/projection"
	"github.com/Mindburn-Labs/vifei/pkg/reduce"
)

// Metrics is the metrics.json proof artifact. Every field is derivable
// from committed truth; the transitions list mirrors the PolicyDecision
// events in the log, in commit order.
type Metrics struct {
	ProjectionInvariantsVersion string       `json:"projection_invariants_version"`
	EventCountTotal             int          `json:"event_count_total"`
	TierADrops                  uint64       `json:"tier_a_drops"`
	MaxDegradationLevel         string       `json:"max_degradation_level"`
	DegradationLevelFinal       string       `json:"degradation_level_final"`
	DegradationTransitions      []Transition `json:"degradation_transitions"`
	AggregationMode             string       `json:"aggregation_mode"`
	AggregationBinSize          *uint64      `json:"aggregation_bin_size"`
	QueuePressure               float64      `json:"queue_pressure"`
	ExportSafetyState           string       `json:"export_safety_state"`
}

// Transition is one recorded ladder move.
type Transition struct {
	FromLevel     string  `json:"from_level"`
	ToLevel       string  `json:"to_level"`
	Trigger       string  `json:"trigger"`
	QueuePressure float64 `json:"queue_pressure"`
}

// metricsSchema pins the metrics.json contract; the artifact is validated
// against it before being written, so a drifting field fails the run
// instead of silently breaking downstream assertions.
const metricsSchema = `{
  "type": "object",
  "required": [
    "projection_invariants_version", "event_count_total", "tier_a_drops",
    "max_degradation_level", "degradation_level_final",
    "degradation_transitions", "aggregation_mode", "aggregation_bin_size",
    "queue_pressure", "export_safety_state"
  ],
  "properties": {
    "projection_invariants_version": {"type": "string"},
    "event_count_total": {"type": "integer", "minimum": 0},
    "tier_a_drops": {"type": "integer", "minimum": 0},
    "max_degradation_level": {"type": "string", "pattern": "^L[0-5]$"},
    "degradation_level_final": {"type": "string", "pattern": "^L[0-5]$"},
    "degradation_transitions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["from_level", "to_level", "trigger", "queue_pressure"],
        "properties": {
          "from_level": {"type": "string", "pattern": "^L[0-5]$"},
          "to_level": {"type": "string", "pattern": "^L[0-5]$"},
          "trigger": {"type": "string"},
          "queue_pressure": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    },
    "aggregation_mode": {"type": "string"},
    "aggregation_bin_size": {"type": ["integer", "null"]},
    "queue_pressure": {"type": "number", "minimum": 0, "maximum": 1},
    "export_safety_state": {"enum": ["UNKNOWN", "CLEAN", "DIRTY", "REFUSED"]}
  }
}`

var compiledMetricsSchema = jsonschema.MustCompileString("metrics.schema.json", metricsSchema)

// buildMetrics derives the metrics artifact from the reduced state and the
// projected view model.
func buildMetrics(state *reduce.State, vm *projection.ViewModel, committedEventCount int) *Metrics {
	transitions := make([]Transition, 0, len(state.PolicyDecisions))
	maxLevel := vm.DegradationLevel.String()
	for _, pd := range state.PolicyDecisions {
		transitions = append(transitions, Transition{
			FromLevel:     pd.FromLevel,
			ToLevel:       pd.ToLevel,
			Trigger:       pd.Trigger,
			QueuePressure: float64(pd.QueuePressureMicro) / projection.PressureScale,
		})
		if pd.ToLevel > maxLevel {
			maxLevel = pd.ToLevel
		}
	}

	return &Metrics{
		ProjectionInvariantsVersion: vm.ProjectionInvariantsVersion,
		EventCountTotal:             committedEventCount,
		TierADrops:                  vm.TierADrops,
		MaxDegradationLevel:         maxLevel,
		DegradationLevelFinal:       vm.DegradationLevel.String(),
		DegradationTransitions:      transitions,
		AggregationMode:             vm.AggregationMode,
		AggregationBinSize:          vm.AggregationBinSize,
		QueuePressure:               vm.QueuePressure(),
		ExportSafetyState:           string(vm.ExportSafetyState),
	}
}

// validate checks the metrics value against the pinned schema.
func (m *Metrics) validate() error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("tour: metrics marshal: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("tour: metrics decode: %w", err)
	}
	if err := compiledMetricsSchema.Validate(v); err != nil {
		return fmt.Errorf("tour: metrics.json violates schema contract: %w", err)
	}
	return nil
}
