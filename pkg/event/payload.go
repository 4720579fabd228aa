package event

import "sort"

// Payload type names as they appear in the JSON "type" field.
const (
	TypeRunStart          = "RunStart"
	TypeRunEnd            = "RunEnd"
	TypeToolCall          = "ToolCall"
	TypeToolResult        = "ToolResult"
	TypePolicyDecision    = "PolicyDecision"
	TypeRedactionApplied  = "RedactionApplied"
	TypeError             = "Error"
	TypeClockSkewDetected = "ClockSkewDetected"
	TypeGeneric           = "Generic"
)

// Payload is the tagged event payload. Type names the variant; the variant
// fields below it are populated per the constructors and omitted from JSON
// when unset, so each variant serializes with a stable field set in a
// stable order.
//
// Numeric fields that must serialize when zero (queue_pressure, the skew
// nanosecond triple, exit_code) are pointers.
//
// Data uses a plain map: encoding/json emits map keys sorted, which keeps
// Generic payloads byte-stable.
type Payload struct {
	Type string `json:"type"`

	// RunStart
	Agent string `json:"agent,omitempty"`
	// RunStart command line; also ToolCall arguments. Omitted when the
	// content was offloaded via payload_ref.
	Args string `json:"args,omitempty"`

	// RunEnd
	ExitCode *int   `json:"exit_code,omitempty"`
	Reason   string `json:"reason,omitempty"`

	// ToolCall / ToolResult
	Tool   string `json:"tool,omitempty"`
	Result string `json:"result,omitempty"`
	Status string `json:"status,omitempty"`

	// PolicyDecision
	FromLevel string `json:"from_level,omitempty"`
	ToLevel   string `json:"to_level,omitempty"`
	Trigger   string `json:"trigger,omitempty"`
	// QueuePressure is the normalized pressure ratio in [0, 1]. The only
	// float in any payload; floats are permitted in event payloads
	// (shortest round-trip formatting) and quantized before entering any
	// hashed structure.
	QueuePressure *float64 `json:"queue_pressure,omitempty"`

	// RedactionApplied
	TargetEventID string `json:"target_event_id,omitempty"`
	FieldPath     string `json:"field_path,omitempty"`

	// Error
	Kind     string `json:"kind,omitempty"`
	Message  string `json:"message,omitempty"`
	Severity string `json:"severity,omitempty"`

	// ClockSkewDetected
	ExpectedNS *uint64 `json:"expected_ns,omitempty"`
	ActualNS   *uint64 `json:"actual_ns,omitempty"`
	DeltaNS    *uint64 `json:"delta_ns,omitempty"`

	// Generic
	EventType string            `json:"event_type,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
}

// RunStart builds a RunStart payload.
func RunStart(agent, args string) Payload {
	return Payload{Type: TypeRunStart, Agent: agent, Args: args}
}

// RunEnd builds a RunEnd payload. exitCode may be nil.
func RunEnd(exitCode *int, reason string) Payload {
	return Payload{Type: TypeRunEnd, ExitCode: exitCode, Reason: reason}
}

// ToolCall builds a ToolCall payload.
func ToolCall(tool, args string) Payload {
	return Payload{Type: TypeToolCall, Tool: tool, Args: args}
}

// ToolResult builds a ToolResult payload.
func ToolResult(tool, result, status string) Payload {
	return Payload{Type: TypeToolResult, Tool: tool, Result: result, Status: status}
}

// PolicyDecision builds a PolicyDecision payload for a ladder transition.
func PolicyDecision(fromLevel, toLevel, trigger string, queuePressure float64) Payload {
	return Payload{
		Type:          TypePolicyDecision,
		FromLevel:     fromLevel,
		ToLevel:       toLevel,
		Trigger:       trigger,
		QueuePressure: Float64(queuePressure),
	}
}

// RedactionApplied builds a RedactionApplied payload.
func RedactionApplied(targetEventID, fieldPath, reason string) Payload {
	return Payload{
		Type:          TypeRedactionApplied,
		TargetEventID: targetEventID,
		FieldPath:     fieldPath,
		Reason:        reason,
	}
}

// ErrorPayload builds an Error payload.
func ErrorPayload(kind, message, severity string) Payload {
	return Payload{Type: TypeError, Kind: kind, Message: message, Severity: severity}
}

// ClockSkewDetected builds a ClockSkewDetected payload. deltaNS is the
// backward delta (expected - actual), always positive.
func ClockSkewDetected(expectedNS, actualNS, deltaNS uint64) Payload {
	return Payload{
		Type:       TypeClockSkewDetected,
		ExpectedNS: Uint64(expectedNS),
		ActualNS:   Uint64(actualNS),
		DeltaNS:    Uint64(deltaNS),
	}
}

// Generic builds a Generic payload for event types outside the Tier A set.
func Generic(eventType string, data map[string]string) Payload {
	return Payload{Type: TypeGeneric, EventType: eventType, Data: data}
}

// TierATypes lists the payload types that carry forensic Tier A semantics.
var TierATypes = []string{
	TypeRunStart,
	TypeRunEnd,
	TypeToolCall,
	TypeToolResult,
	TypePolicyDecision,
	TypeRedactionApplied,
	TypeError,
	TypeClockSkewDetected,
}

// Stripped returns a copy of the payload with the offloadable content
// fields cleared. The append writer uses this when the serialized payload
// exceeds the inline threshold: the full payload bytes move to the blob
// store and the inline payload keeps only its type and small scalars.
func (p Payload) Stripped() Payload {
	out := p
	out.Args = ""
	out.Result = ""
	out.Data = nil
	return out
}

// StringFields returns the scannable string fields of the payload as
// field-name → value pairs, in a fixed order. Dot paths for refusal
// reports are built by prefixing "payload.". Generic data entries appear
// as "data.<key>".
func (p Payload) StringFields() []Field {
	fields := []Field{
		{"agent", p.Agent},
		{"args", p.Args},
		{"reason", p.Reason},
		{"tool", p.Tool},
		{"result", p.Result},
		{"status", p.Status},
		{"trigger", p.Trigger},
		{"message", p.Message},
	}
	out := fields[:0]
	for _, f := range fields {
		if f.Value != "" {
			out = append(out, f)
		}
	}
	// Sorted map iteration keeps the scan order deterministic.
	for _, k := range sortedKeys(p.Data) {
		out = append(out, Field{"data." + k, p.Data[k]})
	}
	return out
}

// Field is a named string field of a payload.
type Field struct {
	Name  string
	Value string
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
