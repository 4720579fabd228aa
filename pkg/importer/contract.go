// Package importer implements the typed intake boundary: source-format
// adapters that produce uncommitted events in source order.
//
// Adapters never assign commit_index (the ImportEvent shape has no such
// field), never sort by timestamp, and mark every inferred field with
// synthesized:true.
package importer

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/Mindburn-Labs/vifei/pkg/event"
)

// Contract and schema version constants, stable for tests and docs.
const (
	AdapterContractVersion     = "adapter-contract-v1"
	AgentCassetteSchemaVersion = "agent-cassette-v1"
)

// runIDNamespace scopes deterministic fallback run identities.
var runIDNamespace = uuid.NameSpaceDNS

// NormalizeRunID returns the run identity, synthesizing a deterministic
// UUIDv5 of the source name when the raw value is absent. The second
// return is true when a fallback was used.
func NormalizeRunID(raw, sourceName string) (string, bool) {
	if raw != "" {
		return raw, false
	}
	return uuid.NewSHA1(runIDNamespace, []byte("vifei-run:"+sourceName)).String(), true
}

// NormalizeEventID returns the event identity, using fallback when absent.
// The second return is true when a fallback was used.
func NormalizeEventID(raw, fallback string) (string, bool) {
	if raw != "" {
		return raw, false
	}
	return fallback, true
}

// ValidateSchemaVersion accepts an absent source schema version (legacy
// fixtures) and rejects a mismatched one.
func ValidateSchemaVersion(sourceValue, expected string) error {
	if sourceValue == "" || sourceValue == expected {
		return nil
	}
	return fmt.Errorf("schema_version mismatch: expected %s, got %s", expected, sourceValue)
}

// RejectSourceCommitIndex rejects a source-provided commit index:
// canonical ordering belongs to the append writer alone. A source record
// carrying one is a contract violation.
func RejectSourceCommitIndex(commitIndex *uint64) error {
	if commitIndex == nil {
		return nil
	}
	return fmt.Errorf("source provided forbidden commit_index=%d; canonical commit_index is append-writer-assigned", *commitIndex)
}

// ContractErrorPayload builds the Tier A Error payload for a contract
// violation.
func ContractErrorPayload(message string) (event.Payload, event.Tier) {
	return event.ErrorPayload("contract", message, "error"), event.TierA
}
