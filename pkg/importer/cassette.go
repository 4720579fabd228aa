package importer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Mindburn-Labs/vifei/pkg/canonical"
	"github.com/Mindburn-Labs/vifei/pkg/event"
)

// CassetteSourceID identifies events produced by the Agent Cassette
// importer.
const CassetteSourceID = "agent-cassette"

// Agent Cassette JSONL: one JSON object per line with at minimum a "type"
// field. Recognized types map to Tier A payloads; unknown types fall back
// to Generic Tier B. Malformed lines become Tier A Error events — the
// parse never aborts, and source order is preserved exactly.
//
//	session_start → RunStart   (A)
//	session_end   → RunEnd     (A)
//	tool_use      → ToolCall   (A)
//	tool_result   → ToolResult (A)
//	error         → Error      (A)
//	(other)       → Generic    (B)
//
// The cassette format has no sequence field, so source_seq is always
// synthesized; every event from this importer is synthesized:true.
type cassetteRecord struct {
	Type          string          `json:"type"`
	SchemaVersion string          `json:"schema_version"`
	SessionID     string          `json:"session_id"`
	ID            string          `json:"id"`
	CommitIndex   *uint64         `json:"commit_index"`
	Timestamp     string          `json:"timestamp"`
	Agent         string          `json:"agent"`
	Model         string          `json:"model"`
	Tool          string          `json:"tool"`
	Args          json.RawMessage `json:"args"`
	Result        json.RawMessage `json:"result"`
	Status        string          `json:"status"`
	ExitCode      *int            `json:"exit_code"`
	Reason        string          `json:"reason"`
	Kind          string          `json:"kind"`
	Message       string          `json:"message"`
	Severity      string          `json:"severity"`
}

// ParseCassette reads an Agent Cassette JSONL stream into uncommitted
// events in source order.
func ParseCassette(r io.Reader) []event.ImportEvent {
	var events []event.ImportEvent
	var seq uint64

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec cassetteRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			events = append(events, errorEvent(seq, fmt.Sprintf("malformed JSON at line %d: %v", lineNo, err)))
			seq++
			continue
		}
		if err := ValidateSchemaVersion(rec.SchemaVersion, AgentCassetteSchemaVersion); err != nil {
			events = append(events, errorEvent(seq, fmt.Sprintf("line %d: %v", lineNo, err)))
			seq++
			continue
		}
		if err := RejectSourceCommitIndex(rec.CommitIndex); err != nil {
			events = append(events, errorEvent(seq, fmt.Sprintf("line %d: %v", lineNo, err)))
			seq++
			continue
		}

		events = append(events, mapRecord(&rec, seq))
		seq++
	}
	if err := sc.Err(); err != nil {
		events = append(events, errorEvent(seq, fmt.Sprintf("read failure after line %d: %v", lineNo, err)))
	}
	return events
}

func mapRecord(rec *cassetteRecord, seq uint64) event.ImportEvent {
	runID, _ := NormalizeRunID(rec.SessionID, CassetteSourceID)
	eventID, _ := NormalizeEventID(rec.ID, fmt.Sprintf("%s:%d", CassetteSourceID, seq))
	tsNS, _ := parseTimestampNS(rec.Timestamp, seq)

	var payload event.Payload
	tier := event.TierA
	switch rec.Type {
	case "session_start":
		agent := rec.Agent
		if agent == "" {
			agent = rec.Model
		}
		payload = event.RunStart(agent, rawToString(rec.Args))
	case "session_end":
		payload = event.RunEnd(rec.ExitCode, rec.Reason)
	case "tool_use":
		payload = event.ToolCall(rec.Tool, rawToString(rec.Args))
	case "tool_result":
		payload = event.ToolResult(rec.Tool, rawToString(rec.Result), rec.Status)
	case "error":
		kind := rec.Kind
		if kind == "" {
			kind = "source"
		}
		payload = event.ErrorPayload(kind, rec.Message, rec.Severity)
	default:
		data := map[string]string{}
		if rec.Tool != "" {
			data["tool"] = rec.Tool
		}
		if rec.Status != "" {
			data["status"] = rec.Status
		}
		if s := rawToString(rec.Args); s != "" {
			data["args"] = s
		}
		name := rec.Type
		if name == "" {
			name = "Unknown"
		}
		payload = event.Generic(name, data)
		tier = event.TierB
	}

	return event.ImportEvent{
		RunID:       runID,
		EventID:     eventID,
		SourceID:    CassetteSourceID,
		SourceSeq:   event.Uint64(seq), // always our invention for this format
		TimestampNS: tsNS,
		Tier:        tier,
		Payload: payload,
		// The sequence number is our invention, so every cassette event
		// is synthesized even when identity and timestamp were observed.
		Synthesized: true,
	}
}

func errorEvent(seq uint64, message string) event.ImportEvent {
	payload, tier := ContractErrorPayload(message)
	return event.ImportEvent{
		RunID:       mustFallbackRunID(),
		EventID:     fmt.Sprintf("%s:%d", CassetteSourceID, seq),
		SourceID:    CassetteSourceID,
		SourceSeq:   event.Uint64(seq),
		Tier:        tier,
		Payload:     payload,
		Synthesized: true,
	}
}

func mustFallbackRunID() string {
	id, _ := NormalizeRunID("", CassetteSourceID)
	return id
}

// parseTimestampNS converts an ISO 8601 timestamp to nanoseconds. An
// unparseable or absent timestamp synthesizes a monotone stand-in from the
// record position — deterministic, and honestly marked.
func parseTimestampNS(ts string, seq uint64) (uint64, bool) {
	if ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil && t.Unix() >= 0 {
			return uint64(t.UnixNano()), false
		}
	}
	return seq + 1, true
}

// rawToString renders a raw source JSON value as a canonical string.
// Objects and arrays re-serialize with sorted keys and source-exact
// numbers; plain strings shed their quotes.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return string(raw)
	}
	out, err := canonical.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}
