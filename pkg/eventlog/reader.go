package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Mindburn-Labs/vifei/pkg/event"
)

// Read returns all committed events from the EventLog at path, in
// commit_index order.
//
// A trailing line without a terminating newline is treated as a partial
// write from a crashed writer and truncated (the honest-failure recovery
// path). Any other malformed line is a ParseError; a gap in the
// commit_index sequence is a CorruptionError.
func Read(path string) ([]event.CommittedEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes committed events from raw JSONL bytes, applying the same
// truncation and contiguity rules as Read.
func Parse(data []byte) ([]event.CommittedEvent, error) {
	// Drop a trailing partial line: only bytes up to the last newline are
	// committed truth.
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		data = data[:i+1]
	} else if len(data) > 0 {
		data = nil
	}

	var events []event.CommittedEvent
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineBytes+1)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		e, err := ParseLine(line)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Err: err}
		}
		if want := uint64(len(events)); e.CommitIndex != want {
			return nil, &CorruptionError{Line: lineNo, Got: e.CommitIndex, Want: want}
		}
		events = append(events, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: scan: %w", err)
	}
	return events, nil
}

// ParseLine decodes a single committed event line. Unknown fields are
// rejected so a foreign record cannot masquerade as committed truth.
func ParseLine(line []byte) (event.CommittedEvent, error) {
	var e event.CommittedEvent
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&e); err != nil {
		return event.CommittedEvent{}, err
	}
	if !e.Tier.Valid() {
		return event.CommittedEvent{}, fmt.Errorf("field tier: invalid value %q", e.Tier)
	}
	if e.Payload.Type == "" {
		return event.CommittedEvent{}, fmt.Errorf("field payload.type: missing")
	}
	return e, nil
}

// ReadFrom returns the committed suffix starting at commit_index from.
// Readers see committed suffixes only; the writer's in-flight line is never
// visible because appends are whole-line writes.
func ReadFrom(path string, from uint64) ([]event.CommittedEvent, error) {
	events, err := Read(path)
	if err != nil {
		return nil, err
	}
	if from >= uint64(len(events)) {
		return nil, nil
	}
	return events[from:], nil
}
