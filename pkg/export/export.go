package export

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/Mindburn-Labs/vifei/pkg/blob"
	"github.com/Mindburn-Labs/vifei/pkg/event"
)

// ReportVersion is the refusal report schema contract.
const ReportVersion = "refusal-v0.1"

// BlockedItem is one scanner finding that blocks export.
//
// BlobRef serializes as null for inline findings — the schema contract
// keeps the field present either way.
type BlockedItem struct {
	// EventID of the event holding (or first referencing) the secret.
	EventID string `json:"event_id"`
	// FieldPath is the dot path within the event ("payload.args"), or
	// "content" for a blob finding.
	FieldPath string `json:"field_path"`
	// MatchedPattern names the rule that fired ("aws_access_key").
	MatchedPattern string `json:"matched_pattern"`
	// BlobRef is set when the secret was found in a blob, null inline.
	BlobRef *string `json:"blob_ref"`
	// RedactedMatch is the finding rendered safely for display.
	RedactedMatch string `json:"redacted_match"`
}

// RefusalReport is written when export is blocked. blocked_items are
// stably sorted by (event_id, field_path, matched_pattern, blob_ref) for
// deterministic output; the scan timestamp is informational only and never
// enters any hash.
type RefusalReport struct {
	ReportVersion    string        `json:"report_version"`
	EventLogPath     string        `json:"eventlog_path"`
	BlockedItems     []BlockedItem `json:"blocked_items"`
	ScanTimestampUTC string        `json:"scan_timestamp_utc"`
	ScannerVersion   string        `json:"scanner_version"`
	Summary          string        `json:"summary"`
}

// NewRefusalReport sorts the items and assembles the report.
func NewRefusalReport(eventlogPath string, items []BlockedItem) *RefusalReport {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.EventID != b.EventID {
			return a.EventID < b.EventID
		}
		if a.FieldPath != b.FieldPath {
			return a.FieldPath < b.FieldPath
		}
		if a.MatchedPattern != b.MatchedPattern {
			return a.MatchedPattern < b.MatchedPattern
		}
		return deref(a.BlobRef) < deref(b.BlobRef)
	})

	locations := map[string]bool{}
	for _, item := range items {
		if item.BlobRef != nil {
			locations[*item.BlobRef] = true
		} else {
			locations[item.EventID] = true
		}
	}

	return &RefusalReport{
		ReportVersion:    ReportVersion,
		EventLogPath:     eventlogPath,
		BlockedItems:     items,
		ScanTimestampUTC: time.Now().UTC().Format(time.RFC3339),
		ScannerVersion:   ScannerVersion,
		Summary:          fmt.Sprintf("Export refused: %d secret(s) detected in %d location(s)", len(items), len(locations)),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// WriteTo writes the report as pretty-printed JSON.
func (r *RefusalReport) WriteTo(path string) error {
	data, err := prettyJSON(r)
	if err != nil {
		return fmt.Errorf("export: refusal report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Config configures an export run.
type Config struct {
	// EventLogPath is the JSONL source of truth.
	EventLogPath string
	// OutputPath receives the bundle when the scan is clean.
	OutputPath string
	// RefusalReportPath receives refusal-report.json when blocked;
	// defaults to refusal-report.json beside the output.
	RefusalReportPath string
	// BlobStore resolves payload_ref digests; nil skips blob content.
	BlobStore *blob.Store
	// AllowOversizeBlobs lifts the 50 MB per-blob refusal.
	AllowOversizeBlobs bool
}

// Result is the outcome of an export attempt: exactly one of Refused or
// Bundled is set.
type Result struct {
	Refused *RefusalReport
	Bundled *BundleResult
}

// Run executes the pipeline: discover → scan → refuse or bundle. The
// committed log and blobs are never modified.
func Run(cfg Config) (*Result, error) {
	content, err := Discover(cfg.EventLogPath)
	if err != nil {
		return nil, err
	}

	if !cfg.AllowOversizeBlobs && cfg.BlobStore != nil {
		for _, ref := range content.BlobRefs() {
			size, err := cfg.BlobStore.Size(ref)
			if err == blob.ErrNotFound {
				continue
			}
			if err != nil {
				return nil, err
			}
			if size > blob.MaxBlobBytes {
				return nil, &blob.TooLargeError{Size: size, Limit: blob.MaxBlobBytes}
			}
		}
	}

	items, err := Scan(content, cfg.BlobStore)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		report := NewRefusalReport(cfg.EventLogPath, items)
		path := cfg.RefusalReportPath
		if path == "" {
			path = "refusal-report.json"
		}
		if err := report.WriteTo(path); err != nil {
			return nil, err
		}
		return &Result{Refused: report}, nil
	}

	bundled, err := Bundle(content, cfg.BlobStore, cfg.OutputPath)
	if err != nil {
		return nil, err
	}
	return &Result{Bundled: bundled}, nil
}

// Scan walks every committed event's inline payload fields and every
// referenced blob, accumulating blocked items. An empty result means
// clean.
func Scan(content *Content, store *blob.Store) ([]BlockedItem, error) {
	var items []BlockedItem

	for i := range content.Events {
		items = append(items, scanEvent(&content.Events[i])...)
	}

	if store != nil {
		for _, ref := range content.BlobRefs() {
			data, err := store.Read(ref)
			if err == blob.ErrNotFound {
				continue
			}
			if err != nil {
				return nil, err
			}
			owner := content.BlobOwners[ref]
			for _, m := range ScanBytes(data) {
				refCopy := ref
				items = append(items, BlockedItem{
					EventID:        owner,
					FieldPath:      "content",
					MatchedPattern: m.PatternName,
					BlobRef:        &refCopy,
					RedactedMatch:  RedactMatch(m.Matched),
				})
			}
		}
	}
	return items, nil
}

func scanEvent(e *event.CommittedEvent) []BlockedItem {
	var items []BlockedItem
	for _, field := range e.Payload.StringFields() {
		for _, m := range ScanText(field.Value) {
			items = append(items, BlockedItem{
				EventID:        e.EventID,
				FieldPath:      "payload." + field.Name,
				MatchedPattern: m.PatternName,
				BlobRef:        nil,
				RedactedMatch:  RedactMatch(m.Matched),
			})
		}
	}
	return items
}
