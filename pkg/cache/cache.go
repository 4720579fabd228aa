// Package cache maintains the SQLite-backed derived read cache built by
// the reindex command.
//
// The cache is a rebuildable projection of the EventLog, never truth: a
// rebuild always drops and recreates the schema from the committed stream.
// It exists so the view command can answer lookups over large logs without
// a full JSONL scan.
package cache

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/vifei/pkg/event"
)

// Open opens (or creates) the cache database at path using the pure-Go
// SQLite driver.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	return db, nil
}

const schemaEvents = `CREATE TABLE events (
	commit_index INTEGER PRIMARY KEY,
	run_id TEXT NOT NULL,
	event_id TEXT NOT NULL,
	source_id TEXT NOT NULL,
	source_seq INTEGER,
	timestamp_ns INTEGER NOT NULL,
	tier TEXT NOT NULL,
	payload_type TEXT NOT NULL,
	payload_ref TEXT,
	synthesized INTEGER NOT NULL DEFAULT 0
)`

const schemaRuns = `CREATE TABLE runs (
	run_id TEXT PRIMARY KEY,
	event_count INTEGER NOT NULL,
	first_commit_index INTEGER NOT NULL,
	last_commit_index INTEGER NOT NULL
)`

// Rebuild drops and recreates the cache schema, then loads the committed
// stream in one transaction. Idempotent: rebuilding from the same events
// yields the same rows.
func Rebuild(db *sql.DB, events []event.CommittedEvent) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("cache: begin: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DROP TABLE IF EXISTS events`,
		`DROP TABLE IF EXISTS runs`,
		schemaEvents,
		schemaRuns,
		`CREATE INDEX idx_events_run ON events(run_id)`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("cache: schema: %w", err)
		}
	}

	insert, err := tx.Prepare(`INSERT INTO events
		(commit_index, run_id, event_id, source_id, source_seq, timestamp_ns, tier, payload_type, payload_ref, synthesized)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("cache: prepare: %w", err)
	}
	defer insert.Close()

	type runAgg struct {
		count       uint64
		first, last uint64
	}
	runs := map[string]*runAgg{}
	var runOrder []string

	for _, e := range events {
		var seq any
		if e.SourceSeq != nil {
			seq = int64(*e.SourceSeq)
		}
		var ref any
		if e.PayloadRef != "" {
			ref = e.PayloadRef
		}
		synth := 0
		if e.Synthesized {
			synth = 1
		}
		if _, err := insert.Exec(
			int64(e.CommitIndex), e.RunID, e.EventID, e.SourceID, seq,
			int64(e.TimestampNS), string(e.Tier), e.Payload.Type, ref, synth,
		); err != nil {
			return fmt.Errorf("cache: insert commit_index %d: %w", e.CommitIndex, err)
		}

		agg := runs[e.RunID]
		if agg == nil {
			agg = &runAgg{first: e.CommitIndex}
			runs[e.RunID] = agg
			runOrder = append(runOrder, e.RunID)
		}
		agg.count++
		agg.last = e.CommitIndex
	}

	for _, runID := range runOrder {
		agg := runs[runID]
		if _, err := tx.Exec(
			`INSERT INTO runs (run_id, event_count, first_commit_index, last_commit_index) VALUES (?, ?, ?, ?)`,
			runID, int64(agg.count), int64(agg.first), int64(agg.last),
		); err != nil {
			return fmt.Errorf("cache: insert run %s: %w", runID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache: commit: %w", err)
	}
	return nil
}

// EventCount returns the number of cached events.
func EventCount(db *sql.DB) (int64, error) {
	var n int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("cache: count: %w", err)
	}
	return n, nil
}

// RunSummary is one row of the runs table.
type RunSummary struct {
	RunID            string
	EventCount       uint64
	FirstCommitIndex uint64
	LastCommitIndex  uint64
}

// RunSummaries returns the cached run aggregates ordered by run_id.
func RunSummaries(db *sql.DB) ([]RunSummary, error) {
	rows, err := db.Query(`SELECT run_id, event_count, first_commit_index, last_commit_index FROM runs ORDER BY run_id`)
	if err != nil {
		return nil, fmt.Errorf("cache: runs query: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var count, first, last int64
		if err := rows.Scan(&r.RunID, &count, &first, &last); err != nil {
			return nil, fmt.Errorf("cache: runs scan: %w", err)
		}
		r.EventCount = uint64(count)
		r.FirstCommitIndex = uint64(first)
		r.LastCommitIndex = uint64(last)
		out = append(out, r)
	}
	return out, rows.Err()
}
