// Package eventlog implements the append-only EventLog: the JSONL file that
// is Vifei's canonical forensic truth, its single writer, and its readers.
//
// The Writer is the sole assigner of commit_index. All append paths funnel
// through one owned handle; importers produce event.ImportEvent values,
// which structurally cannot carry a commit_index. The writer also drives
// payload offload to the blob store and emits ClockSkewDetected events when
// a source's timestamp moves backward beyond tolerance.
package eventlog

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Mindburn-Labs/vifei/pkg/blob"
	"github.com/Mindburn-Labs/vifei/pkg/canonical"
	"github.com/Mindburn-Labs/vifei/pkg/event"
)

const (
	// MaxLineBytes is the largest serialized event line accepted,
	// preventing unbounded memory on read.
	MaxLineBytes = 1 << 20

	// SkewToleranceNS is the clock skew tolerance. A backward timestamp
	// delta strictly exceeding this emits ClockSkewDetected.
	SkewToleranceNS = 50_000_000

	// AppendStallBudget bounds the per-append durability flush.
	AppendStallBudget = 250 * time.Millisecond
)

// Writer is the append-only EventLog writer. Open, append, close; the
// handle is guarded by a mutex so concurrent producers funnel through the
// single-writer discipline.
type Writer struct {
	mu        sync.Mutex
	f         *os.File
	path      string
	next      uint64
	sourceTS  map[string]uint64
	blobs     *blob.Store
	now       func() time.Time
	syncFault error // test hook: injected fsync failure
	closed    bool
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithBlobStore attaches a blob store; serialized payloads above the
// inline threshold are offloaded to it and referenced via payload_ref.
func WithBlobStore(s *blob.Store) WriterOption {
	return func(w *Writer) { w.blobs = s }
}

// WithClock injects a clock for stall-budget measurement in tests.
func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.now = now }
}

// WithSyncFault injects a durability failure, for exercising
// FM-APPEND-FAIL paths in tests.
func WithSyncFault(err error) WriterOption {
	return func(w *Writer) { w.syncFault = err }
}

// AppendResult carries the committed event plus any detection events
// (ClockSkewDetected) committed immediately before it. Detection events
// hold their own commit_index values.
type AppendResult struct {
	Committed  event.CommittedEvent
	Detections []event.CommittedEvent
}

// OpenWriter opens or creates the EventLog at path. An existing file is
// scanned strictly: every line must parse as a committed event and the
// sequence must be contiguous from 0; the writer resumes from the highest
// index and restores per-source timestamps for skew detection.
func OpenWriter(path string, opts ...WriterOption) (*Writer, error) {
	w := &Writer{path: path, sourceTS: make(map[string]uint64), now: time.Now}
	for _, opt := range opts {
		opt(w)
	}

	if _, err := os.Stat(path); err == nil {
		events, err := Read(path)
		if err != nil {
			return nil, fmt.Errorf("eventlog: resume scan: %w", err)
		}
		if len(events) > 0 {
			w.next = events[len(events)-1].CommitIndex + 1
		}
		for _, e := range events {
			if e.TimestampNS > w.sourceTS[e.SourceID] {
				w.sourceTS[e.SourceID] = e.TimestampNS
			}
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open: %w", err)
	}
	w.f = f
	return w, nil
}

// Append commits an import event, assigning the next monotonic
// commit_index. A backward source timestamp beyond tolerance first commits
// a synthesized Tier A ClockSkewDetected event; original order is
// preserved. Serialized payloads above the inline threshold are offloaded
// to the blob store before the line is written.
//
// Every error from Append is fatal to ingest.
func (w *Writer) Append(ev event.ImportEvent) (AppendResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return AppendResult{}, ErrClosed
	}

	var result AppendResult
	if skew := w.checkClockSkew(ev); skew != nil {
		committed, err := w.writeCommitted(*skew)
		if err != nil {
			return AppendResult{}, err
		}
		result.Detections = append(result.Detections, committed)
	}

	offloaded, err := w.offload(ev)
	if err != nil {
		return AppendResult{}, err
	}

	committed, err := w.writeCommitted(offloaded)
	if err != nil {
		return AppendResult{}, err
	}
	result.Committed = committed
	return result, nil
}

// NextIndex returns the commit_index the next append will be assigned.
func (w *Writer) NextIndex() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.next
}

// Path returns the EventLog file path.
func (w *Writer) Path() string { return w.path }

// Flush forces a durability flush of buffered appends.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.sync()
}

// Close flushes and closes the log handle. Safe to call more than once;
// guaranteed on all exit paths by the owning command.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	syncErr := w.f.Sync()
	closeErr := w.f.Close()
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

// offload moves an oversized serialized payload into the blob store,
// replacing inline content with a payload_ref. Without a configured store
// the payload stays inline and remains subject to the line limit.
func (w *Writer) offload(ev event.ImportEvent) (event.ImportEvent, error) {
	if w.blobs == nil || ev.PayloadRef != "" {
		return ev, nil
	}
	raw, err := canonical.Marshal(ev.Payload)
	if err != nil {
		return ev, &SerializationError{EventID: ev.EventID, Err: err}
	}
	if !blob.ShouldOffload(len(raw)) {
		return ev, nil
	}
	ref, err := w.blobs.WriteBytes(raw)
	if err != nil {
		return ev, err
	}
	ev.PayloadRef = ref
	ev.Payload = ev.Payload.Stripped()
	return ev, nil
}

// writeCommitted assigns the next commit_index and durably appends one
// newline-terminated JSON line.
func (w *Writer) writeCommitted(ev event.ImportEvent) (event.CommittedEvent, error) {
	committed := event.Commit(ev, w.next)
	line, err := canonical.Marshal(committed)
	if err != nil {
		return event.CommittedEvent{}, &SerializationError{EventID: ev.EventID, Err: err}
	}
	if len(line) > MaxLineBytes {
		return event.CommittedEvent{}, &OversizedLineError{Size: len(line), Limit: MaxLineBytes}
	}

	// Whole lines only: one write_all of line+newline, so a crashed writer
	// leaves at worst a trailing partial line that readers truncate.
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := w.f.Write(buf); err != nil {
		return event.CommittedEvent{}, &AppendError{Err: err}
	}

	if committed.Tier.Lossless() {
		start := w.now()
		if err := w.sync(); err != nil {
			return event.CommittedEvent{}, &AppendError{Err: err}
		}
		if elapsed := w.now().Sub(start); elapsed > AppendStallBudget {
			return event.CommittedEvent{}, &AppendStallError{Elapsed: elapsed, Limit: AppendStallBudget}
		}
	}

	w.next++
	return committed, nil
}

func (w *Writer) sync() error {
	if w.syncFault != nil {
		return w.syncFault
	}
	return w.f.Sync()
}

// checkClockSkew tracks the last-seen timestamp per source and returns a
// synthesized ClockSkewDetected import event when the new timestamp moves
// backward beyond tolerance. The latest-seen value is tracked even for
// skewed events so a plateau does not retrigger per event.
func (w *Writer) checkClockSkew(ev event.ImportEvent) *event.ImportEvent {
	last := w.sourceTS[ev.SourceID]
	if ev.TimestampNS > last {
		w.sourceTS[ev.SourceID] = ev.TimestampNS
	}
	if last == 0 || ev.TimestampNS >= last {
		return nil
	}
	delta := last - ev.TimestampNS
	if delta <= SkewToleranceNS {
		return nil
	}
	return &event.ImportEvent{
		RunID:       ev.RunID,
		EventID:     fmt.Sprintf("clock-skew:%s:%d", ev.SourceID, w.next),
		SourceID:    ev.SourceID,
		TimestampNS: ev.TimestampNS,
		Tier:        event.TierA,
		Payload:     event.ClockSkewDetected(last, ev.TimestampNS, delta),
		Synthesized: true,
	}
}
