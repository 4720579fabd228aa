package eventlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/vifei/pkg/canonical"
	"github.com/Mindburn-Labs/vifei/pkg/event"
)

func writeLines(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eventlog.jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func committedLine(t *testing.T, idx uint64) string {
	t.Helper()
	e := event.Commit(makeEvent("test", 1_000_000_000+idx), idx)
	line, err := canonical.Marshal(e)
	require.NoError(t, err)
	return string(line)
}

func TestReadRoundtrip(t *testing.T) {
	path := writeLines(t, committedLine(t, 0), committedLine(t, 1), committedLine(t, 2))
	events, err := Read(path)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, uint64(i), e.CommitIndex)
	}
}

func TestReadTruncatesTrailingPartialLine(t *testing.T) {
	path := writeLines(t, committedLine(t, 0))
	// Simulate a crashed writer: a partial line with no newline.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"commit_index":1,"run_id":"run-1","ev`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, err := Read(path)
	require.NoError(t, err)
	assert.Len(t, events, 1, "the partial line is not committed truth")
}

func TestReadGapIsCorruption(t *testing.T) {
	path := writeLines(t, committedLine(t, 0), committedLine(t, 2))
	_, err := Read(path)
	var corrupt *CorruptionError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, uint64(2), corrupt.Got)
	assert.Equal(t, uint64(1), corrupt.Want)
}

func TestReadMalformedLine(t *testing.T) {
	path := writeLines(t, committedLine(t, 0), `{"not":"a-committed-event"}`)
	_, err := Read(path)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, 2, parseErr.Line)
}

func TestReadInvalidTierRejected(t *testing.T) {
	path := writeLines(t,
		`{"commit_index":0,"run_id":"r","event_id":"e","source_id":"s","timestamp_ns":1,"tier":"X","payload":{"type":"RunStart","agent":"a"}}`)
	_, err := Read(path)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, parseErr.Error(), "tier")
}

func TestOpenWriterFailsLoudlyOnMalformedLog(t *testing.T) {
	path := writeLines(t, `{"not":"a-committed-event"}`)
	_, err := OpenWriter(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resume scan")
}

func TestReadFromSuffix(t *testing.T) {
	path := writeLines(t, committedLine(t, 0), committedLine(t, 1), committedLine(t, 2))
	suffix, err := ReadFrom(path, 1)
	require.NoError(t, err)
	require.Len(t, suffix, 2)
	assert.Equal(t, uint64(1), suffix[0].CommitIndex)

	empty, err := ReadFrom(path, 3)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestParseSerializeParseByteIdentical(t *testing.T) {
	line := committedLine(t, 0)
	e, err := ParseLine([]byte(line))
	require.NoError(t, err)
	again, err := canonical.Marshal(e)
	require.NoError(t, err)
	assert.Equal(t, line, string(again))
}
