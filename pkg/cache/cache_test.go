package cache

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/vifei/pkg/event"
)

func sampleEvents(n int) []event.CommittedEvent {
	events := make([]event.CommittedEvent, 0, n)
	for i := 0; i < n; i++ {
		runID := fmt.Sprintf("run-%d", i%2)
		events = append(events, event.Commit(event.ImportEvent{
			RunID:       runID,
			EventID:     fmt.Sprintf("e-%d", i),
			SourceID:    "test",
			SourceSeq:   event.Uint64(uint64(i)),
			TimestampNS: uint64(i + 1),
			Tier:        event.TierA,
			Payload:     event.ToolCall("bash", "x"),
		}, uint64(i)))
	}
	return events
}

func TestRebuildAndQuery(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer db.Close()

	events := sampleEvents(6)
	require.NoError(t, Rebuild(db, events))

	n, err := EventCount(db)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	runs, err := RunSummaries(db)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-0", runs[0].RunID)
	assert.Equal(t, uint64(3), runs[0].EventCount)
	assert.Equal(t, uint64(0), runs[0].FirstCommitIndex)
	assert.Equal(t, uint64(4), runs[0].LastCommitIndex)
	assert.Equal(t, "run-1", runs[1].RunID)
	assert.Equal(t, uint64(5), runs[1].LastCommitIndex)
}

func TestRebuildIsIdempotent(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer db.Close()

	events := sampleEvents(4)
	require.NoError(t, Rebuild(db, events))
	require.NoError(t, Rebuild(db, events))

	n, err := EventCount(db)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n, "a rebuild always starts from an empty schema")
}

func TestRebuildEmptyLog(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Rebuild(db, nil))
	n, err := EventCount(db)
	require.NoError(t, err)
	assert.Zero(t, n)

	runs, err := RunSummaries(db)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRebuildStatementFlow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DROP TABLE IF EXISTS events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DROP TABLE IF EXISTS runs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE runs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX idx_events_run").WillReturnResult(sqlmock.NewResult(0, 0))
	insert := mock.ExpectPrepare("INSERT INTO events")
	insert.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	insert.ExpectExec().WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec("INSERT INTO runs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO runs").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, Rebuild(db, sampleEvents(2)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRebuildRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DROP TABLE IF EXISTS events").WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	err = Rebuild(db, sampleEvents(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}
