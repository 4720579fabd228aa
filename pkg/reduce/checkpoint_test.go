package reduce

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/vifei/pkg/event"
)

func TestCheckpointBoundaries(t *testing.T) {
	events := mixedSequence(2*CheckpointInterval + 1)
	_, boundaries := Replay(events)
	assert.Equal(t, []uint64{CheckpointInterval - 1, 2*CheckpointInterval - 1}, boundaries)
}

// TestCheckpointEqualsReplayAtBoundaries is the core checkpoint contract:
// the checkpoint state at k must equal a full replay of [0..=k], the
// boundary +1 must differ only by the next event, and reducing the suffix
// from the checkpoint must equal a full replay. Exercised at k, k+1, 2k.
func TestCheckpointEqualsReplayAtBoundaries(t *testing.T) {
	k := uint64(CheckpointInterval)
	events := mixedSequence(int(2*k) + 1)

	dir := filepath.Join(t.TempDir(), "checkpoints")
	mgr, err := NewCheckpointManager(dir)
	require.NoError(t, err)

	final, err := mgr.ReplayWithCheckpoints(NewState(), events)
	require.NoError(t, err)

	for _, boundary := range []uint64{k - 1, 2*k - 1} {
		path := filepath.Join(dir, checkpointName(boundary))
		ckpt, err := Load(path)
		require.NoError(t, err)
		require.NotNil(t, ckpt, "checkpoint at %d missing", boundary)
		assert.Equal(t, ReducerVersion, ckpt.ReducerVersion)
		assert.Equal(t, boundary, ckpt.LastCommitIndex)

		// Checkpoint state equals full replay of the prefix.
		prefixState, _ := Replay(events[:boundary+1])
		assert.Equal(t, StateHash(prefixState), StateHash(ckpt.State), "boundary %d", boundary)

		// Boundary + 1: one more reduce on top of the checkpoint equals
		// the prefix replay of one more event.
		plusOne := Reduce(ckpt.State, &events[boundary+1])
		prefixPlusOne, _ := Replay(events[:boundary+2])
		assert.Equal(t, StateHash(prefixPlusOne), StateHash(plusOne), "boundary %d + 1", boundary)

		// Suffix replay from the checkpoint equals the full replay.
		resumed, _ := ReplayFrom(ckpt.State.Clone(), events[boundary+1:])
		assert.Equal(t, StateHash(final), StateHash(resumed), "suffix from %d", boundary)
	}
}

func checkpointName(index uint64) string {
	return fmt.Sprintf("ckpt-%010d.json", index)
}

func TestMaybeWriteOnlyAtBoundary(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoints")
	mgr, err := NewCheckpointManager(dir)
	require.NoError(t, err)

	s := NewState()
	s.LastCommitIndex = 7
	path, err := mgr.MaybeWrite(s)
	require.NoError(t, err)
	assert.Empty(t, path)

	s.LastCommitIndex = CheckpointInterval - 1
	path, err = mgr.MaybeWrite(s)
	require.NoError(t, err)
	assert.NotEmpty(t, path)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestLoadStaleVersionIgnored(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoints")
	mgr, err := NewCheckpointManager(dir)
	require.NoError(t, err)

	s := NewState()
	s.LastCommitIndex = CheckpointInterval - 1
	path, err := mgr.Write(s)
	require.NoError(t, err)

	// Rewrite with a foreign reducer version.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := []byte(strings.Replace(string(data), ReducerVersion, "reducer-v9.9", 1))
	require.NoError(t, os.WriteFile(path, tampered, 0o644))

	ckpt, err := Load(path)
	require.NoError(t, err)
	assert.Nil(t, ckpt, "stale version must be discarded in favor of full replay")

	latest, err := mgr.LoadLatest()
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestLoadLatestPicksNewest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoints")
	mgr, err := NewCheckpointManager(dir)
	require.NoError(t, err)

	s := NewState()
	s.LastCommitIndex = CheckpointInterval - 1
	_, err = mgr.Write(s)
	require.NoError(t, err)
	s.LastCommitIndex = 2*CheckpointInterval - 1
	_, err = mgr.Write(s)
	require.NoError(t, err)

	latest, err := mgr.LoadLatest()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, uint64(2*CheckpointInterval-1), latest.LastCommitIndex)
}

func TestCloneIsDeep(t *testing.T) {
	s := NewState()
	e := committed(0, event.ToolCall("Read", "/path"))
	ReduceInPlace(s, &e)

	clone := s.Clone()
	clone.ToolSummaries["Read"].CallCount = 99
	assert.Equal(t, uint64(1), s.ToolSummaries["Read"].CallCount)
	assert.Equal(t, StateHash(s), StateHash(s.Clone()))
}
