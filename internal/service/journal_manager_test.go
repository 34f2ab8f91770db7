package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stratafs/strata/internal/errors"
	"github.com/stratafs/strata/internal/model"
	"github.com/stratafs/strata/internal/storage/fstree"
)

// nodeFixture wires a journal manager with real storage under a
// temporary directory. Reopening the same directory models a restart.
type nodeFixture struct {
	dir         string
	journal     *JournalService
	tree        *fstree.Tree
	clock       *VectorClockService
	checkpoints *CheckpointService
	jm          *JournalManager
}

type fixtureOptions struct {
	segmentSize int64
	pruneAfter  bool
}

func newNodeFixture(t *testing.T, nodeID string) *nodeFixture {
	t.Helper()
	return openNodeFixture(t, nodeID, t.TempDir(), fixtureOptions{segmentSize: 1 << 20})
}

func openNodeFixture(t *testing.T, nodeID, dir string, opts fixtureOptions) *nodeFixture {
	t.Helper()
	logger := zap.NewNop()

	journal, err := NewJournalService(JournalConfig{
		Dir:         filepath.Join(dir, "journal"),
		SegmentSize: opts.segmentSize,
		SyncWrites:  true,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	tree := fstree.New()
	clock := NewVectorClockService(nodeID)

	checkpoints, err := NewCheckpointService(CheckpointServiceConfig{
		Dir:        filepath.Join(dir, "checkpoints"),
		Interval:   time.Hour,
		Retain:     3,
		PruneAfter: opts.pruneAfter,
	}, tree, journal, clock, logger, nil)
	require.NoError(t, err)

	jm := NewJournalManager(journal, tree, clock, checkpoints, logger, nil)
	return &nodeFixture{
		dir:         dir,
		journal:     journal,
		tree:        tree,
		clock:       clock,
		checkpoints: checkpoints,
		jm:          jm,
	}
}

func TestJournalManager_AppendStampsAndApplies(t *testing.T) {
	f := newNodeFixture(t, "node-a")
	ctx := context.Background()

	entry, err := f.jm.Append(ctx, model.OpCreate, "/docs/readme.md", model.EntryPayload{Size: 42})
	require.NoError(t, err)

	assert.NotEmpty(t, entry.EntryID)
	assert.Equal(t, uint64(1), entry.Offset)
	assert.Equal(t, model.EntryCommitted, entry.Status)
	assert.Equal(t, "node-a", entry.Origin)
	assert.Equal(t, int64(1), entry.Clock.TimestampFor("node-a"))

	meta, err := f.jm.GetPath("/docs/readme.md")
	require.NoError(t, err)
	assert.Equal(t, int64(42), meta.Size)
	assert.Equal(t, "node-a", meta.Origin)

	second, err := f.jm.Append(ctx, model.OpUpdate, "/docs/readme.md", model.EntryPayload{Size: 100})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Offset)
	assert.Equal(t, int64(2), second.Clock.TimestampFor("node-a"))
	assert.Equal(t, uint64(2), f.jm.LastOffset())
}

func TestJournalManager_AppendValidation(t *testing.T) {
	tests := []struct {
		name    string
		opType  model.OpType
		path    string
		payload model.EntryPayload
	}{
		{"unknown op type", model.OpType("TRUNCATE"), "/a", model.EntryPayload{}},
		{"empty path", model.OpCreate, "", model.EntryPayload{}},
		{"rename without target", model.OpRename, "/a", model.EntryPayload{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newNodeFixture(t, "node-a")

			_, err := f.jm.Append(context.Background(), tt.opType, tt.path, tt.payload)
			assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidArgument))

			// A rejected append must not consume an offset or touch state
			assert.Equal(t, uint64(0), f.jm.LastOffset())
			assert.Empty(t, f.jm.GetFSState().Files)
		})
	}
}

func TestJournalManager_AppendRejectsCanceledContext(t *testing.T) {
	f := newNodeFixture(t, "node-a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.jm.Append(ctx, model.OpCreate, "/a", model.EntryPayload{})
	assert.Error(t, err)
	assert.Equal(t, uint64(0), f.jm.LastOffset())
}

func TestJournalManager_AppendIsDurableBeforeReturn(t *testing.T) {
	f := newNodeFixture(t, "node-a")
	ctx := context.Background()

	want := []string{}
	for _, path := range []string{"/a", "/b", "/c"} {
		entry, err := f.jm.Append(ctx, model.OpCreate, path, model.EntryPayload{})
		require.NoError(t, err)
		want = append(want, entry.EntryID)
	}

	// Everything Append acknowledged is already on disk
	var got []string
	require.NoError(t, f.jm.Replay(0, func(e *model.JournalEntry) error {
		got = append(got, e.EntryID)
		return nil
	}))
	assert.Equal(t, want, got)
}

func TestJournalManager_ApplyReplicatedKeepsEntryIdentity(t *testing.T) {
	f := newNodeFixture(t, "node-a")

	stamped := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	remote := &model.JournalEntry{
		EntryID:   "remote-entry-1",
		Offset:    7,
		Timestamp: stamped,
		OpType:    model.OpCreate,
		Path:      "/from-b",
		Payload:   model.EntryPayload{Size: 9},
		Status:    model.EntryCommitted,
		Clock: model.VectorClock{Entries: []model.VectorClockEntry{
			{NodeID: "node-b", LogicalTimestamp: 4},
		}},
		Origin: "node-b",
	}

	offset, err := f.jm.ApplyReplicated(remote)
	require.NoError(t, err)

	// The local journal assigns its own offset; the caller's copy and
	// the entry's identity stay untouched
	assert.Equal(t, uint64(1), offset)
	assert.Equal(t, uint64(7), remote.Offset)

	meta, err := f.jm.GetPath("/from-b")
	require.NoError(t, err)
	assert.Equal(t, "node-b", meta.Origin)
	assert.Equal(t, int64(4), meta.Clock.TimestampFor("node-b"))
	assert.Equal(t, stamped, meta.ModifiedAt)

	var journaled []*model.JournalEntry
	require.NoError(t, f.jm.Replay(0, func(e *model.JournalEntry) error {
		journaled = append(journaled, e)
		return nil
	}))
	require.Len(t, journaled, 1)
	assert.Equal(t, "remote-entry-1", journaled[0].EntryID)
	assert.Equal(t, uint64(1), journaled[0].Offset)
	assert.Equal(t, "node-b", journaled[0].Origin)
	assert.True(t, stamped.Equal(journaled[0].Timestamp))
}

func TestJournalManager_GetFSStateIsDetached(t *testing.T) {
	f := newNodeFixture(t, "node-a")
	_, err := f.jm.Append(context.Background(), model.OpCreate, "/a", model.EntryPayload{Size: 5})
	require.NoError(t, err)

	state := f.jm.GetFSState()
	assert.Equal(t, uint64(1), state.Offset)
	require.Contains(t, state.Files, "/a")

	state.Files["/a"].Size = 999
	delete(state.Files, "/a")

	meta, err := f.jm.GetPath("/a")
	require.NoError(t, err)
	assert.Equal(t, int64(5), meta.Size)
}

func TestJournalManager_GetPathMissing(t *testing.T) {
	f := newNodeFixture(t, "node-a")

	_, err := f.jm.GetPath("/nope")
	assert.True(t, errors.HasCode(err, errors.ErrCodePathNotFound))
}

func TestJournalManager_RecoverReplaysJournal(t *testing.T) {
	dir := t.TempDir()
	opts := fixtureOptions{segmentSize: 1 << 20}

	f := openNodeFixture(t, "node-a", dir, opts)
	ctx := context.Background()
	_, err := f.jm.Append(ctx, model.OpCreate, "/a", model.EntryPayload{Size: 1})
	require.NoError(t, err)
	_, err = f.jm.Append(ctx, model.OpCreate, "/b", model.EntryPayload{Size: 2})
	require.NoError(t, err)
	_, err = f.jm.Append(ctx, model.OpUpdate, "/a", model.EntryPayload{Size: 10})
	require.NoError(t, err)
	want := f.jm.GetFSState()
	require.NoError(t, f.journal.Close())

	restarted := openNodeFixture(t, "node-a", dir, opts)
	require.NoError(t, restarted.jm.Recover())

	got := restarted.jm.GetFSState()
	assert.Equal(t, want.Offset, got.Offset)
	assert.Equal(t, want.Files, got.Files)
	assert.Equal(t, int64(3), restarted.clock.Current().TimestampFor("node-a"))

	// Rerunning recovery replays the same tail into the same state
	require.NoError(t, restarted.jm.Recover())
	assert.Equal(t, want.Files, restarted.jm.GetFSState().Files)
}

func TestJournalManager_RecoverFromCheckpointAndTail(t *testing.T) {
	dir := t.TempDir()
	// One entry per segment so the pruned prefix is really gone
	opts := fixtureOptions{segmentSize: 1, pruneAfter: true}

	f := openNodeFixture(t, "node-a", dir, opts)
	ctx := context.Background()
	_, err := f.jm.Append(ctx, model.OpCreate, "/a", model.EntryPayload{Size: 1})
	require.NoError(t, err)
	_, err = f.jm.Append(ctx, model.OpCreate, "/b", model.EntryPayload{Size: 2})
	require.NoError(t, err)

	cp, err := f.checkpoints.CreateCheckpoint()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cp.Offset)
	assert.Equal(t, int64(2), cp.Clock.TimestampFor("node-a"))

	_, err = f.jm.Append(ctx, model.OpCreate, "/c", model.EntryPayload{Size: 3})
	require.NoError(t, err)
	require.NoError(t, f.journal.Close())

	// The journal prefix covered by the checkpoint was pruned, so a
	// restart can only see /a through the checkpoint
	restarted := openNodeFixture(t, "node-a", dir, opts)
	require.NoError(t, restarted.jm.Recover())

	for path, size := range map[string]int64{"/a": 1, "/b": 2, "/c": 3} {
		meta, err := restarted.jm.GetPath(path)
		require.NoError(t, err, path)
		assert.Equal(t, size, meta.Size, path)
	}
	assert.Equal(t, uint64(3), restarted.jm.GetFSState().Offset)
	assert.Equal(t, int64(3), restarted.clock.Current().TimestampFor("node-a"))
}

func TestJournalManager_RecoverOnEmptyDirIsNoop(t *testing.T) {
	f := newNodeFixture(t, "node-a")

	require.NoError(t, f.jm.Recover())
	assert.Equal(t, uint64(0), f.jm.GetFSState().Offset)
	assert.Empty(t, f.jm.GetFSState().Files)
}
