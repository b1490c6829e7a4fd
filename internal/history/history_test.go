package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmined/syftxfer/internal/db"
	"github.com/openmined/syftxfer/internal/transfer"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := db.NewSqliteDB()
	require.NoError(t, err)
	store, err := New(conn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleResult(id string, started time.Time) *transfer.Result {
	mkdir := &transfer.Operation{Kind: transfer.OpCreateDirectory, TargetPath: "a"}
	copyOp := &transfer.Operation{Kind: transfer.OpCopyFile, SourcePath: "a/b.txt", TargetPath: "a/b.txt"}
	child := &transfer.Operation{Kind: transfer.OpCopyFile, SourcePath: "c/d.txt", TargetPath: "c/d.txt"}

	return &transfer.Result{
		RunID:     id,
		StartedAt: started,
		Duration:  1500 * time.Millisecond,
		Outcomes: []*transfer.Outcome{
			{Op: mkdir, Path: "a", Status: transfer.StatusSucceeded},
			{Op: copyOp, Path: "a/b.txt", Status: transfer.StatusSucceeded, Bytes: 42},
			{Op: child, Path: "c/d.txt", Status: transfer.StatusFailed, Err: errors.New("disk full")},
			{Path: "locked", Status: transfer.StatusFailed, Err: errors.New("permission denied")},
			{Op: &transfer.Operation{Kind: transfer.OpSkip, TargetPath: "same"}, Path: "same", Status: transfer.StatusSkipped},
		},
	}
}

func TestRunFromResult(t *testing.T) {
	started := time.UnixMilli(1_700_000_000_123)
	run, failures := RunFromResult("upload", transfer.LocalToRemote, "/home/me/site", "site", sampleResult("run-1", started))

	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, "local->remote", run.Direction)
	assert.Equal(t, 2, run.Succeeded)
	assert.Equal(t, 2, run.Failed)
	assert.Equal(t, 1, run.Skipped)
	assert.EqualValues(t, 42, run.Bytes)
	assert.EqualValues(t, 1500, run.DurationMs)
	assert.Equal(t, RunStatusFailed, run.Status)
	assert.True(t, run.StartedAt().Equal(started))

	require.Len(t, failures, 2)
	assert.Equal(t, "c/d.txt", failures[0].Path)
	assert.Equal(t, string(transfer.OpCopyFile), failures[0].Op)
	assert.Equal(t, "disk full", failures[0].Error)
	assert.Equal(t, "plan", failures[1].Op)
}

func TestRunFromResult_Cancelled(t *testing.T) {
	res := &transfer.Result{
		RunID: "run-c",
		Outcomes: []*transfer.Outcome{
			{Op: &transfer.Operation{Kind: transfer.OpCopyFile, TargetPath: "x"}, Path: "x", Status: transfer.StatusSucceeded},
			{Op: &transfer.Operation{Kind: transfer.OpCopyFile, TargetPath: "y"}, Path: "y", Status: transfer.StatusCancelled, Err: transfer.ErrCancelled},
		},
	}
	run, failures := RunFromResult("sync to remote", transfer.LocalToRemote, "/l", "r", res)
	assert.Equal(t, RunStatusCancelled, run.Status)
	require.Len(t, failures, 1)
	assert.Equal(t, string(transfer.StatusCancelled), failures[0].Status)
}

func TestStore_RecordAndQuery(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	older, olderFailures := RunFromResult("upload", transfer.LocalToRemote, "/l", "r", sampleResult("older", time.UnixMilli(1000)))
	newer, _ := RunFromResult("download", transfer.RemoteToLocal, "/l", "r", &transfer.Result{RunID: "newer", StartedAt: time.UnixMilli(2000)})

	require.NoError(t, store.Record(ctx, older, olderFailures))
	require.NoError(t, store.Record(ctx, newer, nil))

	runs, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "newer", runs[0].ID)
	assert.Equal(t, "older", runs[1].ID)
	assert.Equal(t, RunStatusOK, runs[0].Status)

	runs, err = store.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	got, err := store.Get(ctx, "older")
	require.NoError(t, err)
	assert.Equal(t, older, got)

	failures, err := store.Failures(ctx, "older")
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, "c/d.txt", failures[0].Path)
	assert.Equal(t, "locked", failures[1].Path)
	assert.Equal(t, "older", failures[0].RunID)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStore_DuplicateRunRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	run, failures := RunFromResult("upload", transfer.LocalToRemote, "/l", "r", sampleResult("dup", time.UnixMilli(1000)))
	require.NoError(t, store.Record(ctx, run, failures))
	assert.Error(t, store.Record(ctx, run, failures))

	got, err := store.Failures(ctx, "dup")
	require.NoError(t, err)
	assert.Len(t, got, 2, "failed insert leaves no extra rows")
}

func TestStore_Prune(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	old, oldFailures := RunFromResult("upload", transfer.LocalToRemote, "/l", "r", sampleResult("old", time.UnixMilli(1000)))
	recent, _ := RunFromResult("upload", transfer.LocalToRemote, "/l", "r", &transfer.Result{RunID: "recent", StartedAt: time.UnixMilli(5000)})
	require.NoError(t, store.Record(ctx, old, oldFailures))
	require.NoError(t, store.Record(ctx, recent, nil))

	n, err := store.Prune(ctx, time.UnixMilli(3000))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	runs, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "recent", runs[0].ID)

	failures, err := store.Failures(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, failures, "failures cascade with their run")
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "history.db")

	store, err := Open(path)
	require.NoError(t, err)
	run, _ := RunFromResult("upload", transfer.LocalToRemote, "/l", "r", &transfer.Result{RunID: "persisted", StartedAt: time.UnixMilli(1)})
	require.NoError(t, store.Record(context.Background(), run, nil))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()

	runs, err := store.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "persisted", runs[0].ID)
}
