package local

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/openmined/syftxfer/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEndpoint(t *testing.T) (*Endpoint, string) {
	t.Helper()
	root := t.TempDir()
	ep, err := New(root)
	require.NoError(t, err)
	return ep, root
}

func TestEndpoint_ListAndStat(t *testing.T) {
	ep, root := newEndpoint(t)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs", "img"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "a.txt"), []byte("hello"), 0o640))

	nodes, err := ep.List(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	byName := map[string]*transfer.Node{}
	for _, n := range nodes {
		byName[n.Name()] = n
	}
	assert.Equal(t, "docs/a.txt", byName["a.txt"].Path)
	assert.Equal(t, transfer.KindFile, byName["a.txt"].Kind)
	assert.EqualValues(t, 5, byName["a.txt"].Size)
	assert.Equal(t, transfer.KindDirectory, byName["img"].Kind)
	assert.Zero(t, byName["img"].Size)

	n, err := ep.Stat(ctx, "docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o640), n.Mode)

	_, err = ep.Stat(ctx, "missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = ep.List(ctx, "missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestEndpoint_CreateCommitsOnClose(t *testing.T) {
	ep, root := newEndpoint(t)
	ctx := context.Background()
	mtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	w, err := ep.Create(ctx, "nested/deep/file.txt", transfer.WriteOptions{Mode: 0o600, ModTime: mtime})
	require.NoError(t, err)
	_, err = io.WriteString(w, "payload")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(root, "nested", "deep", "file.txt"))
	assert.True(t, os.IsNotExist(err), "file must not exist before Close")

	require.NoError(t, w.Close())

	data, err := os.ReadFile(filepath.Join(root, "nested", "deep", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	info, err := os.Stat(filepath.Join(root, "nested", "deep", "file.txt"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(mtime))
	if runtime.GOOS != "windows" {
		assert.Equal(t, fs.FileMode(0o600), info.Mode().Perm())
	}

	entries, err := os.ReadDir(filepath.Join(root, "nested", "deep"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary file left behind")
}

func TestEndpoint_AbortDiscards(t *testing.T) {
	ep, root := newEndpoint(t)

	w, err := ep.Create(context.Background(), "file.txt", transfer.WriteOptions{})
	require.NoError(t, err)
	_, err = io.WriteString(w, "partial")
	require.NoError(t, err)

	aborter, ok := w.(transfer.Aborter)
	require.True(t, ok)
	require.NoError(t, aborter.Abort())
	require.NoError(t, w.Close())

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEndpoint_MkdirAndRemove(t *testing.T) {
	ep, root := newEndpoint(t)
	ctx := context.Background()

	require.NoError(t, ep.Mkdir(ctx, "a/b/c"))
	require.NoError(t, ep.Mkdir(ctx, "a/b/c"), "existing directory is not an error")
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "b", "c", "f"), []byte("x"), 0o644))

	err := ep.Remove(ctx, "a", false)
	assert.Error(t, err, "non recursive remove of a non-empty dir fails")

	require.NoError(t, ep.Remove(ctx, "a", true))
	_, err = os.Stat(filepath.Join(root, "a"))
	assert.True(t, os.IsNotExist(err))

	err = ep.Remove(ctx, "a", true)
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	assert.Error(t, ep.Remove(ctx, "", true), "root cannot be removed")
}

func TestEndpoint_Symlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	ep, root := newEndpoint(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(root, "target.txt"), []byte("x"), 0o644))
	require.NoError(t, ep.Symlink(ctx, "target.txt", "links/link"))

	n, err := ep.Stat(ctx, "links/link")
	require.NoError(t, err)
	assert.Equal(t, transfer.KindSymlink, n.Kind)

	dest, err := ep.Readlink(ctx, "links/link")
	require.NoError(t, err)
	assert.Equal(t, "target.txt", dest)
}

func TestEndpoint_Chmod(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not portable")
	}
	ep, root := newEndpoint(t)

	require.NoError(t, os.WriteFile(filepath.Join(root, "run.sh"), []byte("#!/bin/sh"), 0o644))
	require.NoError(t, ep.Chmod(context.Background(), "run.sh", 0o755))

	info, err := os.Stat(filepath.Join(root, "run.sh"))
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o755), info.Mode().Perm())
}
