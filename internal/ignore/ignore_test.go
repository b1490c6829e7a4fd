package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList_DefaultAndCustomRules(t *testing.T) {
	l := New("node_modules", "*.log")

	assert.True(t, l.ShouldIgnore(".git", true), "default .git should be ignored")
	assert.True(t, l.ShouldIgnore("project/.DS_Store", false))
	assert.True(t, l.ShouldIgnore("node_modules", true))
	assert.True(t, l.ShouldIgnore("node_modules/x.txt", false))
	assert.True(t, l.ShouldIgnore("a/b/debug.log", false))
	assert.False(t, l.ShouldIgnore("a/b/debug.txt", false))
}

func TestList_DirectoryOnlyRules(t *testing.T) {
	l := NewWithoutDefaults("dist/")

	assert.True(t, l.ShouldIgnore("dist", true), "dir rule matches the directory itself")
	assert.True(t, l.ShouldIgnore("dist/app.js", false))
	assert.False(t, l.ShouldIgnore("distribution.txt", false))
}

func TestList_RootIsNeverIgnored(t *testing.T) {
	l := NewWithoutDefaults("*")
	assert.False(t, l.ShouldIgnore("", true))
	assert.False(t, l.ShouldIgnore("/", true))

	var empty *List
	assert.False(t, empty.ShouldIgnore("anything", false))
}

func TestList_NormalizesPaths(t *testing.T) {
	l := NewWithoutDefaults("build")

	assert.True(t, l.ShouldIgnore("/build", true))
	assert.True(t, l.ShouldIgnore("build/", true))
	assert.True(t, l.ShouldIgnore(`build\out.bin`, false))
}

func TestLoad_ReadsIgnoreFile(t *testing.T) {
	dir := t.TempDir()
	ignoreFile := filepath.Join(dir, "xferignore")

	custom := []byte(`
# comment
**/*.request
private/**
`)
	require.NoError(t, os.WriteFile(ignoreFile, custom, 0o644))

	l, err := Load(ignoreFile, "*.bak")
	require.NoError(t, err)

	assert.True(t, l.ShouldIgnore("alice/rpc/a.request", false))
	assert.True(t, l.ShouldIgnore("private/file.txt", false))
	assert.True(t, l.ShouldIgnore("notes.bak", false))
	assert.False(t, l.ShouldIgnore("public/file.txt", false))
	assert.NotContains(t, l.Lines(), "# comment")
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.True(t, l.ShouldIgnore(".git", true))
}
