package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmined/syftxfer/internal/history"
	"github.com/openmined/syftxfer/internal/transfer"
	"github.com/openmined/syftxfer/internal/version"
)

type cliEnv struct {
	local, remote, data, config string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	tmp := t.TempDir()
	return &cliEnv{
		local:  filepath.Join(tmp, "local"),
		remote: filepath.Join(tmp, "remote"),
		data:   filepath.Join(tmp, "data"),
		config: filepath.Join(tmp, "config.json"),
	}
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	base := []string{
		"--config", e.config,
		"--local", e.local,
		"--remote", e.remote,
		"--protocol", "file",
		"--data-dir", e.data,
	}

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, base...))

	err := cmd.ExecuteContext(context.Background())
	if logCloser != nil {
		logCloser.Close()
		logCloser = nil
	}
	return out.String(), err
}

func writeTestFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestVersionCommand(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version.DetailedWithApp(), strings.TrimSpace(out))

	out, err = env.run(t, "version", "--json")
	require.NoError(t, err)
	var info version.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "syftxfer", info.App)
}

func TestUploadThenHistory(t *testing.T) {
	env := newCLIEnv(t)
	writeTestFile(t, env.local, "site/index.html", "<html>")
	writeTestFile(t, env.local, "site/css/app.css", "body{}")

	out, err := env.run(t, "upload", "site")
	require.NoError(t, err)
	assert.Contains(t, out, "done")
	assert.Contains(t, out, "site/index.html")

	data, err := os.ReadFile(filepath.Join(env.remote, "site", "css", "app.css"))
	require.NoError(t, err)
	assert.Equal(t, "body{}", string(data))

	out, err = env.run(t, "history", "--json")
	require.NoError(t, err)
	var runs []*history.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "upload", runs[0].Handler)
	assert.Equal(t, history.RunStatusOK, runs[0].Status)

	out, err = env.run(t, "history", runs[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, runs[0].ID)
}

func TestSyncDryRunJSON(t *testing.T) {
	env := newCLIEnv(t)
	writeTestFile(t, env.local, "new.txt", "new")
	writeTestFile(t, env.remote, "stale.txt", "stale")

	out, err := env.run(t, "sync", "--to", "remote", "--dry-run", "--json")
	require.NoError(t, err)

	var report jsonReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.DryRun)
	assert.Equal(t, "sync to remote", report.Handler)
	assert.ElementsMatch(t, []jsonOperation{
		{Op: transfer.OpCopyFile, Source: "new.txt", Target: "new.txt"},
		{Op: transfer.OpDelete, Target: "stale.txt"},
	}, report.Operations)

	_, err = os.Stat(filepath.Join(env.remote, "stale.txt"))
	assert.NoError(t, err, "dry run leaves the remote untouched")
}

func TestSyncToLocal(t *testing.T) {
	env := newCLIEnv(t)
	writeTestFile(t, env.remote, "docs/a.md", "a")
	writeTestFile(t, env.local, "docs/old.md", "old")

	_, err := env.run(t, "sync", "--to", "local", "docs")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(env.local, "docs", "a.md"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
	_, err = os.Stat(filepath.Join(env.local, "docs", "old.md"))
	assert.True(t, os.IsNotExist(err))
}

func TestConfigurationErrors(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "sync", "--to", "sideways")
	require.Error(t, err)
	assert.Equal(t, exitConfiguration, exitCode(err))

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"upload", "--config", env.config, "--local", env.local, "--protocol", "ftp"})
	err = cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, exitConfiguration, exitCode(err))
}

func TestConfigSaveAndShow(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "config", "save")
	require.NoError(t, err)
	assert.Contains(t, out, env.config)

	// the saved file alone is enough now
	cmd := newRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"config", "show", "--config", env.config})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), `"protocol": "file"`)
	assert.Contains(t, buf.String(), env.remote)
}

func TestTargetArgs(t *testing.T) {
	src, dst := targetArgs(nil)
	assert.Empty(t, src)
	assert.Empty(t, dst)

	src, dst = targetArgs([]string{"a"})
	assert.Equal(t, "a", src)
	assert.Equal(t, "a", dst)

	src, dst = targetArgs([]string{"a", "b"})
	assert.Equal(t, "a", src)
	assert.Equal(t, "b", dst)
}
