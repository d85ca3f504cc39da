package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aweris/codex-go/internal/native/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(dir string, stdin io.Reader, args ...string) (string, error) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(stdin)
	rootCmd.SetArgs(append([]string{"--data-dir", dir, "--listen", "/ip4/127.0.0.1/tcp/0", "--log-level", "error"}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := execute(dir, nil, args...)
	require.NoError(t, err, strings.Join(args, " "))
	return out
}

func TestVersionCommand(t *testing.T) {
	out := run(t, t.TempDir(), "version")
	assert.Equal(t, "codex "+sim.Version+" ("+sim.Revision+")\n", out)
}

func TestInfoCommand(t *testing.T) {
	dir := t.TempDir()
	out := run(t, dir, "info")
	assert.Contains(t, out, "peer id:  12D3KooW")
	assert.Contains(t, out, "repo:     "+dir)
	assert.Contains(t, out, "spr:      spr:")
}

func TestDatasetCommands(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(t.TempDir(), "notes.txt")
	content := []byte("the quick brown fox jumps over the lazy dog\n")
	require.NoError(t, os.WriteFile(src, content, 0o644))

	cid := strings.TrimSpace(run(t, dir, "upload", src))
	require.NotEmpty(t, cid)

	// Every command runs a fresh node on the same repository.
	assert.Contains(t, run(t, dir, "ls"), cid+"\t"+"44\tnotes.txt")
	assert.Equal(t, "true\n", run(t, dir, "exists", cid))
	assert.Equal(t, string(content), run(t, dir, "download", cid))

	dst := filepath.Join(t.TempDir(), "copy.txt")
	run(t, dir, "download", cid, dst)
	copied, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, content, copied)

	assert.Contains(t, run(t, dir, "space"), "blocks:   1")

	run(t, dir, "rm", cid)
	assert.Equal(t, "false\n", run(t, dir, "exists", cid))
	assert.Equal(t, "(no datasets)\n", run(t, dir, "ls"))
}

func TestUploadFromStdin(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(dir, strings.NewReader("piped data"), "upload", "-", "--name", "pipe.txt")
	require.NoError(t, err)
	cid := strings.TrimSpace(out)

	assert.Contains(t, run(t, dir, "ls"), cid+"\t10\tpipe.txt")
}

func TestCommandErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(dir, nil, "exists")
	assert.Error(t, err)

	_, err = execute(dir, nil, "connect", "not-a-peer", "/ip4/127.0.0.1/tcp/1")
	assert.Error(t, err)

	_, err = execute(dir, nil, "download", "")
	assert.Error(t, err)
}
