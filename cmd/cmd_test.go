package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "steadybench dev")
}

func TestRunThenHistory(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	db := filepath.Join(dir, "history.db")

	out, err := execute(t, "run",
		"--log-level", "error",
		"--history", db,
		"--scenario", "SingleStream",
		"--min-duration", "200ms",
		"--min-queries", "20",
		"--out", dir,
		"--prefix", "t_",
	)
	require.NoError(t, err, out)
	assert.Contains(t, out, "TEST RESULTS")

	for _, name := range []string{"summary.txt", "summary.json", "detail.jsonl", "latencies.csv"} {
		_, err := os.Stat(filepath.Join(dir, "t_"+name))
		assert.NoError(t, err, name)
	}

	out, err = execute(t, "history", "--history", db)
	require.NoError(t, err)
	assert.Contains(t, out, "SingleStream")
	assert.Contains(t, out, "PASS")
}

func TestRun_BadConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, err := execute(t, "run", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}
