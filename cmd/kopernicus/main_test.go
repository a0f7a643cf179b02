package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aretw0/kopernicus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func memoryConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kopernicus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: memory\n"), 0o644))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "kopernicus version "+strings.TrimSpace(kopernicus.Version)+"\n", out)
}

func TestGraphCommand(t *testing.T) {
	out, err := execute(t, "graph", "--config", memoryConfig(t))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
	assert.Contains(t, out, "propose_plan")
}

func TestSessionLsCommand(t *testing.T) {
	out, err := execute(t, "session", "ls", "--config", memoryConfig(t))
	require.NoError(t, err)
	assert.Equal(t, "No sessions found.\n", out)
}

func TestMCPCommand_RequiresCapabilities(t *testing.T) {
	t.Setenv("KOPERNICUS_API_KEY", "test")
	_, err := execute(t, "mcp", "--config", memoryConfig(t))
	assert.ErrorContains(t, err, "no capabilities configured")
}

func TestMissingConfig(t *testing.T) {
	_, err := execute(t, "graph", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "failed to read config")
}
