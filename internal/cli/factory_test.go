package cli

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/kopernicus/internal/config"
	"github.com/aretw0/kopernicus/internal/logging"
	"github.com/aretw0/kopernicus/internal/testutils"
	"github.com/aretw0/kopernicus/pkg/adapters/mcp"
	"github.com/aretw0/kopernicus/pkg/adapters/redis"
	"github.com/aretw0/kopernicus/pkg/domain"
	"github.com/aretw0/kopernicus/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTest(t *testing.T, cfg *config.Config, opts ...BuildOption) *Stack {
	t.Helper()
	opts = append([]BuildOption{
		WithReasoner(testutils.NewScriptedReasoner()),
		WithCapabilities(testutils.NewFakeCapabilities()),
	}, opts...)
	stack, err := Build(context.Background(), cfg, logging.NewNop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stack.Close() })
	return stack
}

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Store.Driver = config.StoreMemory
	return cfg
}

func TestBuild_Memory(t *testing.T) {
	cfg := memoryConfig()
	cfg.MaxIterations = 7
	stack := buildTest(t, cfg)

	require.NotNil(t, stack.Agent)
	require.NotNil(t, stack.Metrics)

	state, err := stack.Agent.Snapshot(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, 7, state.MaxIterations)
	assert.Equal(t, domain.PhaseNegotiatingPlan, state.Phase)
}

func TestBuild_FileStoreResolvesAgainstConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: file\n  path: checkpoints\n"), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	stack := buildTest(t, cfg)
	require.NoError(t, stack.Store.Save(context.Background(), "s1", domain.NewState("s1", 3)))
	assert.FileExists(t, filepath.Join(dir, "checkpoints", "s1.json"))
}

func TestBuild_RedisWithEncryption(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Store.Driver = config.StoreRedis
	cfg.Store.Lock = true
	cfg.Store.Redis.Address = mr.Addr()
	cfg.Privacy.EncryptionKey = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))

	stack := buildTest(t, cfg)
	ctx := context.Background()

	state := domain.NewState("s1", 3)
	state.Query = "which drugs target BRCA1?"
	require.NoError(t, stack.Store.Save(ctx, "s1", state))

	raw, err := mr.Get(redis.DefaultPrefix + "s1")
	require.NoError(t, err)
	assert.NotContains(t, raw, "BRCA1")
	assert.Contains(t, raw, `"envelope"`)

	loaded, err := stack.Store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, state.Query, loaded.Query)

	ids, err := stack.Agent.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)
}

func TestBuild_RedactsToolArguments(t *testing.T) {
	cfg := memoryConfig()
	cfg.Privacy.RedactKeys = []string{"(?i)token"}
	stack := buildTest(t, cfg)
	ctx := context.Background()

	state := domain.NewState("s1", 3)
	state.Evidence = []domain.EvidenceRecord{{
		Step:   "executor",
		Tool:   "lookup",
		Args:   map[string]any{"name": "aspirin", "API_TOKEN": "secret"},
		Status: domain.StatusSuccess,
	}}
	require.NoError(t, stack.Store.Save(ctx, "s1", state))

	loaded, err := stack.Store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "aspirin", loaded.Evidence[0].Args["name"])
	assert.Equal(t, "***", loaded.Evidence[0].Args["API_TOKEN"])
	assert.Equal(t, "secret", state.Evidence[0].Args["API_TOKEN"], "caller state is untouched")
}

func TestBuild_ProcessTools(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tools.yaml"), []byte(`
tools:
  - name: greet
    command: sh
    args: ["-c", "echo hello"]
    description: Says hello
`), 0o644))
	path := filepath.Join(dir, config.DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: memory\ntools_file: tools.yaml\n"), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	stack, err := Build(context.Background(), cfg, logging.NewNop(), WithReasoner(testutils.NewScriptedReasoner()))
	require.NoError(t, err)
	defer stack.Close()

	tools, err := stack.Capabilities.List(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "greet", tools[0].Name)

	res, err := stack.Capabilities.Invoke(context.Background(), "greet", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", strings.TrimSpace(res.Text))
}

func TestBuild_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("no reasoning backend", func(t *testing.T) {
		_, err := Build(ctx, memoryConfig(), logging.NewNop(), WithCapabilities(testutils.NewFakeCapabilities()))
		assert.ErrorContains(t, err, "no reasoning backend")
	})

	t.Run("no capabilities", func(t *testing.T) {
		_, err := Build(ctx, memoryConfig(), logging.NewNop(), WithReasoner(testutils.NewScriptedReasoner()))
		assert.ErrorContains(t, err, "no capabilities configured")
	})

	t.Run("inspect only", func(t *testing.T) {
		stack, err := Build(ctx, memoryConfig(), logging.NewNop(), InspectOnly())
		require.NoError(t, err)
		_, err = stack.Capabilities.Invoke(ctx, "lookup", nil)
		assert.ErrorIs(t, err, ports.ErrToolNotFound)

		_, err = offlineReasoner{}.ProduceText(ctx, ports.Prompt{Name: "proposer"})
		assert.ErrorIs(t, err, ErrInspectOnly)
	})

	t.Run("unreachable server", func(t *testing.T) {
		cfg := memoryConfig()
		cfg.Servers = append(cfg.Servers, mcpServer("broken", "/nonexistent/kopernicus-test-server"))
		_, err := Build(ctx, cfg, logging.NewNop(), WithReasoner(testutils.NewScriptedReasoner()))
		assert.ErrorContains(t, err, "failed to connect capability servers")
	})

	t.Run("local backend without key", func(t *testing.T) {
		cfg := memoryConfig()
		cfg.Reasoning.BaseURL = "http://localhost:11434/v1"
		_, err := Build(ctx, cfg, logging.NewNop(), WithCapabilities(testutils.NewFakeCapabilities()))
		assert.NoError(t, err)
	})
}

func mcpServer(name, command string) mcp.ServerConfig {
	return mcp.ServerConfig{Name: name, Command: command}
}
