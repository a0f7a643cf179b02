package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/aretw0/kopernicus/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSession_QuitBeforeFirstTurn(t *testing.T) {
	stack := buildTest(t, memoryConfig())

	var out bytes.Buffer
	err := RunSession(context.Background(), stack.Agent, RunOptions{SessionID: "s1"},
		Console{In: strings.NewReader("quit\n"), Out: &out}, logging.NewNop())
	require.NoError(t, err)
	assert.Contains(t, out.String(), ">>> Session 's1' active.")
}

func TestRunSession_Resume(t *testing.T) {
	stack := seededStack(t, "s1")

	var out bytes.Buffer
	err := RunSession(context.Background(), stack.Agent, RunOptions{SessionID: "s1"},
		Console{In: strings.NewReader("exit\n"), Out: &out}, logging.NewNop())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Resuming session 's1'")
}

func TestRunSession_Fresh(t *testing.T) {
	stack := seededStack(t, "s1")
	ctx := context.Background()

	var out bytes.Buffer
	err := RunSession(ctx, stack.Agent, RunOptions{SessionID: "s1", Fresh: true},
		Console{In: strings.NewReader("quit\n"), Out: &out}, logging.NewNop())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Session 's1' active.")

	ids, err := stack.Agent.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRunSession_JSONIsQuiet(t *testing.T) {
	stack := buildTest(t, memoryConfig())

	var out bytes.Buffer
	err := RunSession(context.Background(), stack.Agent, RunOptions{JSON: true},
		Console{In: strings.NewReader(""), Out: &out, Banner: true}, logging.NewNop())
	require.NoError(t, err)
	assert.Empty(t, out.String())
}

func TestRunSession_CancelledContextSavesSession(t *testing.T) {
	stack := buildTest(t, memoryConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := RunSession(ctx, stack.Agent, RunOptions{SessionID: "s1"},
		Console{In: strings.NewReader(""), Out: &out}, logging.NewNop())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Resume with --session s1")
}
