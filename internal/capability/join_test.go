package capability_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/kopernicus/internal/capability"
	"github.com/aretw0/kopernicus/internal/testutils"
	"github.com/aretw0/kopernicus/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoin_RoutesByName(t *testing.T) {
	first := testutils.NewFakeCapabilities().Returns("lookup", "first", nil)
	second := testutils.NewFakeCapabilities().
		Returns("lookup", "second", nil).
		Returns("find_treatments", "albuterol", nil)
	j := capability.Join(first, nil, second)

	tools, err := j.List(context.Background())
	require.NoError(t, err)
	var names []string
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"lookup", "find_treatments"}, names)

	res, err := j.Invoke(context.Background(), "lookup", nil)
	require.NoError(t, err)
	assert.Equal(t, "first", res.Text)

	res, err = j.Invoke(context.Background(), "find_treatments", nil)
	require.NoError(t, err)
	assert.Equal(t, "albuterol", res.Text)

	_, err = j.Invoke(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ports.ErrToolNotFound)
}

func TestJoin_ToolFailureIsNotRerouted(t *testing.T) {
	boom := errors.New("boom")
	first := testutils.NewFakeCapabilities().Handle("lookup", func(map[string]any) (*ports.ToolResult, error) {
		return nil, boom
	})
	second := testutils.NewFakeCapabilities().Returns("lookup", "second", nil)

	_, err := capability.Join(first, second).Invoke(context.Background(), "lookup", nil)
	assert.ErrorIs(t, err, boom)
}
