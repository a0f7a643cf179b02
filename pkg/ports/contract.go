package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/kopernicus/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunCheckpointStoreContract runs a suite of tests to verify that a CheckpointStore
// implementation adheres to the defined interface contract.
func RunCheckpointStoreContract(t *testing.T, store CheckpointStore) {
	ctx := context.Background()
	sessionID := "contract-test-session-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		state := domain.NewState(sessionID, 12)
		state.Phase = domain.PhaseExploring
		state.OriginalQuery = "What treats type 2 diabetes?"
		state.Plan = []string{"Resolve type 2 diabetes"}
		state.IterationCount = 2
		state.Evidence = []domain.EvidenceRecord{{
			Step:    "Resolve type 2 diabetes",
			Tool:    "lookup",
			Args:    map[string]any{"query": "type 2 diabetes"},
			Status:  domain.StatusSuccess,
			Payload: map[string]any{"curie": "MONDO:0005148"},
		}}
		state.AnswerContract = &domain.AnswerContract{
			QueryType:          "treatment",
			RequiredPredicates: []string{"biolink:treats"},
			MinUniqueEntities:  3,
		}
		state.HardConstraints.ForbiddenPredicates = []string{"biolink:related_to"}

		err := store.Save(ctx, sessionID, state)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, state.Phase, loaded.Phase)
		assert.Equal(t, state.OriginalQuery, loaded.OriginalQuery)
		assert.Equal(t, state.Plan, loaded.Plan)
		assert.Equal(t, 2, loaded.IterationCount)
		assert.Equal(t, 12, loaded.MaxIterations)
		require.Len(t, loaded.Evidence, 1)
		assert.Equal(t, domain.StatusSuccess, loaded.Evidence[0].Status)
		require.NotNil(t, loaded.AnswerContract)
		assert.Equal(t, 3, loaded.AnswerContract.MinUniqueEntities)
		assert.Equal(t, []string{"biolink:related_to"}, loaded.HardConstraints.ForbiddenPredicates)
	})

	t.Run("Load returns a copy", func(t *testing.T) {
		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		loaded.Plan = append(loaded.Plan, "mutated")

		again, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		assert.Len(t, again.Plan, 1)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, sessionID, domain.NewState(sessionID, 0))
		require.NoError(t, err)

		err = store.Delete(ctx, sessionID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := sessionID + "-1"
		id2 := sessionID + "-2"
		_ = store.Save(ctx, id1, domain.NewState(id1, 0))
		_ = store.Save(ctx, id2, domain.NewState(id2, 0))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		sessions, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, sessions, id1)
		assert.Contains(t, sessions, id2)
	})
}
