package ports

import (
	"context"

	"github.com/aretw0/kopernicus/pkg/domain"
)

// CheckpointStore defines the interface for persisting research state.
// A checkpoint is written after every workflow step, enabling "Stop & Resume" sessions.
type CheckpointStore interface {
	// Save persists the state for a given session ID. Saves are whole-state, last-writer-wins.
	Save(ctx context.Context, sessionID string, state *domain.ResearchState) error

	// Load retrieves the state for a given session ID.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	Load(ctx context.Context, sessionID string) (*domain.ResearchState, error)

	// Delete removes the state for a given session ID.
	Delete(ctx context.Context, sessionID string) error

	// List returns the IDs of all stored sessions.
	List(ctx context.Context) ([]string, error)
}
