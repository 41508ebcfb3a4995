package model

import "context"

type CheckpointStore interface {
	// Save persists a snapshot of the run, replacing any earlier one
	Save(ctx context.Context, state *PipelineState) error

	// Load returns the latest snapshot for runID
	Load(ctx context.Context, runID string) (*PipelineState, error)

	// Delete removes the snapshot for runID
	Delete(ctx context.Context, runID string) error

	// List returns the run ids with a stored snapshot
	List(ctx context.Context) ([]string, error)
}
