package pipeline

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/coursegen-core/server/internal/agent/model"
)

// Job is one independent pipeline run.
type Job struct {
	Definition *Definition
	RunID      string
	Inputs     model.Variables
}

// RunAll runs jobs concurrently, each with its own state and run id. One
// job failing does not stop the others. States are returned in job order;
// the error joins every job's error.
func (s *Sequencer) RunAll(ctx context.Context, jobs ...Job) ([]*model.PipelineState, error) {
	states := make([]*model.PipelineState, len(jobs))
	errs := make([]error, len(jobs))

	var g errgroup.Group
	if s.concurrency > 0 {
		g.SetLimit(s.concurrency)
	}
	for i, job := range jobs {
		g.Go(func() error {
			states[i], errs[i] = s.Run(ctx, job.Definition, job.RunID, job.Inputs)
			return nil
		})
	}
	_ = g.Wait()
	return states, errors.Join(errs...)
}
