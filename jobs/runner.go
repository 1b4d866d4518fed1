package jobs

import (
	"context"

	"github.com/poiesic/ragjobs/core"
)

// Runner executes the pipeline of one job type. The returned value becomes
// the job result once encoded as JSON.
type Runner interface {
	Run(ctx context.Context, job *core.Job, tracker core.Tracker) (any, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, job *core.Job, tracker core.Tracker) (any, error)

func (f RunnerFunc) Run(ctx context.Context, job *core.Job, tracker core.Tracker) (any, error) {
	return f(ctx, job, tracker)
}
