package collate

import (
	"context"
	"fmt"

	"github.com/VladislavFirsov/reportflow/contracts"
	"github.com/VladislavFirsov/reportflow/internal/orchestration"
	"github.com/VladislavFirsov/reportflow/internal/overlap"
	"github.com/VladislavFirsov/reportflow/internal/results"
)

// combinatorics runs an overlap engine over the members of in on a
// dedicated scheduler. The members must be tabular and share the join
// column; the collation query is the overlap template. The result holds
// one flattened set per combination, labelled with its logic string.
func combinatorics(ctx context.Context, env Env, in results.Result, c *results.Collation) (results.Result, error) {
	if c.Join == nil || c.Join.Column == "" || c.Query == "" {
		return nil, fmt.Errorf("combinatorics needs a join column and a template: %w", contracts.ErrArgumentValidation)
	}
	sets := members(in)

	opts := env.Scheduler
	if opts.MaxParallelism == 0 {
		opts = orchestration.DefaultOptions()
	}
	opts.Logger = env.Logger
	sched := orchestration.NewScheduler(opts)

	engine, err := overlap.NewEngine(in.Name(), sched, sets, overlap.Options{
		Join:      c.Join.Column,
		How:       c.JoinHowOr(results.JoinOuter),
		Template:  c.Query,
		Limits:    c.Limits,
		OutputDir: env.DataPath,
		Delimiter: env.delimiter(),
		Memory:    env.Memory,
		Logger:    env.Logger,
	})
	if err != nil {
		return nil, err
	}
	if err := sched.Append(engine); err != nil {
		return nil, err
	}
	if err := sched.Start(ctx); err != nil {
		return nil, err
	}
	if err := engine.Failure(); err != nil {
		return nil, err
	}
	out := engine.MultiResultSet()
	out.SetCollation(c.Copy())
	return out, nil
}
