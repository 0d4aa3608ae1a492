package overlap

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/VladislavFirsov/reportflow/internal/orchestration"
	"github.com/VladislavFirsov/reportflow/internal/query"
	"github.com/VladislavFirsov/reportflow/internal/results"
)

// partitionRunner merges the partitions of every dataset with one primary
// dataset on the left and spawns one data filter per owned combination
// for each merge.
type partitionRunner struct {
	*orchestration.BaseTask

	engine  *Engine
	primary int
	owned   []*ExtractedResult
}

func newPartitionRunner(e *Engine, primary int, owned []*ExtractedResult) *partitionRunner {
	name := fmt.Sprintf("%s:primary:%s", e.Name(), e.datasets[primary].name)
	return &partitionRunner{
		BaseTask: orchestration.NewBaseTask(name, e.opts.Baseline+RunnerOffset),
		engine:   e,
		primary:  primary,
		owned:    owned,
	}
}

// tables returns the datasets with the primary first.
func (r *partitionRunner) tables() []*results.Table {
	ds := r.engine.datasets
	out := []*results.Table{ds[r.primary].table}
	for i, d := range ds {
		if i != r.primary {
			out = append(out, d.table)
		}
	}
	return out
}

// slices applies the sizing rule to the primary joined with each other dataset.
func (r *partitionRunner) slices(tables []*results.Table) int {
	opts := r.engine.opts
	var bytes float64
	var rows int64
	for _, other := range tables[1:] {
		n := ProjectedRows(tables[0], other, opts.Join, opts.How)
		rows += n
		bytes += ProjectedBytes(n, len(tables[0].Columns), len(other.Columns))
	}
	available, err := opts.Memory()
	if err != nil {
		r.engine.logger.Warn("memory probe failed", zap.Error(err))
		available = fallbackAvailable
	}
	s := Slices(bytes, available)
	r.engine.logger.Debug("partition sizing",
		zap.String("runner", string(r.Name())),
		zap.Int64("projected_rows", rows),
		zap.String("projected", humanize.IBytes(uint64(bytes))),
		zap.String("available", humanize.IBytes(available)),
		zap.Int("slices", s))
	return s
}

func (r *partitionRunner) Run(ctx context.Context) error {
	e := r.engine
	tables := r.tables()
	parts := partitionByKeyRange(tables, e.opts.Join, r.slices(tables))
	n := len(parts[0])

	for p := range n {
		if err := ctx.Err(); err != nil {
			return err
		}
		merge := make([]*results.Table, len(tables))
		empty := true
		for ti := range tables {
			merge[ti] = parts[ti][p]
			if merge[ti].Len() > 0 {
				empty = false
			}
		}
		if empty {
			continue
		}
		merged, err := chainJoin(merge, e.opts.Join, e.opts.How)
		if err != nil {
			return fmt.Errorf("%s: partition %d: %w", r.Name(), p, err)
		}

		filters := make([]orchestration.Task, 0, len(r.owned))
		for _, res := range r.owned {
			f := newDataFilter(r, p, merged, res)
			if err := e.sched.Append(f); err != nil {
				return fmt.Errorf("%s: %w", r.Name(), err)
			}
			filters = append(filters, f)
		}
		if err := e.sched.Await(ctx, filters...); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			e.logger.Debug("data filters failed", zap.String("runner", string(r.Name())), zap.Error(err))
		}
	}
	return nil
}

// dataFilter applies one combination's queries to one merge table.
type dataFilter struct {
	*orchestration.BaseTask

	merge  *results.Table
	result *ExtractedResult
}

func newDataFilter(r *partitionRunner, partition int, merge *results.Table, res *ExtractedResult) *dataFilter {
	name := fmt.Sprintf("%s:%d:%s", r.Name(), partition, res.Name())
	return &dataFilter{
		BaseTask: orchestration.NewBaseTask(name, r.engine.opts.Baseline+FilterOffset),
		merge:    merge,
		result:   res,
	}
}

func (f *dataFilter) Run(ctx context.Context) error {
	if err := f.result.Err(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c := f.result.Combination

	selected, err := f.filter(f.merge, c.Inclusive, false)
	if err == nil && c.Exclusive != "" {
		selected, err = f.filter(selected, c.Exclusive, true)
	}
	if err != nil {
		err = fmt.Errorf("%s: %w", f.Name(), err)
		f.result.fail(err)
		return err
	}
	f.result.add(selected.Select(f.result.projection...))
	return nil
}

func (f *dataFilter) filter(t *results.Table, src string, negate bool) (*results.Table, error) {
	expr, err := query.Compile(src)
	if err != nil {
		return nil, err
	}
	return t.Where(func(row results.Row) (bool, error) {
		ok, err := expr.Match(row)
		if err != nil {
			return false, err
		}
		return ok != negate, nil
	})
}
