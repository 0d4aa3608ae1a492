// Package overlap computes combinatorial set overlaps across N tabular
// datasets joined on a shared key, with memory-bounded partitioned joins.
package overlap

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/VladislavFirsov/reportflow/contracts"
	"github.com/VladislavFirsov/reportflow/internal/logging"
	"github.com/VladislavFirsov/reportflow/internal/orchestration"
	"github.com/VladislavFirsov/reportflow/internal/query"
	"github.com/VladislavFirsov/reportflow/internal/results"
)

// Priority offsets of spawned tasks relative to Options.Baseline.
const (
	RunnerOffset contracts.Priority = 200
	FilterOffset contracts.Priority = 500
)

// Options configures an Engine.
type Options struct {
	// Join is the shared key column K.
	Join string
	// How is the join method; empty means outer.
	How      results.JoinHow
	Template string
	Limits   map[string]float64
	// Baseline is the priority spawned tasks are offset from.
	Baseline contracts.Priority
	// OutputDir receives the per-combination CSV files; empty disables them.
	OutputDir string
	Delimiter rune
	Memory    MemoryProbe
	Parser    *query.Parser
	Logger    *zap.Logger
}

type dataset struct {
	name  string
	table *results.Table
	member
}

// Engine is a Task computing one ExtractedResult per non-empty subset of
// its datasets. It spawns one partition runner per primary dataset on
// the scheduler it runs on and waits for them.
type Engine struct {
	*orchestration.BaseTask

	sched    *orchestration.Scheduler
	opts     Options
	logger   *zap.Logger
	datasets []dataset
	results  []*ExtractedResult
	written  []string
}

// NewEngine validates the inputs. Every set must have a tabular view
// holding the join column, and names must be unique.
func NewEngine(name string, sched *orchestration.Scheduler, sets []*results.ResultSet, opts Options) (*Engine, error) {
	if sched == nil {
		return nil, fmt.Errorf("overlap %s: scheduler: %w", name, contracts.ErrInvalidInput)
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("overlap %s: no datasets: %w", name, contracts.ErrArgumentValidation)
	}
	if opts.Join == "" || opts.Template == "" {
		return nil, fmt.Errorf("overlap %s: join column and template are required: %w", name, contracts.ErrArgumentValidation)
	}
	if opts.How == "" {
		opts.How = results.JoinOuter
	}
	if !opts.How.Valid() {
		return nil, fmt.Errorf("overlap %s: join %q: %w", name, opts.How, contracts.ErrArgumentValidation)
	}
	if opts.Delimiter == 0 {
		opts.Delimiter = results.DelimiterTab
	}
	if opts.Memory == nil {
		opts.Memory = SystemMemory
	}
	if opts.Baseline == 0 {
		opts.Baseline = contracts.PriorityFilter
	}

	e := &Engine{
		BaseTask: orchestration.NewBaseTask("overlap:"+name, opts.Baseline),
		sched:    sched,
		opts:     opts,
		logger:   logging.OrNop(opts.Logger).Named("overlap").With(zap.String("overlap", name)),
	}
	seen := make(map[string]bool)
	for _, rs := range sets {
		n := rs.Name()
		if n == "" || seen[n] {
			return nil, fmt.Errorf("overlap %s: dataset name %q empty or repeated: %w", name, n, contracts.ErrArgumentValidation)
		}
		seen[n] = true
		t := rs.Table()
		if t.Index(opts.Join) < 0 {
			return nil, fmt.Errorf("overlap %s: dataset %s has no column %q: %w", name, n, opts.Join, contracts.ErrArgumentValidation)
		}
		e.datasets = append(e.datasets, dataset{name: n, table: t})
	}
	e.prepare()
	return e, nil
}

// Run generates the combinations, runs the partition runners and flushes
// the CSV artefacts. Each run starts from fresh accumulators, so a retried
// engine repeats the work instead of extending it.
func (e *Engine) Run(ctx context.Context) error {
	e.written = nil

	names := make([]string, len(e.datasets))
	for i, d := range e.datasets {
		names[i] = d.name
	}
	combos := query.Combinations(e.opts.Parser, e.opts.Template, names, e.opts.Limits)
	labels := LogicLabels(combos)

	e.results = make([]*ExtractedResult, len(combos))
	for i, c := range combos {
		members := make([]member, 0, len(c.In))
		for _, d := range e.datasets {
			if c.Contains(d.name) {
				members = append(members, d.member)
			}
		}
		e.results[i] = newExtractedResult(c, labels[i], e.opts.Join, members)
	}

	var runners []orchestration.Task
	for i, d := range e.datasets {
		var owned []*ExtractedResult
		for _, r := range e.results {
			if r.Combination.In[0] == d.name {
				owned = append(owned, r)
			}
		}
		if len(owned) == 0 {
			continue
		}
		r := newPartitionRunner(e, i, owned)
		if err := e.sched.Append(r); err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		runners = append(runners, r)
	}

	e.logger.Debug("overlap started",
		zap.Int("datasets", len(e.datasets)),
		zap.Int("combinations", len(combos)),
		zap.Int("runners", len(runners)))

	if err := e.sched.Await(ctx, runners...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		e.logger.Warn("partition runners failed", zap.Error(err))
	}
	return e.setResults(ctx)
}

// prepare renames every non-join column to <column>_<dataset>. It runs
// once, from NewEngine.
func (e *Engine) prepare() {
	for i := range e.datasets {
		d := &e.datasets[i]
		mapping := make(map[string]string)
		d.member = member{name: d.name}
		for _, c := range d.table.Columns {
			if c == e.opts.Join {
				continue
			}
			renamed := c + "_" + d.name
			mapping[c] = renamed
			d.renamed = append(d.renamed, renamed)
			d.original = append(d.original, c)
		}
		d.table = d.table.Rename(mapping)
	}
}

// setResults flushes <name>.csv and flattened_<name>.csv for every result.
func (e *Engine) setResults(ctx context.Context) error {
	if e.opts.OutputDir == "" {
		return nil
	}
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(4)
	paths := make([][]string, len(e.results))
	for i, r := range e.results {
		g.Go(func() error {
			if err := r.Err(); err != nil {
				e.logger.Warn("combination aborted", zap.String("combination", r.Name()), zap.Error(err))
				return nil
			}
			for _, out := range []struct {
				name  string
				table *results.Table
			}{
				{r.Name() + ".csv", r.Table()},
				{"flattened_" + r.Name() + ".csv", r.Flattened()},
			} {
				path, err := results.WriteCSVFile(e.opts.OutputDir, out.name, out.table, e.opts.Delimiter)
				if errors.Is(err, contracts.ErrInvalidFilename) {
					e.logger.Warn("skipping artefact", zap.String("file", out.name), zap.Error(err))
					continue
				}
				if err != nil {
					return err
				}
				paths[i] = append(paths[i], path)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%s: %w", e.Name(), err)
	}
	e.written = slices.Concat(paths...)
	return nil
}

// Results returns one ExtractedResult per combination, in combination order.
func (e *Engine) Results() []*ExtractedResult {
	return slices.Clone(e.results)
}

// Written returns the paths of the CSV artefacts written by the last run.
func (e *Engine) Written() []string {
	return slices.Clone(e.written)
}

// MultiResultSet returns the flattened projections as labelled result sets.
func (e *Engine) MultiResultSet() *results.MultiResultSet {
	m := results.NewMultiResultSet(string(e.Name()), false)
	for _, r := range e.results {
		if r.Err() != nil {
			continue
		}
		m.Append(r.ResultSet())
	}
	return m
}
