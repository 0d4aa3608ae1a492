package report

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/VladislavFirsov/reportflow/config"
	"github.com/VladislavFirsov/reportflow/contracts"
	"github.com/VladislavFirsov/reportflow/internal/orchestration"
	"github.com/VladislavFirsov/reportflow/internal/overlap"
	"github.com/VladislavFirsov/reportflow/internal/render"
	"github.com/VladislavFirsov/reportflow/internal/results"
	"github.com/VladislavFirsov/reportflow/internal/sources"
)

// datasetSource is a source whose datasets can feed an overlap engine.
type datasetSource interface {
	Dataset(ctx context.Context, name string) (*results.ResultSet, error)
	Loader(name string) (*sources.Loader, bool)
}

// overlapTask starts an overlap engine once its datasets are loaded.
type overlapTask struct {
	*orchestration.BaseTask

	name     string
	source   datasetSource
	datasets []string
	sched    *orchestration.Scheduler
	opts     overlap.Options

	engine *overlap.Engine
}

func (t *overlapTask) Run(ctx context.Context) error {
	sets := make([]*results.ResultSet, 0, len(t.datasets))
	for _, n := range t.datasets {
		rs, err := t.source.Dataset(ctx, n)
		if err != nil {
			return fmt.Errorf("overlap %s: %w", t.name, err)
		}
		sets = append(sets, rs)
	}
	e, err := overlap.NewEngine(t.name, t.sched, sets, t.opts)
	if err != nil {
		return err
	}
	if err := t.sched.Append(e); err != nil {
		return err
	}
	if err := t.sched.Await(ctx, e); err != nil {
		return err
	}
	t.engine = e
	return nil
}

type overlapElement struct {
	heading
	task *overlapTask
}

func newOverlap(x *expansion, name string, st config.Structure, level int) (Element, error) {
	var p OverlapParams
	if err := ValidateContent(config.TypeOverlap, st.Content, &p); err != nil {
		return nil, err
	}
	src, ok := x.source.(datasetSource)
	if !ok {
		return nil, fmt.Errorf("overlap %s: manager %s has no datasets: %w", name, x.source.Server(), contracts.ErrArgumentValidation)
	}
	if len(p.Datasets) == 0 {
		return nil, fmt.Errorf("overlap %s: no datasets: %w", name, contracts.ErrArgumentValidation)
	}
	if p.How != "" && !p.How.Valid() {
		return nil, fmt.Errorf("overlap %s: join %q: %w", name, p.How, contracts.ErrArgumentValidation)
	}
	template, err := x.replace(p.Template)
	if err != nil {
		return nil, err
	}

	baseline := contracts.Priority(p.Baseline)
	if baseline == 0 {
		baseline = contracts.PriorityFilter
	}
	task := &overlapTask{
		BaseTask: orchestration.NewBaseTask(name, baseline),
		name:     name,
		source:   src,
		datasets: p.Datasets,
		sched:    x.sched,
		opts: overlap.Options{
			Join:      p.Join,
			How:       p.How,
			Template:  template,
			Limits:    p.Limits,
			Baseline:  baseline,
			OutputDir: x.collate.DataPath,
			Delimiter: x.collate.Delimiter,
			Memory:    x.collate.Memory,
			Logger:    x.collate.Logger,
		},
	}
	for _, n := range p.Datasets {
		l, ok := src.Loader(n)
		if !ok {
			return nil, fmt.Errorf("overlap %s: dataset %q: %w", name, n, contracts.ErrArgumentValidation)
		}
		task.DependsOn(l)
	}
	return &overlapElement{heading: heading{title: st.Title, level: level}, task: task}, nil
}

func (e *overlapElement) Tasks() []orchestration.Task   { return []orchestration.Task{e.task} }
func (e *overlapElement) Prepare(context.Context) error { return nil }

// Render lists every combination with its logic label and row count.
func (e *overlapElement) Render(r render.Renderer) error {
	if err := e.heading.render(r); err != nil {
		return err
	}
	if err := e.task.Failure(); err != nil {
		return unavailable(r, err)
	}
	if e.task.engine == nil {
		return nil
	}
	var rows [][]string
	for _, res := range e.task.engine.Results() {
		count := strconv.Itoa(res.Len())
		if err := res.Err(); err != nil {
			count = "aborted"
		}
		rows = append(rows, []string{res.Name(), res.Logic, count})
	}
	if err := r.AddTable([]string{"combination", "logic", "rows"}, rows, ""); err != nil {
		return err
	}
	if written := e.task.engine.Written(); len(written) > 0 {
		dir := filepath.Dir(written[0])
		return r.AddParagraph(fmt.Sprintf("%d files written to %s", len(written), dir), render.StyleItalic)
	}
	return nil
}
