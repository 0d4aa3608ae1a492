// Package report expands a report configuration into scheduled tasks,
// runs them and renders the document.
package report

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/VladislavFirsov/reportflow/config"
	"github.com/VladislavFirsov/reportflow/contracts"
	"github.com/VladislavFirsov/reportflow/internal/collate"
	"github.com/VladislavFirsov/reportflow/internal/logging"
	"github.com/VladislavFirsov/reportflow/internal/orchestration"
	"github.com/VladislavFirsov/reportflow/internal/overlap"
	"github.com/VladislavFirsov/reportflow/internal/render"
	"github.com/VladislavFirsov/reportflow/internal/replacements"
	"github.com/VladislavFirsov/reportflow/internal/results"
	"github.com/VladislavFirsov/reportflow/internal/sources"
)

// DefaultSectionLevel is the heading level of sections without one.
const DefaultSectionLevel = 2

// Options configures a Builder. Zero values select the configured or
// process-wide defaults.
type Options struct {
	Logger       *zap.Logger
	Replacements *replacements.Registry
	// Source replaces the configured manager.
	Source sources.DataSource
	// Renderer replaces the configured reporting class.
	Renderer render.Renderer
	// Parallelism overrides policy.max_parallelism when positive.
	Parallelism int
	HTTPClient  *http.Client
	Memory      overlap.MemoryProbe
	Now         func() time.Time
	// ID identifies the build; zero means a random one.
	ID uuid.UUID
}

type section struct {
	title    string
	abstract string
	level    int
	elements []Element
}

// Builder turns one configuration into one document. It is not reusable.
type Builder struct {
	id       uuid.UUID
	cfg      *config.Config
	logger   *zap.Logger
	registry *replacements.Registry
	source   sources.DataSource
	renderer render.Renderer
	sched    *orchestration.Scheduler
	now      func() time.Time

	title    string
	subtitle string
	abstract string
	path     string
	sections []section

	owned    map[*orchestration.BaseTask]bool
	optional map[*orchestration.BaseTask]bool
}

// NewBuilder creates the data source, renderer and scheduler and expands
// every section. Element construction errors abort unless the structure
// or its section is optional.
func NewBuilder(cfg *config.Config, opts Options) (*Builder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("builder: %w", config.ErrConfigEmpty)
	}
	logger := logging.OrNop(opts.Logger).Named("report")
	reg := opts.Replacements
	if reg == nil {
		reg = replacements.Default()
	}
	if err := reg.Load(cfg.Replacements); err != nil {
		return nil, err
	}

	deps := sources.Deps{Logger: opts.Logger, HTTPClient: opts.HTTPClient, Dir: cfg.Dir}
	src := opts.Source
	if src == nil {
		var err error
		if src, err = sources.New(cfg.Manager, cfg.ManagerParams, deps); err != nil {
			return nil, err
		}
	}
	renderer := opts.Renderer
	if renderer == nil {
		var err error
		if renderer, err = render.New(cfg.Reporting); err != nil {
			return nil, err
		}
	}

	schedOpts := cfg.Policy.SchedulerOptions()
	if opts.Parallelism > 0 {
		schedOpts.MaxParallelism = opts.Parallelism
	}
	schedOpts.Logger = opts.Logger

	b := &Builder{
		id:       opts.ID,
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		source:   src,
		renderer: renderer,
		sched:    orchestration.NewScheduler(schedOpts),
		now:      opts.Now,
		owned:    make(map[*orchestration.BaseTask]bool),
		optional: make(map[*orchestration.BaseTask]bool),
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.id == uuid.Nil {
		b.id = uuid.New()
	}
	if err := b.expand(opts, deps, schedOpts); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Builder) replace(extras map[string]string) func(string) (string, error) {
	return func(s string) (string, error) { return b.registry.Replace(s, extras) }
}

func (b *Builder) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || b.cfg.Dir == "" {
		return path
	}
	return filepath.Join(b.cfg.Dir, path)
}

func (b *Builder) expand(opts Options, deps sources.Deps, schedOpts orchestration.Options) error {
	rep := b.cfg.Report
	var err error
	if b.title, err = b.registry.Replace(rep.Title, nil); err != nil {
		return err
	}
	extras := map[string]string{"REPORT_TITLE": b.title}
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&b.subtitle, rep.Subtitle},
		{&b.abstract, rep.Abstract},
		{&b.path, rep.Path},
	} {
		if *f.dst, err = b.registry.Replace(f.src, extras); err != nil {
			return err
		}
	}
	b.path = b.resolve(b.path)
	dataPath, err := b.registry.Replace(rep.DataPath, extras)
	if err != nil {
		return err
	}

	cmd, ok := b.source.(*sources.Command)
	if !ok {
		cmd = sources.NewCommand(sources.CommandParams{}, deps)
	}
	x := &expansion{
		source:  b.source,
		command: cmd,
		sched:   b.sched,
		collate: collate.Env{
			DataPath:  b.resolve(dataPath),
			Delimiter: results.DelimiterTab,
			Now:       b.now,
			Logger:    opts.Logger,
			Scheduler: schedOpts,
			Memory:    opts.Memory,
		},
	}

	// Loaders are registered ahead of the elements.
	if t, ok := b.source.(*sources.Tabular); ok {
		for _, l := range t.Loaders() {
			if err := b.register(l, false); err != nil {
				return err
			}
		}
	}

	byName := make(map[string][]orchestration.Task)
	type waiting struct {
		tasks []orchestration.Task
		on    []string
	}
	var waits []waiting

	for i, sec := range rep.Sections {
		level := sec.Level
		if level <= 0 {
			level = DefaultSectionLevel
		}
		s := section{level: level}
		if s.title, err = b.registry.Replace(sec.Title, extras); err != nil {
			return err
		}
		x.replace = b.replace(map[string]string{"REPORT_TITLE": b.title, "SECTION_TITLE": s.title})
		if s.abstract, err = x.replace(sec.Abstract); err != nil {
			return err
		}

		for j, st := range sec.Structure {
			name := st.Name
			if name == "" {
				name = st.Type + ":" + strconv.Itoa(i) + "." + strconv.Itoa(j)
			}
			if st.Title != "" {
				if st.Title, err = x.replace(st.Title); err != nil {
					return err
				}
			}
			optional := st.Optional || sec.Optional
			newElement, ok := constructors[st.Type]
			if !ok {
				return fmt.Errorf("structure %s type %q: %w", name, st.Type, contracts.ErrInvalidModule)
			}
			el, err := newElement(x, name, st, level+1)
			if err != nil {
				if optional {
					b.logger.Warn("skipping optional structure", zap.String("structure", name), zap.Error(err))
					continue
				}
				return fmt.Errorf("section %q structure %s: %w", sec.Title, name, err)
			}
			tasks := el.Tasks()
			for _, t := range tasks {
				if err := b.register(t, optional); err != nil {
					return err
				}
			}
			if st.Name != "" {
				byName[st.Name] = tasks
			}
			if len(st.WaitFor) > 0 {
				waits = append(waits, waiting{tasks: tasks, on: st.WaitFor})
			}
			s.elements = append(s.elements, el)
		}
		b.sections = append(b.sections, s)
	}

	for _, w := range waits {
		for _, t := range w.tasks {
			for _, dep := range w.on {
				t.Base().DependsOn(byName[dep]...)
			}
		}
	}
	return nil
}

func (b *Builder) register(t orchestration.Task, optional bool) error {
	if err := b.sched.Append(t); err != nil {
		return err
	}
	b.owned[t.Base()] = true
	if optional {
		b.optional[t.Base()] = true
	}
	return nil
}

// ID returns the build identifier.
func (b *Builder) ID() uuid.UUID { return b.id }

// Title returns the expanded report title.
func (b *Builder) Title() string { return b.title }

// Scheduler returns the scheduler the build runs on.
func (b *Builder) Scheduler() *orchestration.Scheduler { return b.sched }

// Renderer returns the document renderer.
func (b *Builder) Renderer() render.Renderer { return b.renderer }

// Build is the outcome of one Builder run.
type Build struct {
	ID       uuid.UUID
	Title    string
	Path     string
	Started  time.Time
	Finished time.Time
	Tasks    []orchestration.TaskStatus
	Document render.Renderer

	failures []error
}

// Err returns nil, or ErrBuildFailed joined with the failure of every
// non-optional task.
func (b *Build) Err() error {
	if len(b.failures) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrBuildFailed}, b.failures...)...)
}

// Failures returns the individual non-optional failures.
func (b *Build) Failures() []error { return append([]error(nil), b.failures...) }

// Run schedules every task, renders the document and saves it to the
// configured path. Task failures do not make Run fail; they are collected
// in the returned Build. Run fails on cancellation, scheduler or render
// errors.
func (b *Builder) Run(ctx context.Context) (*Build, error) {
	id := b.id
	build := &Build{ID: id, Title: b.title, Path: b.path, Started: b.now(), Document: b.renderer}
	log := b.logger.With(zap.String("build", id.String()))
	log.Info("build started", zap.String("title", b.title), zap.Int("tasks", len(b.sched.Tasks())))

	if err := b.sched.Start(ctx); err != nil {
		return nil, fmt.Errorf("build %s: %w", id, err)
	}

	for _, t := range b.sched.Failed() {
		base := t.Base()
		err := fmt.Errorf("%s: %w", base.Name(), base.Failure())
		switch {
		case !b.owned[base]:
			log.Debug("spawned task failed", zap.String("task", string(base.Name())), zap.Error(base.Failure()))
		case b.optional[base]:
			log.Warn("optional task failed", zap.String("task", string(base.Name())), zap.Error(base.Failure()))
		default:
			log.Error("task failed", zap.String("task", string(base.Name())), zap.Error(base.Failure()))
			build.failures = append(build.failures, err)
		}
	}

	for _, s := range b.sections {
		for _, el := range s.elements {
			if err := el.Prepare(ctx); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				log.Error("collation failed", zap.Error(err))
				build.failures = append(build.failures, err)
			}
		}
	}

	if err := b.render(); err != nil {
		return nil, fmt.Errorf("build %s: render: %w", id, err)
	}
	if b.path != "" {
		if err := b.renderer.Save(b.path); err != nil {
			return nil, fmt.Errorf("build %s: %w", id, err)
		}
	}

	build.Tasks = b.sched.Snapshot()
	build.Finished = b.now()
	log.Info("build finished",
		zap.String("path", b.path),
		zap.Int("failures", len(build.failures)),
		zap.Duration("elapsed", build.Finished.Sub(build.Started)))
	return build, nil
}

func (b *Builder) render() error {
	r := b.renderer
	if err := r.AddHeading(b.title, 1); err != nil {
		return err
	}
	if b.subtitle != "" {
		if err := r.AddParagraph(b.subtitle, render.StyleItalic); err != nil {
			return err
		}
	}
	if b.abstract != "" {
		if err := r.AddParagraph(b.abstract, ""); err != nil {
			return err
		}
	}
	for _, s := range b.sections {
		if s.title != "" {
			if err := r.AddHeading(s.title, s.level); err != nil {
				return err
			}
		}
		if s.abstract != "" {
			if err := r.AddParagraph(s.abstract, ""); err != nil {
				return err
			}
		}
		for _, el := range s.elements {
			if err := el.Render(r); err != nil {
				return err
			}
		}
	}
	return nil
}

// ErrBuildFailed marks a build with non-optional task failures.
var ErrBuildFailed = fmt.Errorf("build failed: %w", contracts.ErrRunFailed)
