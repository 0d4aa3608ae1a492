package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/VladislavFirsov/reportflow/contracts"
	"github.com/VladislavFirsov/reportflow/internal/orchestration"
	"github.com/VladislavFirsov/reportflow/internal/query"
	"github.com/VladislavFirsov/reportflow/internal/results"
)

// FileSpec names one delimited file of a tabular source.
type FileSpec struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Delimiter string `json:"delimiter,omitempty"`
}

// TabularParams are the parameters of the "tabular" manager.
type TabularParams struct {
	Files     []FileSpec `json:"files"`
	Delimiter string     `json:"delimiter,omitempty"`
}

// Tabular serves queries over delimited files. Each file is read by a
// Loader task; queries are parsed against the file's columns.
type Tabular struct {
	logger  *zap.Logger
	loaders []*Loader
	byName  map[string]*Loader
}

func newTabularFromParams(params json.RawMessage, deps Deps) (DataSource, error) {
	var p TabularParams
	if err := decodeParams(params, &p); err != nil {
		return nil, fmt.Errorf("tabular: %w", err)
	}
	return NewTabular(p, deps)
}

// NewTabular validates the file list. Files are not read until loaded.
func NewTabular(p TabularParams, deps Deps) (*Tabular, error) {
	if len(p.Files) == 0 {
		return nil, fmt.Errorf("tabular: no files: %w", contracts.ErrArgumentValidation)
	}
	def, err := results.ParseDelimiter(p.Delimiter, results.DelimiterTab)
	if err != nil {
		return nil, fmt.Errorf("tabular: %w", err)
	}
	t := &Tabular{logger: deps.logger("tabular"), byName: make(map[string]*Loader)}
	for _, f := range p.Files {
		if f.Name == "" || f.Path == "" {
			return nil, fmt.Errorf("tabular: file needs a name and a path: %w", contracts.ErrArgumentValidation)
		}
		if _, dup := t.byName[f.Name]; dup {
			return nil, fmt.Errorf("tabular: file %q repeated: %w", f.Name, contracts.ErrArgumentValidation)
		}
		delim, err := results.ParseDelimiter(f.Delimiter, def)
		if err != nil {
			return nil, fmt.Errorf("tabular: file %s: %w", f.Name, err)
		}
		path := f.Path
		if !filepath.IsAbs(path) && deps.Dir != "" {
			path = filepath.Join(deps.Dir, path)
		}
		l := &Loader{
			BaseTask:  orchestration.NewBaseTask("load:"+f.Name, contracts.PriorityLoader),
			name:      f.Name,
			path:      path,
			delimiter: delim,
			logger:    t.logger,
		}
		t.loaders = append(t.loaders, l)
		t.byName[f.Name] = l
	}
	return t, nil
}

func (t *Tabular) Server() string { return "files" }

// Projects returns the dataset names in configuration order.
func (t *Tabular) Projects(context.Context) ([]string, error) {
	names := make([]string, len(t.loaders))
	for i, l := range t.loaders {
		names[i] = l.name
	}
	return names, nil
}

// Loaders returns one loading task per file, to be scheduled ahead of
// the filters that query them.
func (t *Tabular) Loaders() []*Loader {
	return t.loaders
}

// Loader returns the loading task of the named dataset.
func (t *Tabular) Loader(name string) (*Loader, bool) {
	l, ok := t.byName[name]
	return l, ok
}

// Preload reads every file concurrently.
func (t *Tabular) Preload(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, l := range t.loaders {
		g.Go(func() error { return l.load(gctx) })
	}
	return g.Wait()
}

// Dataset returns the named file's contents, reading it if needed.
func (t *Tabular) Dataset(ctx context.Context, name string) (*results.ResultSet, error) {
	l, ok := t.byName[name]
	if !ok {
		return nil, fmt.Errorf("dataset %q: %w", name, contracts.ErrQueryRejected)
	}
	if err := l.load(ctx); err != nil {
		return nil, err
	}
	return l.ResultSet(), nil
}

// Search filters one dataset, or every dataset when req.From is empty and
// the source has several.
func (t *Tabular) Search(ctx context.Context, req Request) (results.Result, error) {
	if req.From != "" || len(t.loaders) == 1 {
		name := req.From
		if name == "" {
			name = t.loaders[0].name
		}
		return t.searchOne(ctx, name, req)
	}
	m := results.NewMultiResultSet(req.Query, false)
	for _, l := range t.loaders {
		r, err := t.searchOne(ctx, l.name, req)
		if err != nil {
			return nil, err
		}
		switch r := r.(type) {
		case *results.ResultSet:
			m.Append(r)
		case *results.MultiResultSet:
			for _, rs := range r.Sets() {
				m.Append(rs)
			}
		}
	}
	return m, nil
}

func (t *Tabular) searchOne(ctx context.Context, name string, req Request) (results.Result, error) {
	rs, err := t.Dataset(ctx, name)
	if err != nil {
		return nil, err
	}
	table := rs.Table()
	filtered := table
	if req.Query != "" {
		expr, err := query.Compile(query.NewParser(table.Columns).Parse(req.Query))
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w: %w", name, contracts.ErrQueryRejected, err)
		}
		filtered, err = table.Where(func(r results.Row) (bool, error) { return expr.Match(r) })
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", name, err)
		}
	}
	t.logger.Debug("search",
		zap.String("dataset", name),
		zap.String("query", req.Query),
		zap.Int("rows", filtered.Len()))
	return shape(results.FromTable(name, filtered), req), nil
}

// Loader reads one delimited file. It runs at most once; concurrent
// callers wait for the first read.
type Loader struct {
	*orchestration.BaseTask

	name      string
	path      string
	delimiter rune
	logger    *zap.Logger

	once sync.Once
	rs   *results.ResultSet
	err  error
}

func (l *Loader) Run(ctx context.Context) error {
	return l.load(ctx)
}

func (l *Loader) load(ctx context.Context) error {
	l.once.Do(func() {
		if err := ctx.Err(); err != nil {
			l.err = err
			return
		}
		t, err := results.ReadCSVFile(l.path, l.delimiter)
		if err != nil {
			l.err = fmt.Errorf("load %s: %w", l.name, err)
			return
		}
		l.rs = results.FromTable(l.name, t)
		l.logger.Debug("loaded", zap.String("dataset", l.name), zap.String("path", l.path), zap.Int("rows", t.Len()))
	})
	return l.err
}

// ResultSet returns the loaded contents, or nil before loading.
func (l *Loader) ResultSet() *results.ResultSet {
	return l.rs
}
