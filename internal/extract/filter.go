// Package extract provides the Filter task: one data source query whose
// results are shared with equivalent filters.
package extract

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/VladislavFirsov/reportflow/contracts"
	"github.com/VladislavFirsov/reportflow/internal/collate"
	"github.com/VladislavFirsov/reportflow/internal/orchestration"
	"github.com/VladislavFirsov/reportflow/internal/results"
	"github.com/VladislavFirsov/reportflow/internal/sources"
)

// Options configure a Filter.
type Options struct {
	Query     string
	Limit     int
	Fields    []string
	GroupBy   string
	From      string
	Collation *results.Collation
	Distinct  bool
	// Priority defaults to contracts.PriorityFilter and is clamped to
	// (PriorityRender, PriorityCeiling].
	Priority contracts.Priority
}

// Filter queries a data source. Filters with the same source and request
// coalesce: one runs and the others observe it.
type Filter struct {
	*orchestration.BaseTask

	source    sources.DataSource
	req       sources.Request
	collation *results.Collation
	distinct  bool
	env       collate.Env

	mu     sync.RWMutex
	result results.Result
}

var _ orchestration.Coalescable = (*Filter)(nil)

// NewFilter validates opts. A nil source is accepted; running the filter
// then fails with ErrNoDataSource.
func NewFilter(name string, source sources.DataSource, opts Options, env collate.Env) (*Filter, error) {
	if opts.Limit < 0 {
		return nil, fmt.Errorf("filter %s: negative limit: %w", name, contracts.ErrArgumentValidation)
	}
	if opts.Collation != nil {
		if err := opts.Collation.Validate(); err != nil {
			return nil, fmt.Errorf("filter %s: %w", name, err)
		}
	}
	return &Filter{
		BaseTask: orchestration.NewBaseTask(name, ClampPriority(opts.Priority)),
		source:   source,
		req: sources.Request{
			Query:   opts.Query,
			Limit:   opts.Limit,
			Fields:  slices.Clone(opts.Fields),
			GroupBy: opts.GroupBy,
			From:    opts.From,
		},
		collation: opts.Collation.Copy(),
		distinct:  opts.Distinct,
		env:       env,
	}, nil
}

// ClampPriority keeps filters after loaders and ahead of renderers.
func ClampPriority(p contracts.Priority) contracts.Priority {
	switch {
	case p == 0:
		return contracts.PriorityFilter
	case p > contracts.PriorityCeiling:
		return contracts.PriorityCeiling
	case p <= contracts.PriorityRender:
		return contracts.PriorityRender + 1
	}
	return p
}

// Request returns the search the filter performs.
func (f *Filter) Request() sources.Request { return f.req }

// Collation returns the filter's own collation descriptor.
func (f *Filter) Collation() *results.Collation { return f.collation.Copy() }

// CoalesceKey identifies filters issuing the same search on the same source.
func (f *Filter) CoalesceKey() string {
	return fmt.Sprintf("%p|%s", f.source, f.req.Key())
}

func (f *Filter) Run(ctx context.Context) error {
	if f.source == nil {
		return fmt.Errorf("filter %s: %w", f.Name(), contracts.ErrNoDataSource)
	}
	r, err := f.source.Search(ctx, f.req)
	if err != nil {
		return fmt.Errorf("filter %s: %w", f.Name(), err)
	}
	f.set(r)
	return nil
}

// Notify hands a copy of the results to observer.
func (f *Filter) Notify(observer orchestration.Coalescable) error {
	o, ok := observer.(*Filter)
	if !ok {
		return fmt.Errorf("notify %T: %w", observer, contracts.ErrTypeMismatch)
	}
	raw := f.Raw()
	if raw == nil {
		return fmt.Errorf("notify %s: no results: %w", o.Name(), contracts.ErrThreadFailed)
	}
	o.set(raw)
	return nil
}

// set stores r with this filter's own distinct flag and collation. Both
// are overwritten, so results copied from a primary carry none of its
// descriptors.
func (f *Filter) set(r results.Result) {
	for _, rs := range memberSets(r) {
		rs.SetDistinct(f.distinct)
		rs.SetCollation(f.collation.Copy())
	}
	f.mu.Lock()
	f.result = r
	f.mu.Unlock()
}

func memberSets(r results.Result) []*results.ResultSet {
	switch r := r.(type) {
	case *results.ResultSet:
		return []*results.ResultSet{r}
	case *results.MultiResultSet:
		return r.Sets()
	}
	return nil
}

// Raw returns a copy of the uncollated results, or nil before completion.
func (f *Filter) Raw() results.Result {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.result == nil {
		return nil
	}
	return f.result.Clone()
}

// Results returns the results with the filter's collation applied. The
// stored results are never modified, so repeated calls agree.
func (f *Filter) Results(ctx context.Context) (results.Result, error) {
	raw := f.Raw()
	if raw == nil {
		if err := f.Failure(); err != nil {
			return nil, err
		}
		return results.NewResultSet(string(f.Name())), nil
	}
	if f.collation == nil {
		return raw, nil
	}
	return collate.Apply(ctx, f.env, raw, f.collation)
}
