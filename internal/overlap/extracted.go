package overlap

import (
	"slices"
	"sync"

	"github.com/VladislavFirsov/reportflow/internal/query"
	"github.com/VladislavFirsov/reportflow/internal/results"
)

// ExtractedResult accumulates the merged rows selected by one combination.
//
// Thread-safety: data filters append under mu; readers take a copy.
type ExtractedResult struct {
	Combination query.Combination
	Logic       string

	join       string
	projection []string
	members    []member

	mu    sync.Mutex
	table *results.Table
	seen  map[string]struct{}
	err   error
}

// member maps one dataset's suffixed columns back to their original names.
type member struct {
	name     string
	renamed  []string
	original []string
}

func newExtractedResult(c query.Combination, logic, join string, members []member) *ExtractedResult {
	projection := []string{join}
	for _, m := range members {
		projection = append(projection, m.renamed...)
	}
	return &ExtractedResult{
		Combination: c,
		Logic:       logic,
		join:        join,
		projection:  projection,
		members:     members,
		table:       &results.Table{Columns: slices.Clone(projection)},
		seen:        make(map[string]struct{}),
	}
}

// Name returns the sorted member names joined by "_".
func (r *ExtractedResult) Name() string { return r.Combination.Name() }

// Projection returns the join column followed by the members' columns.
func (r *ExtractedResult) Projection() []string { return slices.Clone(r.projection) }

// add appends the rows of t not seen before. t must carry the projection.
func (r *ExtractedResult) add(t *results.Table) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	for _, row := range t.Rows {
		k := results.RowKey(row)
		if _, dup := r.seen[k]; dup {
			continue
		}
		r.seen[k] = struct{}{}
		r.table.Rows = append(r.table.Rows, row)
	}
}

// fail aborts the accumulator; rows collected so far are dropped.
func (r *ExtractedResult) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
		r.table.Rows = nil
		r.seen = nil
	}
}

// Err returns the failure that aborted the accumulator, or nil.
func (r *ExtractedResult) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Table returns a copy of the accumulated rows.
func (r *ExtractedResult) Table() *results.Table {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.table.Copy()
}

// Len returns the number of accumulated rows.
func (r *ExtractedResult) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.table.Len()
}

// Flattened stacks the members' columns under their original names.
// Each output row carries the join column and one member's attributes;
// rows where that member has no values are skipped.
func (r *ExtractedResult) Flattened() *results.Table {
	acc := r.Table()
	parts := make([]*results.Table, 0, len(r.members))
	for _, m := range r.members {
		sel := acc.Select(append([]string{r.join}, m.renamed...)...)
		kept := &results.Table{Columns: append([]string{r.join}, m.original...)}
		for _, row := range sel.Rows {
			if slices.ContainsFunc(row[1:], func(v any) bool { return v != nil }) {
				kept.Rows = append(kept.Rows, row)
			}
		}
		parts = append(parts, kept)
	}
	flat := results.Concat(parts...)
	if len(flat.Columns) == 0 {
		flat.Columns = []string{r.join}
	}
	return flat.Distinct()
}

// ResultSet returns the flattened projection labelled with the logic string.
func (r *ExtractedResult) ResultSet() *results.ResultSet {
	rs := results.FromTable(r.Name(), r.Flattened())
	rs.SetLabel(r.Logic)
	return rs
}
