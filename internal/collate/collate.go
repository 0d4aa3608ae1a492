// Package collate implements the collation methods applied to result sets
// after extraction.
package collate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/VladislavFirsov/reportflow/contracts"
	"github.com/VladislavFirsov/reportflow/internal/orchestration"
	"github.com/VladislavFirsov/reportflow/internal/overlap"
	"github.com/VladislavFirsov/reportflow/internal/results"
)

// Env carries what collation methods need beyond their input.
type Env struct {
	// DataPath receives artefacts such as overlaps.csv; empty disables them.
	DataPath  string
	Delimiter rune
	Now       func() time.Time
	Logger    *zap.Logger
	// Scheduler configures the scheduler the combinatorics method runs on.
	Scheduler orchestration.Options
	Memory    overlap.MemoryProbe
}

func (e Env) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e Env) delimiter() rune {
	if e.Delimiter == 0 {
		return results.DelimiterTab
	}
	return e.Delimiter
}

func (e Env) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger.Named("collate")
}

// Func computes a collated copy of in. Implementations must not mutate in.
type Func func(ctx context.Context, env Env, in results.Result, c *results.Collation) (results.Result, error)

var registry = map[results.Method]Func{
	results.TotalByField:             totalByField,
	results.AverageDaysSinceCreation: averageDaysSinceCreation,
	results.AverageDuration:          averageDuration,
	results.PriorityBucket:           priorityBucket,
	results.Flatten:                  flatten,
	results.SumTotal:                 sumTotal,
	results.SumOuter:                 sumOuter,
	results.Subquery:                 subquery,
	results.Combinatorics:            combinatorics,
}

// Lookup returns the implementation of method m.
func Lookup(m results.Method) (Func, error) {
	fn, ok := registry[m]
	if !ok {
		return nil, fmt.Errorf("method %q: %w", m, contracts.ErrInvalidCollation)
	}
	return fn, nil
}

// Replace swaps the implementation of an existing method and returns a
// function restoring the previous one. Used by tests.
func Replace(m results.Method, fn Func) (restore func(), err error) {
	prev, err := Lookup(m)
	if err != nil {
		return nil, err
	}
	registry[m] = fn
	return func() { registry[m] = prev }, nil
}

// Apply runs collation c over a copy of in. A nil collation returns the copy.
func Apply(ctx context.Context, env Env, in results.Result, c *results.Collation) (results.Result, error) {
	if in == nil {
		return nil, fmt.Errorf("collate: nil input: %w", contracts.ErrInvalidInput)
	}
	cp := in.Clone()
	if c == nil {
		return cp, nil
	}
	fn, err := Lookup(c.Method)
	if err != nil {
		return nil, err
	}
	out, err := fn(ctx, env, cp, c)
	if err != nil {
		return nil, fmt.Errorf("collate %s on %s: %w", c.Method, in.Name(), err)
	}
	return out, nil
}

// members returns the result sets making up in.
func members(in results.Result) []*results.ResultSet {
	switch r := in.(type) {
	case *results.ResultSet:
		return []*results.ResultSet{r}
	case *results.MultiResultSet:
		return r.Sets()
	}
	return nil
}

// fieldValues returns the value of field in every record of in.
func fieldValues(in results.Result, field string) []any {
	var out []any
	for r := range in.Records() {
		v, _ := r.Get(field)
		out = append(out, v)
	}
	return out
}
