package collate

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/VladislavFirsov/reportflow/contracts"
	"github.com/VladislavFirsov/reportflow/internal/query"
	"github.com/VladislavFirsov/reportflow/internal/results"
)

// Default fields used when a collation names none.
const (
	CreatedField  = "created"
	ResolvedField = "resolved"
	PriorityField = "priority"
	TotalField    = "total"
	CountField    = "count"
)

// PriorityLevels are the fixed buckets of priority_bucket, highest first.
var PriorityLevels = []string{"Highest", "High", "Medium", "Low", "Lowest"}

var priorityAliases = map[string]int{
	"highest": 0, "blocker": 0, "p0": 0, "1": 0,
	"high": 1, "critical": 1, "p1": 1, "2": 1,
	"medium": 2, "major": 2, "normal": 2, "p2": 2, "3": 2,
	"low": 3, "minor": 3, "p3": 3, "4": 3,
	"lowest": 4, "trivial": 4, "p4": 4, "5": 4,
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

func parseTime(v any) (time.Time, bool) {
	switch v := v.(type) {
	case time.Time:
		return v, true
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// expand yields list values element-wise and scalars as themselves.
func expand(v any) []any {
	switch v := v.(type) {
	case nil:
		return nil
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	}
	return []any{v}
}

func requireField(c *results.Collation, def string) (string, error) {
	if c.Field != "" {
		return c.Field, nil
	}
	if def == "" {
		return "", fmt.Errorf("field required: %w", contracts.ErrArgumentValidation)
	}
	return def, nil
}

// counted keeps first-seen order of counted values.
type counted struct {
	order  []any
	counts map[any]float64
	values map[any]any
}

func newCounted() *counted {
	return &counted{counts: make(map[any]float64), values: make(map[any]any)}
}

func (c *counted) add(v any, n float64) {
	k := results.JoinKey(v)
	if _, ok := c.counts[k]; !ok {
		c.order = append(c.order, k)
		c.values[k] = v
	}
	c.counts[k] += n
}

func (c *counted) table(field, total string) *results.Table {
	t := &results.Table{Columns: []string{field, total}}
	for _, k := range c.order {
		t.Rows = append(t.Rows, []any{c.values[k], c.counts[k]})
	}
	return t
}

// totalByField counts rows per value of the field; list values count once
// per element.
func totalByField(_ context.Context, _ Env, in results.Result, c *results.Collation) (results.Result, error) {
	field, err := requireField(c, "")
	if err != nil {
		return nil, err
	}
	counts := newCounted()
	for _, v := range fieldValues(in, field) {
		for _, e := range expand(v) {
			counts.add(e, 1)
		}
	}
	return results.FromTable(in.Name(), counts.table(field, TotalField)), nil
}

func average(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// averageDaysSinceCreation averages the age in days of the rows' creation time.
func averageDaysSinceCreation(_ context.Context, env Env, in results.Result, c *results.Collation) (results.Result, error) {
	field, _ := requireField(c, CreatedField)
	now := env.now()
	var sum float64
	n := 0
	for _, v := range fieldValues(in, field) {
		t, ok := parseTime(v)
		if !ok {
			continue
		}
		sum += now.Sub(t).Hours() / 24
		n++
	}
	return summary(in.Name(), "average_days", average(sum, n), n), nil
}

// averageDuration averages the days between creation and the field
// (resolution by default) over rows carrying both.
func averageDuration(_ context.Context, _ Env, in results.Result, c *results.Collation) (results.Result, error) {
	field, _ := requireField(c, ResolvedField)
	var sum float64
	n := 0
	for r := range in.Records() {
		cv, _ := r.Get(CreatedField)
		ev, _ := r.Get(field)
		start, ok1 := parseTime(cv)
		end, ok2 := parseTime(ev)
		if !ok1 || !ok2 {
			continue
		}
		sum += end.Sub(start).Hours() / 24
		n++
	}
	return summary(in.Name(), "average_duration_days", average(sum, n), n), nil
}

func summary(name, column string, value float64, n int) *results.ResultSet {
	return results.FromTable(name, results.NewTable(
		[]string{column, CountField},
		[][]any{{value, float64(n)}},
	))
}

// priorityBucket histograms rows into the five PriorityLevels. The output
// always has five rows.
func priorityBucket(_ context.Context, env Env, in results.Result, c *results.Collation) (results.Result, error) {
	field, _ := requireField(c, PriorityField)
	counts := make([]float64, len(PriorityLevels))
	for _, v := range fieldValues(in, field) {
		if v == nil {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(results.FormatCell(v)))
		level, ok := priorityAliases[key]
		if !ok {
			env.logger().Debug("unknown priority", zap.String("value", key))
			continue
		}
		counts[level]++
	}
	t := &results.Table{Columns: []string{field, TotalField}}
	for i, level := range PriorityLevels {
		t.Rows = append(t.Rows, []any{level, counts[i]})
	}
	return results.FromTable(in.Name(), t), nil
}

// flatten lists the field's values, expanding lists. Distinct sets are
// deduplicated and sorted.
func flatten(_ context.Context, _ Env, in results.Result, c *results.Collation) (results.Result, error) {
	field, err := requireField(c, "")
	if err != nil {
		return nil, err
	}
	var values []any
	for _, v := range fieldValues(in, field) {
		values = append(values, expand(v)...)
	}
	if isDistinct(in) {
		values = distinctSorted(values)
	}
	t := &results.Table{Columns: []string{field}}
	for _, v := range values {
		t.Rows = append(t.Rows, []any{v})
	}
	return results.FromTable(in.Name(), t), nil
}

func isDistinct(in results.Result) bool {
	for _, rs := range members(in) {
		if rs.Distinct() {
			return true
		}
	}
	return false
}

func distinctSorted(values []any) []any {
	seen := make(map[any]bool)
	var out []any
	for _, v := range values {
		k := results.JoinKey(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	slices.SortStableFunc(out, func(a, b any) int {
		af, aok := toFloat(a)
		bf, bok := toFloat(b)
		if aok && bok {
			return cmp.Compare(af, bf)
		}
		return cmp.Compare(results.FormatCell(a), results.FormatCell(b))
	})
	return out
}

// sumTotal sums the numeric field, per group when the set has a group-by
// column.
func sumTotal(_ context.Context, _ Env, in results.Result, c *results.Collation) (results.Result, error) {
	field, err := requireField(c, "")
	if err != nil {
		return nil, err
	}
	groupBy := ""
	if rs, ok := in.(*results.ResultSet); ok {
		groupBy = rs.GroupBy()
	}
	if groupBy == "" {
		var sum float64
		n := 0
		for _, v := range fieldValues(in, field) {
			if f, ok := toFloat(v); ok {
				sum += f
				n++
			}
		}
		return summary(in.Name(), TotalField, sum, n), nil
	}
	return results.FromTable(in.Name(), groupSum(in, groupBy, field).table(groupBy, TotalField)), nil
}

// groupSum sums field per value of key; an empty field counts rows.
func groupSum(in results.Result, key, field string) *counted {
	sums := newCounted()
	for r := range in.Records() {
		k, _ := r.Get(key)
		n := 1.0
		if field != "" {
			v, _ := r.Get(field)
			f, ok := toFloat(v)
			if !ok {
				continue
			}
			n = f
		}
		sums.add(k, n)
	}
	return sums
}

// sumOuter groups every member by the join column, sums the field (or
// counts rows) into a column named after the member, outer-merges the
// members and fills missing sums with zero.
func sumOuter(ctx context.Context, _ Env, in results.Result, c *results.Collation) (results.Result, error) {
	key := ""
	if c.Join != nil {
		key = c.Join.Column
	}
	if key == "" {
		if rs, ok := in.(*results.ResultSet); ok {
			key = rs.GroupBy()
		}
	}
	if key == "" {
		return nil, fmt.Errorf("sum_outer needs a join column: %w", contracts.ErrArgumentValidation)
	}

	sets := members(in)
	if len(sets) == 0 {
		return results.NewResultSet(in.Name()), nil
	}
	grouped := make([]*results.Table, len(sets))
	g, gctx := errgroup.WithContext(ctx)
	for i, rs := range sets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			grouped[i] = groupSum(rs, key, c.Field).table(key, rs.Name())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := grouped[0]
	for _, t := range grouped[1:] {
		var err error
		if merged, err = merged.Join(t, key, c.JoinHowOr(results.JoinOuter)); err != nil {
			return nil, err
		}
	}
	for _, row := range merged.Rows {
		for j := range row {
			if row[j] == nil && merged.Columns[j] != key {
				row[j] = 0.0
			}
		}
	}
	return results.FromTable(in.Name(), merged), nil
}

// subquery filters every member with the collation query and, with a data
// path, writes the concatenated matches to overlaps.csv.
func subquery(_ context.Context, env Env, in results.Result, c *results.Collation) (results.Result, error) {
	if c.Query == "" {
		return nil, fmt.Errorf("subquery needs a query: %w", contracts.ErrArgumentValidation)
	}
	filter := func(rs *results.ResultSet) (*results.ResultSet, error) {
		t := rs.Table()
		expr, err := query.Compile(query.NewParser(t.Columns).Parse(c.Query))
		if err != nil {
			return nil, err
		}
		kept, err := t.Where(func(r results.Row) (bool, error) { return expr.Match(r) })
		if err != nil {
			return nil, err
		}
		out := results.FromTable(rs.Name(), kept)
		out.SetLabel(rs.Label())
		return out, nil
	}

	var out results.Result
	var tables []*results.Table
	switch r := in.(type) {
	case *results.MultiResultSet:
		m := results.NewMultiResultSet(r.Name(), r.Combine())
		for _, rs := range r.Sets() {
			f, err := filter(rs)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", rs.Name(), err)
			}
			m.Append(f)
			tables = append(tables, f.Table())
		}
		out = m
	case *results.ResultSet:
		f, err := filter(r)
		if err != nil {
			return nil, err
		}
		out = f
		tables = append(tables, f.Table())
	default:
		return nil, fmt.Errorf("subquery on %T: %w", in, contracts.ErrTypeMismatch)
	}

	if env.DataPath != "" {
		path, err := results.WriteCSVFile(env.DataPath, "overlaps.csv", results.Concat(tables...), env.delimiter())
		if err != nil {
			return nil, err
		}
		env.logger().Debug("overlaps written", zap.String("path", path))
	}
	return out, nil
}
