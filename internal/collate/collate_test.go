package collate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VladislavFirsov/reportflow/contracts"
	"github.com/VladislavFirsov/reportflow/internal/results"
)

func issues() *results.ResultSet {
	return results.FromTable("issues", results.NewTable(
		[]string{"key", "assignee", "priority", "created", "resolved", "points"},
		[][]any{
			{"R-1", "Bob", "Major", "2026-10-01", "2026-10-03", 3.0},
			{"R-2", "Ann", "Blocker", "2026-10-09", nil, 5.0},
			{"R-3", "Bob", "Minor", "2026-10-15", "2026-10-16", nil},
			{"R-4", "Bob", "Weird", "not a date", nil, 2.0},
		},
	))
}

func env() Env {
	return Env{Now: func() time.Time { return time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC) }}
}

func apply(t *testing.T, in results.Result, c results.Collation) *results.Table {
	t.Helper()
	col, err := results.NewCollation(c)
	require.NoError(t, err)
	out, err := Apply(context.Background(), env(), in, col)
	require.NoError(t, err)
	rs, ok := out.(*results.ResultSet)
	require.True(t, ok, "got %T", out)
	return rs.Table()
}

func TestRegistryCoversEveryMethod(t *testing.T) {
	for _, m := range results.Methods {
		_, err := Lookup(m)
		assert.NoError(t, err, m)
	}
	_, err := Lookup("median")
	assert.ErrorIs(t, err, contracts.ErrInvalidCollation)
}

func TestTotalByField(t *testing.T) {
	got := apply(t, issues(), results.Collation{Method: results.TotalByField, Field: "assignee"})
	assert.Equal(t, []string{"assignee", "total"}, got.Columns)
	assert.Equal(t, [][]any{{"Bob", 3.0}, {"Ann", 1.0}}, got.Rows)
}

func TestAverages(t *testing.T) {
	days := apply(t, issues(), results.Collation{Method: results.AverageDaysSinceCreation})
	// 18, 10 and 4 days old; the unparseable date is skipped
	assert.Equal(t, [][]any{{32.0 / 3, 3.0}}, days.Rows)

	dur := apply(t, issues(), results.Collation{Method: results.AverageDuration})
	assert.Equal(t, [][]any{{1.5, 2.0}}, dur.Rows)
}

func TestPriorityBucket(t *testing.T) {
	got := apply(t, issues(), results.Collation{Method: results.PriorityBucket})
	assert.Equal(t, [][]any{
		{"Highest", 1.0},
		{"High", 0.0},
		{"Medium", 1.0},
		{"Low", 1.0},
		{"Lowest", 0.0},
	}, got.Rows)
}

func TestFlatten(t *testing.T) {
	rs := results.NewResultSet("labels")
	require.NoError(t, rs.Append(results.FromMap(map[string]any{"labels": []any{"b", "a"}})))
	require.NoError(t, rs.Append(results.FromMap(map[string]any{"labels": []any{"a", "c"}})))

	got := apply(t, rs, results.Collation{Method: results.Flatten, Field: "labels"})
	assert.Len(t, got.Rows, 4)

	rs.SetDistinct(true)
	got = apply(t, rs, results.Collation{Method: results.Flatten, Field: "labels"})
	assert.Equal(t, [][]any{{"a"}, {"b"}, {"c"}}, got.Rows)
}

func TestSumTotal(t *testing.T) {
	got := apply(t, issues(), results.Collation{Method: results.SumTotal, Field: "points"})
	assert.Equal(t, [][]any{{10.0, 3.0}}, got.Rows)

	grouped := issues()
	grouped.SetGroupBy("assignee")
	got = apply(t, grouped, results.Collation{Method: results.SumTotal, Field: "points"})
	assert.Equal(t, [][]any{{"Bob", 5.0}, {"Ann", 5.0}}, got.Rows)
}

func TestSumOuter(t *testing.T) {
	m := results.NewMultiResultSet("weeks", false)
	m.Append(results.FromTable("w1", results.NewTable([]string{"who"}, [][]any{{"Bob"}, {"Bob"}, {"Ann"}})))
	m.Append(results.FromTable("w2", results.NewTable([]string{"who"}, [][]any{{"Cid"}, {"Bob"}})))

	got := apply(t, m, results.Collation{
		Method: results.SumOuter,
		Join:   &results.JoinSpec{How: results.JoinOuter, Column: "who"},
	})
	assert.Equal(t, []string{"who", "w1", "w2"}, got.Columns)
	assert.Equal(t, [][]any{
		{"Bob", 2.0, 1.0},
		{"Ann", 1.0, 0.0},
		{"Cid", 0.0, 1.0},
	}, got.Rows)
}

func TestSubquery(t *testing.T) {
	dir := t.TempDir()
	e := env()
	e.DataPath = dir

	col, err := results.NewCollation(results.Collation{Method: results.Subquery, Query: `assignee equals "Bob" and points greater than 2`})
	require.NoError(t, err)
	out, err := Apply(context.Background(), e, issues(), col)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Len())

	_, err = os.Stat(filepath.Join(dir, "overlaps.csv"))
	assert.NoError(t, err)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	in := issues()
	before := in.Table().Copy()
	_ = apply(t, in, results.Collation{Method: results.TotalByField, Field: "assignee"})
	_ = apply(t, in, results.Collation{Method: results.TotalByField, Field: "assignee"})
	assert.Equal(t, before, in.Table())
}

func TestCombinatorics(t *testing.T) {
	m := results.NewMultiResultSet("intervals", false)
	m.Append(results.FromTable("A", results.NewTable([]string{"id", "start", "end"}, [][]any{{1.0, 100.0, 200.0}})))
	m.Append(results.FromTable("B", results.NewTable([]string{"id", "start", "end"}, [][]any{{1.0, 105.0, 195.0}, {2.0, 1.0, 2.0}})))

	col, err := results.NewCollation(results.Collation{
		Method: results.Combinatorics,
		Join:   &results.JoinSpec{How: results.JoinOuter, Column: "id"},
		Query:  "start_x >= start_y - {left_limit} and end_x <= end_y + {right_limit}",
		Limits: map[string]float64{"A": 10, "B": 10},
	})
	require.NoError(t, err)
	out, err := Apply(context.Background(), env(), m, col)
	require.NoError(t, err)

	multi, ok := out.(*results.MultiResultSet)
	require.True(t, ok)
	var labels []string
	for _, rs := range multi.Sets() {
		labels = append(labels, rs.Label())
	}
	assert.Equal(t, []string{"10", "01", "11"}, labels)

	ab, ok := multi.Get("A_B")
	require.True(t, ok)
	assert.Equal(t, 2, ab.Len())
	b, _ := multi.Get("B")
	assert.Equal(t, 1, b.Len())
}

func TestReplace(t *testing.T) {
	restore, err := Replace(results.Flatten, func(context.Context, Env, results.Result, *results.Collation) (results.Result, error) {
		return results.NewResultSet("stub"), nil
	})
	require.NoError(t, err)
	got := apply(t, issues(), results.Collation{Method: results.Flatten, Field: "key"})
	assert.Zero(t, got.Len())
	restore()

	got = apply(t, issues(), results.Collation{Method: results.Flatten, Field: "key"})
	assert.Equal(t, 4, got.Len())
}
