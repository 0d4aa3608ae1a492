package overlap

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/VladislavFirsov/reportflow/contracts"
	"github.com/VladislavFirsov/reportflow/internal/orchestration"
	"github.com/VladislavFirsov/reportflow/internal/results"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const template = `start_x >= start_y - {left_limit} and end_x <= end_y + {right_limit}`

func intervals(name string, rows ...[]any) *results.ResultSet {
	return results.FromTable(name, results.NewTable([]string{"id", "start", "end"}, rows))
}

// threeSets puts id 1 in all three sets, id 2 in A and in C without
// overlapping, and id 3 in B only.
func threeSets() []*results.ResultSet {
	return []*results.ResultSet{
		intervals("A", []any{1.0, 100.0, 200.0}, []any{2.0, 500.0, 600.0}),
		intervals("B", []any{1.0, 105.0, 195.0}, []any{3.0, 10.0, 20.0}),
		intervals("C", []any{1.0, 102.0, 198.0}, []any{2.0, 900.0, 950.0}),
	}
}

func runEngine(t *testing.T, sets []*results.ResultSet, opts Options) *Engine {
	t.Helper()
	sopts := orchestration.DefaultOptions()
	sopts.MaxParallelism = 2
	sched := orchestration.NewScheduler(sopts)

	if opts.Join == "" {
		opts.Join = "id"
	}
	if opts.Template == "" {
		opts.Template = template
	}
	if opts.Limits == nil {
		opts.Limits = map[string]float64{"A": 10, "B": 10, "C": 10}
	}
	e, err := NewEngine("intervals", sched, sets, opts)
	require.NoError(t, err)
	require.NoError(t, sched.Append(e))
	require.NoError(t, sched.Start(context.Background()))
	require.Equal(t, contracts.TaskComplete, e.State(), "engine failure: %v", e.Failure())
	return e
}

func ids(t *results.Table) []float64 {
	var out []float64
	j := t.Index("id")
	for _, row := range t.Rows {
		out = append(out, row[j].(float64))
	}
	return out
}

func TestEngine_ThreeDatasets(t *testing.T) {
	e := runEngine(t, threeSets(), Options{})

	got := make(map[string][]float64)
	var names, labels []string
	for _, r := range e.Results() {
		require.NoError(t, r.Err())
		names = append(names, r.Name())
		labels = append(labels, r.Logic)
		got[r.Name()] = ids(r.Table())
	}
	assert.Equal(t, []string{"A", "B", "C", "A_B", "A_C", "B_C", "A_B_C"}, names)
	assert.Equal(t, []string{"100", "010", "001", "110", "101", "011", "111"}, labels)

	assert.Equal(t, []float64{2}, got["A"])
	assert.Equal(t, []float64{3}, got["B"])
	assert.Equal(t, []float64{2}, got["C"])
	assert.Empty(t, got["A_B"])
	assert.Empty(t, got["A_C"])
	assert.Empty(t, got["B_C"])
	assert.Equal(t, []float64{1}, got["A_B_C"])
}

func TestEngine_ProjectionAndFlattened(t *testing.T) {
	e := runEngine(t, threeSets(), Options{})
	all := e.Results()[6]

	assert.Equal(t, []string{"id", "start_A", "end_A", "start_B", "end_B", "start_C", "end_C"}, all.Projection())
	assert.Equal(t, all.Projection(), all.Table().Columns)

	flat := all.Flattened()
	assert.Equal(t, []string{"id", "start", "end"}, flat.Columns)
	assert.Equal(t, [][]any{
		{1.0, 100.0, 200.0},
		{1.0, 105.0, 195.0},
		{1.0, 102.0, 198.0},
	}, flat.Rows)

	onlyA := e.Results()[0]
	assert.Equal(t, []string{"id", "start_A", "end_A"}, onlyA.Table().Columns)

	m := e.MultiResultSet()
	assert.Equal(t, 7, len(m.Sets()))
	rs, ok := m.Get("A_B_C")
	require.True(t, ok)
	assert.Equal(t, "111", rs.Label())
	assert.Equal(t, 3, rs.Len())
}

func TestEngine_PartitionedMatchesSinglePass(t *testing.T) {
	whole := runEngine(t, threeSets(), Options{})
	tiny := runEngine(t, threeSets(), Options{
		Memory: func() (uint64, error) { return 64, nil },
	})

	for i, r := range whole.Results() {
		p := tiny.Results()[i]
		assert.ElementsMatch(t, ids(r.Table()), ids(p.Table()), r.Name())
	}
}

func TestEngine_WritesArtefacts(t *testing.T) {
	dir := t.TempDir()
	e := runEngine(t, threeSets(), Options{OutputDir: dir})

	assert.Len(t, e.Written(), 14)
	for _, name := range []string{"A.csv", "flattened_A.csv", "A_B_C.csv", "flattened_A_B_C.csv", "B_C.csv"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	flat, err := results.ReadCSVFile(filepath.Join(dir, "flattened_A_B_C.csv"), results.DelimiterTab)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "start", "end"}, flat.Columns)
	assert.Equal(t, 3, flat.Len())
}

func TestEngine_QueryErrorAbortsCombination(t *testing.T) {
	e := runEngine(t, threeSets(), Options{Template: "missing_x > 0"})
	for _, r := range e.Results() {
		assert.ErrorIs(t, r.Err(), contracts.ErrQueryRejected, r.Name())
		assert.Zero(t, r.Len())
	}
	assert.Zero(t, e.MultiResultSet().Len())
}

func TestNewEngine_Validation(t *testing.T) {
	sched := orchestration.NewScheduler(orchestration.DefaultOptions())
	noKey := results.FromTable("X", results.NewTable([]string{"start"}, nil))

	tests := []struct {
		name  string
		sched *orchestration.Scheduler
		sets  []*results.ResultSet
		opts  Options
		want  error
	}{
		{"no scheduler", nil, threeSets(), Options{Join: "id", Template: template}, contracts.ErrInvalidInput},
		{"no datasets", sched, nil, Options{Join: "id", Template: template}, contracts.ErrArgumentValidation},
		{"no template", sched, threeSets(), Options{Join: "id"}, contracts.ErrArgumentValidation},
		{"bad join", sched, threeSets(), Options{Join: "id", Template: template, How: "cross"}, contracts.ErrArgumentValidation},
		{"missing key", sched, []*results.ResultSet{noKey}, Options{Join: "id", Template: template}, contracts.ErrArgumentValidation},
		{"repeated name", sched, []*results.ResultSet{intervals("A"), intervals("A")}, Options{Join: "id", Template: template}, contracts.ErrArgumentValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine("x", tt.sched, tt.sets, tt.opts)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEngine_RetryKeepsColumnNames(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "extracted")
	// A file where the output directory belongs fails the first flush.
	require.NoError(t, os.WriteFile(out, nil, 0o644))

	var probes atomic.Int32
	memory := func() (uint64, error) {
		// Three runners per attempt; the fourth probe belongs to the retry.
		if probes.Add(1) == 4 {
			_ = os.Remove(out)
		}
		return 1 << 30, nil
	}

	sched := orchestration.NewScheduler(orchestration.Options{MaxParallelism: 2, Retries: 1})
	e, err := NewEngine("intervals", sched, threeSets(), Options{
		Join:      "id",
		Template:  template,
		Limits:    map[string]float64{"A": 10, "B": 10, "C": 10},
		OutputDir: out,
		Memory:    memory,
	})
	require.NoError(t, err)
	require.NoError(t, sched.Append(e))
	require.NoError(t, sched.Start(context.Background()))

	require.Equal(t, contracts.TaskComplete, e.State(), "engine failure: %v", e.Failure())
	assert.Equal(t, 1, e.Retries())
	assert.Equal(t, int32(6), probes.Load())

	all := e.Results()[6]
	require.NoError(t, all.Err())
	assert.Equal(t, []string{"id", "start_A", "end_A", "start_B", "end_B", "start_C", "end_C"}, all.Projection())
	assert.Equal(t, []float64{1}, ids(all.Table()))
	for _, r := range e.Results() {
		assert.NoError(t, r.Err(), r.Name())
	}
	assert.Len(t, e.Written(), 14)
}
