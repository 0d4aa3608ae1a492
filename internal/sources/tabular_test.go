package sources

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VladislavFirsov/reportflow/contracts"
	"github.com/VladislavFirsov/reportflow/internal/orchestration"
	"github.com/VladislavFirsov/reportflow/internal/results"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func genesSource(t *testing.T) *Tabular {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "genes.tsv", "gene_name\tchromosome\tread_count\n"+
		"Xkr4\tchr1\t42\n"+
		"Rp1\tchr1\t250\n"+
		"Sox17\tchr2\t7\n")
	writeFile(t, dir, "peaks.csv", "gene_name,score\nXkr4,0.5\nSox17,0.9\n")

	src, err := New("tabular", json.RawMessage(`{
		"files": [
			{"name": "genes", "path": "genes.tsv"},
			{"name": "peaks", "path": "peaks.csv", "delimiter": "comma"}
		]
	}`), Deps{Dir: dir})
	require.NoError(t, err)
	return src.(*Tabular)
}

func TestTabular_SearchNaturalLanguage(t *testing.T) {
	src := genesSource(t)
	got, err := src.Search(context.Background(), Request{
		From:  "genes",
		Query: `read count is less than 100 and chromosome equals "chr1"`,
	})
	require.NoError(t, err)
	rs := got.(*results.ResultSet)
	assert.Equal(t, []any{"Xkr4"}, rs.Values("gene_name"))
}

func TestTabular_ProjectionLimitGroup(t *testing.T) {
	src := genesSource(t)
	ctx := context.Background()

	got, err := src.Search(ctx, Request{From: "genes", Fields: []string{"gene_name"}, Limit: 2})
	require.NoError(t, err)
	tbl := got.(*results.ResultSet).Table()
	assert.Equal(t, []string{"gene_name"}, tbl.Columns)
	assert.Equal(t, 2, tbl.Len())

	got, err = src.Search(ctx, Request{From: "genes", GroupBy: "chromosome"})
	require.NoError(t, err)
	m := got.(*results.MultiResultSet)
	require.Len(t, m.Sets(), 2)
	assert.Equal(t, "chr1", m.Sets()[0].Name())
	assert.Equal(t, 2, m.Sets()[0].Len())
}

func TestTabular_SearchEveryDataset(t *testing.T) {
	src := genesSource(t)
	got, err := src.Search(context.Background(), Request{Query: `gene_name == "Sox17"`})
	require.NoError(t, err)
	m := got.(*results.MultiResultSet)
	require.Len(t, m.Sets(), 2)
	assert.Equal(t, "genes", m.Sets()[0].Name())
	assert.Equal(t, "peaks", m.Sets()[1].Name())
	assert.Equal(t, 2, m.Len())
}

func TestTabular_Errors(t *testing.T) {
	src := genesSource(t)
	ctx := context.Background()

	_, err := src.Search(ctx, Request{From: "nope"})
	assert.ErrorIs(t, err, contracts.ErrQueryRejected)

	_, err = src.Search(ctx, Request{From: "genes", Query: "unknown_column > 1"})
	assert.ErrorIs(t, err, contracts.ErrQueryRejected)

	_, err = New("tabular", json.RawMessage(`{"files": [], "extra": 1}`), Deps{})
	assert.ErrorIs(t, err, contracts.ErrArgumentMismatch)

	_, err = New("tabular", json.RawMessage(`{"files": []}`), Deps{})
	assert.ErrorIs(t, err, contracts.ErrArgumentValidation)

	_, err = New("spreadsheet", nil, Deps{})
	assert.ErrorIs(t, err, contracts.ErrInvalidClass)
}

func TestTabular_LoadersRunOnScheduler(t *testing.T) {
	src := genesSource(t)
	s := orchestration.NewScheduler(orchestration.DefaultOptions())
	for _, l := range src.Loaders() {
		assert.Equal(t, contracts.PriorityLoader, l.Priority())
		require.NoError(t, s.Append(l))
	}
	require.NoError(t, s.Start(context.Background()))
	assert.Empty(t, s.Failed())

	for _, l := range src.Loaders() {
		require.NotNil(t, l.ResultSet())
	}
	genes, err := src.Dataset(context.Background(), "genes")
	require.NoError(t, err)
	assert.Same(t, src.Loaders()[0].ResultSet(), genes)

	names, err := src.Projects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"genes", "peaks"}, names)
}

func TestTabular_Preload(t *testing.T) {
	src := genesSource(t)
	require.NoError(t, src.Preload(context.Background()))
	assert.Equal(t, 3, src.Loaders()[0].ResultSet().Len())
}

func TestRequestKey(t *testing.T) {
	a := Request{Query: `assignee == "Bob"`, Limit: 10}
	b := Request{Query: `assignee == "Bob"`, Limit: 10}
	c := Request{Query: `assignee == "Bob"`, Limit: 11}
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"command", "issues", "jira", "tabular"}, Names())
	assert.True(t, Registered("jira"))
	assert.False(t, Registered("excel"))
}
