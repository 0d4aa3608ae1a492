package results

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VladislavFirsov/reportflow/contracts"
)

func sample() (*Table, *Table) {
	left := NewTable([]string{"id", "a"}, [][]any{
		{1.0, "l1"},
		{2.0, "l2"},
		{nil, "lnil"},
		{4.0, "l4"},
	})
	right := NewTable([]string{"id", "b"}, [][]any{
		{1.0, "r1"},
		{1.0, "r1b"},
		{nil, "rnil"},
		{3.0, "r3"},
	})
	return left, right
}

func TestTable_Join(t *testing.T) {
	tests := []struct {
		how  JoinHow
		want [][]any
	}{
		{
			how: JoinInner,
			want: [][]any{
				{1.0, "l1", "r1"},
				{1.0, "l1", "r1b"},
				{nil, "lnil", "rnil"},
			},
		},
		{
			how: JoinLeft,
			want: [][]any{
				{1.0, "l1", "r1"},
				{1.0, "l1", "r1b"},
				{2.0, "l2", nil},
				{nil, "lnil", "rnil"},
				{4.0, "l4", nil},
			},
		},
		{
			how: JoinRight,
			want: [][]any{
				{1.0, "l1", "r1"},
				{1.0, "l1", "r1b"},
				{nil, "lnil", "rnil"},
				{3.0, nil, "r3"},
			},
		},
		{
			how: JoinOuter,
			want: [][]any{
				{1.0, "l1", "r1"},
				{1.0, "l1", "r1b"},
				{2.0, "l2", nil},
				{nil, "lnil", "rnil"},
				{4.0, "l4", nil},
				{3.0, nil, "r3"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.how), func(t *testing.T) {
			left, right := sample()
			got, err := left.Join(right, "id", tt.how)
			require.NoError(t, err)
			assert.Equal(t, []string{"id", "a", "b"}, got.Columns)
			if diff := cmp.Diff(tt.want, got.Rows); diff != "" {
				t.Fatalf("Join(%s) mismatch (-want +got):\n%s", tt.how, diff)
			}
		})
	}
}

func TestTable_JoinErrors(t *testing.T) {
	left, right := sample()
	_, err := left.Join(right, "missing", JoinOuter)
	assert.ErrorIs(t, err, ErrUnknownColumn)
	_, err = left.Join(right, "id", "cross")
	assert.ErrorIs(t, err, ErrUnsupportedJoin)
}

func TestTable_JoinCollidingColumns(t *testing.T) {
	left := NewTable([]string{"k", "v"}, [][]any{{"x", 1.0}})
	right := NewTable([]string{"k", "v"}, [][]any{{"x", 2.0}})
	got, err := left.Join(right, "k", JoinInner)
	require.NoError(t, err)
	assert.Equal(t, []string{"k", "v", "v_right"}, got.Columns)
}

func TestTable_KeyCounts(t *testing.T) {
	left, _ := sample()
	counts, nils := left.KeyCounts("id")
	assert.Equal(t, 1, nils)
	assert.Equal(t, map[any]int{1.0: 1, 2.0: 1, 4.0: 1}, counts)
}

func TestTable_SelectRenameDistinctConcat(t *testing.T) {
	tbl := NewTable([]string{"a", "b"}, [][]any{{"x", 1.0}, {"x", 1.0}, {"y", 2.0}})

	sel := tbl.Select("b", "missing")
	assert.Equal(t, []any{1.0, nil}, sel.Rows[0])

	ren := tbl.Rename(map[string]string{"a": "a_A"})
	assert.Equal(t, []string{"a_A", "b"}, ren.Columns)
	assert.Equal(t, []string{"a", "b"}, tbl.Columns)

	assert.Equal(t, 2, tbl.Distinct().Len())

	other := NewTable([]string{"b", "c"}, [][]any{{3.0, true}})
	cat := Concat(tbl, nil, other)
	assert.Equal(t, []string{"a", "b", "c"}, cat.Columns)
	assert.Equal(t, []any{nil, 3.0, true}, cat.Rows[3])
}

func TestTable_Where(t *testing.T) {
	tbl := NewTable([]string{"n"}, [][]any{{1.0}, {2.0}, {3.0}})
	got, err := tbl.Where(func(r Row) (bool, error) {
		v, _ := r.Get("n")
		return v.(float64) >= 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{2.0}, {3.0}}, got.Rows)
}

func TestCSV_ReadWrite(t *testing.T) {
	in := "gene\tstart\tnote\nXkr4\t3214482\t\nRp1\t4290846\tok\n"
	tbl, err := ReadCSV(strings.NewReader(in), DelimiterTab)
	require.NoError(t, err)
	assert.Equal(t, []string{"gene", "start", "note"}, tbl.Columns)
	assert.Equal(t, []any{"Xkr4", 3214482.0, nil}, tbl.Rows[0])

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, tbl, DelimiterTab))
	assert.Equal(t, in, buf.String())
}

func TestCSV_File(t *testing.T) {
	dir := t.TempDir()
	tbl := NewTable([]string{"a"}, [][]any{{"x"}})

	path, err := WriteCSVFile(dir, "A_B.csv", tbl, DelimiterComma)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "A_B.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a\nx\n", string(data))

	back, err := ReadCSVFile(path, DelimiterComma)
	require.NoError(t, err)
	assert.Equal(t, tbl.Rows, back.Rows)

	_, err = WriteCSVFile(dir, "../escape.csv", tbl, DelimiterComma)
	assert.ErrorIs(t, err, contracts.ErrInvalidFilename)
}

func TestParseDelimiter(t *testing.T) {
	d, err := ParseDelimiter("", DelimiterTab)
	require.NoError(t, err)
	assert.Equal(t, DelimiterTab, d)

	d, err = ParseDelimiter("comma", DelimiterTab)
	require.NoError(t, err)
	assert.Equal(t, DelimiterComma, d)

	_, err = ParseDelimiter("xx", DelimiterTab)
	assert.ErrorIs(t, err, contracts.ErrArgumentValidation)
}
