package results

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VladislavFirsov/reportflow/contracts"
)

func TestResultSet_TableConversion(t *testing.T) {
	rs := NewResultSet("issues")
	require.NoError(t, rs.Append(FromMap(map[string]any{"key": "R-1", "summary": "first", "labels": nil})))
	require.NoError(t, rs.Append(FromMap(map[string]any{"key": "R-2", "summary": "second", "labels": "x", "extra": 1.0})))

	tbl := rs.Table()
	assert.Equal(t, []string{"key", "summary"}, tbl.Columns)
	assert.Equal(t, [][]any{{"R-1", "first"}, {"R-2", "second"}}, tbl.Rows)
	assert.Equal(t, rs.Len(), tbl.Len())
	assert.False(t, rs.Tabular())
}

func TestResultSet_RecordsRestartable(t *testing.T) {
	rs := FromTable("data", NewTable([]string{"a"}, [][]any{{1.0}, {2.0}}))

	count := func() int {
		n := 0
		for range rs.Records() {
			n++
		}
		return n
	}
	assert.Equal(t, 2, count())
	assert.Equal(t, 2, count())
	assert.Equal(t, rs.Len(), count())
}

func TestResultSet_AppendConvertsTable(t *testing.T) {
	rs := FromTable("data", NewTable([]string{"a"}, [][]any{{1.0}}))
	require.NoError(t, rs.Append(NewRecord([]string{"a"}, []any{2.0})))
	assert.False(t, rs.Tabular())
	assert.Equal(t, []any{1.0, 2.0}, rs.Values("a"))

	assert.ErrorIs(t, rs.Append(nil), contracts.ErrTypeMismatch)
}

func TestResultSet_CopyIsIndependent(t *testing.T) {
	rs := NewResultSet("orig")
	rec := NewRecord([]string{"a"}, []any{"x"})
	require.NoError(t, rs.Append(rec))
	rs.SetCollation(&Collation{Method: Flatten, Field: "a"})

	cp := rs.Copy()
	cp.Slice()[0].(*MapRecord).Set("a", "changed")
	cp.Collation().Field = "b"

	v, _ := rs.Slice()[0].Get("a")
	assert.Equal(t, "x", v)
	assert.Equal(t, "a", rs.Collation().Field)
}

func TestResultSet_Extend(t *testing.T) {
	a := NewResultSet("a")
	b := FromTable("b", NewTable([]string{"n"}, [][]any{{1.0}, {2.0}}))
	require.NoError(t, a.Extend(b))
	assert.Equal(t, 2, a.Len())
}

func TestMultiResultSet(t *testing.T) {
	m := NewMultiResultSet("all", true)
	m.Append(FromTable("A", NewTable([]string{"k", "x"}, [][]any{{"1", 1.0}})))
	m.Append(FromTable("B", NewTable([]string{"k", "y"}, [][]any{{"2", 2.0}})))

	assert.Equal(t, 2, m.Len())
	b, ok := m.Get("B")
	require.True(t, ok)
	assert.Equal(t, "B", b.Name())

	combined := m.Combined()
	assert.Equal(t, []string{"k", "x", "y"}, combined.Table().Columns)
	assert.Equal(t, 2, combined.Len())

	cp := m.Copy()
	cp.Sets()[0].SetName("renamed")
	assert.Equal(t, "A", m.Sets()[0].Name())
}

func TestNewCollation(t *testing.T) {
	for _, m := range Methods {
		_, err := NewCollation(Collation{Method: m})
		assert.NoError(t, err, m)
	}

	_, err := NewCollation(Collation{Method: "median"})
	assert.ErrorIs(t, err, contracts.ErrInvalidCollation)

	_, err = NewCollation(Collation{Method: SumOuter, Join: &JoinSpec{How: "cross", Column: "k"}})
	assert.ErrorIs(t, err, contracts.ErrInvalidCollation)

	c, err := NewCollation(Collation{Method: SumOuter, Join: &JoinSpec{How: JoinLeft, Column: "k"}})
	require.NoError(t, err)
	assert.Equal(t, JoinLeft, c.JoinHowOr(JoinOuter))
	assert.Equal(t, JoinOuter, (*Collation)(nil).JoinHowOr(JoinOuter))
}
