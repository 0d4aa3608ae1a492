package results

import (
	"fmt"
	"slices"
	"strings"
)

// JoinHow selects which unmatched rows a join keeps.
type JoinHow string

const (
	JoinInner JoinHow = "inner"
	JoinLeft  JoinHow = "left"
	JoinRight JoinHow = "right"
	JoinOuter JoinHow = "outer"
)

// Valid reports whether h names a supported join.
func (h JoinHow) Valid() bool {
	switch h {
	case JoinInner, JoinLeft, JoinRight, JoinOuter:
		return true
	}
	return false
}

// Table is the tabular handle of a result set: named columns and rows of
// values. Cell values are nil, float64, string or bool.
type Table struct {
	Columns []string
	Rows    [][]any
}

// NewTable creates a table. Rows shorter than columns are padded with nil.
func NewTable(columns []string, rows [][]any) *Table {
	t := &Table{Columns: slices.Clone(columns), Rows: make([][]any, 0, len(rows))}
	for _, r := range rows {
		t.appendRow(r)
	}
	return t
}

func (t *Table) appendRow(r []any) {
	row := make([]any, len(t.Columns))
	copy(row, r)
	t.Rows = append(t.Rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Index returns the position of column name, or -1.
func (t *Table) Index(name string) int {
	return slices.Index(t.Columns, name)
}

// Row returns a read-only accessor for row i.
func (t *Table) Row(i int) Row {
	return Row{table: t, i: i}
}

// Copy returns a deep copy of t.
func (t *Table) Copy() *Table {
	if t == nil {
		return nil
	}
	out := &Table{Columns: slices.Clone(t.Columns), Rows: make([][]any, len(t.Rows))}
	for i, r := range t.Rows {
		out.Rows[i] = slices.Clone(r)
	}
	return out
}

// Where returns the rows for which keep returns true.
func (t *Table) Where(keep func(Row) (bool, error)) (*Table, error) {
	out := &Table{Columns: slices.Clone(t.Columns)}
	for i := range t.Rows {
		ok, err := keep(t.Row(i))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if ok {
			out.Rows = append(out.Rows, slices.Clone(t.Rows[i]))
		}
	}
	return out, nil
}

// Select projects the named columns. Unknown columns are filled with nil.
func (t *Table) Select(columns ...string) *Table {
	idx := make([]int, len(columns))
	for i, c := range columns {
		idx[i] = t.Index(c)
	}
	out := &Table{Columns: slices.Clone(columns), Rows: make([][]any, len(t.Rows))}
	for r, row := range t.Rows {
		projected := make([]any, len(columns))
		for i, j := range idx {
			if j >= 0 {
				projected[i] = row[j]
			}
		}
		out.Rows[r] = projected
	}
	return out
}

// Rename returns a copy of t with columns renamed by mapping.
func (t *Table) Rename(mapping map[string]string) *Table {
	out := t.Copy()
	for i, c := range out.Columns {
		if n, ok := mapping[c]; ok {
			out.Columns[i] = n
		}
	}
	return out
}

// nilKey is the bucket for rows whose join key is nil. Nil keys match
// each other.
type nilKey struct{}

// JoinKey normalises a cell value into a comparable map key. Nil values
// share one bucket.
func JoinKey(v any) any {
	switch v := v.(type) {
	case nil:
		return nilKey{}
	case float64, string, bool, int, int64:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// KeyCounts returns the number of rows per value of column. Rows with a nil
// value are counted under the nil bucket.
func (t *Table) KeyCounts(column string) (counts map[any]int, nils int) {
	counts = make(map[any]int)
	j := t.Index(column)
	for _, row := range t.Rows {
		var v any
		if j >= 0 {
			v = row[j]
		}
		if v == nil {
			nils++
			continue
		}
		counts[JoinKey(v)]++
	}
	return counts, nils
}

// Join merges t (left) with right on column on.
//
// The result holds the left columns followed by the right columns except
// on. Right column names that collide with left ones get a "_right" suffix.
// Matches keep left order, then right order; unmatched right rows of a
// right or outer join are appended last.
func (t *Table) Join(right *Table, on string, how JoinHow) (*Table, error) {
	if !how.Valid() {
		return nil, fmt.Errorf("join %q: %w", how, ErrUnsupportedJoin)
	}
	lk, rk := t.Index(on), right.Index(on)
	if lk < 0 || rk < 0 {
		return nil, fmt.Errorf("join column %q: %w", on, ErrUnknownColumn)
	}

	columns := slices.Clone(t.Columns)
	var rightIdx []int
	for j, c := range right.Columns {
		if j == rk {
			continue
		}
		if slices.Contains(columns, c) {
			c += "_right"
		}
		columns = append(columns, c)
		rightIdx = append(rightIdx, j)
	}

	buckets := make(map[any][]int, len(right.Rows))
	for i, row := range right.Rows {
		k := JoinKey(row[rk])
		buckets[k] = append(buckets[k], i)
	}

	out := &Table{Columns: columns}
	width := len(columns)
	matched := make([]bool, len(right.Rows))

	for _, lrow := range t.Rows {
		hits := buckets[JoinKey(lrow[lk])]
		if len(hits) == 0 {
			if how == JoinLeft || how == JoinOuter {
				row := make([]any, width)
				copy(row, lrow)
				out.Rows = append(out.Rows, row)
			}
			continue
		}
		for _, ri := range hits {
			matched[ri] = true
			row := make([]any, width)
			copy(row, lrow)
			for n, j := range rightIdx {
				row[len(t.Columns)+n] = right.Rows[ri][j]
			}
			out.Rows = append(out.Rows, row)
		}
	}

	if how == JoinRight || how == JoinOuter {
		for ri, rrow := range right.Rows {
			if matched[ri] {
				continue
			}
			row := make([]any, width)
			row[lk] = rrow[rk]
			for n, j := range rightIdx {
				row[len(t.Columns)+n] = rrow[j]
			}
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

// Distinct returns t without duplicate rows, keeping first occurrences.
func (t *Table) Distinct() *Table {
	out := &Table{Columns: slices.Clone(t.Columns)}
	seen := make(map[string]struct{}, len(t.Rows))
	for _, row := range t.Rows {
		k := RowKey(row)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out.Rows = append(out.Rows, slices.Clone(row))
	}
	return out
}

// RowKey renders a row as a string usable for deduplication.
func RowKey(row []any) string {
	var b strings.Builder
	for _, v := range row {
		fmt.Fprintf(&b, "%T:%v\x1f", v, v)
	}
	return b.String()
}

// Concat stacks tables over the union of their columns, in first-seen order.
func Concat(tables ...*Table) *Table {
	var columns []string
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, c := range t.Columns {
			if !slices.Contains(columns, c) {
				columns = append(columns, c)
			}
		}
	}
	out := &Table{Columns: columns}
	for _, t := range tables {
		if t == nil {
			continue
		}
		aligned := t.Select(columns...)
		out.Rows = append(out.Rows, aligned.Rows...)
	}
	return out
}

// Row is a read-only view of one table row.
type Row struct {
	table *Table
	i     int
}

// Get returns the value of column name.
func (r Row) Get(name string) (any, bool) {
	j := r.table.Index(name)
	if j < 0 {
		return nil, false
	}
	return r.table.Rows[r.i][j], true
}

// Record copies the row into a record.
func (r Row) Record() *MapRecord {
	return NewRecord(r.table.Columns, r.table.Rows[r.i])
}
