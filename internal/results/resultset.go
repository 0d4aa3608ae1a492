package results

import (
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/VladislavFirsov/reportflow/contracts"
)

// Result is implemented by ResultSet and MultiResultSet.
type Result interface {
	Name() string
	Len() int
	// Records yields every row; the sequence can be ranged over repeatedly.
	Records() iter.Seq[Record]
	// Clone returns an independent deep copy.
	Clone() Result
}

// ResultSet holds uniform records either eagerly, as a record slice, or as a
// tabular handle. Exactly one representation is populated at a time.
//
// Thread-safety: safe for concurrent use; producers append under mu.
type ResultSet struct {
	mu        sync.RWMutex
	name      string
	label     string
	distinct  bool
	collation *Collation
	groupBy   string
	records   []Record
	table     *Table
}

// NewResultSet creates an empty, record-backed result set.
func NewResultSet(name string) *ResultSet {
	return &ResultSet{name: name}
}

// FromTable creates a table-backed result set.
func FromTable(name string, t *Table) *ResultSet {
	return &ResultSet{name: name, table: t}
}

func (rs *ResultSet) Name() string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.name
}

// SetName renames the result set.
func (rs *ResultSet) SetName(name string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.name = name
}

// Label returns the set-diagram label, such as an overlap logic string.
func (rs *ResultSet) Label() string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.label
}

func (rs *ResultSet) SetLabel(label string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.label = label
}

// Distinct reports whether consumers should deduplicate values.
func (rs *ResultSet) Distinct() bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.distinct
}

func (rs *ResultSet) SetDistinct(d bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.distinct = d
}

// Collation returns the attached collation descriptor, or nil.
func (rs *ResultSet) Collation() *Collation {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.collation
}

func (rs *ResultSet) SetCollation(c *Collation) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.collation = c
}

// GroupBy returns the grouping column, or "".
func (rs *ResultSet) GroupBy() string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.groupBy
}

func (rs *ResultSet) SetGroupBy(col string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.groupBy = col
}

// Tabular reports whether the table representation is populated.
func (rs *ResultSet) Tabular() bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.table != nil
}

// Len returns the row count of whichever representation is populated.
func (rs *ResultSet) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	if rs.table != nil {
		return rs.table.Len()
	}
	return len(rs.records)
}

// Append adds a record. A table-backed set is converted to records first.
func (rs *ResultSet) Append(r Record) error {
	if r == nil {
		return fmt.Errorf("append nil record to %s: %w", rs.Name(), contracts.ErrTypeMismatch)
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.toRecordsLocked()
	rs.records = append(rs.records, r)
	return nil
}

// Extend appends copies of every record of other.
func (rs *ResultSet) Extend(other Result) error {
	if other == nil {
		return nil
	}
	var copied []Record
	for r := range other.Records() {
		copied = append(copied, FromRecord(r))
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.toRecordsLocked()
	rs.records = append(rs.records, copied...)
	return nil
}

func (rs *ResultSet) toRecordsLocked() {
	if rs.table == nil {
		return
	}
	rs.records = make([]Record, 0, rs.table.Len())
	for i := range rs.table.Rows {
		rs.records = append(rs.records, rs.table.Row(i).Record())
	}
	rs.table = nil
}

// Records yields the rows. Table rows are converted lazily.
func (rs *ResultSet) Records() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		rs.mu.RLock()
		table, records := rs.table, slices.Clone(rs.records)
		rs.mu.RUnlock()

		if table != nil {
			for i := range table.Rows {
				if !yield(table.Row(i).Record()) {
					return
				}
			}
			return
		}
		for _, r := range records {
			if !yield(r) {
				return
			}
		}
	}
}

// Slice returns the rows as a record slice.
func (rs *ResultSet) Slice() []Record {
	return slices.Collect(rs.Records())
}

// Table returns the tabular view. For a record-backed set the columns are
// the non-nil attributes of the first record; other records contribute
// values for those columns only, missing values are nil.
func (rs *ResultSet) Table() *Table {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	if rs.table != nil {
		return rs.table
	}
	return RecordsToTable(rs.records)
}

// SetTable switches the set to the table representation.
func (rs *ResultSet) SetTable(t *Table) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.table = t
	rs.records = nil
}

// RecordsToTable converts records to a table using the schema of the first record.
func RecordsToTable(records []Record) *Table {
	t := &Table{}
	if len(records) == 0 {
		return t
	}
	first := records[0]
	for _, k := range first.Keys() {
		if v, ok := first.Get(k); ok && v != nil {
			t.Columns = append(t.Columns, k)
		}
	}
	t.Rows = make([][]any, len(records))
	for i, r := range records {
		row := make([]any, len(t.Columns))
		for j, c := range t.Columns {
			row[j], _ = r.Get(c)
		}
		t.Rows[i] = row
	}
	return t
}

// Copy returns a deep copy carrying the same descriptors.
func (rs *ResultSet) Copy() *ResultSet {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := &ResultSet{
		name:      rs.name,
		label:     rs.label,
		distinct:  rs.distinct,
		collation: rs.collation.Copy(),
		groupBy:   rs.groupBy,
		table:     rs.table.Copy(),
	}
	if rs.records != nil {
		out.records = make([]Record, len(rs.records))
		for i, r := range rs.records {
			out.records[i] = FromRecord(r)
		}
	}
	return out
}

func (rs *ResultSet) Clone() Result { return rs.Copy() }

// Values returns the values of field across all rows, skipping missing ones.
func (rs *ResultSet) Values(field string) []any {
	var out []any
	for r := range rs.Records() {
		if v, ok := r.Get(field); ok {
			out = append(out, v)
		}
	}
	return out
}

// MultiResultSet is an ordered collection of named result sets.
type MultiResultSet struct {
	mu        sync.RWMutex
	name      string
	combine   bool
	collation *Collation
	sets      []*ResultSet
}

// NewMultiResultSet creates an empty collection. When combine is set,
// consumers see the concatenation of its members.
func NewMultiResultSet(name string, combine bool) *MultiResultSet {
	return &MultiResultSet{name: name, combine: combine}
}

func (m *MultiResultSet) Name() string { return m.name }

// Combine reports whether the members are viewed as one set.
func (m *MultiResultSet) Combine() bool { return m.combine }

func (m *MultiResultSet) Collation() *Collation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collation
}

// SetCollation sets the shared collation descriptor.
func (m *MultiResultSet) SetCollation(c *Collation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collation = c
}

// Append adds a member.
func (m *MultiResultSet) Append(rs *ResultSet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets = append(m.sets, rs)
}

// Sets returns the members in insertion order.
func (m *MultiResultSet) Sets() []*ResultSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.sets)
}

// Get returns the member named name.
func (m *MultiResultSet) Get(name string) (*ResultSet, bool) {
	for _, rs := range m.Sets() {
		if rs.Name() == name {
			return rs, true
		}
	}
	return nil, false
}

// Len returns the total row count of all members.
func (m *MultiResultSet) Len() int {
	n := 0
	for _, rs := range m.Sets() {
		n += rs.Len()
	}
	return n
}

// Records yields every member's rows in order.
func (m *MultiResultSet) Records() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for _, rs := range m.Sets() {
			for r := range rs.Records() {
				if !yield(r) {
					return
				}
			}
		}
	}
}

// Combined concatenates the members into one result set.
func (m *MultiResultSet) Combined() *ResultSet {
	tables := make([]*Table, 0, len(m.sets))
	for _, rs := range m.Sets() {
		tables = append(tables, rs.Table())
	}
	out := FromTable(m.name, Concat(tables...))
	out.SetCollation(m.Collation().Copy())
	return out
}

// Copy returns a deep copy.
func (m *MultiResultSet) Copy() *MultiResultSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := &MultiResultSet{name: m.name, combine: m.combine, collation: m.collation.Copy()}
	for _, rs := range m.sets {
		out.sets = append(out.sets, rs.Copy())
	}
	return out
}

func (m *MultiResultSet) Clone() Result { return m.Copy() }
