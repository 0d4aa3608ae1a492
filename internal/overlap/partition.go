package overlap

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/VladislavFirsov/reportflow/internal/results"
)

// partitionByKeyRange cuts every table into s partitions. Distinct join keys
// are sorted and cut into s contiguous ranges of near-equal row load across
// all tables; partition i of each table holds its rows whose key falls in
// range i. Every key therefore lives in the same partition index of every
// table, so joining partition i of each table loses no matches.
// Nil keys go to partition 0. s is capped at the number of distinct keys,
// since a range holds at least one key.
func partitionByKeyRange(tables []*results.Table, on string, s int) [][]*results.Table {
	if s < 1 {
		s = 1
	}
	load := make(map[any]int)
	var keys []any
	nils, total := 0, 0
	for _, t := range tables {
		counts, n := t.KeyCounts(on)
		nils += n
		total += t.Len()
		for k, c := range counts {
			if _, seen := load[k]; !seen {
				keys = append(keys, k)
			}
			load[k] += c
		}
	}
	slices.SortFunc(keys, compareKeys)
	s = min(s, max(len(keys), 1))

	target := (total + s - 1) / s
	assign := make(map[any]int, len(keys))
	p, acc := 0, nils
	for _, k := range keys {
		if acc >= target && p < s-1 {
			p++
			acc = 0
		}
		assign[k] = p
		acc += load[k]
	}

	out := make([][]*results.Table, len(tables))
	for ti, t := range tables {
		parts := make([]*results.Table, s)
		for i := range parts {
			parts[i] = &results.Table{Columns: slices.Clone(t.Columns)}
		}
		j := t.Index(on)
		for _, row := range t.Rows {
			var v any
			if j >= 0 {
				v = row[j]
			}
			idx := 0
			if v != nil {
				idx = assign[results.JoinKey(v)]
			}
			parts[idx].Rows = append(parts[idx].Rows, row)
		}
		out[ti] = parts
	}
	return out
}

func keyRank(v any) int {
	switch v.(type) {
	case float64:
		return 0
	case int:
		return 1
	case int64:
		return 2
	case bool:
		return 3
	case string:
		return 4
	}
	return 5
}

func compareKeys(a, b any) int {
	if r := cmp.Compare(keyRank(a), keyRank(b)); r != 0 {
		return r
	}
	switch av := a.(type) {
	case float64:
		return cmp.Compare(av, b.(float64))
	case int:
		return cmp.Compare(av, b.(int))
	case int64:
		return cmp.Compare(av, b.(int64))
	case bool:
		bv := b.(bool)
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	case string:
		return cmp.Compare(av, b.(string))
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// chainJoin joins tables left to right on column on.
func chainJoin(tables []*results.Table, on string, how results.JoinHow) (*results.Table, error) {
	merged := tables[0]
	for _, t := range tables[1:] {
		var err error
		merged, err = merged.Join(t, on, how)
		if err != nil {
			return nil, err
		}
	}
	return merged, nil
}
