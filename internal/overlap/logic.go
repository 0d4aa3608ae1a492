package overlap

import (
	"fmt"

	"github.com/VladislavFirsov/reportflow/internal/query"
)

// LogicLabels assigns a logic word to every combination.
//
// Combinations with one member are numbered in order; the p-th gets a word
// with only bit p set, counted from the left and zero padded to their count.
// Larger combinations get the bitwise OR of their members' words.
func LogicLabels(combos []query.Combination) []string {
	words := make(map[string]uint64)
	n := 0
	for _, c := range combos {
		if len(c.In) == 1 {
			n++
		}
	}
	p := 0
	for _, c := range combos {
		if len(c.In) == 1 {
			words[c.In[0]] = 1 << uint(n-1-p)
			p++
		}
	}

	labels := make([]string, len(combos))
	for i, c := range combos {
		var w uint64
		for _, name := range c.In {
			w |= words[name]
		}
		labels[i] = fmt.Sprintf("%0*b", n, w)
	}
	return labels
}
