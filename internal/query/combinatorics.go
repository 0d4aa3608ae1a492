package query

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Combination is one non-empty subset of datasets with its queries.
type Combination struct {
	// In lists the subset members in dataset order.
	In []string
	// Out lists the remaining datasets in dataset order.
	Out []string
	// Inclusive requires every pair of members to satisfy the template.
	Inclusive string
	// Exclusive is the clause built over member/non-member pairs. It is
	// negated by Query. Empty when Out is empty.
	Exclusive string
}

// Query returns the final filter: (inclusive) & ~(exclusive).
func (c Combination) Query() string {
	if c.Exclusive == "" {
		return "(" + c.Inclusive + ")"
	}
	return "(" + c.Inclusive + ") & ~(" + c.Exclusive + ")"
}

// Name returns the sorted member names joined by "_", used for artefact names.
func (c Combination) Name() string {
	names := slices.Clone(c.In)
	slices.Sort(names)
	return strings.Join(names, "_")
}

// Contains reports whether name is a member.
func (c Combination) Contains(name string) bool {
	return slices.Contains(c.In, name)
}

var (
	subscript   = regexp.MustCompile(`_([xy])\b`)
	leftLimit   = regexp.MustCompile(`\{left_limit\}`)
	rightLimit  = regexp.MustCompile(`\{right_limit\}`)
	limitFormat = func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
)

// Subsets returns every non-empty subset of n indices, ordered by size and
// then lexicographically, like itertools.combinations over each size.
func Subsets(n int) [][]int {
	var out [][]int
	for size := 1; size <= n; size++ {
		idx := make([]int, size)
		for i := range idx {
			idx[i] = i
		}
		for {
			out = append(out, slices.Clone(idx))
			i := size - 1
			for i >= 0 && idx[i] == n-size+i {
				i--
			}
			if i < 0 {
				break
			}
			idx[i]++
			for j := i + 1; j < size; j++ {
				idx[j] = idx[j-1] + 1
			}
		}
	}
	return out
}

// Combinations expands template over every non-empty subset of names.
//
// The template references the two sides of a pair with the _x and _y
// subscripts, and may use {left_limit} and {right_limit}, bound from limits
// for the _x and _y dataset respectively (keys "<name>_left"/"<name>_right",
// "left_<name>"/"right_<name>", then "<name>"; missing limits are 0).
// The template is translated with parser before expansion; a nil parser
// uses the schema-less default.
func Combinations(parser *Parser, template string, names []string, limits map[string]float64) []Combination {
	if parser == nil {
		parser = defaultParser
	}
	tmpl := parser.Parse(template)

	var out []Combination
	for _, subset := range Subsets(len(names)) {
		c := Combination{}
		member := make([]bool, len(names))
		for _, i := range subset {
			member[i] = true
			c.In = append(c.In, names[i])
		}
		for i, n := range names {
			if !member[i] {
				c.Out = append(c.Out, n)
			}
		}

		var inclusive []string
		if len(c.In) == 1 {
			// a lone member must at least carry its own values
			inclusive = append(inclusive, instantiate(tmpl, c.In[0], c.In[0], limits))
		}
		for i := 0; i < len(c.In); i++ {
			for j := i + 1; j < len(c.In); j++ {
				inclusive = append(inclusive, pair(tmpl, c.In[i], c.In[j], limits))
			}
		}
		c.Inclusive = strings.Join(inclusive, " & ")

		var exclusive []string
		for _, x := range c.In {
			for _, y := range c.Out {
				exclusive = append(exclusive, pair(tmpl, x, y, limits))
			}
		}
		c.Exclusive = strings.Join(exclusive, " & ")

		out = append(out, c)
	}
	return out
}

func pair(tmpl, x, y string, limits map[string]float64) string {
	return "(" + instantiate(tmpl, x, y, limits) + " | " + instantiate(tmpl, y, x, limits) + ")"
}

func instantiate(tmpl, x, y string, limits map[string]float64) string {
	s := subscript.ReplaceAllStringFunc(tmpl, func(m string) string {
		if m == "_x" {
			return "_" + x
		}
		return "_" + y
	})
	s = leftLimit.ReplaceAllLiteralString(s, limitFormat(lookupLimit(limits, x, "left")))
	s = rightLimit.ReplaceAllLiteralString(s, limitFormat(lookupLimit(limits, y, "right")))
	return "(" + s + ")"
}

func lookupLimit(limits map[string]float64, name, side string) float64 {
	for _, k := range []string{name + "_" + side, side + "_" + name, name} {
		if v, ok := limits[k]; ok {
			return v
		}
	}
	return 0
}
