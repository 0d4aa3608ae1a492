package query

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const overlapTemplate = `start_x >= start_y - {left_limit} and end_x <= end_y + {right_limit}`

func TestSubsets(t *testing.T) {
	want := [][]int{{0}, {1}, {2}, {0, 1}, {0, 2}, {1, 2}, {0, 1, 2}}
	if diff := cmp.Diff(want, Subsets(3)); diff != "" {
		t.Fatalf("Subsets(3) mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, Subsets(5), 31)
	assert.Empty(t, Subsets(0))
}

func TestCombinations_ThreeDatasets(t *testing.T) {
	limits := map[string]float64{"A": 200, "B": 200, "C": 200}
	combos := Combinations(nil, overlapTemplate, []string{"A", "B", "C"}, limits)
	require.Len(t, combos, 7)

	var names []string
	for _, c := range combos {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"A", "B", "C", "A_B", "A_C", "B_C", "A_B_C"}, names)

	ab := combos[3]
	assert.Equal(t, []string{"A", "B"}, ab.In)
	assert.Equal(t, []string{"C"}, ab.Out)
	assert.Contains(t, ab.Inclusive, "start_A >= start_B - 200")
	assert.Contains(t, ab.Inclusive, "start_B >= start_A - 200")
	assert.Contains(t, ab.Inclusive, " | ")
	assert.Contains(t, ab.Exclusive, "start_A >= start_C - 200")
	assert.Contains(t, ab.Exclusive, "start_C >= start_B - 200")
	assert.Contains(t, ab.Query(), "& ~(")

	all := combos[6]
	assert.Empty(t, all.Exclusive)
	assert.NotContains(t, all.Query(), "~")

	for _, c := range combos {
		_, err := Compile(c.Query())
		require.NoError(t, err, c.Query())
	}
}

func TestCombinations_QueriesSelectRows(t *testing.T) {
	combos := Combinations(nil, overlapTemplate, []string{"A", "B"}, map[string]float64{"A": 10, "B": 10})
	require.Len(t, combos, 3)

	overlapping := row{"start_A": 100.0, "end_A": 200.0, "start_B": 105.0, "end_B": 195.0}
	onlyA := row{"start_A": 100.0, "end_A": 200.0, "start_B": nil, "end_B": nil}

	match := func(c Combination, r row) bool {
		ok, err := MustCompile(c.Query()).Match(r)
		require.NoError(t, err)
		return ok
	}

	assert.False(t, match(combos[0], overlapping), "A alone must exclude rows overlapping B")
	assert.True(t, match(combos[0], onlyA))
	assert.False(t, match(combos[1], onlyA), "B alone needs B values")
	assert.True(t, match(combos[2], overlapping))
	assert.False(t, match(combos[2], onlyA))
}

func TestCombinations_SidedLimits(t *testing.T) {
	limits := map[string]float64{"A_left": 5, "B_right": 7}
	combos := Combinations(nil, overlapTemplate, []string{"A", "B"}, limits)
	ab := combos[2]
	assert.Contains(t, ab.Inclusive, "start_A >= start_B - 5 & end_A <= end_B + 7")
	assert.Contains(t, ab.Inclusive, "start_B >= start_A - 0 & end_B <= end_A + 0")
}
