package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VladislavFirsov/reportflow/contracts"
)

type row map[string]any

func (r row) Get(name string) (any, bool) {
	v, ok := r[name]
	return v, ok
}

func TestExpr_Match(t *testing.T) {
	r := row{"read_count": 42.0, "chromosome": "chr1", "gene_name": "Xkr4", "missing": nil}

	tests := []struct {
		src  string
		want bool
	}{
		{`read_count < 100 & chromosome == "chr1" & gene_name == "Xkr4"`, true},
		{`read_count > 100 | chromosome == 'chr1'`, true},
		{`read_count > 100 | chromosome == "chr2"`, false},
		{`~(read_count > 100)`, true},
		{`not read_count > 10`, false},
		{`read_count >= 40 + 2`, true},
		{`read_count - 2 == 40`, true},
		{`read_count == -42 * -1`, true},
		{`missing == 1`, false},
		{`missing > 1`, false},
		{`missing != 1`, true},
		{`missing + 1 == 2`, false},
		{`~(missing == 1)`, true},
		{`chromosome > 5`, false},
		{`chromosome != 5`, true},
		{"`gene_name` == \"Xkr4\"", true},
		{`(read_count > 1) and (read_count < 50)`, true},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			e, err := Compile(tt.src)
			require.NoError(t, err)
			got, err := e.Match(r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpr_Errors(t *testing.T) {
	for _, src := range []string{`a ==`, `(a == 1`, `a == "open`, `a == 1 )`, `a # 1`} {
		_, err := Compile(src)
		assert.ErrorIs(t, err, ErrSyntax, src)
	}

	e := MustCompile(`unknown == 1`)
	_, err := e.Match(row{})
	assert.ErrorIs(t, err, contracts.ErrQueryRejected)

	e = MustCompile(`name`)
	_, err = e.Match(row{"name": "text"})
	assert.ErrorIs(t, err, contracts.ErrTypeMismatch)
}

func TestCompile_Memoised(t *testing.T) {
	a, err := Compile(`x == 1 & y < 2`)
	require.NoError(t, err)
	b, err := Compile(`x == 1 & y < 2`)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, []string{"x", "y"}, a.Columns())
}
