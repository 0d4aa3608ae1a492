package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParser_Parse(t *testing.T) {
	p := NewParser([]string{"read_count", "chromosome", "gene_name"})

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "connectives comparators and columns",
			in:   `read count is less than 100 AND chromosome equals "chr1" and gene name equals "Xkr4"`,
			want: `read_count < 100 & chromosome == "chr1" & gene_name == "Xkr4"`,
		},
		{
			name: "longer phrases win",
			in:   `read count is greater than or equal to 5 or read count is not greater than 2`,
			want: `read_count >= 5 | read_count <= 2`,
		},
		{
			name: "not equal",
			in:   `chromosome is not equal to "chrX" and chromosome not equals "chrY"`,
			want: `chromosome != "chrX" & chromosome != "chrY"`,
		},
		{
			name: "lone equals and angle brackets",
			in:   `chromosome = "chr2" or chromosome <> "chr3"`,
			want: `chromosome == "chr2" | chromosome == "chr3"`,
		},
		{
			name: "adjacent lone equals",
			in:   `chromosome=1 and gene name=2`,
			want: `chromosome==1 & gene_name==2`,
		},
		{
			name: "chained lone equals",
			in:   `a=b=c`,
			want: `a==b==c`,
		},
		{
			name: "equals inside quotes",
			in:   `chromosome="a=b"`,
			want: `chromosome=="a=b"`,
		},
		{
			name: "quoted text is left alone",
			in:   `gene name equals "brand and  sons or less than"`,
			want: `gene_name == "brand and  sons or less than"`,
		},
		{
			name: "not less than",
			in:   `read count not less than 7`,
			want: `read_count >= 7`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Parse(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, p.Parse(got), "parse must be idempotent")
		})
	}
}

func TestParser_SymbolicOperatorsUntouched(t *testing.T) {
	for _, in := range []string{"a == 1", "a != 1", "a >= 1", "a <= 1", "a > 1 & b < 2", "~(a == 1) | b"} {
		assert.Equal(t, in, Parse(in))
	}
}

func TestParser_Memoised(t *testing.T) {
	p := NewParser(nil)
	first := p.Parse("a equals 1")
	assert.Equal(t, "a == 1", first)
	p.mu.Lock()
	_, cached := p.cache["a equals 1"]
	p.mu.Unlock()
	assert.True(t, cached)
}
