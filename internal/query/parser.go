// Package query translates natural-language filters into expressions over
// column names, evaluates them against rows, and generates the combinatoric
// inclusion/exclusion queries used by overlap analysis.
package query

import (
	"regexp"
	"slices"
	"strings"
	"sync"
)

type substitution struct {
	re   *regexp.Regexp
	repl string
	fn   func(string) string
}

func (sub substitution) apply(s string) string {
	if sub.fn != nil {
		return sub.fn(s)
	}
	return sub.re.ReplaceAllString(s, sub.repl)
}

// doubleEquals rewrites every lone "=" as "==", leaving "==", "!=", "<="
// and ">=" alone.
func doubleEquals(s string) string {
	if !strings.Contains(s, "=") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		b.WriteByte(c)
		if c != '=' {
			continue
		}
		if i > 0 && strings.IndexByte("=!<>", s[i-1]) >= 0 {
			continue
		}
		if i+1 < len(s) && s[i+1] == '=' {
			// copy the second "=" of an existing "=="
			b.WriteByte('=')
			i++
			continue
		}
		b.WriteByte('=')
	}
	return b.String()
}

func phrase(words string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + strings.ReplaceAll(regexp.QuoteMeta(words), ` `, `\s+`) + `\b`)
}

var spaces = regexp.MustCompile(`\s+`)

// substitutions are applied in order, so longer phrases win. Comparators
// go before connectives so "greater than or equal to" keeps its "or".
var substitutions = func() []substitution {
	var subs []substitution
	groups := []struct {
		symbol  string
		phrases []string
	}{
		{">=", []string{"is greater than or equal to", "is not less than", "not less than"}},
		{"<=", []string{"is less than or equal to", "is not greater than", "not greater than"}},
		{"!=", []string{"is not equal to", "not equals"}},
		{"==", []string{"is equal to", "equals", "equal"}},
		{">", []string{"is greater than", "greater than"}},
		{"<", []string{"is less than", "less than"}},
	}
	for _, g := range groups {
		for _, p := range g.phrases {
			subs = append(subs, substitution{re: phrase(p), repl: g.symbol})
		}
		if g.symbol == "==" {
			// a lone "=" and "<>" also mean equality
			subs = append(subs,
				substitution{fn: doubleEquals},
				substitution{re: regexp.MustCompile(`<>`), repl: "=="},
			)
		}
	}
	return append(subs,
		substitution{re: phrase("and"), repl: "&"},
		substitution{re: phrase("or"), repl: "|"},
	)
}()

// Parser translates a bounded natural-language subset into a query over
// the columns of a schema. Results are memoised per source string.
//
// Thread-safety: safe for concurrent use.
type Parser struct {
	columns []columnPattern

	mu    sync.Mutex
	cache map[string]string
}

type columnPattern struct {
	re   *regexp.Regexp
	name string
}

// NewParser creates a parser for schema. Column names containing
// underscores may be written with spaces in the source query.
func NewParser(schema []string) *Parser {
	names := slices.Clone(schema)
	// longest first so "gene name id" wins over "gene name"
	slices.SortStableFunc(names, func(a, b string) int { return len(b) - len(a) })

	p := &Parser{cache: make(map[string]string)}
	for _, name := range names {
		if !strings.Contains(name, "_") {
			continue
		}
		spaced := strings.ReplaceAll(name, "_", " ")
		p.columns = append(p.columns, columnPattern{re: phrase(spaced), name: name})
	}
	return p
}

// Parse returns the symbolic form of src. Parsing an already parsed query
// returns it unchanged.
func (p *Parser) Parse(src string) string {
	p.mu.Lock()
	if out, ok := p.cache[src]; ok {
		p.mu.Unlock()
		return out
	}
	p.mu.Unlock()

	out := mapUnquoted(src, func(s string) string {
		for _, sub := range substitutions {
			s = sub.apply(s)
		}
		for _, c := range p.columns {
			s = c.re.ReplaceAllLiteralString(s, c.name)
		}
		return spaces.ReplaceAllLiteralString(s, " ")
	})
	out = strings.TrimSpace(out)

	p.mu.Lock()
	p.cache[src] = out
	p.mu.Unlock()
	return out
}

// mapUnquoted applies fn to the parts of s outside single or double quotes.
func mapUnquoted(s string, fn func(string) string) string {
	var b strings.Builder
	start := 0
	var quote rune
	for i, r := range s {
		switch {
		case quote == 0 && (r == '"' || r == '\''):
			b.WriteString(fn(s[start:i]))
			start = i
			quote = r
		case quote != 0 && r == quote:
			b.WriteString(s[start : i+1])
			start = i + 1
			quote = 0
		}
	}
	if quote != 0 {
		b.WriteString(s[start:])
	} else {
		b.WriteString(fn(s[start:]))
	}
	return b.String()
}

var defaultParser = NewParser(nil)

// Parse translates src with a parser that knows no schema.
func Parse(src string) string {
	return defaultParser.Parse(src)
}
