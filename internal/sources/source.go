// Package sources provides the data sources filters query: tabular files,
// an issue tracker and shell command pipelines.
package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/VladislavFirsov/reportflow/contracts"
	"github.com/VladislavFirsov/reportflow/internal/results"
)

// Request describes one search.
type Request struct {
	Query string
	// Limit caps the row count; 0 means unbounded.
	Limit int
	// Fields projects the rows; empty keeps every field.
	Fields []string
	// GroupBy splits the result into one set per value of the field.
	GroupBy string
	// From names the dataset of a multi-dataset source.
	From string
}

// Key identifies equivalent requests for coalescing.
func (r Request) Key() string {
	return strings.Join([]string{
		r.From,
		r.Query,
		strconv.Itoa(r.Limit),
		strings.Join(r.Fields, ","),
		r.GroupBy,
	}, "\x1f")
}

// DataSource is the capability set filters depend on.
type DataSource interface {
	Search(ctx context.Context, req Request) (results.Result, error)
	Projects(ctx context.Context) ([]string, error)
	// Server describes where the data comes from.
	Server() string
}

// Deps are shared collaborators handed to source factories.
type Deps struct {
	Logger     *zap.Logger
	HTTPClient *http.Client
	// Dir resolves relative paths.
	Dir string
}

func (d Deps) logger(name string) *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger.Named(name)
}

// Factory builds a source from its JSON parameters.
type Factory func(params json.RawMessage, deps Deps) (DataSource, error)

var registry = map[string]Factory{
	"tabular": newTabularFromParams,
	"issues":  newIssuesFromParams,
	"jira":    newIssuesFromParams,
	"command": newCommandFromParams,
}

// Names lists the registered source names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Registered reports whether name is a known source.
func Registered(name string) bool {
	_, ok := registry[name]
	return ok
}

// New builds the source registered under name.
func New(name string, params json.RawMessage, deps Deps) (DataSource, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("manager %q: %w", name, contracts.ErrInvalidClass)
	}
	return f(params, deps)
}

// decodeParams decodes params strictly into v. Unknown keys are an
// argument mismatch.
func decodeParams(params json.RawMessage, v any) error {
	if len(bytes.TrimSpace(params)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(params))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrArgumentMismatch, err)
	}
	return nil
}

// shape applies the projection, limit and grouping of req to rs.
func shape(rs *results.ResultSet, req Request) results.Result {
	t := rs.Table()
	if req.Limit > 0 && t.Len() > req.Limit {
		t = &results.Table{Columns: t.Columns, Rows: t.Rows[:req.Limit]}
	}
	if len(req.Fields) > 0 {
		cols := slices.Clone(req.Fields)
		if req.GroupBy != "" && !slices.Contains(cols, req.GroupBy) {
			cols = append(cols, req.GroupBy)
		}
		t = t.Select(cols...)
	} else {
		t = t.Copy()
	}
	if req.GroupBy == "" {
		out := results.FromTable(rs.Name(), t)
		out.SetLabel(rs.Label())
		return out
	}
	return groupBy(rs.Name(), t, req.GroupBy)
}

// groupBy splits t into one set per value of column, in first-seen order.
func groupBy(name string, t *results.Table, column string) *results.MultiResultSet {
	m := results.NewMultiResultSet(name, false)
	j := t.Index(column)
	groups := make(map[any]*results.Table)
	var order []any
	for _, row := range t.Rows {
		var v any
		if j >= 0 {
			v = row[j]
		}
		k := results.JoinKey(v)
		g, ok := groups[k]
		if !ok {
			g = &results.Table{Columns: slices.Clone(t.Columns)}
			groups[k] = g
			order = append(order, k)
		}
		g.Rows = append(g.Rows, row)
	}
	for _, k := range order {
		g := groups[k]
		label := ""
		if j >= 0 {
			label = results.FormatCell(g.Rows[0][j])
		}
		rs := results.FromTable(label, g)
		rs.SetGroupBy(column)
		m.Append(rs)
	}
	return m
}
