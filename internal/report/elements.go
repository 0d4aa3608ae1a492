package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/VladislavFirsov/reportflow/config"
	"github.com/VladislavFirsov/reportflow/contracts"
	"github.com/VladislavFirsov/reportflow/internal/collate"
	"github.com/VladislavFirsov/reportflow/internal/extract"
	"github.com/VladislavFirsov/reportflow/internal/orchestration"
	"github.com/VladislavFirsov/reportflow/internal/render"
	"github.com/VladislavFirsov/reportflow/internal/results"
	"github.com/VladislavFirsov/reportflow/internal/sources"
)

// Element is one rendered part of a section.
type Element interface {
	render.Renderable
	// Tasks returns the tasks to schedule for the element.
	Tasks() []orchestration.Task
	// Prepare runs after the scheduler finished and before Render.
	Prepare(ctx context.Context) error
}

// expansion is what element constructors share.
type expansion struct {
	source  sources.DataSource
	command *sources.Command
	sched   *orchestration.Scheduler
	collate collate.Env
	replace func(string) (string, error)
}

type constructor func(x *expansion, name string, st config.Structure, level int) (Element, error)

var constructors = map[string]constructor{
	config.TypeTable:     newTable,
	config.TypeList:      newList,
	config.TypeParagraph: newParagraph,
	config.TypeCommand:   newCommand,
	config.TypeOverlap:   newOverlap,
	config.TypeImage:     newImage,
	config.TypePageBreak: newPageBreak,
}

// heading renders the optional element title one level below its section.
type heading struct {
	title string
	level int
}

func (h heading) render(r render.Renderer) error {
	if h.title == "" {
		return nil
	}
	return r.AddHeading(h.title, h.level)
}

func unavailable(r render.Renderer, err error) error {
	return r.AddParagraph(fmt.Sprintf("Data unavailable: %v", err), render.StyleItalic)
}

// filterElement holds a filter and its collated results.
type filterElement struct {
	filter *extract.Filter
	result results.Result
	err    error
}

func (e *filterElement) Tasks() []orchestration.Task { return []orchestration.Task{e.filter} }

// Prepare collates the filter results. A failed filter is reported by the
// scheduler, so only collation errors are returned here.
func (e *filterElement) Prepare(ctx context.Context) error {
	if err := e.filter.Failure(); err != nil {
		e.err = err
		return nil
	}
	e.result, e.err = e.filter.Results(ctx)
	return e.err
}

func (e *filterElement) collated() bool { return e.filter.Collation() != nil }

func (x *expansion) filter(name, query string, opts extract.Options) (*extract.Filter, error) {
	q, err := x.replace(query)
	if err != nil {
		return nil, err
	}
	opts.Query = q
	return extract.NewFilter(name, x.source, opts, x.collate)
}

type tableElement struct {
	heading
	filterElement
	fields   []string
	headings []string
	style    string
}

func newTable(x *expansion, name string, st config.Structure, level int) (Element, error) {
	var p TableParams
	if err := ValidateContent(config.TypeTable, st.Content, &p); err != nil {
		return nil, err
	}
	if len(p.Headings) > 0 && len(p.Fields) > 0 && len(p.Headings) != len(p.Fields) {
		return nil, fmt.Errorf("table %s: %d headings for %d fields: %w", name, len(p.Headings), len(p.Fields), contracts.ErrArgumentValidation)
	}
	f, err := x.filter(name, p.Query, extract.Options{
		Limit:     p.Limit,
		Fields:    p.Fields,
		GroupBy:   p.GroupBy,
		From:      p.From,
		Collation: p.Collation,
		Distinct:  p.Distinct,
	})
	if err != nil {
		return nil, err
	}
	return &tableElement{
		heading:       heading{title: st.Title, level: level},
		filterElement: filterElement{filter: f},
		fields:        p.Fields,
		headings:      p.Headings,
		style:         p.Style,
	}, nil
}

func (e *tableElement) Render(r render.Renderer) error {
	if err := e.heading.render(r); err != nil {
		return err
	}
	if e.err != nil {
		return unavailable(r, e.err)
	}
	sets := resultSets(e.result)
	for _, rs := range sets {
		if len(sets) > 1 {
			if err := r.AddHeading(rs.Name(), e.level+1); err != nil {
				return err
			}
		}
		t := rs.Table()
		columns := t.Columns
		if len(e.fields) > 0 && !e.collated() {
			columns = e.fields
			t = t.Select(columns...)
		}
		headings := columns
		if len(e.headings) == len(columns) {
			headings = e.headings
		}
		rows := make([][]string, 0, t.Len())
		for _, row := range t.Rows {
			cells := make([]string, len(row))
			for i, v := range row {
				cells[i] = results.FormatCell(v)
			}
			rows = append(rows, cells)
		}
		if err := r.AddTable(headings, rows, e.style); err != nil {
			return err
		}
	}
	return nil
}

func resultSets(r results.Result) []*results.ResultSet {
	switch r := r.(type) {
	case *results.ResultSet:
		return []*results.ResultSet{r}
	case *results.MultiResultSet:
		return r.Sets()
	}
	return nil
}

type listElement struct {
	heading
	filterElement
	field string
	style string
}

func newList(x *expansion, name string, st config.Structure, level int) (Element, error) {
	var p ListParams
	if err := ValidateContent(config.TypeList, st.Content, &p); err != nil {
		return nil, err
	}
	if p.Field == "" {
		return nil, fmt.Errorf("list %s: empty field: %w", name, contracts.ErrArgumentValidation)
	}
	f, err := x.filter(name, p.Query, extract.Options{
		Limit:     p.Limit,
		From:      p.From,
		Collation: p.Collation,
		Distinct:  p.Distinct,
	})
	if err != nil {
		return nil, err
	}
	return &listElement{
		heading:       heading{title: st.Title, level: level},
		filterElement: filterElement{filter: f},
		field:         p.Field,
		style:         p.Style,
	}, nil
}

func (e *listElement) Render(r render.Renderer) error {
	if err := e.heading.render(r); err != nil {
		return err
	}
	if e.err != nil {
		return unavailable(r, e.err)
	}
	for _, rs := range resultSets(e.result) {
		t := rs.Table()
		col := t.Index(e.field)
		if col < 0 && e.collated() && len(t.Columns) > 0 {
			col = 0
		}
		if col < 0 {
			continue
		}
		for _, row := range t.Rows {
			if err := r.AddList(results.FormatCell(row[col]), e.style); err != nil {
				return err
			}
		}
	}
	return nil
}

type paragraphElement struct {
	text  string
	style string
}

func newParagraph(x *expansion, _ string, st config.Structure, _ int) (Element, error) {
	var p ParagraphParams
	if err := ValidateContent(config.TypeParagraph, st.Content, &p); err != nil {
		return nil, err
	}
	text, err := x.replace(p.Text)
	if err != nil {
		return nil, err
	}
	return &paragraphElement{text: text, style: p.Style}, nil
}

func (e *paragraphElement) Tasks() []orchestration.Task   { return nil }
func (e *paragraphElement) Prepare(context.Context) error { return nil }
func (e *paragraphElement) Render(r render.Renderer) error {
	return r.AddParagraph(e.text, e.style)
}

type commandElement struct {
	heading
	task  *sources.CommandTask
	style string
	list  bool
}

func newCommand(x *expansion, name string, st config.Structure, level int) (Element, error) {
	var p CommandParams
	if err := ValidateContent(config.TypeCommand, st.Content, &p); err != nil {
		return nil, err
	}
	switch p.As {
	case "", "paragraph", "list":
	default:
		return nil, fmt.Errorf("command %s: as %q: %w", name, p.As, contracts.ErrArgumentValidation)
	}
	if x.command == nil {
		return nil, fmt.Errorf("command %s: %w", name, contracts.ErrInvalidCallback)
	}
	cmd, err := x.replace(p.Command)
	if err != nil {
		return nil, err
	}
	task, err := sources.NewCommandTask(name, cmd, x.command)
	if err != nil {
		return nil, err
	}
	return &commandElement{
		heading: heading{title: st.Title, level: level},
		task:    task,
		style:   p.Style,
		list:    p.As == "list",
	}, nil
}

func (e *commandElement) Tasks() []orchestration.Task { return []orchestration.Task{e.task} }

func (e *commandElement) Prepare(context.Context) error { return nil }

func (e *commandElement) Render(r render.Renderer) error {
	if err := e.heading.render(r); err != nil {
		return err
	}
	if err := e.task.Failure(); err != nil {
		return unavailable(r, err)
	}
	var lines []string
	if rs := e.task.Results(); rs != nil {
		for _, v := range rs.Values(sources.LineField) {
			lines = append(lines, results.FormatCell(v))
		}
	}
	if !e.list {
		if len(lines) == 0 {
			return nil
		}
		return r.AddParagraph(strings.Join(lines, " "), e.style)
	}
	for _, l := range lines {
		if err := r.AddList(l, e.style); err != nil {
			return err
		}
	}
	return nil
}

type imageElement struct {
	path  string
	width float64
}

func newImage(x *expansion, name string, st config.Structure, _ int) (Element, error) {
	var p ImageParams
	if err := ValidateContent(config.TypeImage, st.Content, &p); err != nil {
		return nil, err
	}
	if p.Width < 0 {
		return nil, fmt.Errorf("image %s: negative width: %w", name, contracts.ErrArgumentValidation)
	}
	path, err := x.replace(p.Path)
	if err != nil {
		return nil, err
	}
	return &imageElement{path: path, width: p.Width}, nil
}

func (e *imageElement) Tasks() []orchestration.Task   { return nil }
func (e *imageElement) Prepare(context.Context) error { return nil }
func (e *imageElement) Render(r render.Renderer) error {
	return r.AddPicture(e.path, e.width)
}

type pageBreakElement struct{}

func newPageBreak(_ *expansion, _ string, st config.Structure, _ int) (Element, error) {
	if err := ValidateContent(config.TypePageBreak, st.Content, nil); err != nil {
		return nil, err
	}
	return pageBreakElement{}, nil
}

func (pageBreakElement) Tasks() []orchestration.Task    { return nil }
func (pageBreakElement) Prepare(context.Context) error  { return nil }
func (pageBreakElement) Render(r render.Renderer) error { return r.AddPageBreak() }
