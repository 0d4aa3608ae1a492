// Package render turns built report sections into documents.
package render

import (
	"fmt"
	"slices"

	"github.com/VladislavFirsov/reportflow/contracts"
)

// Styles understood by the renderers. Unknown styles render as plain text.
const (
	StyleBold     = "bold"
	StyleItalic   = "italic"
	StyleCode     = "code"
	StyleQuote    = "quote"
	StyleNumbered = "numbered"
)

// Renderer builds a document element by element.
type Renderer interface {
	AddHeading(text string, level int) error
	// AddParagraph starts a new paragraph.
	AddParagraph(text, style string) error
	// AddRun appends text to the current paragraph.
	AddRun(text, style string) error
	AddList(text, style string) error
	AddTable(headings []string, rows [][]string, style string) error
	AddPicture(path string, width float64) error
	AddPageBreak() error
	// FormatForEmail returns the document as sanitised HTML.
	FormatForEmail() (string, error)
	Save(path string) error
}

// Renderable is implemented by report elements. Render is called once the
// scheduler has finished and must be idempotent.
type Renderable interface {
	Render(r Renderer) error
}

var registry = map[string]func() Renderer{
	"markdown": func() Renderer { return NewMarkdown() },
	"document": func() Renderer { return NewMarkdown() },
	"null":     func() Renderer { return &Null{} },
}

// New returns the renderer registered under name.
func New(name string) (Renderer, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("renderer %q: %w", name, contracts.ErrInvalidClass)
	}
	return f(), nil
}

// Registered reports whether name is a known renderer.
func Registered(name string) bool {
	_, ok := registry[name]
	return ok
}

// Names lists the registered renderers.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Null discards the document and counts the elements it was given.
type Null struct {
	Elements int
}

func (n *Null) add() error { n.Elements++; return nil }

func (n *Null) AddHeading(string, int) error                { return n.add() }
func (n *Null) AddParagraph(string, string) error           { return n.add() }
func (n *Null) AddRun(string, string) error                 { return n.add() }
func (n *Null) AddList(string, string) error                { return n.add() }
func (n *Null) AddTable([]string, [][]string, string) error { return n.add() }
func (n *Null) AddPicture(string, float64) error            { return n.add() }
func (n *Null) AddPageBreak() error                         { return n.add() }
func (n *Null) FormatForEmail() (string, error)             { return "", nil }
func (n *Null) Save(string) error                           { return nil }
