package render

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/VladislavFirsov/reportflow/contracts"
)

// Markdown renders to a GitHub-flavoured Markdown document.
type Markdown struct {
	mu      sync.Mutex
	buf     strings.Builder
	inPara  bool
	inList  bool
	listNum int
}

// NewMarkdown returns an empty document.
func NewMarkdown() *Markdown {
	return &Markdown{}
}

func decorate(text, style string) string {
	if text == "" {
		return text
	}
	switch style {
	case StyleBold:
		return "**" + text + "**"
	case StyleItalic:
		return "_" + text + "_"
	case StyleCode:
		return "`" + text + "`"
	}
	return text
}

// block ends the open paragraph or list and separates blocks with a blank line.
func (m *Markdown) block() {
	if m.buf.Len() > 0 {
		if m.inPara {
			m.buf.WriteString("\n")
		}
		m.buf.WriteString("\n")
	}
	m.inPara = false
	m.inList = false
	m.listNum = 0
}

func (m *Markdown) AddHeading(text string, level int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	level = min(max(level, 1), 6)
	m.block()
	fmt.Fprintf(&m.buf, "%s %s\n", strings.Repeat("#", level), text)
	return nil
}

func (m *Markdown) AddParagraph(text, style string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block()
	if style == StyleQuote {
		m.buf.WriteString("> ")
	}
	m.buf.WriteString(decorate(text, style))
	m.inPara = true
	return nil
}

func (m *Markdown) AddRun(text, style string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inPara {
		m.block()
		m.inPara = true
	}
	m.buf.WriteString(decorate(text, style))
	return nil
}

func (m *Markdown) AddList(text, style string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inList {
		m.block()
		m.inList = true
	}
	m.listNum++
	if style == StyleNumbered {
		fmt.Fprintf(&m.buf, "%d. %s\n", m.listNum, text)
	} else {
		fmt.Fprintf(&m.buf, "- %s\n", text)
	}
	return nil
}

func escapeCell(s string) string {
	return strings.NewReplacer("|", `\|`, "\n", " ").Replace(s)
}

func (m *Markdown) AddTable(headings []string, rows [][]string, style string) error {
	if len(headings) == 0 {
		return fmt.Errorf("table without headings: %w", contracts.ErrArgumentValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block()
	cells := make([]string, len(headings))
	for i, h := range headings {
		cells[i] = escapeCell(decorate(h, style))
	}
	fmt.Fprintf(&m.buf, "| %s |\n", strings.Join(cells, " | "))
	fmt.Fprintf(&m.buf, "|%s\n", strings.Repeat(" --- |", len(headings)))
	for _, row := range rows {
		for i := range cells {
			cells[i] = ""
			if i < len(row) {
				cells[i] = escapeCell(row[i])
			}
		}
		fmt.Fprintf(&m.buf, "| %s |\n", strings.Join(cells, " | "))
	}
	return nil
}

func (m *Markdown) AddPicture(path string, width float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block()
	title := ""
	if width > 0 {
		title = fmt.Sprintf(` "width=%g"`, width)
	}
	fmt.Fprintf(&m.buf, "![%s](%s%s)\n", filepath.Base(path), path, title)
	return nil
}

func (m *Markdown) AddPageBreak() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block()
	m.buf.WriteString("---\n")
	return nil
}

// String returns the Markdown source.
func (m *Markdown) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.buf.String()
	if m.inPara {
		s += "\n"
	}
	return s
}

// FormatForEmail converts the document to HTML and strips anything a mail
// client should not receive.
func (m *Markdown) FormatForEmail() (string, error) {
	return ToHTML(m.String())
}

// ToHTML converts Markdown to sanitised HTML.
func ToHTML(md string) (string, error) {
	var out bytes.Buffer
	conv := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := conv.Convert([]byte(md), &out); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return bluemonday.UGCPolicy().Sanitize(out.String()), nil
}

// Save writes the Markdown source to path, creating its directory.
func (m *Markdown) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(m.String()), 0o644); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// Preview renders Markdown for a terminal of the given width.
func Preview(md string, width int) (string, error) {
	if width <= 0 {
		width = 100
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("preview: %w", err)
	}
	return r.Render(md)
}
