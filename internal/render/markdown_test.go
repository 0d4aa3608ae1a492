package render

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VladislavFirsov/reportflow/contracts"
)

func TestMarkdown_Document(t *testing.T) {
	m := NewMarkdown()
	require.NoError(t, m.AddHeading("Weekly report", 0))
	require.NoError(t, m.AddParagraph("Open issues: ", ""))
	require.NoError(t, m.AddRun("42", StyleBold))
	require.NoError(t, m.AddList("first", StyleNumbered))
	require.NoError(t, m.AddList("second", StyleNumbered))
	require.NoError(t, m.AddTable([]string{"key", "summary"}, [][]string{{"R1", "a|b"}, {"R2"}}, ""))
	require.NoError(t, m.AddPageBreak())
	require.NoError(t, m.AddHeading("Deep", 9))
	require.NoError(t, m.AddPicture("out/chart.png", 4.5))

	want := "# Weekly report\n" +
		"\n" +
		"Open issues: **42**\n" +
		"\n" +
		"1. first\n" +
		"2. second\n" +
		"\n" +
		"| key | summary |\n" +
		"| --- | --- |\n" +
		"| R1 | a\\|b |\n" +
		"| R2 |  |\n" +
		"\n" +
		"---\n" +
		"\n" +
		"###### Deep\n" +
		"\n" +
		"![chart.png](out/chart.png \"width=4.5\")\n"
	assert.Equal(t, want, m.String())
}

func TestMarkdown_Styles(t *testing.T) {
	tests := []struct {
		style string
		want  string
	}{
		{"", "text\n"},
		{StyleBold, "**text**\n"},
		{StyleItalic, "_text_\n"},
		{StyleCode, "`text`\n"},
		{StyleQuote, "> text\n"},
		{"unknown", "text\n"},
	}
	for _, tt := range tests {
		t.Run(tt.style, func(t *testing.T) {
			m := NewMarkdown()
			require.NoError(t, m.AddParagraph("text", tt.style))
			assert.Equal(t, tt.want, m.String())
		})
	}
}

func TestMarkdown_RunWithoutParagraph(t *testing.T) {
	m := NewMarkdown()
	require.NoError(t, m.AddList("item", ""))
	require.NoError(t, m.AddRun("tail", ""))
	assert.Equal(t, "- item\n\ntail\n", m.String())
}

func TestMarkdown_TableNeedsHeadings(t *testing.T) {
	err := NewMarkdown().AddTable(nil, [][]string{{"x"}}, "")
	assert.ErrorIs(t, err, contracts.ErrArgumentValidation)
}

func TestMarkdown_FormatForEmail(t *testing.T) {
	m := NewMarkdown()
	require.NoError(t, m.AddHeading("Report", 1))
	require.NoError(t, m.AddParagraph("<script>alert(1)</script>hello", ""))
	require.NoError(t, m.AddTable([]string{"a"}, [][]string{{"1"}}, ""))

	html, err := m.FormatForEmail()
	require.NoError(t, err)
	assert.Contains(t, html, "<h1")
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, "hello")
	assert.NotContains(t, html, "<script>")
}

func TestMarkdown_Save(t *testing.T) {
	m := NewMarkdown()
	require.NoError(t, m.AddParagraph("saved", ""))

	path := filepath.Join(t.TempDir(), "nested", "report.md")
	require.NoError(t, m.Save(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "saved\n", string(data))
}

func TestPreview(t *testing.T) {
	out, err := Preview("# Title\n\nbody text\n", 60)
	require.NoError(t, err)
	assert.Contains(t, out, "Title")
	assert.Contains(t, out, "body text")
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"document", "markdown", "null"}, Names())
	assert.True(t, Registered("markdown"))
	assert.False(t, Registered("pdf"))

	r, err := New("document")
	require.NoError(t, err)
	assert.IsType(t, &Markdown{}, r)

	_, err = New("pdf")
	assert.ErrorIs(t, err, contracts.ErrInvalidClass)
}

func TestNull_CountsElements(t *testing.T) {
	r, err := New("null")
	require.NoError(t, err)
	require.NoError(t, r.AddHeading("h", 1))
	require.NoError(t, r.AddParagraph("p", ""))
	require.NoError(t, r.AddTable([]string{"a"}, nil, ""))
	require.NoError(t, r.AddPageBreak())
	html, err := r.FormatForEmail()
	require.NoError(t, err)
	assert.Empty(t, html)
	assert.Equal(t, 4, r.(*Null).Elements)
}
