package results

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/VladislavFirsov/reportflow/contracts"
)

// Delimiters used by the tabular artefacts.
const (
	DelimiterTab   = '\t'
	DelimiterComma = ','
)

// ParseDelimiter maps a configured delimiter ("\t", "tab", ",", "comma", ...)
// to a rune. An empty value yields def.
func ParseDelimiter(s string, def rune) (rune, error) {
	switch strings.ToLower(s) {
	case "":
		return def, nil
	case "\t", `\t`, "tab":
		return DelimiterTab, nil
	case ",", "comma":
		return DelimiterComma, nil
	case ";", "semicolon":
		return ';', nil
	case "|", "pipe":
		return '|', nil
	}
	return 0, fmt.Errorf("delimiter %q: %w", s, contracts.ErrArgumentValidation)
}

// ReadCSV reads a delimited table with a header row. Empty cells become nil
// and numeric cells become float64.
func ReadCSV(r io.Reader, delimiter rune) (*Table, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.Comma = delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return &Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	t := &Table{Columns: make([]string, len(header))}
	for i, h := range header {
		t.Columns[i] = strings.TrimSpace(h)
	}

	for {
		fields, err := cr.Read()
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(t.Rows)+1, err)
		}
		row := make([]any, len(t.Columns))
		for i := range row {
			if i < len(fields) {
				row[i] = parseCell(fields[i])
			}
		}
		t.Rows = append(t.Rows, row)
	}
}

func parseCell(s string) any {
	if s == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// FormatCell renders a cell value the way WriteCSV does.
func FormatCell(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// WriteCSV writes t with a header row.
func WriteCSV(w io.Writer, t *Table, delimiter rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = delimiter
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	fields := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i := range fields {
			fields[i] = FormatCell(row[i])
		}
		if err := cw.Write(fields); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSVFile reads a delimited file.
func ReadCSVFile(path string, delimiter rune) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	t, err := ReadCSV(f, delimiter)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// WriteCSVFile writes t to dir/name, creating dir if needed.
// Names containing path separators are rejected with ErrInvalidFilename.
func WriteCSVFile(dir, name string, t *Table, delimiter rune) (string, error) {
	if err := ValidateFilename(name); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteCSV(f, t, delimiter); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return path, nil
}

// ValidateFilename rejects empty names, names with separators and dot names.
func ValidateFilename(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`+"\x00") {
		return fmt.Errorf("%q: %w", name, contracts.ErrInvalidFilename)
	}
	return nil
}
