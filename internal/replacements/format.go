package replacements

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"

	"github.com/VladislavFirsov/reportflow/contracts"
)

// Replacement types.
const (
	TypeString  = "string"
	TypeDate    = "date"
	TypeOrdinal = "ordinal"
	TypeCSV     = "csv"
	TypeBytes   = "bytes"
	TypeNumber  = "number"
	TypeTime    = "time"
	TypeUpper   = "upper"
	TypeLower   = "lower"
)

// DateLayout is the input layout of date values.
const DateLayout = "2006-01-02"

// Formatter turns a raw value into its display form. now is passed in so
// formatters stay pure.
type Formatter func(raw string, now time.Time) (string, error)

var formatters = map[string]Formatter{
	TypeString:  func(raw string, _ time.Time) (string, error) { return raw, nil },
	TypeDate:    formatDate,
	TypeOrdinal: formatOrdinal,
	TypeCSV:     formatCSV,
	TypeBytes:   formatBytes,
	TypeNumber:  formatNumber,
	TypeTime:    formatTime,
	TypeUpper:   func(raw string, _ time.Time) (string, error) { return strings.ToUpper(raw), nil },
	TypeLower:   func(raw string, _ time.Time) (string, error) { return strings.ToLower(raw), nil },
}

// FormatterFor returns the formatter of typ. An empty type is a string.
func FormatterFor(typ string) (Formatter, error) {
	if typ == "" {
		typ = TypeString
	}
	f, ok := formatters[typ]
	if !ok {
		return nil, fmt.Errorf("replacement type %q: %w", typ, contracts.ErrArgumentValidation)
	}
	return f, nil
}

func parseDate(raw string, now time.Time) (time.Time, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "today", "now":
		return now, nil
	case "yesterday":
		return now.AddDate(0, 0, -1), nil
	case "tomorrow":
		return now.AddDate(0, 0, 1), nil
	}
	for _, layout := range []string{DateLayout, time.RFC3339} {
		if t, err := time.Parse(layout, strings.TrimSpace(raw)); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q: %w", raw, contracts.ErrArgumentValidation)
}

// formatDate renders "Monday 19th October 2026".
func formatDate(raw string, now time.Time) (string, error) {
	t, err := parseDate(raw, now)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s %d", t.Weekday(), humanize.Ordinal(t.Day()), t.Month(), t.Year()), nil
}

func formatOrdinal(raw string, _ time.Time) (string, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("ordinal %q: %w", raw, contracts.ErrArgumentValidation)
	}
	return humanize.Ordinal(n), nil
}

// formatCSV turns "a,b,c" into "a, b and c".
func formatCSV(raw string, _ time.Time) (string, error) {
	var items []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			items = append(items, s)
		}
	}
	return english.WordSeries(items, "and"), nil
}

func formatBytes(raw string, _ time.Time) (string, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return "", fmt.Errorf("bytes %q: %w", raw, contracts.ErrArgumentValidation)
	}
	return humanize.IBytes(n), nil
}

func formatNumber(raw string, _ time.Time) (string, error) {
	s := strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return humanize.Comma(n), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", fmt.Errorf("number %q: %w", raw, contracts.ErrArgumentValidation)
	}
	return humanize.Commaf(f), nil
}

// formatTime renders a date relative to now, e.g. "3 days ago".
func formatTime(raw string, now time.Time) (string, error) {
	t, err := parseDate(raw, now)
	if err != nil {
		return "", err
	}
	return humanize.RelTime(t, now, "ago", "from now"), nil
}
