package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/VladislavFirsov/reportflow/config"
	"github.com/VladislavFirsov/reportflow/contracts"
	"github.com/VladislavFirsov/reportflow/internal/results"
)

// schema is the declared parameter set of a structure type.
type schema struct {
	required []string
	optional []string
}

var schemas = map[string]schema{
	config.TypeTable: {
		required: []string{"query"},
		optional: []string{"limit", "fields", "headings", "collation", "distinct", "group_by", "from", "style"},
	},
	config.TypeList: {
		required: []string{"query", "field"},
		optional: []string{"limit", "collation", "distinct", "from", "style"},
	},
	config.TypeParagraph: {required: []string{"text"}, optional: []string{"style"}},
	config.TypeCommand:   {required: []string{"command"}, optional: []string{"style", "as"}},
	config.TypeOverlap: {
		required: []string{"datasets", "join", "template"},
		optional: []string{"limits", "how", "baseline"},
	},
	config.TypeImage:     {required: []string{"path"}, optional: []string{"width"}},
	config.TypePageBreak: {},
}

// TableParams is the content of a table structure.
type TableParams struct {
	Query     string             `json:"query"`
	Limit     int                `json:"limit"`
	Fields    []string           `json:"fields"`
	Headings  []string           `json:"headings"`
	Collation *results.Collation `json:"collation"`
	Distinct  bool               `json:"distinct"`
	GroupBy   string             `json:"group_by"`
	From      string             `json:"from"`
	Style     string             `json:"style"`
}

// ListParams is the content of a list structure.
type ListParams struct {
	Query     string             `json:"query"`
	Field     string             `json:"field"`
	Limit     int                `json:"limit"`
	Collation *results.Collation `json:"collation"`
	Distinct  bool               `json:"distinct"`
	From      string             `json:"from"`
	Style     string             `json:"style"`
}

// ParagraphParams is the content of a paragraph structure.
type ParagraphParams struct {
	Text  string `json:"text"`
	Style string `json:"style"`
}

// CommandParams is the content of a command structure. As selects list
// or paragraph output.
type CommandParams struct {
	Command string `json:"command"`
	Style   string `json:"style"`
	As      string `json:"as"`
}

// OverlapParams is the content of an overlap structure.
type OverlapParams struct {
	Datasets []string           `json:"datasets"`
	Join     string             `json:"join"`
	Template string             `json:"template"`
	Limits   map[string]float64 `json:"limits"`
	How      results.JoinHow    `json:"how"`
	Baseline int                `json:"baseline"`
}

// ImageParams is the content of an image structure.
type ImageParams struct {
	Path  string  `json:"path"`
	Width float64 `json:"width"`
}

// ValidateContent checks the key set of content against the declared
// parameters of typ and decodes it into v. Unknown or missing keys are an
// ErrArgumentMismatch; ill-typed values an ErrArgumentValidation.
func ValidateContent(typ string, content json.RawMessage, v any) error {
	sc, ok := schemas[typ]
	if !ok {
		return fmt.Errorf("structure type %q: %w", typ, contracts.ErrInvalidModule)
	}
	content = bytes.TrimSpace(content)
	if len(content) == 0 || string(content) == "null" {
		content = json.RawMessage(`{}`)
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(content, &keys); err != nil {
		return fmt.Errorf("%s content is not an object: %w", typ, contracts.ErrArgumentValidation)
	}
	var unknown, missing []string
	for k := range keys {
		if !slices.Contains(sc.required, k) && !slices.Contains(sc.optional, k) {
			unknown = append(unknown, k)
		}
	}
	for _, k := range sc.required {
		if _, ok := keys[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(unknown) > 0 || len(missing) > 0 {
		slices.Sort(unknown)
		return fmt.Errorf("%s content: unknown %v, missing %v: %w", typ, unknown, missing, contracts.ErrArgumentMismatch)
	}

	if v == nil {
		return nil
	}
	if err := json.Unmarshal(content, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return fmt.Errorf("%s content: field %s: %w", typ, typeErr.Field, contracts.ErrArgumentValidation)
		}
		return fmt.Errorf("%s content: %v: %w", typ, err, contracts.ErrArgumentValidation)
	}
	return nil
}
