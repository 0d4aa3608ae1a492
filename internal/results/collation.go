package results

import (
	"fmt"
	"maps"
	"slices"

	"github.com/VladislavFirsov/reportflow/contracts"
)

// Method names a collation. The set of methods is closed.
type Method string

const (
	TotalByField             Method = "total_by_field"
	AverageDaysSinceCreation Method = "average_days_since_creation"
	AverageDuration          Method = "average_duration"
	PriorityBucket           Method = "priority_bucket"
	Flatten                  Method = "flatten"
	SumTotal                 Method = "sum_total"
	SumOuter                 Method = "sum_outer"
	Subquery                 Method = "subquery"
	Combinatorics            Method = "combinatorics"
)

// Methods lists every registered collation method.
var Methods = []Method{
	TotalByField,
	AverageDaysSinceCreation,
	AverageDuration,
	PriorityBucket,
	Flatten,
	SumTotal,
	SumOuter,
	Subquery,
	Combinatorics,
}

// JoinSpec describes how collations that merge result sets join them.
type JoinSpec struct {
	How    JoinHow `json:"how" yaml:"how"`
	Column string  `json:"column" yaml:"column"`
}

// Collation is a post-processing descriptor applied to a result set.
// Build it with NewCollation so the method name is checked up front.
type Collation struct {
	Method       Method             `json:"method" yaml:"method"`
	Field        string             `json:"field,omitempty" yaml:"field,omitempty"`
	Join         *JoinSpec          `json:"join,omitempty" yaml:"join,omitempty"`
	Query        string             `json:"query,omitempty" yaml:"query,omitempty"`
	Limits       map[string]float64 `json:"limits,omitempty" yaml:"limits,omitempty"`
	SplitResults bool               `json:"split_results,omitempty" yaml:"split_results,omitempty"`
}

// NewCollation validates c and returns a copy.
func NewCollation(c Collation) (*Collation, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c.Copy(), nil
}

// Validate checks the method name and join spec.
func (c *Collation) Validate() error {
	if !slices.Contains(Methods, c.Method) {
		return fmt.Errorf("method %q: %w", c.Method, contracts.ErrInvalidCollation)
	}
	if c.Join != nil {
		if !c.Join.How.Valid() {
			return fmt.Errorf("method %q: join %q: %w", c.Method, c.Join.How, contracts.ErrInvalidCollation)
		}
		if c.Join.Column == "" {
			return fmt.Errorf("method %q: join column missing: %w", c.Method, contracts.ErrInvalidCollation)
		}
	}
	return nil
}

// Copy returns a deep copy of c.
func (c *Collation) Copy() *Collation {
	if c == nil {
		return nil
	}
	out := *c
	if c.Join != nil {
		j := *c.Join
		out.Join = &j
	}
	out.Limits = maps.Clone(c.Limits)
	return &out
}

// JoinHowOr returns the configured join method, or def.
func (c *Collation) JoinHowOr(def JoinHow) JoinHow {
	if c == nil || c.Join == nil || c.Join.How == "" {
		return def
	}
	return c.Join.How
}
