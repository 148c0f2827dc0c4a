// Package predicate compiles workflow conditions into a record filter.
//
// Conditions form a flat, left-associative chain: ((c1 op2 c2) op3 c3)...
// A compiled Predicate is a store.RecordFilter: the store loads the values of
// the referenced attributes and Match is the single evaluator.
package predicate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// Mode controls how invalid conditions are handled.
type Mode string

const (
	// Permissive drops invalid clauses and reports them as warnings.
	Permissive Mode = "permissive"
	// Strict fails the compile on the first invalid clause.
	Strict Mode = "strict"
)

// ParseMode maps a config string to a Mode. Unknown values are permissive.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(Strict)) {
		return Strict
	}
	return Permissive
}

// Options configures compilation.
type Options struct {
	Mode Mode
}

// Warning describes a clause dropped in permissive mode.
type Warning struct {
	ConditionID string          `json:"condition_id,omitempty"`
	AttributeID string          `json:"attribute_id,omitempty"`
	Operator    schema.Operator `json:"operator,omitempty"`
	Message     string          `json:"message"`
}

func (w Warning) String() string {
	if w.ConditionID != "" {
		return fmt.Sprintf("condition %s: %s", w.ConditionID, w.Message)
	}
	return w.Message
}

// Clause is one compiled condition.
type Clause struct {
	Attribute string
	Operator  schema.Operator
	Value     string
	Number    float64 // parsed Value for GREATER_THAN / LESS_THAN
}

// link joins a clause to the accumulated chain on its left.
type link struct {
	Logical schema.LogicalOperator
	Clause  Clause
}

// Predicate is a compiled condition chain. The zero value matches everything.
type Predicate struct {
	links []link
}

var _ store.RecordFilter = (*Predicate)(nil)

// Compile sorts conditions by order (stable) and compiles them into a Predicate.
// The first surviving clause's logical operator is ignored. Permissive mode
// returns one warning per dropped clause, plus a last one when nothing
// survived and the predicate widens to every record.
func Compile(conds []store.Condition, opts Options) (*Predicate, []Warning, error) {
	sorted := make([]store.Condition, len(conds))
	copy(sorted, conds)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	p := &Predicate{}
	var warnings []Warning
	for _, c := range sorted {
		clause, logical, err := compileCondition(c)
		if err != nil {
			if opts.Mode == Strict {
				return nil, nil, schema.NewErrorf(schema.ErrCodeCompile, "condition %s: %s", labelOf(c), err.Error()).
					WithDetails(map[string]any{"attribute_id": c.AttributeID, "operator": string(c.Operator)})
			}
			warnings = append(warnings, Warning{
				ConditionID: c.ID,
				AttributeID: c.AttributeID,
				Operator:    c.Operator,
				Message:     err.Error() + "; clause dropped",
			})
			continue
		}
		if len(p.links) == 0 {
			logical = schema.LogicalAnd
		}
		p.links = append(p.links, link{Logical: logical, Clause: clause})
	}
	if len(conds) > 0 && len(p.links) == 0 {
		warnings = append(warnings, Warning{Message: "all conditions dropped; predicate matches every record"})
	}
	return p, warnings, nil
}

func labelOf(c store.Condition) string {
	if c.ID != "" {
		return c.ID
	}
	return fmt.Sprintf("(order %d)", c.Order)
}

func compileCondition(c store.Condition) (Clause, schema.LogicalOperator, error) {
	if strings.TrimSpace(c.AttributeID) == "" {
		return Clause{}, "", fmt.Errorf("missing attribute")
	}
	logical := c.LogicalOperator
	switch logical {
	case "":
		logical = schema.LogicalAnd
	case schema.LogicalAnd, schema.LogicalOr:
	default:
		return Clause{}, "", fmt.Errorf("unsupported logical operator %q", logical)
	}

	clause := Clause{Attribute: c.AttributeID, Operator: c.Operator, Value: c.Value}
	switch c.Operator {
	case schema.OpEquals, schema.OpNotEquals, schema.OpContains, schema.OpNotContains,
		schema.OpIsEmpty, schema.OpIsNotEmpty:
	case schema.OpGreaterThan, schema.OpLessThan:
		n, ok := ParseNumber(c.Value)
		if !ok {
			return Clause{}, "", fmt.Errorf("comparison value %q is not numeric", c.Value)
		}
		clause.Number = n
	default:
		return Clause{}, "", fmt.Errorf("unsupported operator %q", c.Operator)
	}
	return clause, logical, nil
}

// Len returns the number of compiled clauses.
func (p *Predicate) Len() int {
	if p == nil {
		return 0
	}
	return len(p.links)
}

// Attributes returns the distinct attribute ids the clauses read, in first
// use order.
func (p *Predicate) Attributes() []string {
	if p.Len() == 0 {
		return nil
	}
	seen := make(map[string]bool, len(p.links))
	var ids []string
	for _, l := range p.links {
		if !seen[l.Clause.Attribute] {
			seen[l.Clause.Attribute] = true
			ids = append(ids, l.Clause.Attribute)
		}
	}
	return ids
}

// Clauses returns the compiled clauses in evaluation order.
func (p *Predicate) Clauses() []Clause {
	out := make([]Clause, 0, p.Len())
	if p != nil {
		for _, l := range p.links {
			out = append(out, l.Clause)
		}
	}
	return out
}

// Match evaluates the predicate in memory. values maps attribute id to the
// stored value; a missing key or nil pointer is NULL.
func (p *Predicate) Match(values map[string]*string) bool {
	if p.Len() == 0 {
		return true
	}
	acc := p.links[0].Clause.match(values[p.links[0].Clause.Attribute])
	for _, l := range p.links[1:] {
		v := l.Clause.match(values[l.Clause.Attribute])
		if l.Logical == schema.LogicalOr {
			acc = acc || v
		} else {
			acc = acc && v
		}
	}
	return acc
}

func (c Clause) match(v *string) bool {
	switch c.Operator {
	case schema.OpEquals:
		return v != nil && *v == c.Value
	case schema.OpNotEquals:
		return !(v != nil && *v == c.Value)
	case schema.OpContains:
		return v != nil && strings.Contains(strings.ToLower(*v), strings.ToLower(c.Value))
	case schema.OpNotContains:
		return !(v != nil && strings.Contains(strings.ToLower(*v), strings.ToLower(c.Value)))
	case schema.OpIsEmpty:
		return v == nil || *v == ""
	case schema.OpIsNotEmpty:
		return v != nil && *v != ""
	case schema.OpGreaterThan, schema.OpLessThan:
		if v == nil {
			return false
		}
		n, ok := ParseNumber(*v)
		if !ok {
			return false
		}
		if c.Operator == schema.OpGreaterThan {
			return n > c.Number
		}
		return n < c.Number
	}
	return false
}

// ParseNumber accepts plain decimal numbers with an optional sign and
// exponent ("18", "-2.5", "1e3"). Hex, underscores, Inf and NaN are rejected.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || !strings.ContainsAny(s, "0123456789") {
		return 0, false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789.eE+-", r) {
			return 0, false
		}
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
