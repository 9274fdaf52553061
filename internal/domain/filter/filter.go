// Package filter translates benchmark predicates into a backend-neutral
// conjunction that search adapters render into their native syntax.
package filter

import "github.com/kailas-cloud/vecbench/internal/domain"

// Payload field names shared by every backend schema.
const (
	FieldIntFilter     = "int_filter"
	FieldKeywordFilter = "keyword_filter"
)

// Expression is a conjunction of conditions. The zero value matches everything.
type Expression struct {
	conds []Condition
}

// FromPredicate builds the expression equivalent to p: int_filter < T and
// keyword_filter contains the token.
func FromPredicate(p domain.Predicate) Expression {
	var conds []Condition
	if t, ok := p.IntFilter(); ok {
		conds = append(conds, Condition{key: FieldIntFilter, below: &t})
	}
	if kw, ok := p.Keyword(); ok {
		conds = append(conds, Condition{key: FieldKeywordFilter, match: kw})
	}
	return Expression{conds: conds}
}

// Conditions returns the required conditions in predicate order.
func (e Expression) Conditions() []Condition { return e.conds }

// IsEmpty reports whether the expression has no conditions.
func (e Expression) IsEmpty() bool { return len(e.conds) == 0 }

// Condition is either a keyword membership test or an exclusive upper bound.
type Condition struct {
	key   string
	match string
	below *uint32
}

// Key returns the field name.
func (c Condition) Key() string { return c.key }

// Match returns the keyword token.
func (c Condition) Match() string { return c.match }

// IsMatch reports whether this is a keyword condition.
func (c Condition) IsMatch() bool { return c.match != "" }

// Below returns the exclusive upper bound of a range condition.
func (c Condition) Below() (uint32, bool) {
	if c.below == nil {
		return 0, false
	}
	return *c.below, true
}
