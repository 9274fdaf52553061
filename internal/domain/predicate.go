package domain

import (
	"fmt"
	"strconv"
)

// PredicateKey is the normalized ground-truth lookup key. An absent int filter
// normalizes to IntFilterRange and an absent keyword to KeywordAll, since both
// select the whole corpus.
type PredicateKey struct {
	IntFilter uint32
	Keyword   string
}

// String renders the key as "int<T,kw=K".
func (k PredicateKey) String() string {
	return "int<" + strconv.FormatUint(uint64(k.IntFilter), 10) + ",kw=" + k.Keyword
}

// Predicate is an optional metadata filter applied to a query.
type Predicate struct {
	intFilter *uint32
	keyword   *string
}

// NoFilter is the predicate that selects every document.
var NoFilter = Predicate{}

// NewPredicate builds a predicate from optional parts.
func NewPredicate(intFilter *uint32, keyword *string) Predicate {
	p := Predicate{}
	if intFilter != nil {
		v := *intFilter
		p.intFilter = &v
	}
	if keyword != nil {
		v := *keyword
		p.keyword = &v
	}
	return p
}

// IntBelow returns a predicate selecting int_filter < t.
func IntBelow(t uint32) Predicate { return NewPredicate(&t, nil) }

// WithKeyword returns a predicate selecting documents that carry tok.
func WithKeyword(tok string) Predicate { return NewPredicate(nil, &tok) }

// IntFilter returns the int_filter threshold, if set.
func (p Predicate) IntFilter() (uint32, bool) {
	if p.intFilter == nil {
		return 0, false
	}
	return *p.intFilter, true
}

// Keyword returns the keyword token, if set.
func (p Predicate) Keyword() (string, bool) {
	if p.keyword == nil {
		return "", false
	}
	return *p.keyword, true
}

// IsEmpty reports whether no filter is set.
func (p Predicate) IsEmpty() bool { return p.intFilter == nil && p.keyword == nil }

// Matches reports whether doc satisfies the predicate.
func (p Predicate) Matches(doc Document) bool {
	if p.intFilter != nil && doc.IntFilter >= *p.intFilter {
		return false
	}
	if p.keyword != nil && !doc.HasKeyword(*p.keyword) {
		return false
	}
	return true
}

// Key normalizes the predicate for ground-truth lookup.
func (p Predicate) Key() PredicateKey {
	k := PredicateKey{IntFilter: IntFilterRange, Keyword: KeywordAll}
	if p.intFilter != nil {
		k.IntFilter = *p.intFilter
	}
	if p.keyword != nil {
		k.Keyword = *p.keyword
	}
	return k
}

// Selectivity is the expected fraction of a uniform corpus the predicate selects.
func (p Predicate) Selectivity() float64 {
	s := 1.0
	if p.intFilter != nil {
		s = min(float64(*p.intFilter), IntFilterRange) / IntFilterRange
	}
	if p.keyword != nil {
		s *= KeywordSelectivity(*p.keyword)
	}
	return s
}

// Label is a stable, human-readable name used as the selectivity column of a
// metric record.
func (p Predicate) Label() string {
	switch {
	case p.intFilter != nil && p.keyword != nil:
		return fmt.Sprintf("int<%d&kw=%s", *p.intFilter, *p.keyword)
	case p.intFilter != nil:
		return fmt.Sprintf("int<%d", *p.intFilter)
	case p.keyword != nil:
		return "kw=" + *p.keyword
	default:
		return "none"
	}
}

// KeywordSelectivity returns the corpus fraction carrying tok. Unknown tokens select nothing.
func KeywordSelectivity(tok string) float64 {
	switch tok {
	case KeywordAll:
		return 1
	case KeywordTenth:
		return 0.1
	case KeywordHundredth:
		return 0.01
	default:
		return 0
	}
}

// FilterMatrix returns the standard filter sweep: no filter, three int_filter
// thresholds and the three keyword bands.
func FilterMatrix() []Predicate {
	return []Predicate{
		NoFilter,
		IntBelow(IntFilterRange),
		IntBelow(1000),
		IntBelow(100),
		WithKeyword(KeywordAll),
		WithKeyword(KeywordTenth),
		WithKeyword(KeywordHundredth),
	}
}
