package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/kailas-cloud/vecbench/internal/domain"
	"github.com/kailas-cloud/vecbench/internal/provider"
)

// Generator produces uniform corpora with the same filter distribution as the
// published datasets: int_filter uniform over [0, 10000), every document in
// keyword band 10000, 10% in 01000 and 1% in 00100.
type Generator struct {
	Seed uint64
	Dim  int
}

// Corpus is a generated document set with queries whose ground truth was
// computed against it.
type Corpus struct {
	Docs    []domain.Document
	Queries []domain.Query
}

func (g Generator) rng(stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(g.Seed, stream))
}

func (g Generator) dim() int {
	if g.Dim > 0 {
		return g.Dim
	}
	return domain.Dimensions
}

// Docs generates n documents with ids 0..n-1. Output is a pure function of
// the seed.
func (g Generator) Docs(n int) []domain.Document {
	r := g.rng(1)
	docs := make([]domain.Document, n)
	for i := range docs {
		kw := []string{domain.KeywordAll}
		if r.Float64() < 0.1 {
			kw = append(kw, domain.KeywordTenth)
		}
		if r.Float64() < 0.01 {
			kw = append(kw, domain.KeywordHundredth)
		}
		docs[i] = domain.Document{
			ID:            int64(i),
			Text:          fmt.Sprintf("synthetic document %d", i),
			Dense:         randomUnit(r, g.dim()),
			IntFilter:     r.Uint32N(domain.IntFilterRange),
			KeywordFilter: strings.Join(kw, " "),
		}
	}
	return docs
}

// Queries generates n query vectors and fills exact top-100 ground truth for
// every predicate of the filter matrix.
func (g Generator) Queries(docs []domain.Document, n int) []domain.Query {
	r := g.rng(2)
	out := make([]domain.Query, n)
	for i := range out {
		q := domain.Query{
			Text:   fmt.Sprintf("synthetic query %d", i),
			Dense:  randomUnit(r, g.dim()),
			Recall: make(map[domain.PredicateKey][]int64),
		}
		for _, p := range domain.FilterMatrix() {
			if _, done := q.Recall[p.Key()]; done {
				continue
			}
			q.Recall[p.Key()] = BruteForce(docs, q.Dense, p, domain.MaxTopK)
		}
		out[i] = q
	}
	return out
}

// Corpus generates docs and queries together.
func (g Generator) Corpus(docs, queries int) Corpus {
	d := g.Docs(docs)
	return Corpus{Docs: d, Queries: g.Queries(d, queries)}
}

// BruteForce returns the ids of the topK documents closest to v by cosine
// similarity among those matching p, ties broken by ascending id.
func BruteForce(docs []domain.Document, v []float32, p domain.Predicate, topK int) []int64 {
	vn := norm(v)
	hits := make([]provider.Hit, 0, len(docs))
	for i := range docs {
		if !p.Matches(docs[i]) {
			continue
		}
		hits = append(hits, provider.Hit{ID: docs[i].ID, Score: cosine(v, vn, docs[i].Dense, norm(docs[i].Dense))})
	}
	provider.SortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return provider.HitIDs(hits)
}

func randomUnit(r *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	var s float64
	for i := range v {
		x := r.NormFloat64()
		v[i] = float32(x)
		s += x * x
	}
	if s == 0 {
		return v
	}
	inv := 1 / math.Sqrt(s)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

// cosine matches the scoring of the in-memory provider bit for bit.
func cosine(a []float32, na float64, b []float32, nb float64) float32 {
	if na == 0 || nb == 0 {
		return 0
	}
	n := min(len(a), len(b))
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot / (na * nb))
}
