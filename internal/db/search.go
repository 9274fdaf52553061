package db

import "github.com/kailas-cloud/vecbench/internal/domain/filter"

// KNNQuery is the input for a filtered vector similarity search.
type KNNQuery struct {
	IndexName    string
	Filter       filter.Expression
	Vector       []float32
	K            int
	ReturnFields []string
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single hit. Score is cosine similarity, higher is closer.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
