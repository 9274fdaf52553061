package domain

import "strings"

// Dataset-wide constants shared by every provider and workload.
const (
	// Dimensions is the embedding length of every dataset size.
	Dimensions = 768
	// MaxTopK is the depth of the precomputed ground truth.
	MaxTopK = 100
	// IntFilterRange is the exclusive upper bound of Document.IntFilter.
	IntFilterRange = 10000
)

// Keyword band tokens. Every document carries KeywordAll; KeywordTenth and
// KeywordHundredth are added to 10% and 1% of the corpus.
const (
	KeywordAll       = "10000"
	KeywordTenth     = "01000"
	KeywordHundredth = "00100"
)

// Document is one corpus record. Identified solely by ID for upsert/delete.
type Document struct {
	ID            int64
	Text          string
	Dense         []float32
	IntFilter     uint32
	KeywordFilter string // space-separated band tokens
}

// ApproxSize estimates the wire size of the document in bytes.
func (d Document) ApproxSize() int64 {
	const idBytes, intFilterBytes, floatBytes = 8, 4, 4
	return int64(idBytes + len(d.Text) + intFilterBytes + len(d.KeywordFilter) + floatBytes*len(d.Dense))
}

// Keywords splits KeywordFilter into its tokens.
func (d Document) Keywords() []string {
	return strings.Fields(d.KeywordFilter)
}

// HasKeyword reports whether tok is one of the document's keyword tokens.
func (d Document) HasKeyword(tok string) bool {
	for _, k := range strings.Fields(d.KeywordFilter) {
		if k == tok {
			return true
		}
	}
	return false
}

// MaxID returns the largest id in docs, or -1 for an empty slice.
func MaxID(docs []Document) int64 {
	maxID := int64(-1)
	for i := range docs {
		if docs[i].ID > maxID {
			maxID = docs[i].ID
		}
	}
	return maxID
}

// TotalSize sums ApproxSize over docs.
func TotalSize(docs []Document) int64 {
	var n int64
	for i := range docs {
		n += docs[i].ApproxSize()
	}
	return n
}
