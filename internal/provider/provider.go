// Package provider defines the contract every vector database adapter
// implements, plus the error taxonomy the workload driver records.
package provider

import (
	"cmp"
	"context"
	"slices"

	"github.com/kailas-cloud/vecbench/internal/domain"
)

// Operation names, used as metric labels and error context.
const (
	OpSetup            = "setup"
	OpQuery            = "query"
	OpQueryByID        = "query_by_id"
	OpUpsert           = "upsert"
	OpDelete           = "delete"
	OpDeleteCollection = "delete_collection"
	OpListCollections  = "list_collections"
)

// Provider is a vector database under test.
//
// Implementations must be safe for concurrent use: the driver issues calls
// from many workers against one instance.
type Provider interface {
	Name() string
	// Setup creates the collection schema. Calling it on an existing
	// collection succeeds.
	Setup(ctx context.Context, collection string) error
	// QueryByID returns ErrNotFound when the document is not visible yet.
	QueryByID(ctx context.Context, collection string, id int64) (domain.Document, error)
	// Query returns at most req.TopK hits ordered by descending score,
	// ties broken by ascending id.
	Query(ctx context.Context, collection string, req Request) ([]Hit, error)
	Upsert(ctx context.Context, collection string, docs []domain.Document) error
	// DeleteByID ignores ids that do not exist.
	DeleteByID(ctx context.Context, collection string, ids []int64) error
	// DeleteCollection ignores a collection that does not exist.
	DeleteCollection(ctx context.Context, collection string) error
	Close() error
}

// Lister is implemented by providers that can enumerate their collections.
type Lister interface {
	ListCollections(ctx context.Context) ([]string, error)
}

// Pinger is implemented by providers with a cheap liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Request is a single filtered nearest-neighbor query.
type Request struct {
	Vector    []float32
	TopK      int
	Predicate domain.Predicate
}

// Validate rejects requests no backend can serve.
func (r Request) Validate(op string) error {
	if len(r.Vector) == 0 {
		return Errorf(KindInvalidArgument, op, "query vector is empty")
	}
	if r.TopK <= 0 {
		return Errorf(KindInvalidArgument, op, "top_k must be positive, got %d", r.TopK)
	}
	return nil
}

// Hit is one query result.
type Hit struct {
	ID    int64
	Score float32
}

// SortHits orders hits by descending score, then ascending id.
func SortHits(hits []Hit) {
	slices.SortFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// HitIDs projects hits to their ids, preserving order.
func HitIDs(hits []Hit) []int64 {
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids
}
