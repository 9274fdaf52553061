package health

import "context"

// ProviderPinger checks that the benchmarked backend answers.
type ProviderPinger interface {
	Ping(ctx context.Context) error
}

// CollectionLister checks that the backend's catalog is readable.
type CollectionLister interface {
	ListCollections(ctx context.Context) ([]string, error)
}
