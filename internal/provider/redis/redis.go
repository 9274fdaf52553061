// Package redis adapts a Redis/Valkey search node (FT.* over HASH keys) to
// the provider contract.
package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/vecbench/internal/db"
	redisstore "github.com/kailas-cloud/vecbench/internal/db/redis"
	"github.com/kailas-cloud/vecbench/internal/domain"
	"github.com/kailas-cloud/vecbench/internal/domain/filter"
	"github.com/kailas-cloud/vecbench/internal/provider"
)

var (
	_ provider.Provider = (*Provider)(nil)
	_ provider.Lister   = (*Provider)(nil)
	_ provider.Pinger   = (*Provider)(nil)
)

// Hash field names.
const (
	fieldID     = "id"
	fieldText   = "text"
	fieldVector = "vector"
)

// Config describes the index layout.
type Config struct {
	KeyPrefix       string
	HNSWM           int
	HNSWEFConstruct int
	Dimensions      int
}

// Provider stores each document as a hash under <prefix><collection>:<id>.
type Provider struct {
	store db.Store
	cfg   Config
}

// New wraps a connected store.
func New(store db.Store, cfg Config) *Provider {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = domain.Dimensions
	}
	return &Provider{store: store, cfg: cfg}
}

func (p *Provider) Name() string { return "redis" }

func (p *Provider) indexName(collection string) string { return p.cfg.KeyPrefix + collection }

func (p *Provider) keyPrefix(collection string) string { return p.cfg.KeyPrefix + collection + ":" }

func (p *Provider) key(collection string, id int64) string {
	return p.keyPrefix(collection) + strconv.FormatInt(id, 10)
}

// Setup creates the FT index. An existing index is accepted as is.
func (p *Provider) Setup(ctx context.Context, collection string) error {
	def, err := db.NewIndex(p.indexName(collection)).
		Prefix(p.keyPrefix(collection)).
		Numeric(filter.FieldIntFilter).
		Tag(filter.FieldKeywordFilter, " ").
		VectorHNSW(fieldVector, p.cfg.Dimensions, db.DistanceCosine, p.cfg.HNSWM, p.cfg.HNSWEFConstruct).
		Build()
	if err != nil {
		return &provider.SetupError{
			Provider:   p.Name(),
			Collection: collection,
			Err:        provider.Wrap(provider.KindInvalidArgument, provider.OpSetup, err),
		}
	}

	err = p.store.CreateIndex(ctx, def)
	if err == nil || errors.Is(err, db.ErrIndexExists) {
		return nil
	}
	return &provider.SetupError{Provider: p.Name(), Collection: collection, Err: classify(provider.OpSetup, err)}
}

func (p *Provider) Upsert(ctx context.Context, collection string, docs []domain.Document) error {
	items := make([]db.HashSetItem, len(docs))
	for i := range docs {
		d := &docs[i]
		items[i] = db.HashSetItem{
			Key: p.key(collection, d.ID),
			Fields: map[string]string{
				fieldID:                   strconv.FormatInt(d.ID, 10),
				fieldText:                 d.Text,
				filter.FieldIntFilter:     strconv.FormatUint(uint64(d.IntFilter), 10),
				filter.FieldKeywordFilter: d.KeywordFilter,
				fieldVector:               redisstore.VectorToBytes(d.Dense),
			},
		}
	}
	return classify(provider.OpUpsert, p.store.HSetMulti(ctx, items))
}

// QueryByID reads the hash back. Redis returns an empty hash for a missing key.
func (p *Provider) QueryByID(ctx context.Context, collection string, id int64) (domain.Document, error) {
	fields, err := p.store.HGetAll(ctx, p.key(collection, id))
	if err != nil {
		return domain.Document{}, classify(provider.OpQueryByID, err)
	}
	if len(fields) == 0 {
		return domain.Document{}, provider.ErrNotFound
	}
	return decodeDocument(id, fields)
}

func decodeDocument(id int64, fields map[string]string) (domain.Document, error) {
	doc := domain.Document{
		ID:            id,
		Text:          fields[fieldText],
		KeywordFilter: fields[filter.FieldKeywordFilter],
		Dense:         redisstore.BytesToVector(fields[fieldVector]),
	}
	if v, ok := fields[filter.FieldIntFilter]; ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return domain.Document{}, provider.Wrap(provider.KindUnknown, provider.OpQueryByID,
				fmt.Errorf("parse %s %q: %w", filter.FieldIntFilter, v, err))
		}
		doc.IntFilter = uint32(n)
	}
	return doc, nil
}

// Query runs a pre-filtered KNN search.
func (p *Provider) Query(ctx context.Context, collection string, req provider.Request) ([]provider.Hit, error) {
	if err := req.Validate(provider.OpQuery); err != nil {
		return nil, err
	}

	res, err := p.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    p.indexName(collection),
		Filter:       filter.FromPredicate(req.Predicate),
		Vector:       req.Vector,
		K:            req.TopK,
		ReturnFields: []string{fieldID},
	})
	if err != nil {
		return nil, classify(provider.OpQuery, err)
	}

	prefix := p.keyPrefix(collection)
	hits := make([]provider.Hit, 0, len(res.Entries))
	for _, e := range res.Entries {
		raw, ok := e.Fields[fieldID]
		if !ok {
			raw = strings.TrimPrefix(e.Key, prefix)
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		hits = append(hits, provider.Hit{ID: id, Score: float32(e.Score)})
	}
	provider.SortHits(hits)
	if len(hits) > req.TopK {
		hits = hits[:req.TopK]
	}
	return hits, nil
}

func (p *Provider) DeleteByID(ctx context.Context, collection string, ids []int64) error {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = p.key(collection, id)
	}
	return classify(provider.OpDelete, p.store.Del(ctx, keys...))
}

// DeleteCollection drops the index together with its hashes.
func (p *Provider) DeleteCollection(ctx context.Context, collection string) error {
	err := p.store.DropIndex(ctx, p.indexName(collection), true)
	if err == nil || errors.Is(err, db.ErrIndexNotFound) {
		return nil
	}
	return classify(provider.OpDeleteCollection, err)
}

// ListCollections returns the collections whose index carries the key prefix.
func (p *Provider) ListCollections(ctx context.Context) ([]string, error) {
	names, err := p.store.ListIndexes(ctx)
	if err != nil {
		return nil, classify(provider.OpListCollections, err)
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if c, ok := strings.CutPrefix(n, p.cfg.KeyPrefix); ok && c != "" {
			out = append(out, c)
		}
	}
	return out, nil
}

func (p *Provider) Ping(ctx context.Context) error {
	return p.store.Ping(ctx)
}

func (p *Provider) Close() error {
	p.store.Close()
	return nil
}

// classify maps rueidis and transport errors onto provider kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	return provider.Wrap(kindOf(err), op, err)
}

func kindOf(err error) provider.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return provider.KindTimeout
	}

	var re *rueidis.RedisError
	if errors.As(err, &re) {
		msg := strings.ToLower(re.Error())
		switch {
		case strings.Contains(msg, "busy"),
			strings.Contains(msg, "loading"),
			strings.Contains(msg, "max number of clients"),
			strings.Contains(msg, "tryagain"):
			return provider.KindRateLimited
		case strings.Contains(msg, "syntax"),
			strings.Contains(msg, "invalid"),
			strings.Contains(msg, "wrong number"),
			strings.Contains(msg, "unknown"):
			return provider.KindInvalidArgument
		default:
			return provider.KindUnknown
		}
	}

	var netErr net.Error
	if errors.Is(err, rueidis.ErrClosing) || errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.As(err, &netErr) {
		return provider.KindUnavailable
	}
	return provider.KindUnknown
}
