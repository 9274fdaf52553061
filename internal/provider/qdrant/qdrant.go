// Package qdrant adapts a Qdrant node (gRPC) to the provider contract.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kailas-cloud/vecbench/internal/domain"
	"github.com/kailas-cloud/vecbench/internal/domain/filter"
	"github.com/kailas-cloud/vecbench/internal/provider"
)

var (
	_ provider.Provider = (*Provider)(nil)
	_ provider.Lister   = (*Provider)(nil)
	_ provider.Pinger   = (*Provider)(nil)
)

const (
	payloadText = "text"
	defaultPort = 6334
)

// Client is the subset of *qdrant.Client the provider uses.
type Client interface {
	ListCollections(ctx context.Context) ([]string, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, name string) error
	CreateFieldIndex(ctx context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Get(ctx context.Context, req *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// Config holds the connection and collection parameters.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Dimensions int
	HNSWM      int
	HNSWEF     int
}

// Provider maps every document to a point whose id is the document id.
type Provider struct {
	client Client
	cfg    Config
}

// Dial connects to a Qdrant node over gRPC.
func Dial(cfg Config) (*Provider, error) {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	c, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return New(c, cfg), nil
}

// New wraps an existing client.
func New(client Client, cfg Config) *Provider {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = domain.Dimensions
	}
	return &Provider{client: client, cfg: cfg}
}

func (p *Provider) Name() string { return "qdrant" }

// Setup creates the collection when missing, then ensures the payload indexes.
func (p *Provider) Setup(ctx context.Context, collection string) error {
	if err := p.setup(ctx, collection); err != nil {
		return &provider.SetupError{Provider: p.Name(), Collection: collection, Err: err}
	}
	return nil
}

func (p *Provider) setup(ctx context.Context, collection string) error {
	if collection == "" {
		return provider.Errorf(provider.KindInvalidArgument, provider.OpSetup, "collection name is empty")
	}

	names, err := p.client.ListCollections(ctx)
	if err != nil {
		return classify(provider.OpSetup, err)
	}
	if !slices.Contains(names, collection) {
		req := &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(p.cfg.Dimensions),
				Distance: qdrant.Distance_Cosine,
			}),
		}
		if p.cfg.HNSWM > 0 || p.cfg.HNSWEF > 0 {
			hnsw := &qdrant.HnswConfigDiff{}
			if p.cfg.HNSWM > 0 {
				hnsw.M = qdrant.PtrOf(uint64(p.cfg.HNSWM))
			}
			if p.cfg.HNSWEF > 0 {
				hnsw.EfConstruct = qdrant.PtrOf(uint64(p.cfg.HNSWEF))
			}
			req.HnswConfig = hnsw
		}
		if err := p.client.CreateCollection(ctx, req); err != nil && status.Code(err) != codes.AlreadyExists {
			return classify(provider.OpSetup, err)
		}
	}

	indexes := []struct {
		field string
		typ   qdrant.FieldType
	}{
		{filter.FieldIntFilter, qdrant.FieldType_FieldTypeInteger},
		{filter.FieldKeywordFilter, qdrant.FieldType_FieldTypeKeyword},
	}
	for _, idx := range indexes {
		_, err := p.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			FieldName:      idx.field,
			FieldType:      qdrant.PtrOf(idx.typ),
		})
		if err != nil {
			return classify(provider.OpSetup, fmt.Errorf("index %s: %w", idx.field, err))
		}
	}
	return nil
}

// Upsert writes the batch and waits for it to be applied.
func (p *Provider) Upsert(ctx context.Context, collection string, docs []domain.Document) error {
	points := make([]*qdrant.PointStruct, 0, len(docs))
	for i := range docs {
		d := &docs[i]
		if d.ID < 0 {
			return provider.Errorf(provider.KindInvalidArgument, provider.OpUpsert, "negative id %d", d.ID)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(d.ID)),
			Vectors: qdrant.NewVectors(d.Dense...),
			Payload: encodePayload(d),
		})
	}

	_, err := p.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	return classify(provider.OpUpsert, err)
}

func encodePayload(d *domain.Document) map[string]*qdrant.Value {
	kws := d.Keywords()
	values := make([]*qdrant.Value, len(kws))
	for i, k := range kws {
		values[i] = qdrant.NewValueString(k)
	}
	return map[string]*qdrant.Value{
		payloadText:               qdrant.NewValueString(d.Text),
		filter.FieldIntFilter:     qdrant.NewValueInt(int64(d.IntFilter)),
		filter.FieldKeywordFilter: qdrant.NewValueFromList(values...),
	}
}

func decodePayload(id int64, payload map[string]*qdrant.Value) domain.Document {
	doc := domain.Document{
		ID:        id,
		Text:      payload[payloadText].GetStringValue(),
		IntFilter: uint32(payload[filter.FieldIntFilter].GetIntegerValue()),
	}
	kw := payload[filter.FieldKeywordFilter]
	if list := kw.GetListValue(); list != nil {
		toks := make([]string, 0, len(list.GetValues()))
		for _, v := range list.GetValues() {
			toks = append(toks, v.GetStringValue())
		}
		doc.KeywordFilter = strings.Join(toks, " ")
	} else {
		doc.KeywordFilter = kw.GetStringValue()
	}
	return doc
}

// QueryByID fetches the point with its payload and vector.
func (p *Provider) QueryByID(ctx context.Context, collection string, id int64) (domain.Document, error) {
	if id < 0 {
		return domain.Document{}, provider.ErrNotFound
	}
	points, err := p.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDNum(uint64(id))},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return domain.Document{}, classify(provider.OpQueryByID, err)
	}
	if len(points) == 0 {
		return domain.Document{}, provider.ErrNotFound
	}

	doc := decodePayload(id, points[0].GetPayload())
	if v := points[0].GetVectors().GetVector(); v != nil {
		if dense := v.GetDense(); dense != nil {
			doc.Dense = dense.GetData()
		} else {
			doc.Dense = v.GetData() //nolint:staticcheck // older servers only fill data
		}
	}
	return doc, nil
}

// Query runs a filtered nearest-neighbor search.
func (p *Provider) Query(ctx context.Context, collection string, req provider.Request) ([]provider.Hit, error) {
	if err := req.Validate(provider.OpQuery); err != nil {
		return nil, err
	}

	points, err := p.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(req.Vector...),
		Filter:         buildFilter(filter.FromPredicate(req.Predicate)),
		Limit:          qdrant.PtrOf(uint64(req.TopK)),
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return nil, classify(provider.OpQuery, err)
	}

	hits := make([]provider.Hit, 0, len(points))
	for _, pt := range points {
		hits = append(hits, provider.Hit{ID: int64(pt.GetId().GetNum()), Score: pt.GetScore()})
	}
	provider.SortHits(hits)
	if len(hits) > req.TopK {
		hits = hits[:req.TopK]
	}
	return hits, nil
}

// buildFilter translates an expression into a Qdrant filter, nil when empty.
func buildFilter(expr filter.Expression) *qdrant.Filter {
	if expr.IsEmpty() {
		return nil
	}
	f := &qdrant.Filter{}
	for _, c := range expr.Conditions() {
		f.Must = append(f.Must, buildCondition(c))
	}
	return f
}

func buildCondition(c filter.Condition) *qdrant.Condition {
	if c.IsMatch() {
		return qdrant.NewMatchKeyword(c.Key(), c.Match())
	}
	t, _ := c.Below()
	return qdrant.NewRange(c.Key(), &qdrant.Range{Lt: qdrant.PtrOf(float64(t))})
}

// DeleteByID removes the points. Unknown ids are ignored by the server.
func (p *Provider) DeleteByID(ctx context.Context, collection string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	pids := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		if id >= 0 {
			pids = append(pids, qdrant.NewIDNum(uint64(id)))
		}
	}
	_, err := p.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pids...),
	})
	return classify(provider.OpDelete, err)
}

// DeleteCollection drops the collection. A missing collection is not an error.
func (p *Provider) DeleteCollection(ctx context.Context, collection string) error {
	err := p.client.DeleteCollection(ctx, collection)
	if err == nil || status.Code(err) == codes.NotFound {
		return nil
	}
	return classify(provider.OpDeleteCollection, err)
}

func (p *Provider) ListCollections(ctx context.Context) ([]string, error) {
	names, err := p.client.ListCollections(ctx)
	if err != nil {
		return nil, classify(provider.OpListCollections, err)
	}
	return names, nil
}

func (p *Provider) Ping(ctx context.Context) error {
	_, err := p.client.HealthCheck(ctx)
	return classify("ping", err)
}

func (p *Provider) Close() error {
	return p.client.Close()
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	return provider.Wrap(kindOf(err), op, err)
}

// kindOf maps gRPC status codes onto provider kinds.
func kindOf(err error) provider.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return provider.KindTimeout
	}
	var exhausted *qdrant.QdrantResourceExhaustedError
	if errors.As(err, &exhausted) {
		return provider.KindRateLimited
	}

	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return provider.KindTimeout
	case codes.Unavailable, codes.Canceled:
		return provider.KindUnavailable
	case codes.InvalidArgument, codes.FailedPrecondition, codes.NotFound:
		return provider.KindInvalidArgument
	case codes.ResourceExhausted:
		return provider.KindRateLimited
	default:
		return provider.KindUnknown
	}
}
