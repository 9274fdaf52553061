package qdrant

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kailas-cloud/vecbench/internal/domain"
	"github.com/kailas-cloud/vecbench/internal/domain/filter"
	"github.com/kailas-cloud/vecbench/internal/provider"
)

type fakeClient struct {
	collections []string
	listErr     error
	createErr   error
	indexErr    error
	deleteErr   error
	queryErr    error

	created []*qdrant.CreateCollection
	indexed []*qdrant.CreateFieldIndexCollection
	upserts []*qdrant.UpsertPoints
	deletes []*qdrant.DeletePoints
	queries []*qdrant.QueryPoints
	dropped []string
	points  []*qdrant.RetrievedPoint
	scored  []*qdrant.ScoredPoint
	closed  bool
}

func (f *fakeClient) ListCollections(context.Context) ([]string, error) {
	return f.collections, f.listErr
}

func (f *fakeClient) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	f.created = append(f.created, req)
	return f.createErr
}

func (f *fakeClient) DeleteCollection(_ context.Context, name string) error {
	f.dropped = append(f.dropped, name)
	return f.deleteErr
}

func (f *fakeClient) CreateFieldIndex(_ context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error) {
	f.indexed = append(f.indexed, req)
	return &qdrant.UpdateResult{}, f.indexErr
}

func (f *fakeClient) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.upserts = append(f.upserts, req)
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeClient) Delete(_ context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	f.deletes = append(f.deletes, req)
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeClient) Get(context.Context, *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error) {
	return f.points, nil
}

func (f *fakeClient) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.queries = append(f.queries, req)
	return f.scored, f.queryErr
}

func (f *fakeClient) HealthCheck(context.Context) (*qdrant.HealthCheckReply, error) {
	return &qdrant.HealthCheckReply{}, nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestSetup_CreatesMissingCollection(t *testing.T) {
	fc := &fakeClient{collections: []string{"other"}}
	p := New(fc, Config{HNSWM: 16})

	if err := p.Setup(context.Background(), "bench"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fc.created) != 1 || fc.created[0].GetCollectionName() != "bench" {
		t.Fatalf("created = %v", fc.created)
	}
	params := fc.created[0].GetVectorsConfig().GetParams()
	if params.GetSize() != domain.Dimensions || params.GetDistance() != qdrant.Distance_Cosine {
		t.Errorf("vector params = %v", params)
	}
	if fc.created[0].GetHnswConfig().GetM() != 16 {
		t.Errorf("hnsw m = %d", fc.created[0].GetHnswConfig().GetM())
	}

	var fields []string
	for _, idx := range fc.indexed {
		fields = append(fields, idx.GetFieldName())
	}
	if !slices.Equal(fields, []string{filter.FieldIntFilter, filter.FieldKeywordFilter}) {
		t.Errorf("indexed fields = %v", fields)
	}
}

func TestSetup_ExistingCollectionSkipsCreate(t *testing.T) {
	fc := &fakeClient{collections: []string{"bench"}}
	p := New(fc, Config{})

	if err := p.Setup(context.Background(), "bench"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fc.created) != 0 {
		t.Errorf("collection created twice")
	}
	if len(fc.indexed) != 2 {
		t.Errorf("payload indexes = %d, want 2", len(fc.indexed))
	}
}

func TestSetup_FailureIsSetupError(t *testing.T) {
	fc := &fakeClient{createErr: status.Error(codes.InvalidArgument, "bad vector size")}
	p := New(fc, Config{})

	err := p.Setup(context.Background(), "bench")
	var se *provider.SetupError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SetupError, got %v", err)
	}
	if se.Provider != "qdrant" || se.Collection != "bench" {
		t.Errorf("setup error = %+v", se)
	}
	if provider.KindOf(err) != provider.KindInvalidArgument {
		t.Errorf("kind = %s", provider.KindOf(err))
	}
}

func TestUpsert_Payload(t *testing.T) {
	fc := &fakeClient{}
	p := New(fc, Config{})

	err := p.Upsert(context.Background(), "bench", []domain.Document{
		{ID: 3, Text: "t", Dense: []float32{1, 2}, IntFilter: 42, KeywordFilter: "10000 01000"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fc.upserts) != 1 || !fc.upserts[0].GetWait() {
		t.Fatalf("upserts = %v", fc.upserts)
	}
	pt := fc.upserts[0].GetPoints()[0]
	if pt.GetId().GetNum() != 3 {
		t.Errorf("id = %v", pt.GetId())
	}
	doc := decodePayload(3, pt.GetPayload())
	if doc.IntFilter != 42 || doc.KeywordFilter != "10000 01000" || doc.Text != "t" {
		t.Errorf("payload round trip = %+v", doc)
	}
}

func TestUpsert_NegativeID(t *testing.T) {
	p := New(&fakeClient{}, Config{})
	err := p.Upsert(context.Background(), "bench", []domain.Document{{ID: -1}})
	if provider.KindOf(err) != provider.KindInvalidArgument {
		t.Fatalf("expected invalid_argument, got %v", err)
	}
}

func TestQuery_FilterAndOrder(t *testing.T) {
	fc := &fakeClient{scored: []*qdrant.ScoredPoint{
		{Id: qdrant.NewIDNum(9), Score: 0.5},
		{Id: qdrant.NewIDNum(4), Score: 0.9},
		{Id: qdrant.NewIDNum(2), Score: 0.5},
	}}
	p := New(fc, Config{})

	hits, err := p.Query(context.Background(), "bench", provider.Request{
		Vector:    []float32{1, 0},
		TopK:      3,
		Predicate: domain.NewPredicate(ptr(uint32(100)), ptr(domain.KeywordTenth)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := provider.HitIDs(hits); !slices.Equal(got, []int64{4, 2, 9}) {
		t.Errorf("ids = %v, want [4 2 9]", got)
	}

	q := fc.queries[0]
	if q.GetLimit() != 3 {
		t.Errorf("limit = %d", q.GetLimit())
	}
	must := q.GetFilter().GetMust()
	if len(must) != 2 {
		t.Fatalf("must = %v", must)
	}
	var sawRange, sawKeyword bool
	for _, c := range must {
		field := c.GetField()
		switch field.GetKey() {
		case filter.FieldIntFilter:
			sawRange = field.GetRange().GetLt() == 100
		case filter.FieldKeywordFilter:
			sawKeyword = field.GetMatch().GetKeyword() == domain.KeywordTenth
		}
	}
	if !sawRange || !sawKeyword {
		t.Errorf("filter not translated: %v", q.GetFilter())
	}
}

func TestQuery_NoFilter(t *testing.T) {
	fc := &fakeClient{}
	p := New(fc, Config{})
	if _, err := p.Query(context.Background(), "bench", provider.Request{Vector: []float32{1}, TopK: 1}); err != nil {
		t.Fatal(err)
	}
	if fc.queries[0].GetFilter() != nil {
		t.Errorf("expected nil filter, got %v", fc.queries[0].GetFilter())
	}
}

func TestQuery_TimeoutKind(t *testing.T) {
	fc := &fakeClient{queryErr: status.Error(codes.DeadlineExceeded, "deadline")}
	p := New(fc, Config{})
	_, err := p.Query(context.Background(), "bench", provider.Request{Vector: []float32{1}, TopK: 1})
	if provider.KindOf(err) != provider.KindTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestQueryByID(t *testing.T) {
	fc := &fakeClient{points: []*qdrant.RetrievedPoint{{
		Id: qdrant.NewIDNum(7),
		Payload: map[string]*qdrant.Value{
			filter.FieldIntFilter:     qdrant.NewValueInt(5),
			filter.FieldKeywordFilter: qdrant.NewValueFromList(qdrant.NewValueString("10000")),
		},
	}}}
	p := New(fc, Config{})

	doc, err := p.QueryByID(context.Background(), "bench", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.ID != 7 || doc.IntFilter != 5 || !doc.HasKeyword(domain.KeywordAll) {
		t.Errorf("doc = %+v", doc)
	}

	fc.points = nil
	if _, err := p.QueryByID(context.Background(), "bench", 7); !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteByID(t *testing.T) {
	fc := &fakeClient{}
	p := New(fc, Config{})
	if err := p.DeleteByID(context.Background(), "bench", []int64{1, 2}); err != nil {
		t.Fatal(err)
	}
	ids := fc.deletes[0].GetPoints().GetPoints().GetIds()
	if len(ids) != 2 || ids[1].GetNum() != 2 {
		t.Errorf("ids = %v", ids)
	}
}

func TestDeleteCollection_NotFoundIsOK(t *testing.T) {
	fc := &fakeClient{deleteErr: status.Error(codes.NotFound, "missing")}
	p := New(fc, Config{})
	if err := p.DeleteCollection(context.Background(), "bench"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want provider.ErrorKind
	}{
		{"ctx deadline", context.DeadlineExceeded, provider.KindTimeout},
		{"grpc deadline", status.Error(codes.DeadlineExceeded, ""), provider.KindTimeout},
		{"unavailable", status.Error(codes.Unavailable, ""), provider.KindUnavailable},
		{"invalid", status.Error(codes.InvalidArgument, ""), provider.KindInvalidArgument},
		{"precondition", status.Error(codes.FailedPrecondition, ""), provider.KindInvalidArgument},
		{"exhausted", status.Error(codes.ResourceExhausted, ""), provider.KindRateLimited},
		{"exhausted typed", &qdrant.QdrantResourceExhaustedError{Reason: "slow down"}, provider.KindRateLimited},
		{"internal", status.Error(codes.Internal, ""), provider.KindUnknown},
		{"plain", errors.New("boom"), provider.KindUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := kindOf(tc.err); got != tc.want {
				t.Errorf("kindOf = %s, want %s", got, tc.want)
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }
