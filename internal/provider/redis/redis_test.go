package redis

import (
	"context"
	"errors"
	"io"
	"slices"
	"testing"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	redisstore "github.com/kailas-cloud/vecbench/internal/db/redis"
	"github.com/kailas-cloud/vecbench/internal/domain"
	"github.com/kailas-cloud/vecbench/internal/provider"
)

func newTestProvider(t *testing.T) (*Provider, *mock.Client) {
	t.Helper()
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)
	p := New(redisstore.NewStoreForTest(c), Config{KeyPrefix: "vb:", HNSWM: 16, HNSWEFConstruct: 200})
	return p, c
}

func TestSetup_CreatesIndex(t *testing.T) {
	p, c := newTestProvider(t)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "FT.CREATE" && cmd[1] == "vb:bench" &&
				slices.Contains(cmd, "vb:bench:") &&
				slices.Contains(cmd, "keyword_filter") &&
				slices.Contains(cmd, "768")
		})).
		Return(mock.Result(mock.RedisString("OK")))

	if err := p.Setup(context.Background(), "bench"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSetup_ExistingIndexIsOK(t *testing.T) {
	p, c := newTestProvider(t)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool { return cmd[0] == "FT.CREATE" })).
		Return(mock.Result(mock.RedisError("Index already exists")))

	if err := p.Setup(context.Background(), "bench"); err != nil {
		t.Fatalf("existing index must be accepted: %v", err)
	}
}

func TestSetup_FailureIsSetupError(t *testing.T) {
	p, c := newTestProvider(t)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool { return cmd[0] == "FT.CREATE" })).
		Return(mock.Result(mock.RedisError("ERR Invalid field type")))

	err := p.Setup(context.Background(), "bench")
	var se *provider.SetupError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SetupError, got %v", err)
	}
	if provider.KindOf(err) != provider.KindInvalidArgument {
		t.Errorf("kind = %s, want invalid_argument", provider.KindOf(err))
	}
}

func TestUpsert_Pipelined(t *testing.T) {
	p, c := newTestProvider(t)

	c.EXPECT().
		DoMulti(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]rueidis.RedisResult{
			mock.Result(mock.RedisInt64(5)),
			mock.Result(mock.RedisInt64(5)),
		})

	err := p.Upsert(context.Background(), "bench", []domain.Document{
		{ID: 1, Dense: []float32{1, 2}, IntFilter: 3, KeywordFilter: "10000"},
		{ID: 2, Dense: []float32{3, 4}, IntFilter: 4, KeywordFilter: "10000 01000"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpsert_TimeoutKind(t *testing.T) {
	p, c := newTestProvider(t)

	c.EXPECT().
		DoMulti(gomock.Any(), gomock.Any()).
		Return([]rueidis.RedisResult{mock.ErrorResult(context.DeadlineExceeded)})

	err := p.Upsert(context.Background(), "bench", []domain.Document{{ID: 1}})
	if provider.KindOf(err) != provider.KindTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestQueryByID(t *testing.T) {
	p, c := newTestProvider(t)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("HGETALL", "vb:bench:7")).
		Return(mock.Result(mock.RedisMap(map[string]rueidis.RedisMessage{
			"id":             mock.RedisString("7"),
			"text":           mock.RedisString("hello"),
			"int_filter":     mock.RedisString("42"),
			"keyword_filter": mock.RedisString("10000 00100"),
			"vector":         mock.RedisString(redisstore.VectorToBytes([]float32{0.5, -1})),
		})))

	doc, err := p.QueryByID(context.Background(), "bench", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.ID != 7 || doc.IntFilter != 42 || doc.Text != "hello" {
		t.Errorf("unexpected doc: %+v", doc)
	}
	if !doc.HasKeyword(domain.KeywordHundredth) {
		t.Errorf("keywords lost: %q", doc.KeywordFilter)
	}
	if !slices.Equal(doc.Dense, []float32{0.5, -1}) {
		t.Errorf("vector = %v", doc.Dense)
	}
}

func TestQueryByID_EmptyHashIsNotFound(t *testing.T) {
	p, c := newTestProvider(t)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("HGETALL", "vb:bench:8")).
		Return(mock.Result(mock.RedisMap(map[string]rueidis.RedisMessage{})))

	if _, err := p.QueryByID(context.Background(), "bench", 8); !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQuery_FilteredKNN(t *testing.T) {
	p, c := newTestProvider(t)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "FT.SEARCH" && cmd[1] == "vb:bench" &&
				cmd[2] == "(@int_filter:[-inf (100])=>[KNN 2 @vector $BLOB]"
		})).
		Return(mock.Result(mock.RedisArray(
			mock.RedisInt64(2),
			mock.RedisString("vb:bench:4"),
			mock.RedisArray(mock.RedisString("id"), mock.RedisString("4"), mock.RedisString("__vector_score"), mock.RedisString("0.2")),
			mock.RedisString("vb:bench:3"),
			mock.RedisArray(mock.RedisString("__vector_score"), mock.RedisString("0.2")),
		)))

	hits, err := p.Query(context.Background(), "bench", provider.Request{
		Vector: []float32{1, 0}, TopK: 2, Predicate: domain.IntBelow(100),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// equal scores: ascending id, the second id comes from the key
	if got := provider.HitIDs(hits); !slices.Equal(got, []int64{3, 4}) {
		t.Errorf("ids = %v, want [3 4]", got)
	}
}

func TestQuery_InvalidRequest(t *testing.T) {
	p, _ := newTestProvider(t)
	_, err := p.Query(context.Background(), "bench", provider.Request{TopK: 1})
	if provider.KindOf(err) != provider.KindInvalidArgument {
		t.Fatalf("expected invalid_argument, got %v", err)
	}
}

func TestDeleteByID(t *testing.T) {
	p, c := newTestProvider(t)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("DEL", "vb:bench:1", "vb:bench:2")).
		Return(mock.Result(mock.RedisInt64(1)))

	if err := p.DeleteByID(context.Background(), "bench", []int64{1, 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDeleteCollection_UnknownIsOK(t *testing.T) {
	p, c := newTestProvider(t)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("FT.DROPINDEX", "vb:bench", "DD")).
		Return(mock.Result(mock.RedisError("Unknown Index name")))

	if err := p.DeleteCollection(context.Background(), "bench"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestListCollections_FiltersPrefix(t *testing.T) {
	p, c := newTestProvider(t)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("FT._LIST")).
		Return(mock.Result(mock.RedisArray(
			mock.RedisString("vb:bench"),
			mock.RedisString("vb:other"),
			mock.RedisString("foreign"),
		)))

	names, err := p.ListCollections(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(names, []string{"bench", "other"}) {
		t.Errorf("names = %v", names)
	}
}

func TestKindOf(t *testing.T) {
	serverErr := func(msg string) error {
		return mock.Result(mock.RedisError(msg)).Error()
	}

	tests := []struct {
		name string
		err  error
		want provider.ErrorKind
	}{
		{"deadline", context.DeadlineExceeded, provider.KindTimeout},
		{"closing", rueidis.ErrClosing, provider.KindUnavailable},
		{"eof", io.EOF, provider.KindUnavailable},
		{"busy", serverErr("BUSY Redis is busy running a script"), provider.KindRateLimited},
		{"loading", serverErr("LOADING Redis is loading the dataset in memory"), provider.KindRateLimited},
		{"max clients", serverErr("ERR max number of clients reached"), provider.KindRateLimited},
		{"syntax", serverErr("Syntax error at offset 3"), provider.KindInvalidArgument},
		{"other server", serverErr("OOM command not allowed"), provider.KindUnknown},
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
