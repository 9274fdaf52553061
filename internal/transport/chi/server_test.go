package chi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecbench/internal/collector"
	"github.com/kailas-cloud/vecbench/internal/provider"
	healthuc "github.com/kailas-cloud/vecbench/internal/usecase/health"
)

// --- Mocks ---

type mockHealth struct {
	report healthuc.Report
}

func (m *mockHealth) Check(context.Context) healthuc.Report { return m.report }

type panicRecords struct{}

func (panicRecords) RunID() string                { return "r" }
func (panicRecords) Snapshot() []collector.Record { panic("boom") }

func newTestServer(h HealthChecker, recs RecordSource, keys ...string) *httptest.Server {
	return httptest.NewServer(NewServer(h, recs, keys, zap.NewNop()).Router())
}

func healthy() *mockHealth {
	return &mockHealth{report: healthuc.Report{
		Status: healthuc.Healthy,
		Checks: map[string]healthuc.CheckResult{"provider": healthuc.CheckOK},
	}}
}

func get(t *testing.T, url string, header ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// --- Tests ---

func TestHealthz(t *testing.T) {
	srv := newTestServer(healthy(), collector.New("run-1"))
	defer srv.Close()

	resp := get(t, srv.URL+"/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Checks["provider"] != "ok" {
		t.Errorf("body = %+v", body)
	}
}

func TestHealthz_Unhealthy503(t *testing.T) {
	h := &mockHealth{report: healthuc.Report{
		Status: healthuc.Unhealthy,
		Checks: map[string]healthuc.CheckResult{"provider": healthuc.CheckError},
	}}
	srv := newTestServer(h, collector.New("run"))
	defer srv.Close()

	if resp := get(t, srv.URL+"/healthz"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestHealthz_DegradedStill200(t *testing.T) {
	h := &mockHealth{report: healthuc.Report{Status: healthuc.Degraded}}
	srv := newTestServer(h, collector.New("run"))
	defer srv.Close()

	if resp := get(t, srv.URL+"/healthz"); resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestRecords_LiveSnapshot(t *testing.T) {
	c := collector.New("run-7")
	now := time.Now()
	key := collector.Key{Provider: "stub", Mode: "qps", Size: "100k", Concurrency: 2, Selectivity: "none", Op: provider.OpQuery}
	for range 3 {
		c.Record(collector.Sample{Key: key, Start: now, End: now.Add(time.Millisecond), Units: 1})
	}

	srv := newTestServer(healthy(), c)
	defer srv.Close()

	resp := get(t, srv.URL+"/v1/records")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body recordsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.RunID != "run-7" || len(body.Records) != 1 || body.Records[0].OK != 3 {
		t.Errorf("body = %+v", body)
	}

	// reading does not flush
	if got := c.Snapshot(); len(got) != 1 {
		t.Errorf("snapshot after GET = %d records", len(got))
	}
}

func TestRecords_EmptyIsArray(t *testing.T) {
	srv := newTestServer(healthy(), collector.New("run"))
	defer srv.Close()

	raw, _ := io.ReadAll(get(t, srv.URL+"/v1/records").Body)
	if !strings.Contains(string(raw), `"records":[]`) {
		t.Errorf("body = %s", raw)
	}
}

func TestRecords_RequiresToken(t *testing.T) {
	srv := newTestServer(healthy(), collector.New("run"), "secret")
	defer srv.Close()

	if resp := get(t, srv.URL+"/v1/records"); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %d", resp.StatusCode)
	}
	if resp := get(t, srv.URL+"/v1/records", "Authorization", "Bearer secret"); resp.StatusCode != http.StatusOK {
		t.Errorf("token: status = %d", resp.StatusCode)
	}
	if resp := get(t, srv.URL+"/healthz"); resp.StatusCode != http.StatusOK {
		t.Errorf("healthz exempt: status = %d", resp.StatusCode)
	}
}

func TestMetrics_Exposed(t *testing.T) {
	srv := newTestServer(healthy(), collector.New("run"))
	defer srv.Close()

	_ = get(t, srv.URL+"/healthz")
	resp := get(t, srv.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "vecbench_status_requests_total") {
		t.Error("status server request counter not exported")
	}
}

func TestRecoverer_JSON500(t *testing.T) {
	srv := newTestServer(healthy(), panicRecords{})
	defer srv.Close()

	resp := get(t, srv.URL+"/v1/records")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Code != "internal_error" {
		t.Errorf("code = %q", body.Code)
	}
}

func TestUnknownRoute404(t *testing.T) {
	srv := newTestServer(healthy(), collector.New("run"))
	defer srv.Close()

	if resp := get(t, srv.URL+"/v1/collections"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
