package obs

import (
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/":                             "/",
		"/metrics":                      "/metrics",
		"/admin/challenge":              "/admin/challenge",
		"/admin/challenge/":             "/admin/challenge",
		"/admin/data-access?x=1":        "/admin/data-access",
		"/security/assess-connection":   "/security/assess-connection",
		"/admin/users/6f1c/trades":      "other",
		"/wp-login.php":                 "other",
		"/admin/audit/stream?since=123": "/admin/audit/stream",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsRequests(t *testing.T) {
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "204"))

	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "204"))
	if after-before != 1 {
		t.Fatalf("expected one counted request, got delta %v", after-before)
	}
}

func TestObserveHelpers(t *testing.T) {
	before := testutil.ToFloat64(dataAccess.WithLabelValues("unknown", "forbidden"))
	ObserveDataAccess("", "forbidden")
	if got := testutil.ToFloat64(dataAccess.WithLabelValues("unknown", "forbidden")); got-before != 1 {
		t.Fatalf("expected unknown data type label, delta %v", got-before)
	}

	SetReady(true)
	if testutil.ToFloat64(readyGauge) != 1 {
		t.Fatal("expected ready gauge set")
	}
	SetReady(false)
	if testutil.ToFloat64(readyGauge) != 0 {
		t.Fatal("expected ready gauge cleared")
	}
}

func TestRecordBuild(t *testing.T) {
	b := RecordBuild("1.2.3", "abc123")
	if b.Version != "1.2.3" || b.Commit != "abc123" || b.GoVersion != runtime.Version() {
		t.Fatalf("unexpected build %+v", b)
	}
	if got := testutil.ToFloat64(gatewayBuild.WithLabelValues("1.2.3", "abc123", runtime.Version())); got != 1 {
		t.Fatalf("build gauge = %v, want 1", got)
	}

	// a second call replaces the series instead of adding one
	b = RecordBuild("", "")
	if b.Version != "unknown" || b.Commit == "" {
		t.Fatalf("unexpected fallback build %+v", b)
	}
	if n := testutil.CollectAndCount(gatewayBuild); n != 1 {
		t.Fatalf("build series = %d, want 1", n)
	}
}
