package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// scrape serves Handler through httptest and parses the text exposition.
func scrape(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		t.Fatalf("parse exposition: %v", err)
	}
	return mfs
}

func TestHandler_ExposesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetRooms(2)
	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()
	m.Message("vote")
	m.Message("vote")
	m.Message("bogus")
	m.Broadcast(3, 1)
	m.Rejected()

	mfs := scrape(t, reg)

	if v := sumFamily(mfs["roomcast_rooms"]); v != 2 {
		t.Errorf("rooms: got %v, want 2", v)
	}
	if v := sumFamily(mfs["roomcast_connections"]); v != 1 {
		t.Errorf("connections: got %v, want 1", v)
	}
	if v := sumFamily(mfs["roomcast_messages_total"]); v != 3 {
		t.Errorf("messages_total: got %v, want 3", v)
	}
	if v := sumFamily(mfs["roomcast_deliveries_total"]); v != 3 {
		t.Errorf("deliveries_total: got %v, want 3", v)
	}
	if v := sumFamily(mfs["roomcast_errors_total"]); v != 1 {
		t.Errorf("errors_total: got %v, want 1", v)
	}
	if v := sumFamily(mfs["roomcast_connections_rejected_total"]); v != 1 {
		t.Errorf("connections_rejected_total: got %v, want 1", v)
	}
}

func TestMessage_UnknownTypeCollapsed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Message("a")
	m.Message("b")

	mfs := scrape(t, reg)
	fam := mfs["roomcast_messages_total"]
	if fam == nil || len(fam.GetMetric()) != 1 {
		t.Fatalf("messages_total: want exactly one series")
	}
	lbl := fam.GetMetric()[0].GetLabel()[0]
	if lbl.GetValue() != "unknown" {
		t.Errorf("type label: got %q, want unknown", lbl.GetValue())
	}
}

func TestSummarize(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SetRooms(4)
	m.Error(KindProtocol)
	m.Error(KindAuthorization)

	sum, err := Summarize(reg)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum["roomcast_rooms"] != 4 {
		t.Errorf("rooms: got %v, want 4", sum["roomcast_rooms"])
	}
	if sum["roomcast_errors_total"] != 2 {
		t.Errorf("errors_total: got %v, want 2", sum["roomcast_errors_total"])
	}
	names := Names(sum)
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("Names not sorted: %v", names)
		}
	}
}

func TestNilMetrics_NoPanic(t *testing.T) {
	var m *Metrics
	m.SetRooms(1)
	m.ConnOpened()
	m.ConnClosed()
	m.Message("vote")
	m.Error(KindDispatch)
	m.Broadcast(1, 1)
	m.Rejected()
}
