package prommetrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder_CountsByLabels(t *testing.T) {
	ctx := context.Background()
	recorder := NewRecorder(nil)

	recorder.IncCounter(ctx, "govnotify.ingest.total", 1, map[string]string{"operation": "ingest", "status": "success"})
	recorder.IncCounter(ctx, "govnotify.ingest.total", 2, map[string]string{"operation": "ingest", "status": "success"})
	recorder.IncCounter(ctx, "govnotify.ingest.total", 1, map[string]string{"operation": "ingest", "status": "failure"})

	entry := recorder.counters["govnotify_ingest_total"]
	if entry == nil {
		t.Fatalf("expected counter to be registered")
	}
	if got := testutil.ToFloat64(entry.vec.WithLabelValues("ingest", "success")); got != 3 {
		t.Fatalf("expected 3 successes, got %v", got)
	}
	if got := testutil.ToFloat64(entry.vec.WithLabelValues("ingest", "failure")); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
}

func TestRecorder_MissingLabelsReportEmpty(t *testing.T) {
	ctx := context.Background()
	recorder := NewRecorder(nil)
	recorder.IncCounter(ctx, "govnotify.runner.total", 1, map[string]string{"outcome": "ack"})
	recorder.IncCounter(ctx, "govnotify.runner.total", 1, map[string]string{"other": "x"})

	entry := recorder.counters["govnotify_runner_total"]
	if got := testutil.ToFloat64(entry.vec.WithLabelValues("")); got != 1 {
		t.Fatalf("expected unlabelled sample, got %v", got)
	}
}

func TestRecorder_HandlerExposesHistogram(t *testing.T) {
	recorder := NewRecorder(nil)
	recorder.ObserveHistogram(context.Background(), "govnotify.deliver.duration_ms", 42, map[string]string{"operation": "deliver", "status": "success"})

	rec := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `govnotify_deliver_duration_ms_count{operation="deliver",status="success"} 1`) {
		t.Fatalf("expected histogram sample in exposition, got:\n%s", body)
	}
}

func TestMetricName(t *testing.T) {
	tests := map[string]string{
		"govnotify.send.total": "govnotify_send_total",
		"9lives":               "_9lives",
		"  ":                   "unnamed",
		"a-b c":                "a_b_c",
	}
	for in, want := range tests {
		if got := MetricName(in); got != want {
			t.Fatalf("MetricName(%q) = %q, want %q", in, got, want)
		}
	}
}
