package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if crawlerRunsTotal == nil || feedSyncPassesTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveRun(t *testing.T) {
	before := testutil.ToFloat64(crawlerRunsTotalFor("zhihu", "failure"))
	ObserveRun("zhihu", "failure", 3*time.Second)
	if got := testutil.ToFloat64(crawlerRunsTotalFor("zhihu", "failure")); got != before+1 {
		t.Errorf("expected crawler_runs_total to grow by 1, got %f -> %f", before, got)
	}

	IncActiveRuns()
	IncActiveRuns()
	DecActiveRuns()
	if got := testutil.ToFloat64(crawlerActiveRuns); got < 1 {
		t.Errorf("expected active runs gauge >= 1, got %f", got)
	}
	DecActiveRuns()
}

func TestObserveSync(t *testing.T) {
	ObserveSync("tieba", 2, 3, nil, 10*time.Millisecond)
	ObserveSync("tieba", 0, 0, errors.New("boom"), time.Millisecond)

	Init()
	if got := testutil.ToFloat64(feedSyncRecordsTotal.WithLabelValues("tieba", "insert")); got != 2 {
		t.Errorf("expected 2 inserts, got %f", got)
	}
	if got := testutil.ToFloat64(feedSyncRecordsTotal.WithLabelValues("tieba", "update")); got != 3 {
		t.Errorf("expected 3 updates, got %f", got)
	}
	if got := testutil.ToFloat64(feedSyncPassesTotal.WithLabelValues("tieba", "error")); got != 1 {
		t.Errorf("expected 1 failed pass, got %f", got)
	}
}

func TestObserveLogLineAndCancel(t *testing.T) {
	ObserveLogLine("ERROR")
	ObserveBatchCancel()
	if got := testutil.ToFloat64(crawlerLogLinesTotal.WithLabelValues("ERROR")); got < 1 {
		t.Errorf("expected log line counter to be observed, got %f", got)
	}
	if got := testutil.ToFloat64(crawlerBatchCancelsTotal); got < 1 {
		t.Errorf("expected batch cancel counter to be observed, got %f", got)
	}
}

func crawlerRunsTotalFor(platform, outcome string) prometheus.Counter {
	Init()
	return crawlerRunsTotal.WithLabelValues(platform, outcome)
}
