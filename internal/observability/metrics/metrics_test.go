package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveHTTPRequestCountsErrors(t *testing.T) {
	before := testutil.ToFloat64(httpErrors.WithLabelValues("/tokens", "GET"))

	ObserveHTTPRequest("/tokens", "GET", 200, 10*time.Millisecond)
	ObserveHTTPRequest("/tokens", "GET", 500, 10*time.Millisecond)

	if got := testutil.ToFloat64(httpErrors.WithLabelValues("/tokens", "GET")) - before; got != 1 {
		t.Fatalf("expected one server error, got %v", got)
	}
	if testutil.ToFloat64(httpRequests.WithLabelValues("/tokens", "GET", "200")) < 1 {
		t.Fatal("expected request counter to be incremented")
	}
}

func TestStreamAndRecordingCounters(t *testing.T) {
	before := testutil.ToFloat64(recordings.WithLabelValues("token", ResultRecorded))
	ObserveRecording("token", ResultRecorded)
	if got := testutil.ToFloat64(recordings.WithLabelValues("token", ResultRecorded)) - before; got != 1 {
		t.Fatalf("unexpected recording delta %v", got)
	}

	done := StreamOpened()
	if testutil.ToFloat64(activeStreams) < 1 {
		t.Fatal("expected active stream gauge to increase")
	}
	done()

	ObserveStreamMessage("agent")
	ObserveToolCall("deploy_token", errors.New("boom"))
	if testutil.ToFloat64(toolCalls.WithLabelValues("deploy_token", "error")) < 1 {
		t.Fatal("expected tool error counter to be incremented")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	ObserveStreamMessage("tools")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `onchain_agent_stream_messages_total{event="tools"}`) {
		t.Fatalf("metrics output missing stream counter:\n%s", body)
	}
}
