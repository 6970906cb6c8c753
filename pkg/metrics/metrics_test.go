package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(RecordsEmitted.WithLabelValues("metrics_test"))
	RecordsEmitted.WithLabelValues("metrics_test").Add(3)
	assert.Equal(t, before+3, testutil.ToFloat64(RecordsEmitted.WithLabelValues("metrics_test")))

	BookmarkTimestamp.WithLabelValues("metrics_test").Set(1700000000)
	assert.Equal(t, float64(1700000000), testutil.ToFloat64(BookmarkTimestamp.WithLabelValues("metrics_test")))
}

func TestTimer(t *testing.T) {
	timer := NewTimer("fetch")
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, timer.Stop(), 5*time.Millisecond)
	assert.Equal(t, "fetch", timer.Name())
}

func TestServer(t *testing.T) {
	PagesFetched.WithLabelValues("server_test").Inc()

	s := NewServer("127.0.0.1:0", nil)
	require.NoError(t, s.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	}()

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `tap_pages_fetched_total{stream="server_test"}`)
}
