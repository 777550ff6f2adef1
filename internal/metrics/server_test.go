package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerExposesCounters(t *testing.T) {
	DropsTotal.WithLabelValues("test0", ReasonTruncated).Inc()

	s := NewServer("127.0.0.1:0", "")
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `lowpan_drops_total{interface="test0",reason="truncated"}`)
}

func TestCounterVectors(t *testing.T) {
	before := testutil.ToFloat64(FramesSentTotal.WithLabelValues("test1"))
	FramesSentTotal.WithLabelValues("test1").Add(3)
	assert.Equal(t, before+3, testutil.ToFloat64(FramesSentTotal.WithLabelValues("test1")))
}

func TestStopWithoutStart(t *testing.T) {
	assert.NoError(t, NewServer(":0", "/m").Stop(context.Background()))
}
