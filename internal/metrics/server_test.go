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

func TestServerExposesMetrics(t *testing.T) {
	srv := NewServer("127.0.0.1:0", "")
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Stop(context.Background())

	MessagesTotal.WithLabelValues("inbound", "udp").Inc()

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `zwiftmon_messages_total{direction="inbound",transport="udp"}`)
}

func TestServerStartBindError(t *testing.T) {
	srv := NewServer("256.0.0.1:bad", "/m")
	assert.Error(t, srv.Start(context.Background()))
	assert.NoError(t, srv.Stop(context.Background()))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(DropsTotal.WithLabelValues("outbound", ReasonUnknownVariant))
	DropsTotal.WithLabelValues("outbound", ReasonUnknownVariant).Inc()
	after := testutil.ToFloat64(DropsTotal.WithLabelValues("outbound", ReasonUnknownVariant))
	assert.Equal(t, before+1, after)
}
