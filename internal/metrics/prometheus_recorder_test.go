package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveBuilderStart("preview", 150*time.Millisecond, ResultSuccess)
	pr.IncBuilderBail("manager", ResultFailed)
	pr.IncBuilderBail("manager", ResultFailed)
	pr.IncIndexRegeneration(ResultSuccess)
	pr.SetIndexEntries(42)
	pr.SetChannelClients("websocket", 3)
	pr.IncChannelEvent("INDEX_UPDATED")
	pr.IncReport("nats", ResultSuccess)

	require.InDelta(t, 2, testutil.ToFloat64(pr.builderBails.WithLabelValues("manager", "failed")), 0)
	require.InDelta(t, 42, testutil.ToFloat64(pr.indexEntries), 0)
	require.InDelta(t, 3, testutil.ToFloat64(pr.channelClients.WithLabelValues("websocket")), 0)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)
}

func TestHTTPHandlerServesRegistry(t *testing.T) {
	reg := prom.NewRegistry()
	NewPrometheusRecorder(reg).SetIndexEntries(7)

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "storydev_index_entries 7"))
}

func TestResultForAndOrNoop(t *testing.T) {
	require.Equal(t, ResultSuccess, ResultFor(nil))
	require.Equal(t, ResultFailed, ResultFor(errors.New("x")))
	require.IsType(t, NoopRecorder{}, OrNoop(nil))
}
