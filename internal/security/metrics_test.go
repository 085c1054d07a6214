package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestParseMetricsLabels(t *testing.T) {
	t.Setenv("POD", "chat-0")

	labels, err := ParseMetricsLabels("service=chat-service, pod=${POD}")
	require.NoError(t, err)
	require.Equal(t, prometheus.Labels{"service": "chat-service", "pod": "chat-0"}, labels)

	labels, err = ParseMetricsLabels("")
	require.NoError(t, err)
	require.Nil(t, labels)

	_, err = ParseMetricsLabels("service")
	require.ErrorContains(t, err, "expected key=value")
	_, err = ParseMetricsLabels("1bad=x")
	require.ErrorContains(t, err, "invalid label key")
}

func TestMetricsMiddlewareLabelsByRoute(t *testing.T) {
	register(promauto.With(prometheus.NewRegistry()))

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(MetricsMiddleware())
	r.GET("/v1/conversations/:conversationId", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/v1/conversations/a", "/v1/conversations/b", "/nope"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Equal(t, 2.0, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/v1/conversations/:conversationId", "200")))
	require.Equal(t, 1.0, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

func TestRecordersCountByLabel(t *testing.T) {
	register(promauto.With(prometheus.NewRegistry()))

	RecordCacheLookup("local", true)
	RecordCacheLookup("local", false)
	RecordCacheLookup("local", false)
	RecordFanout("published")
	AddRealtimeConnections(2)
	AddRealtimeConnections(-1)

	require.Equal(t, 1.0, testutil.ToFloat64(cacheHitsTotal.WithLabelValues("local")))
	require.Equal(t, 2.0, testutil.ToFloat64(cacheMissesTotal.WithLabelValues("local")))
	require.Equal(t, 1.0, testutil.ToFloat64(fanoutDeliveriesTotal.WithLabelValues("published")))
	require.Equal(t, 1.0, testutil.ToFloat64(realtimeConnections))
}
