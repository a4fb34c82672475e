package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeMetrics(t *testing.T) {
	t.Run("DeviceMemoryUsed", func(t *testing.T) {
		DeviceMemoryUsed.WithLabelValues("engine-a").Set(4096)
		assert.Equal(t, float64(4096), testutil.ToFloat64(DeviceMemoryUsed.WithLabelValues("engine-a")))
		DeviceMemoryUsed.DeleteLabelValues("engine-a")
	})

	t.Run("PoolRequests", func(t *testing.T) {
		before := testutil.ToFloat64(PoolRequests.WithLabelValues("engine-b", "hit"))
		PoolRequests.WithLabelValues("engine-b", "hit").Inc()
		PoolRequests.WithLabelValues("engine-b", "hit").Inc()
		PoolRequests.WithLabelValues("engine-b", "miss").Inc()
		assert.Equal(t, before+2, testutil.ToFloat64(PoolRequests.WithLabelValues("engine-b", "hit")))
	})

	t.Run("KernelExecutionSeconds", func(t *testing.T) {
		assert.NotPanics(t, func() {
			KernelExecutionSeconds.WithLabelValues("ocl", "gather_f32").Observe(0.002)
		})
	})
}

func TestMetricsRegistration(t *testing.T) {
	collectors := []prometheus.Collector{
		EndpointResponses,
		DeviceMemoryUsed,
		DeviceMemoryPeak,
		PoolRequests,
		Allocations,
		KernelDispatches,
		KernelExecutionSeconds,
	}

	for _, c := range collectors {
		err := prometheus.Register(c)
		var already prometheus.AlreadyRegisteredError
		assert.ErrorAs(t, err, &already, "promauto registers on the default registry")
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/v1/things/:id", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	before := testutil.ToFloat64(EndpointResponses.WithLabelValues("/v1/things/:id", "418"))
	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, "/v1/things/7", nil)
	require.NoError(t, err)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(EndpointResponses.WithLabelValues("/v1/things/:id", "418")))
}
