package route

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestMountByTypeAndOrder(t *testing.T) {
	saved := plugins
	t.Cleanup(func() { plugins = saved })

	var order []string
	loader := func(name string) RouterLoader {
		return func(r *gin.Engine) error {
			order = append(order, name)
			r.GET("/"+name, func(c *gin.Context) { c.Status(http.StatusNoContent) })
			return nil
		}
	}
	plugins = []Plugin{
		{Name: "metrics", Order: 10, Type: RouteTypeManagement, Loader: loader("metrics")},
		{Name: "probes", Order: 0, Type: RouteTypeManagement, Loader: loader("probes")},
		{Name: "api", Order: 0, Type: RouteTypeMain, Loader: loader("api")},
	}

	require.Equal(t, []string{"probes", "metrics"}, Names(RouteTypeManagement))

	gin.SetMode(gin.TestMode)
	r := gin.New()
	require.NoError(t, Mount(r, RouteTypeManagement))
	require.Equal(t, []string{"probes", "metrics"}, order)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMountReportsFailingPlugin(t *testing.T) {
	saved := plugins
	t.Cleanup(func() { plugins = saved })
	plugins = []Plugin{{Name: "broken", Type: RouteTypeMain, Loader: func(*gin.Engine) error {
		return errors.New("no store")
	}}}

	err := Mount(gin.New(), RouteTypeMain)
	require.EqualError(t, err, "mount broken routes: no store")
}
