// Package system serves the liveness, readiness and metrics probes.
package system

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registryroute "github.com/chirino/chat-service/internal/registry/route"
)

type phase int32

const (
	starting phase = iota
	serving
	draining
)

var state atomic.Int32

func (p phase) String() string {
	switch p {
	case serving:
		return "ready"
	case draining:
		return "draining"
	default:
		return "starting"
	}
}

// MarkReady flips /ready to 200 once StartServer has mounted every route.
func MarkReady() {
	state.Store(int32(serving))
}

// MarkDraining flips /ready back to 503 so load balancers stop routing new requests
// and websocket clients while the process shuts down.
func MarkDraining() {
	state.Store(int32(draining))
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:   "system",
		Order:  0,
		Type:   registryroute.RouteTypeManagement,
		Loader: mount,
	})
}

func mount(r *gin.Engine) error {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		p := phase(state.Load())
		code := http.StatusServiceUnavailable
		if p == serving {
			code = http.StatusOK
		}
		c.JSON(code, gin.H{"status": p.String()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return nil
}
