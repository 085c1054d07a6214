package serve

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// originPolicy is the set of browser origins allowed to call the API and open
// realtime sockets. An empty list means any origin.
type originPolicy struct {
	any     bool
	allowed map[string]bool
}

func newOriginPolicy(csv string) *originPolicy {
	p := &originPolicy{allowed: map[string]bool{}}
	for _, part := range strings.Split(csv, ",") {
		switch v := strings.TrimSpace(part); v {
		case "":
		case "*":
			p.any = true
		default:
			p.allowed[v] = true
		}
	}
	if len(p.allowed) == 0 {
		p.any = true
	}
	return p
}

func (p *originPolicy) allows(origin string) bool {
	return p.any || p.allowed[origin]
}

// middleware answers preflights and reflects allowed origins.
func (p *originPolicy) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin := strings.TrimSpace(c.GetHeader("Origin")); origin != "" && p.allows(origin) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Expose-Headers", "Retry-After")
			h.Set("Access-Control-Max-Age", "600")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// websocketCheck returns the upgrade origin check, or nil to keep the upgrader's
// default when any origin is allowed. Non-browser clients send no Origin header.
func (p *originPolicy) websocketCheck() func(*http.Request) bool {
	if p == nil || p.any {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || p.allowed[origin]
	}
}
