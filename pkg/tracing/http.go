package tracing

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// GinMiddleware traces webhook and admin requests. Probe and scrape traffic
// is left out.
func GinMiddleware(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName, otelgin.WithFilter(traced))
}

func traced(r *http.Request) bool {
	switch {
	case r.URL.Path == "/health", r.URL.Path == "/metrics":
		return false
	case strings.HasPrefix(r.URL.Path, "/swagger/"):
		return false
	default:
		return true
	}
}
