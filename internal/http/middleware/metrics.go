// README: Prometheus request metrics.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"chauffeur/internal/metrics"
)

// Metrics labels by route template so path ids do not explode cardinality.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
