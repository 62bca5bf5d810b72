package middleware

import (
	"github.com/gin-gonic/gin"

	"portfolio-oracle/metrics"
)

// MetricsMiddleware counts responses with status >= 400 by route.
func MetricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status < 400 {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.APIErrorInc(c.Request.Method, route, status)
	}
}
