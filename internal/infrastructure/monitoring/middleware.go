package monitoring

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware that counts delivery requests per
// route template and status.
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.RecordDeliveryRequest(route, status)
	}
}
