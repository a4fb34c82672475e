package metrics

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// Middleware records every response of the introspection API under its
// route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		EndpointResponses.WithLabelValues(endpoint, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
