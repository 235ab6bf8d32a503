// Package middleware holds the gin middleware the relay mounts in front of
// its HTTP surface.
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vijayvir/screenai/internal/v1/logging"
)

// HeaderXCorrelationID carries the correlation id between client and relay.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID tags every request with a correlation id: reused from the
// request header when the caller sent one, freshly minted otherwise. The id
// is echoed in the response and stamped onto the request context so the
// structured logger emits it with every line.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderXCorrelationID)
		if id == "" {
			id = uuid.New().String()
		}

		c.Header(HeaderXCorrelationID, id)
		c.Set(string(logging.CorrelationIDKey), id)
		c.Request = c.Request.WithContext(
			context.WithValue(c.Request.Context(), logging.CorrelationIDKey, id))

		c.Next()
	}
}
