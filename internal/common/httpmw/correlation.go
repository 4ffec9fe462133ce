package httpmw

import (
	"github.com/gin-gonic/gin"

	"github.com/hydra-run/hydra/internal/common/appctx"
)

// correlationIDHeader is the header a caller may set to carry its own
// correlation id through the request; Hydra generates one when absent.
const correlationIDHeader = "X-Correlation-ID"

// CorrelationID attaches a correlation id to the request context (reusing
// an inbound X-Correlation-ID header when present) and echoes it back on
// the response, so a caller can thread one id through logs, traces, and
// any retry it issues.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(correlationIDHeader)
		ctx := appctx.WithCorrelationID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(correlationIDHeader, appctx.CorrelationID(ctx))
		c.Next()
	}
}
