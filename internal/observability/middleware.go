package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestIDHeader carries the request id in and out of the admin API.
const RequestIDHeader = "X-Request-ID"

// unmatchedRoute labels requests no route matched, keeping raw paths out
// of metric labels.
const unmatchedRoute = "unmatched"

// RequestLogger logs one line per request. Reads log at debug, writes at
// info, client errors at warn and server errors at error.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)
		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			event = logger.Error()
		case status >= http.StatusBadRequest:
			event = logger.Warn()
		case c.Request.Method == http.MethodGet:
			event = logger.Debug()
		default:
			event = logger.Info()
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("route", routeOf(c)).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("admin request")
	}
}

// RequestMetrics records request counts and latency per matched route.
func RequestMetrics(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(service, c.Request.Method, routeOf(c), c.Writer.Status(), time.Since(start))
	}
}

func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return unmatchedRoute
}
