package middleware

import (
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/labstack/echo/v4"
)

// Logger writes one entry per request and records its latency. Health probes
// and scrapes are timed but not logged.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			elapsed := time.Since(start)

			req := c.Request()
			res := c.Response()
			route := c.Path()
			metrics.RecordHTTPRequest(req.Method, route, res.Status, elapsed.Seconds())

			if quietRoute(route) && res.Status < http.StatusBadRequest {
				return nil
			}

			ctx := req.Context()
			fields := map[string]any{
				"request_id":    appctx.GetRequestID(ctx),
				"user_id":       appctx.GetUserID(ctx),
				"method":        req.Method,
				"route":         route,
				"uri":           req.RequestURI,
				"status":        res.Status,
				"remote_ip":     c.RealIP(),
				"response_time": elapsed.String(),
				"response_size": res.Size,
			}
			if id := c.Param("id"); id != "" {
				fields["path_id"] = id
			}
			logger.WithContext(ctx).WithFields(fields).Info("Request")

			return nil
		}
	}
}

func quietRoute(route string) bool {
	switch route {
	case "/metrics", "/api/v1/health", "/api/v1/health/live", "/api/v1/health/ready":
		return true
	}
	return false
}
