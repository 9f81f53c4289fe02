package bioecho

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pilab-dev/biolock/capability"
	"github.com/pilab-dev/biolock/log"
	"github.com/pilab-dev/biolock/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// SecurityHeaders adds common security headers to responses.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Cache-Control", "no-store")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")

			return next(c)
		}
	}
}

// HeaderDeviceCredential carries the device PIN that answers capability prompts.
const HeaderDeviceCredential = "X-Device-Credential"

// DeviceCredential moves the device credential header into the request context
// where capability.ContextCredentialReader finds it.
func DeviceCredential() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if credential := c.Request().Header.Get(HeaderDeviceCredential); credential != "" {
				req := c.Request()
				c.SetRequest(req.WithContext(capability.WithCredential(req.Context(), credential)))
			}

			return next(c)
		}
	}
}

// RequestLogger traces every request and logs it through logger.
func RequestLogger(logger log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			ctx, span := tracing.Tracer().Start(req.Context(), "http "+req.Method+" "+c.Path())
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			span.SetAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.route", c.Path()),
				attribute.Int("http.status_code", status),
			)

			fields := map[string]interface{}{
				"method":  req.Method,
				"path":    req.URL.Path,
				"status":  status,
				"latency": time.Since(start).String(),
				"ip":      c.RealIP(),
			}
			if err != nil {
				logger.Error(ctx, "HTTP request", err, fields)
			} else {
				logger.Info(ctx, "HTTP request", fields)
			}

			return nil
		}
	}
}
