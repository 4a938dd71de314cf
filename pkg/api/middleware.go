package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
)

// hardenResponses stamps the standard hardening headers on every response.
func hardenResponses() echo.MiddlewareFunc {
	hardening := map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
		"Permissions-Policy":     "camera=(), microphone=(), geolocation=()",
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			headers := c.Response().Header()
			for name, value := range hardening {
				headers.Set(name, value)
			}
			return next(c)
		}
	}
}

// requestLogger returns middleware that logs every request through slog.
// WebSocket upgrades are skipped; their lifetime is the connection, not
// the request.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if c.Request().Header.Get("Upgrade") == "websocket" {
				return next(c)
			}
			start := time.Now()
			err := next(c)
			status := 0
			if resp, uerr := echo.UnwrapResponse(c.Response()); uerr == nil {
				status = resp.Status
			}
			slog.Info("HTTP request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds())
			return err
		}
	}
}

// recoverPanics returns middleware that converts handler panics into 500s
// so a single bad request cannot take the pod down.
func recoverPanics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Handler panic", "panic", r,
						"method", c.Request().Method, "path", c.Request().URL.Path)
					err = echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("%v", r))
				}
			}()
			return next(c)
		}
	}
}
