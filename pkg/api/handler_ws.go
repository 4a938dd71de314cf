package api

import (
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/arbor-coach/arbor/pkg/models"
)

// wsHandler upgrades the request to a WebSocket and hands the connection
// to the Hub. The connection is scoped to the caller's
// identity at upgrade time; events for other tenants or users never reach
// it.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.hub == nil {
		return errorJSON(c, http.StatusServiceUnavailable, models.ErrCodeInternal, "websocket not available")
	}

	identity := extractIdentity(c)
	if !identity.Valid() {
		return errorJSON(c, http.StatusUnauthorized, models.ErrCodeSessionAccess, "identity headers missing")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: s.wsOriginPatterns(),
	})
	if err != nil {
		return err
	}

	s.metrics.WSConnected()
	defer s.metrics.WSDisconnected()

	// Blocks until the socket closes.
	s.hub.Serve(c.Request().Context(), conn, identity)
	return nil
}

// wsOriginPatterns returns the allowed WebSocket origins. Same-host
// connections are always accepted; cross-origin ones only when configured.
func (s *Server) wsOriginPatterns() []string {
	patterns := []string{"localhost:*", "127.0.0.1:*"}
	if s.cfg != nil {
		patterns = append(patterns, s.cfg.AllowedWSOrigins...)
	}
	return patterns
}
