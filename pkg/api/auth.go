package api

import (
	echo "github.com/labstack/echo/v5"

	"github.com/arbor-coach/arbor/pkg/models"
)

// extractIdentity reads the caller identity from proxy headers. The gateway
// authenticates upstream and forwards the resolved scope; this service
// never sees credentials.
// User priority: X-Forwarded-User (oauth2-proxy) > X-Forwarded-Email.
func extractIdentity(c *echo.Context) models.Identity {
	h := c.Request().Header
	user := h.Get("X-Forwarded-User")
	if user == "" {
		user = h.Get("X-Forwarded-Email")
	}
	return models.Identity{
		TenantID: h.Get("X-Forwarded-Tenant"),
		UserID:   user,
		Tier:     models.Tier(h.Get("X-Forwarded-Tier")),
	}
}
