package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/arbor-coach/arbor/pkg/models"
)

// invalidateCacheHandler handles POST /api/v1/admin/cache/invalidations.
// Admin tooling calls this after editing a tier configuration record or a
// template, so the next resolution sees the new version instead of waiting
// out the cache TTL. Invalidating an interaction code evicts the named tier
// and the default, since other tiers may be riding on the default record.
func (s *Server) invalidateCacheHandler(c *echo.Context) error {
	var req InvalidateCacheRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, models.ErrCodeJobValidation, err.Error())
	}
	if req.InteractionCode == "" && req.TemplateID == "" {
		return errorJSON(c, http.StatusBadRequest, models.ErrCodeJobValidation,
			"one of interaction_code or template_id is required")
	}

	ctx := c.Request().Context()

	if req.InteractionCode != "" {
		if s.resolver == nil {
			return errorJSON(c, http.StatusServiceUnavailable, models.ErrCodeInternal, "configuration resolver not available")
		}
		s.resolver.Invalidate(ctx, req.InteractionCode, models.Tier(req.Tier))
		if req.Tier != "" {
			s.resolver.Invalidate(ctx, req.InteractionCode, models.TierDefault)
		}
	}

	if req.TemplateID != "" {
		if s.templates == nil {
			return errorJSON(c, http.StatusServiceUnavailable, models.ErrCodeInternal, "template service not available")
		}
		s.templates.Invalidate(ctx, req.TemplateID)
	}

	return c.JSON(http.StatusOK, &InvalidateCacheResponse{Status: "ok"})
}
