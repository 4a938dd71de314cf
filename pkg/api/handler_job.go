package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/arbor-coach/arbor/pkg/models"
)

// getJobHandler handles GET /api/v1/jobs/:id. Jobs past their TTL read as
// not found even before the reaper removes the row.
func (s *Server) getJobHandler(c *echo.Context) error {
	identity := extractIdentity(c)
	if !identity.Valid() {
		return errorJSON(c, http.StatusUnauthorized, models.ErrCodeSessionAccess, "identity headers missing")
	}

	jobID := c.Param("id")
	if jobID == "" {
		return errorJSON(c, http.StatusBadRequest, models.ErrCodeJobValidation, "job id is required")
	}

	job, err := s.jobs.Get(c.Request().Context(), identity, jobID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, jobResponse(job))
}
