package api

import (
	"context"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/arbor-coach/arbor/pkg/models"
)

// startSessionHandler handles POST /api/v1/sessions. Starting a topic the
// caller already has an active session for abandons the old one first.
func (s *Server) startSessionHandler(c *echo.Context) error {
	identity := extractIdentity(c)
	if !identity.Valid() {
		return errorJSON(c, http.StatusUnauthorized, models.ErrCodeSessionAccess, "identity headers missing")
	}

	var req StartSessionRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, models.ErrCodeJobValidation, err.Error())
	}
	if req.TopicID == "" {
		return errorJSON(c, http.StatusBadRequest, models.ErrCodeJobValidation, "topic_id is required")
	}

	session, err := s.sessions.Start(c.Request().Context(), identity, req.TopicID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, session)
}

// listSessionsHandler handles GET /api/v1/sessions, scoped to the caller's
// identity. The limit query param defaults to 20 and caps at 100.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	identity := extractIdentity(c)
	if !identity.Valid() {
		return errorJSON(c, http.StatusUnauthorized, models.ErrCodeSessionAccess, "identity headers missing")
	}

	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return errorJSON(c, http.StatusBadRequest, models.ErrCodeJobValidation, "limit must be between 1 and 100")
		}
		limit = n
	}

	sessions, err := s.sessions.List(c.Request().Context(), identity, limit)
	if err != nil {
		return respondError(c, err)
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}
	return c.JSON(http.StatusOK, sessions)
}

// getSessionHandler handles GET /api/v1/sessions/:id. Reading an active
// session past its idle TTL flips it to paused first, so the response
// reflects the state the caller will act against.
func (s *Server) getSessionHandler(c *echo.Context) error {
	identity := extractIdentity(c)
	if !identity.Valid() {
		return errorJSON(c, http.StatusUnauthorized, models.ErrCodeSessionAccess, "identity headers missing")
	}

	sessionID := c.Param("id")
	if sessionID == "" {
		return errorJSON(c, http.StatusBadRequest, models.ErrCodeJobValidation, "session id is required")
	}

	session, err := s.sessions.Get(c.Request().Context(), identity, sessionID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// pauseSessionHandler handles POST /api/v1/sessions/:id/pause.
func (s *Server) pauseSessionHandler(c *echo.Context) error {
	return s.transitionSession(c, s.sessions.Pause)
}

// resumeSessionHandler handles POST /api/v1/sessions/:id/resume.
func (s *Server) resumeSessionHandler(c *echo.Context) error {
	return s.transitionSession(c, s.sessions.Resume)
}

// cancelSessionHandler handles POST /api/v1/sessions/:id/cancel. Cancel is
// terminal; a cancelled session never accepts another message.
func (s *Server) cancelSessionHandler(c *echo.Context) error {
	return s.transitionSession(c, s.sessions.Cancel)
}

type sessionTransition func(ctx context.Context, identity models.Identity, sessionID string) (*models.Session, error)

func (s *Server) transitionSession(c *echo.Context, transition sessionTransition) error {
	identity := extractIdentity(c)
	if !identity.Valid() {
		return errorJSON(c, http.StatusUnauthorized, models.ErrCodeSessionAccess, "identity headers missing")
	}

	sessionID := c.Param("id")
	if sessionID == "" {
		return errorJSON(c, http.StatusBadRequest, models.ErrCodeJobValidation, "session id is required")
	}

	session, err := transition(c.Request().Context(), identity, sessionID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, session)
}
