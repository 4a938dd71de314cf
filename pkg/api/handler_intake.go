package api

import (
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/arbor-coach/arbor/pkg/models"
)

// maxMessageBytes caps a single submitted message.
const maxMessageBytes = 32 * 1024

// submitMessageHandler handles POST /api/v1/messages.
// Acceptance is always asynchronous: the 202 carries the job id and an
// estimate, never an assistant message.
func (s *Server) submitMessageHandler(c *echo.Context) error {
	identity := extractIdentity(c)
	if !identity.Valid() {
		return errorJSON(c, http.StatusUnauthorized, models.ErrCodeSessionAccess, "identity headers missing")
	}

	var req SubmitMessageRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, models.ErrCodeJobValidation, err.Error())
	}
	if req.SessionID == "" {
		return errorJSON(c, http.StatusBadRequest, models.ErrCodeJobValidation, "session_id is required")
	}
	if len(req.Message) > maxMessageBytes {
		return errorJSON(c, http.StatusRequestEntityTooLarge, models.ErrCodeJobValidation,
			fmt.Sprintf("message exceeds maximum size of %d bytes", maxMessageBytes))
	}

	receipt, err := s.intake.SubmitMessage(c.Request().Context(), identity, req.SessionID, req.Message)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusAccepted, receipt)
}

// submitAnalysisHandler handles POST /api/v1/analyses.
func (s *Server) submitAnalysisHandler(c *echo.Context) error {
	identity := extractIdentity(c)
	if !identity.Valid() {
		return errorJSON(c, http.StatusUnauthorized, models.ErrCodeSessionAccess, "identity headers missing")
	}

	var req SubmitAnalysisRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, models.ErrCodeJobValidation, err.Error())
	}
	if req.TopicID == "" {
		return errorJSON(c, http.StatusBadRequest, models.ErrCodeJobValidation, "topic_id is required")
	}

	receipt, err := s.intake.SubmitAnalysis(c.Request().Context(), identity, req.TopicID, req.Params)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusAccepted, receipt)
}
