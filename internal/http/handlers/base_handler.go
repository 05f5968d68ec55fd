// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chauffeur/internal/http/middleware"
	"chauffeur/internal/maps"
	"chauffeur/internal/modules/assignment"
	"chauffeur/internal/modules/dispatch"
	"chauffeur/internal/modules/driverpool"
	"chauffeur/internal/modules/pricing"
)

type errorResponse struct {
	Error string `json:"error"`
}

type conflictResponse struct {
	Error   string              `json:"error"`
	Current *assignmentResponse `json:"current"`
}

// isValidID accepts the ids the booking service and uuid generator produce.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeServiceError maps module errors onto HTTP statuses. Unknown errors are
// logged and hidden behind a 500.
func writeServiceError(c *gin.Context, log *zap.Logger, err error) {
	if ce, ok := assignment.IsConflict(err); ok {
		resp := conflictResponse{Error: ce.Error()}
		if ce.Current != nil {
			a := toAssignmentResponse(*ce.Current)
			resp.Current = &a
		}
		writeJSON(c, http.StatusConflict, resp)
		return
	}

	switch {
	case errors.Is(err, pricing.ErrInvalidRideRequest),
		errors.Is(err, assignment.ErrInvalidAssignment),
		errors.Is(err, dispatch.ErrInvalidCommand),
		errors.Is(err, driverpool.ErrInvalidState):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, assignment.ErrNotFound),
		errors.Is(err, driverpool.ErrUnknownDriver):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, pricing.ErrNoApplicableRule),
		errors.Is(err, pricing.ErrAmbiguousRule),
		errors.Is(err, pricing.ErrInvalidPricingRule),
		errors.Is(err, dispatch.ErrNoEligibleDriver),
		errors.Is(err, dispatch.ErrDriverIneligible),
		errors.Is(err, maps.ErrNoRoute):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	default:
		_ = c.Error(err)
		log.Error("request failed",
			zap.String("route", c.FullPath()),
			zap.String("request_id", c.GetString(middleware.RequestIDKey)),
			zap.Error(err))
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// pathID reads and validates the :id path parameter, writing a 400 on failure.
func pathID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return "", false
	}
	return id, true
}
