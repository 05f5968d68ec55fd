// README: Fare handlers for quoting, overtime reconciliation and active rule lookup.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chauffeur/internal/modules/pricing"
	"chauffeur/internal/modules/ride"
)

type FareService interface {
	Quote(ctx context.Context, req ride.Request) (pricing.FareBreakdown, error)
	Reconcile(ctx context.Context, req ride.Request, actual time.Duration) (pricing.FareBreakdown, error)
	ActiveRule(ctx context.Context, vc ride.VehicleClass, st ride.ServiceType, at time.Time) (pricing.PricingRule, error)
}

type FareHandler struct {
	pricing FareService
	log     *zap.Logger
	now     func() time.Time
}

func NewFareHandler(svc FareService, log *zap.Logger) *FareHandler {
	return &FareHandler{pricing: svc, log: log, now: time.Now}
}

func (h *FareHandler) Quote(c *gin.Context) {
	var req rideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	fare, err := h.pricing.Quote(c.Request.Context(), req.toDomain())
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, toFareResponse(fare))
}

type reconcileReq struct {
	Ride          rideRequest `json:"ride"`
	ActualMinutes *float64    `json:"actualMinutes"`
}

func (h *FareHandler) Reconcile(c *gin.Context) {
	var req reconcileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ActualMinutes == nil || *req.ActualMinutes < 0 {
		writeError(c, http.StatusBadRequest, "actualMinutes must be a non-negative number")
		return
	}
	actual := time.Duration(*req.ActualMinutes * float64(time.Minute))
	fare, err := h.pricing.Reconcile(c.Request.Context(), req.Ride.toDomain(), actual)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, toFareResponse(fare))
}

// ActiveRule serves GET ?vehicleClass=&serviceType=&at=. at defaults to now.
func (h *FareHandler) ActiveRule(c *gin.Context) {
	at, err := parseOptionalTime(c.Query("at"))
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if at.IsZero() {
		at = h.now()
	}
	rule, err := h.pricing.ActiveRule(c.Request.Context(),
		ride.VehicleClass(c.Query("vehicleClass")),
		ride.ServiceType(c.Query("serviceType")),
		at)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, toRuleResponse(rule))
}
