// README: Driver pool handlers for state, location and availability updates.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chauffeur/internal/modules/driverpool"
	"chauffeur/internal/modules/matching"
	"chauffeur/internal/types"
)

type DriverPool interface {
	Upsert(ctx context.Context, st driverpool.State) error
	UpdateLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) error
	SetAvailability(ctx context.Context, id types.ID, available bool) error
}

type DriverHandler struct {
	pool DriverPool
	log  *zap.Logger
}

func NewDriverHandler(pool DriverPool, log *zap.Logger) *DriverHandler {
	return &DriverHandler{pool: pool, log: log}
}

type locationReq struct {
	Lat       *float64   `json:"lat"`
	Lng       *float64   `json:"lng"`
	Timestamp *time.Time `json:"timestamp"`
}

func (l locationReq) point() (types.Point, bool) {
	if l.Lat == nil || l.Lng == nil {
		return types.Point{}, false
	}
	return types.Point{Lat: *l.Lat, Lng: *l.Lng}, true
}

type driverStateReq struct {
	IsActive              bool         `json:"isActive"`
	IsAvailable           bool         `json:"isAvailable"`
	Rating                float64      `json:"rating"`
	TotalRides            int          `json:"totalRides"`
	UpcomingBookingsCount int          `json:"upcomingBookingsCount"`
	HasConflict           bool         `json:"hasConflict"`
	CurrentLocation       *locationReq `json:"currentLocation"`
}

func (h *DriverHandler) PutState(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req driverStateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	st := driverpool.State{
		ID:                    types.ID(id),
		IsActive:              req.IsActive,
		IsAvailable:           req.IsAvailable,
		Rating:                req.Rating,
		TotalRides:            req.TotalRides,
		UpcomingBookingsCount: req.UpcomingBookingsCount,
		HasConflict:           req.HasConflict,
	}
	if req.CurrentLocation != nil {
		p, ok := req.CurrentLocation.point()
		if !ok {
			writeError(c, http.StatusBadRequest, "currentLocation needs lat and lng")
			return
		}
		loc := &matching.Location{Point: p}
		if req.CurrentLocation.Timestamp != nil {
			loc.Timestamp = *req.CurrentLocation.Timestamp
		}
		st.Location = loc
	}
	if err := h.pool.Upsert(c.Request.Context(), st); err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}

func (h *DriverHandler) PutLocation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	p, ok := req.point()
	if !ok {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	var at time.Time
	if req.Timestamp != nil {
		at = *req.Timestamp
	}
	if err := h.pool.UpdateLocation(c.Request.Context(), types.ID(id), p, at); err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}

type availabilityReq struct {
	Available *bool `json:"available"`
}

func (h *DriverHandler) PutAvailability(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Available == nil {
		writeError(c, http.StatusBadRequest, "available is required")
		return
	}
	if err := h.pool.SetAvailability(c.Request.Context(), types.ID(id), *req.Available); err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}
