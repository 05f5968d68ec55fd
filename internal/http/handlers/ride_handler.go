// README: Ride dispatch and assignment handlers.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chauffeur/internal/modules/assignment"
	"chauffeur/internal/modules/dispatch"
	"chauffeur/internal/types"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, cmd dispatch.DispatchCommand) (dispatch.Result, error)
}

type Assignments interface {
	Assign(ctx context.Context, rideRequestID, driverID types.ID) (assignment.Assignment, error)
	AssignIfVersion(ctx context.Context, rideRequestID, driverID types.ID, expected int64) (assignment.Assignment, error)
	Head(ctx context.Context, rideRequestID types.ID) (assignment.Head, error)
	History(ctx context.Context, rideRequestID types.ID) ([]assignment.Assignment, error)
}

type RideHandler struct {
	dispatch    Dispatcher
	assignments Assignments
	log         *zap.Logger
}

func NewRideHandler(d Dispatcher, a Assignments, log *zap.Logger) *RideHandler {
	return &RideHandler{dispatch: d, assignments: a, log: log}
}

type dispatchReq struct {
	Ride     *rideRequest `json:"ride"`
	DriverID *string      `json:"driverId"`
	// ExpectedVersion is required to redispatch an assigned ride.
	ExpectedVersion *int64 `json:"expectedVersion"`
}

func (h *RideHandler) Dispatch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dispatchReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	cmd := dispatch.DispatchCommand{RideRequestID: types.ID(id)}
	if req.Ride != nil {
		r := req.Ride.toDomain()
		if r.ID == "" {
			r.ID = types.ID(id)
		}
		cmd.Request = &r
	}
	if req.DriverID != nil {
		d := types.ID(*req.DriverID)
		cmd.DriverID = &d
	}
	cmd.ExpectedVersion = req.ExpectedVersion

	res, err := h.dispatch.Dispatch(c.Request.Context(), cmd)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{
		"assignment": toAssignmentResponse(res.Assignment),
		"driver":     toRankedResponse(res.Driver),
		"considered": res.Considered,
	})
}

type assignReq struct {
	DriverID string `json:"driverId"`
	// ExpectedVersion turns the call into a strict compare-and-set.
	ExpectedVersion *int64 `json:"expectedVersion"`
}

func (h *RideHandler) Assign(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req assignReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !isValidID(req.DriverID) {
		writeError(c, http.StatusBadRequest, "invalid driverId")
		return
	}

	var (
		a   assignment.Assignment
		err error
	)
	if req.ExpectedVersion != nil {
		a, err = h.assignments.AssignIfVersion(c.Request.Context(), types.ID(id), types.ID(req.DriverID), *req.ExpectedVersion)
	} else {
		a, err = h.assignments.Assign(c.Request.Context(), types.ID(id), types.ID(req.DriverID))
	}
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusCreated, toAssignmentResponse(a))
}

// GetAssignment returns the head version, the active assignment and the full history.
func (h *RideHandler) GetAssignment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	head, err := h.assignments.Head(ctx, types.ID(id))
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	if head.Active == nil {
		writeServiceError(c, h.log, assignment.ErrNotFound)
		return
	}
	history, err := h.assignments.History(ctx, types.ID(id))
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	out := make([]assignmentResponse, 0, len(history))
	for _, a := range history {
		out = append(out, toAssignmentResponse(a))
	}
	writeJSON(c, http.StatusOK, gin.H{
		"version": head.Version,
		"current": toAssignmentResponse(*head.Active),
		"history": out,
	})
}
