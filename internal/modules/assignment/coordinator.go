// README: Assignment coordinator commits one driver per ride request via optimistic compare-and-set.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chauffeur/internal/metrics"
	"chauffeur/internal/types"
)

// Store persists heads and history. CompareAndSwap must write next only if
// the ride's head version still equals expected, atomically per ride.
type Store interface {
	Head(ctx context.Context, rideRequestID types.ID) (Head, error)
	CompareAndSwap(ctx context.Context, rideRequestID types.ID, expected int64, next Assignment) (bool, error)
	History(ctx context.Context, rideRequestID types.ID) ([]Assignment, error)
}

type Coordinator struct {
	store   Store
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() types.ID
}

func NewCoordinator(store Store, log *zap.Logger, m *metrics.Metrics) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		store:   store,
		log:     log.Named("assignment"),
		metrics: m,
		now:     time.Now,
		newID:   func() types.ID { return types.ID(uuid.NewString()) },
	}
}

// Assign commits driverID to a ride that has never been assigned. A ride that
// already has a driver yields a *ConflictError naming it; reassignment goes
// through AssignIfVersion with the version the caller observed.
func (c *Coordinator) Assign(ctx context.Context, rideRequestID, driverID types.ID) (Assignment, error) {
	return c.AssignIfVersion(ctx, rideRequestID, driverID, 0)
}

// AssignIfVersion commits only if the ride is still at expected, the version
// the caller observed before deciding on driverID.
func (c *Coordinator) AssignIfVersion(ctx context.Context, rideRequestID, driverID types.ID, expected int64) (Assignment, error) {
	if err := validateIDs(rideRequestID, driverID); err != nil {
		return Assignment{}, err
	}
	if expected < 0 {
		return Assignment{}, fmt.Errorf("%w: negative version", ErrInvalidAssignment)
	}
	head, err := c.store.Head(ctx, rideRequestID)
	if err != nil {
		return Assignment{}, fmt.Errorf("read assignment head: %w", err)
	}
	if head.Version != expected {
		return Assignment{}, c.conflict(rideRequestID, expected, head.Active)
	}
	return c.commit(ctx, rideRequestID, driverID, head.Version, head.Active)
}

// Current returns the active assignment.
func (c *Coordinator) Current(ctx context.Context, rideRequestID types.ID) (Assignment, error) {
	head, err := c.Head(ctx, rideRequestID)
	if err != nil {
		return Assignment{}, err
	}
	if head.Active == nil {
		return Assignment{}, fmt.Errorf("%w: ride %s", ErrNotFound, rideRequestID)
	}
	return *head.Active, nil
}

// Head exposes the version callers pass to AssignIfVersion.
func (c *Coordinator) Head(ctx context.Context, rideRequestID types.ID) (Head, error) {
	if rideRequestID == "" {
		return Head{}, fmt.Errorf("%w: missing ride request id", ErrInvalidAssignment)
	}
	head, err := c.store.Head(ctx, rideRequestID)
	if err != nil {
		return Head{}, fmt.Errorf("read assignment head: %w", err)
	}
	return head, nil
}

// History returns every assignment for the ride, oldest first.
func (c *Coordinator) History(ctx context.Context, rideRequestID types.ID) ([]Assignment, error) {
	if rideRequestID == "" {
		return nil, fmt.Errorf("%w: missing ride request id", ErrInvalidAssignment)
	}
	return c.store.History(ctx, rideRequestID)
}

func (c *Coordinator) commit(ctx context.Context, rideRequestID, driverID types.ID, expected int64, active *Assignment) (Assignment, error) {
	next := Assignment{
		ID:            c.newID(),
		RideRequestID: rideRequestID,
		DriverID:      driverID,
		AssignedAt:    c.now().UTC(),
		Version:       expected + 1,
	}
	if active != nil {
		prev := active.ID
		next.Supersedes = &prev
	}

	ok, err := c.store.CompareAndSwap(ctx, rideRequestID, expected, next)
	if err != nil {
		c.metrics.ObserveAssignment("error")
		return Assignment{}, fmt.Errorf("commit assignment: %w", err)
	}
	if !ok {
		var winner *Assignment
		if head, err := c.store.Head(ctx, rideRequestID); err == nil {
			winner = head.Active
		}
		return Assignment{}, c.conflict(rideRequestID, expected, winner)
	}

	c.metrics.ObserveAssignment("assigned")
	c.log.Info("driver assigned",
		zap.String("ride_request_id", rideRequestID.String()),
		zap.String("driver_id", driverID.String()),
		zap.Int64("version", next.Version))
	return next, nil
}

func (c *Coordinator) conflict(rideRequestID types.ID, expected int64, current *Assignment) error {
	c.metrics.ObserveAssignment("conflict")
	fields := []zap.Field{
		zap.String("ride_request_id", rideRequestID.String()),
		zap.Int64("expected_version", expected),
	}
	if current != nil {
		fields = append(fields, zap.String("current_driver_id", current.DriverID.String()),
			zap.Int64("current_version", current.Version))
	}
	c.log.Debug("assignment conflict", fields...)
	return &ConflictError{RideRequestID: rideRequestID, ExpectedVersion: expected, Current: current}
}

func validateIDs(rideRequestID, driverID types.ID) error {
	if rideRequestID == "" || driverID == "" {
		return fmt.Errorf("%w: ride request and driver ids are required", ErrInvalidAssignment)
	}
	return nil
}

// IsConflict unwraps a *ConflictError.
func IsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
