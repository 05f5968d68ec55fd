// README: Dispatcher ranks the driver pool for a ride and commits the pick through the assignment coordinator.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"chauffeur/internal/modules/assignment"
	"chauffeur/internal/modules/matching"
	"chauffeur/internal/modules/ride"
	"chauffeur/internal/types"
)

var (
	ErrInvalidCommand   = errors.New("invalid dispatch command")
	ErrNoEligibleDriver = errors.New("no eligible driver")
	ErrDriverIneligible = errors.New("requested driver is not eligible")
)

type Ranker interface {
	Rank(ctx context.Context, req *ride.Request) ([]matching.RankedDriver, error)
	RankDriver(ctx context.Context, req *ride.Request, id types.ID) (matching.RankedDriver, error)
}

type Assigner interface {
	Head(ctx context.Context, rideRequestID types.ID) (assignment.Head, error)
	AssignIfVersion(ctx context.Context, rideRequestID, driverID types.ID, expected int64) (assignment.Assignment, error)
}

type DispatchCommand struct {
	RideRequestID types.ID
	Request       *ride.Request
	// DriverID pins the pick to one driver. Empty means the best eligible one.
	DriverID *types.ID
	// ExpectedVersion is the assignment version the caller observed. Nil means
	// the ride must still be unassigned.
	ExpectedVersion *int64
}

type Result struct {
	Assignment assignment.Assignment
	Driver     matching.RankedDriver
	// Considered is how many ranked drivers were on the table.
	Considered int
}

// Service never writes driver availability; the driver-state service owns it.
type Service struct {
	ranker   Ranker
	assigner Assigner
	log      *zap.Logger
}

func NewService(ranker Ranker, assigner Assigner, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{ranker: ranker, assigner: assigner, log: log.Named("dispatch")}
}

// Dispatch commits only against the version the caller expects: zero for a
// first dispatch, or the observed version for a redispatch. Any other head
// and any concurrent winner surface as *assignment.ConflictError.
func (s *Service) Dispatch(ctx context.Context, cmd DispatchCommand) (Result, error) {
	if cmd.RideRequestID == "" {
		return Result{}, fmt.Errorf("%w: missing ride request id", ErrInvalidCommand)
	}
	if cmd.DriverID != nil && *cmd.DriverID == "" {
		return Result{}, fmt.Errorf("%w: empty driver id", ErrInvalidCommand)
	}
	var expected int64
	if cmd.ExpectedVersion != nil {
		expected = *cmd.ExpectedVersion
	}
	if expected < 0 {
		return Result{}, fmt.Errorf("%w: negative expected version", ErrInvalidCommand)
	}

	head, err := s.assigner.Head(ctx, cmd.RideRequestID)
	if err != nil {
		return Result{}, err
	}
	if head.Version != expected {
		s.log.Debug("dispatch against stale version",
			zap.String("ride_request_id", cmd.RideRequestID.String()),
			zap.Int64("expected_version", expected),
			zap.Int64("current_version", head.Version))
		return Result{}, &assignment.ConflictError{
			RideRequestID:   cmd.RideRequestID,
			ExpectedVersion: expected,
			Current:         head.Active,
		}
	}

	pick, considered, err := s.pick(ctx, cmd)
	if err != nil {
		s.log.Info("dispatch found no driver",
			zap.String("ride_request_id", cmd.RideRequestID.String()),
			zap.Int("ranked", considered),
			zap.Error(err))
		return Result{}, err
	}

	a, err := s.assigner.AssignIfVersion(ctx, cmd.RideRequestID, pick.ID, expected)
	if err != nil {
		if ce, ok := assignment.IsConflict(err); ok {
			s.log.Debug("dispatch lost assignment race",
				zap.String("ride_request_id", cmd.RideRequestID.String()),
				zap.String("picked_driver_id", pick.ID.String()),
				zap.Int64("observed_version", expected))
			return Result{}, s.withLatest(ctx, ce)
		}
		return Result{}, err
	}

	s.log.Info("ride dispatched",
		zap.String("ride_request_id", cmd.RideRequestID.String()),
		zap.String("driver_id", pick.ID.String()),
		zap.Float64("match_score", pick.MatchScore),
		zap.Int64("version", a.Version))
	return Result{Assignment: a, Driver: pick, Considered: considered}, nil
}

// pick scores a pinned driver on its own, otherwise takes the best eligible
// driver from the ranked pool.
func (s *Service) pick(ctx context.Context, cmd DispatchCommand) (matching.RankedDriver, int, error) {
	if cmd.DriverID != nil {
		d, err := s.ranker.RankDriver(ctx, cmd.Request, *cmd.DriverID)
		if errors.Is(err, matching.ErrDriverNotInPool) {
			return matching.RankedDriver{}, 0, fmt.Errorf("%w: %s is not in the active pool", ErrDriverIneligible, *cmd.DriverID)
		}
		if err != nil {
			return matching.RankedDriver{}, 0, err
		}
		if !eligible(d) {
			return matching.RankedDriver{}, 1, fmt.Errorf("%w: %s is busy or has a schedule conflict", ErrDriverIneligible, d.ID)
		}
		return d, 1, nil
	}

	ranked, err := s.ranker.Rank(ctx, cmd.Request)
	if err != nil {
		return matching.RankedDriver{}, 0, err
	}
	for _, d := range ranked {
		if eligible(d) {
			return d, len(ranked), nil
		}
	}
	return matching.RankedDriver{}, len(ranked), ErrNoEligibleDriver
}

// withLatest refreshes the conflict's winner from the store when the
// coordinator could not read it back.
func (s *Service) withLatest(ctx context.Context, ce *assignment.ConflictError) error {
	if ce.Current != nil {
		return ce
	}
	head, err := s.assigner.Head(ctx, ce.RideRequestID)
	if err != nil {
		return ce
	}
	return &assignment.ConflictError{
		RideRequestID:   ce.RideRequestID,
		ExpectedVersion: ce.ExpectedVersion,
		Current:         head.Active,
	}
}

func eligible(d matching.RankedDriver) bool {
	return d.IsActive && d.IsAvailable && !d.HasConflict
}
