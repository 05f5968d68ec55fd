package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chauffeur/internal/config"
	"chauffeur/internal/modules/assignment"
	"chauffeur/internal/modules/matching"
	"chauffeur/internal/modules/ride"
	"chauffeur/internal/types"
)

type fakeRanker struct {
	ranked []matching.RankedDriver
	err    error
	// before runs inside Rank, between the head read and the commit.
	before func()
}

func (f *fakeRanker) Rank(context.Context, *ride.Request) ([]matching.RankedDriver, error) {
	if f.before != nil {
		f.before()
	}
	return f.ranked, f.err
}

func (f *fakeRanker) RankDriver(_ context.Context, _ *ride.Request, id types.ID) (matching.RankedDriver, error) {
	if f.err != nil {
		return matching.RankedDriver{}, f.err
	}
	for _, d := range f.ranked {
		if d.ID == id {
			return d, nil
		}
	}
	return matching.RankedDriver{}, matching.ErrDriverNotInPool
}

type staticPool []matching.DriverCandidate

func (p staticPool) Snapshot(context.Context, matching.SnapshotQuery) ([]matching.DriverCandidate, error) {
	return p, nil
}

func ranked(id types.ID, score float64, available, conflict bool) matching.RankedDriver {
	return matching.RankedDriver{
		DriverCandidate: matching.DriverCandidate{ID: id, IsActive: true, IsAvailable: available, HasConflict: conflict},
		MatchScore:      score,
	}
}

func driverID(id types.ID) *types.ID { return &id }

func version(v int64) *int64 { return &v }

func TestDispatchPicksTopEligible(t *testing.T) {
	ctx := context.Background()
	coord := assignment.NewCoordinator(assignment.NewMemoryStore(), nil, nil)
	svc := NewService(&fakeRanker{ranked: []matching.RankedDriver{
		ranked("busy", 90, false, false),
		ranked("clash", 80, true, true),
		ranked("B", 70, true, false),
		ranked("C", 60, true, false),
	}}, coord, nil)

	res, err := svc.Dispatch(ctx, DispatchCommand{RideRequestID: "ride123"})
	require.NoError(t, err)
	assert.Equal(t, types.ID("B"), res.Assignment.DriverID)
	assert.Equal(t, int64(1), res.Assignment.Version)
	assert.Equal(t, 4, res.Considered)
}

func TestDispatchRequestedDriver(t *testing.T) {
	ctx := context.Background()
	coord := assignment.NewCoordinator(assignment.NewMemoryStore(), nil, nil)
	svc := NewService(&fakeRanker{ranked: []matching.RankedDriver{
		ranked("A", 90, true, false),
		ranked("B", 70, true, false),
		ranked("busy", 50, false, false),
	}}, coord, nil)

	res, err := svc.Dispatch(ctx, DispatchCommand{RideRequestID: "r1", DriverID: driverID("B")})
	require.NoError(t, err)
	assert.Equal(t, types.ID("B"), res.Assignment.DriverID)
	assert.Equal(t, 1, res.Considered)

	_, err = svc.Dispatch(ctx, DispatchCommand{RideRequestID: "r2", DriverID: driverID("busy")})
	assert.ErrorIs(t, err, ErrDriverIneligible)

	_, err = svc.Dispatch(ctx, DispatchCommand{RideRequestID: "r3", DriverID: driverID("ghost")})
	assert.ErrorIs(t, err, ErrDriverIneligible)
}

func TestDispatchPinnedDriverOutsideRankLimit(t *testing.T) {
	ctx := context.Background()
	pool := staticPool{
		{ID: "top", IsActive: true, IsAvailable: true, Rating: 5, TotalRides: 400},
		{ID: "pinned", IsActive: true, IsAvailable: true, Rating: 3.5},
	}
	ranker := matching.NewService(pool, config.MatchingConfig{Limit: 1}, nil, nil)
	coord := assignment.NewCoordinator(assignment.NewMemoryStore(), nil, nil)
	svc := NewService(ranker, coord, nil)

	res, err := svc.Dispatch(ctx, DispatchCommand{RideRequestID: "r", DriverID: driverID("pinned")})
	require.NoError(t, err)
	assert.Equal(t, types.ID("pinned"), res.Assignment.DriverID)
	assert.Equal(t, types.ID("pinned"), res.Driver.ID)
}

func TestDispatchNoEligibleDriver(t *testing.T) {
	coord := assignment.NewCoordinator(assignment.NewMemoryStore(), nil, nil)
	svc := NewService(&fakeRanker{ranked: []matching.RankedDriver{ranked("busy", 90, false, false)}}, coord, nil)

	_, err := svc.Dispatch(context.Background(), DispatchCommand{RideRequestID: "r"})
	assert.ErrorIs(t, err, ErrNoEligibleDriver)

	head, err := coord.Head(context.Background(), "r")
	require.NoError(t, err)
	assert.Zero(t, head.Version)
}

func TestDispatchLosesRaceToConcurrentAssign(t *testing.T) {
	ctx := context.Background()
	coord := assignment.NewCoordinator(assignment.NewMemoryStore(), nil, nil)
	rk := &fakeRanker{ranked: []matching.RankedDriver{ranked("X", 90, true, false)}}
	rk.before = func() {
		_, err := coord.Assign(ctx, "ride123", "Y")
		require.NoError(t, err)
	}
	svc := NewService(rk, coord, nil)

	_, err := svc.Dispatch(ctx, DispatchCommand{RideRequestID: "ride123"})
	require.ErrorIs(t, err, assignment.ErrAssignmentConflict)
	ce, ok := assignment.IsConflict(err)
	require.True(t, ok)
	require.NotNil(t, ce.Current)
	assert.Equal(t, types.ID("Y"), ce.Current.DriverID)

	cur, err := coord.Current(ctx, "ride123")
	require.NoError(t, err)
	assert.Equal(t, types.ID("Y"), cur.DriverID)
}

func TestDispatchRetryKeepsExistingAssignment(t *testing.T) {
	ctx := context.Background()
	coord := assignment.NewCoordinator(assignment.NewMemoryStore(), nil, nil)
	rk := &fakeRanker{ranked: []matching.RankedDriver{ranked("A", 90, true, false)}}
	svc := NewService(rk, coord, nil)

	_, err := svc.Dispatch(ctx, DispatchCommand{RideRequestID: "r"})
	require.NoError(t, err)

	rk.ranked = []matching.RankedDriver{ranked("B", 95, true, false)}
	_, err = svc.Dispatch(ctx, DispatchCommand{RideRequestID: "r"})
	require.ErrorIs(t, err, assignment.ErrAssignmentConflict)
	ce, ok := assignment.IsConflict(err)
	require.True(t, ok)
	require.NotNil(t, ce.Current)
	assert.Equal(t, types.ID("A"), ce.Current.DriverID)

	head, err := coord.Head(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, int64(1), head.Version)
	assert.Equal(t, types.ID("A"), head.Active.DriverID)
}

func TestDispatchRedispatchSupersedes(t *testing.T) {
	ctx := context.Background()
	coord := assignment.NewCoordinator(assignment.NewMemoryStore(), nil, nil)
	svc := NewService(&fakeRanker{ranked: []matching.RankedDriver{
		ranked("A", 90, true, false),
		ranked("B", 70, true, false),
	}}, coord, nil)

	first, err := svc.Dispatch(ctx, DispatchCommand{RideRequestID: "r"})
	require.NoError(t, err)

	_, err = svc.Dispatch(ctx, DispatchCommand{RideRequestID: "r", DriverID: driverID("B"), ExpectedVersion: version(5)})
	assert.ErrorIs(t, err, assignment.ErrAssignmentConflict)

	second, err := svc.Dispatch(ctx, DispatchCommand{
		RideRequestID:   "r",
		DriverID:        driverID("B"),
		ExpectedVersion: version(first.Assignment.Version),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Assignment.Version)
	require.NotNil(t, second.Assignment.Supersedes)
	assert.Equal(t, first.Assignment.ID, *second.Assignment.Supersedes)
}

func TestDispatchValidationAndRankErrors(t *testing.T) {
	ctx := context.Background()
	coord := assignment.NewCoordinator(assignment.NewMemoryStore(), nil, nil)

	svc := NewService(&fakeRanker{}, coord, nil)
	_, err := svc.Dispatch(ctx, DispatchCommand{})
	assert.ErrorIs(t, err, ErrInvalidCommand)
	_, err = svc.Dispatch(ctx, DispatchCommand{RideRequestID: "r", DriverID: driverID("")})
	assert.ErrorIs(t, err, ErrInvalidCommand)
	_, err = svc.Dispatch(ctx, DispatchCommand{RideRequestID: "r", ExpectedVersion: version(-1)})
	assert.ErrorIs(t, err, ErrInvalidCommand)

	boom := errors.New("redis down")
	svc = NewService(&fakeRanker{err: boom}, coord, nil)
	_, err = svc.Dispatch(ctx, DispatchCommand{RideRequestID: "r"})
	assert.ErrorIs(t, err, boom)
	_, err = svc.Dispatch(ctx, DispatchCommand{RideRequestID: "r", DriverID: driverID("A")})
	assert.ErrorIs(t, err, boom)
}
