package matching

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chauffeur/internal/config"
	"chauffeur/internal/metrics"
	"chauffeur/internal/types"
)

type fakePool struct {
	drivers []DriverCandidate
	err     error
	last    SnapshotQuery
}

func (f *fakePool) Snapshot(_ context.Context, q SnapshotQuery) ([]DriverCandidate, error) {
	f.last = q
	return f.drivers, f.err
}

func newTestService(pool Pool, cfg config.MatchingConfig) *Service {
	svc := NewService(pool, cfg, nil, metrics.New())
	svc.now = func() time.Time { return now }
	return svc
}

func TestService_RankUsesRadiusWhenPickupKnown(t *testing.T) {
	pool := &fakePool{drivers: []DriverCandidate{
		located(DriverCandidate{ID: "near", IsActive: true, IsAvailable: true}, offsetNorth(1), now.Add(-time.Minute)),
		located(DriverCandidate{ID: "stale", IsActive: true, IsAvailable: true}, offsetNorth(1), now.Add(-2*time.Hour)),
	}}
	svc := newTestService(pool, config.MatchingConfig{RadiusKm: 15, MaxLocationAge: 30 * time.Minute})

	ranked, err := svc.Rank(context.Background(), requestAt(pickup))
	require.NoError(t, err)
	require.NotNil(t, pool.last.Near)
	assert.Equal(t, 15.0, pool.last.RadiusKm)
	require.Len(t, ranked, 2)
	assert.Equal(t, types.ID("near"), ranked[0].ID)
	assert.Nil(t, ranked[1].DistanceKm)
}

func TestService_RankWithoutRequest(t *testing.T) {
	pool := &fakePool{}
	for i := 0; i < 5; i++ {
		pool.drivers = append(pool.drivers, DriverCandidate{ID: types.ID(fmt.Sprintf("d%d", i)), IsActive: true, TotalRides: i * i})
	}
	svc := newTestService(pool, config.MatchingConfig{RadiusKm: 15, Limit: 3})

	ranked, err := svc.Rank(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, pool.last.Near)
	require.Len(t, ranked, 3)
	assert.Equal(t, types.ID("d4"), ranked[0].ID)
}

func TestService_RankPoolError(t *testing.T) {
	boom := errors.New("redis unavailable")
	svc := newTestService(&fakePool{err: boom}, config.MatchingConfig{})
	_, err := svc.Rank(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
}

func TestService_RankDriverIgnoresLimitAndRadius(t *testing.T) {
	pool := &fakePool{drivers: []DriverCandidate{
		{ID: "top", IsActive: true, IsAvailable: true, Rating: 5, TotalRides: 500},
		{ID: "pinned", IsActive: true, IsAvailable: true, Rating: 3},
		{ID: "off", IsActive: false, IsAvailable: true},
	}}
	svc := newTestService(pool, config.MatchingConfig{RadiusKm: 5, Limit: 1})

	ranked, err := svc.Rank(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, types.ID("top"), ranked[0].ID)

	d, err := svc.RankDriver(context.Background(), requestAt(pickup), "pinned")
	require.NoError(t, err)
	assert.Equal(t, types.ID("pinned"), d.ID)
	assert.Nil(t, pool.last.Near)
	assert.Positive(t, d.MatchScore)

	_, err = svc.RankDriver(context.Background(), nil, "off")
	assert.ErrorIs(t, err, ErrDriverNotInPool)
	_, err = svc.RankDriver(context.Background(), nil, "ghost")
	assert.ErrorIs(t, err, ErrDriverNotInPool)
}
