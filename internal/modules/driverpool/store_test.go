package driverpool

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chauffeur/internal/modules/matching"
	"chauffeur/internal/types"
)

var (
	fixedNow   = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	timesSq    = types.Point{Lat: 40.7580, Lng: -73.9855}
	jfk        = types.Point{Lat: 40.6413, Lng: -73.7781}
	philly     = types.Point{Lat: 39.9526, Lng: -75.1652}
	background = context.Background()
)

func setupStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s := NewStore(client)
	s.now = func() time.Time { return fixedNow }
	return s, mr
}

func TestUpsertAndSnapshot(t *testing.T) {
	s, _ := setupStore(t)

	require.NoError(t, s.Upsert(background, State{
		ID: "d1", IsActive: true, IsAvailable: true, Rating: 4.8, TotalRides: 120,
		Location: &matching.Location{Point: timesSq, Timestamp: fixedNow.Add(-time.Minute)},
	}))
	require.NoError(t, s.Upsert(background, State{ID: "d2", IsActive: true, Rating: 3, UpcomingBookingsCount: 2, HasConflict: true}))

	pool, err := s.Snapshot(background, matching.SnapshotQuery{})
	require.NoError(t, err)
	require.Len(t, pool, 2)

	d1, d2 := pool[0], pool[1]
	assert.Equal(t, types.ID("d1"), d1.ID)
	assert.True(t, d1.IsAvailable)
	assert.Equal(t, 4.8, d1.Rating)
	assert.Equal(t, 120, d1.TotalRides)
	require.NotNil(t, d1.CurrentLocation)
	assert.InDelta(t, timesSq.Lat, d1.CurrentLocation.Point.Lat, 1e-9)
	assert.True(t, fixedNow.Add(-time.Minute).Equal(d1.CurrentLocation.Timestamp))

	assert.False(t, d2.IsAvailable)
	assert.True(t, d2.HasConflict)
	assert.Equal(t, 2, d2.UpcomingBookingsCount)
	assert.Nil(t, d2.CurrentLocation)
}

func TestUpsertReplacesRecord(t *testing.T) {
	s, mr := setupStore(t)
	require.NoError(t, s.Upsert(background, State{ID: "d1", IsActive: true,
		Location: &matching.Location{Point: timesSq, Timestamp: fixedNow}}))
	require.NoError(t, s.Upsert(background, State{ID: "d1", IsActive: false}))

	got, err := s.Get(background, "d1")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Nil(t, got.CurrentLocation)
	members, _ := mr.ZMembers(geoKey)
	assert.Empty(t, members)
}

func TestUpsertRejectsBadState(t *testing.T) {
	s, _ := setupStore(t)
	assert.ErrorIs(t, s.Upsert(background, State{}), ErrInvalidState)
	assert.ErrorIs(t, s.Upsert(background, State{ID: "d", Rating: 6}), ErrInvalidState)
	assert.ErrorIs(t, s.Upsert(background, State{ID: "d",
		Location: &matching.Location{Point: types.Point{Lat: 91}}}), ErrInvalidState)
}

func TestUpdateLocationAndAvailability(t *testing.T) {
	s, _ := setupStore(t)
	require.NoError(t, s.Upsert(background, State{ID: "d1", IsActive: true}))

	require.NoError(t, s.UpdateLocation(background, "d1", jfk, time.Time{}))
	require.NoError(t, s.SetAvailability(background, "d1", true))

	got, err := s.Get(background, "d1")
	require.NoError(t, err)
	assert.True(t, got.IsAvailable)
	require.NotNil(t, got.CurrentLocation)
	assert.InDelta(t, jfk.Lng, got.CurrentLocation.Point.Lng, 1e-9)
	assert.True(t, fixedNow.Equal(got.CurrentLocation.Timestamp))

	assert.ErrorIs(t, s.UpdateLocation(background, "ghost", jfk, fixedNow), ErrUnknownDriver)
	assert.ErrorIs(t, s.SetAvailability(background, "ghost", true), ErrUnknownDriver)
	assert.ErrorIs(t, s.UpdateLocation(background, "d1", types.Point{Lat: 0, Lng: 200}, fixedNow), ErrInvalidState)
}

func TestSnapshotToleratesMalformedFields(t *testing.T) {
	s, mr := setupStore(t)
	mr.SAdd(membersKey, "bad")
	mr.HSet(driverKey("bad"),
		fieldActive, "yes please",
		fieldAvailable, "1",
		fieldRating, "five",
		fieldRides, "-3",
		fieldLocation, `{"lat":"north","lng":2}`,
	)
	mr.SAdd(membersKey, "gone")

	pool, err := s.Snapshot(background, matching.SnapshotQuery{})
	require.NoError(t, err)
	require.Len(t, pool, 1)
	c := pool[0]
	assert.False(t, c.IsActive)
	assert.True(t, c.IsAvailable)
	assert.Zero(t, c.Rating)
	assert.Zero(t, c.TotalRides)
	assert.Nil(t, c.CurrentLocation)
}

func TestRemove(t *testing.T) {
	s, _ := setupStore(t)
	require.NoError(t, s.Upsert(background, State{ID: "d1", IsActive: true,
		Location: &matching.Location{Point: timesSq}}))
	require.NoError(t, s.Remove(background, "d1"))

	pool, err := s.Snapshot(background, matching.SnapshotQuery{})
	require.NoError(t, err)
	assert.Empty(t, pool)
	_, err = s.Get(background, "d1")
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestSnapshotWithinRadius(t *testing.T) {
	s, _ := setupStore(t)
	for id, p := range map[types.ID]types.Point{"near": timesSq, "airport": jfk, "philly": philly} {
		require.NoError(t, s.Upsert(background, State{ID: id, IsActive: true,
			Location: &matching.Location{Point: p, Timestamp: fixedNow}}))
	}

	near := timesSq
	pool, err := s.Snapshot(background, matching.SnapshotQuery{Near: &near, RadiusKm: 30})
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unknown command") {
		t.Skip("GEOSEARCH not supported by this redis")
	}
	require.NoError(t, err)
	ids := make([]types.ID, 0, len(pool))
	for _, c := range pool {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []types.ID{"near", "airport"}, ids)
}
