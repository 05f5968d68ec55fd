package matching

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chauffeur/internal/modules/ride"
	"chauffeur/internal/types"
)

var (
	now    = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	pickup = types.Point{Lat: 40.7580, Lng: -73.9855}
)

func requestAt(p types.Point) *ride.Request {
	return &ride.Request{
		ServiceType:  ride.ServiceTransfer,
		VehicleClass: ride.BusinessSedan,
		ScheduledAt:  now,
		Pickup:       &p,
	}
}

// offsetNorth returns a point km kilometres due north of pickup.
func offsetNorth(km float64) types.Point {
	return types.Point{Lat: pickup.Lat + km/(earthRadiusKm*math.Pi/180), Lng: pickup.Lng}
}

func located(c DriverCandidate, p types.Point, at time.Time) DriverCandidate {
	c.CurrentLocation = &Location{Point: p, Timestamp: at}
	return c
}

func TestRank_DriverAVersusB(t *testing.T) {
	a := DriverCandidate{ID: "A", IsActive: true, IsAvailable: true, Rating: 4.8, TotalRides: 120}
	b := DriverCandidate{ID: "B", IsActive: true, IsAvailable: true, Rating: 3.0, TotalRides: 5, UpcomingBookingsCount: 2}

	ranked := Rank([]DriverCandidate{b, a}, nil, Options{})
	require.Len(t, ranked, 2)
	assert.Equal(t, types.ID("A"), ranked[0].ID)
	assert.Greater(t, ranked[0].MatchScore, ranked[1].MatchScore)

	assert.InDelta(t, 89.2, ranked[0].MatchScore, 1e-9)
	assert.Equal(t, BestMatch, ranked[0].Quality)
	assert.Equal(t, []string{"Excellent rating", "Experienced driver (120 rides)", "No pending rides"}, ranked[0].MatchReasons)
	assert.Empty(t, ranked[0].Warnings)

	assert.InDelta(t, 20+30+12+math.Log(6)*5-10, ranked[1].MatchScore, 1e-9)
	assert.Equal(t, []string{"Has 2 upcoming booking(s)"}, ranked[1].Warnings)
	assert.Nil(t, ranked[1].DistanceKm)
}

func TestRank_ExcludesInactive(t *testing.T) {
	var pool []DriverCandidate
	for i := 0; i < 40; i++ {
		pool = append(pool, DriverCandidate{
			ID:          types.ID(fmt.Sprintf("d%02d", i)),
			IsActive:    i%3 != 0,
			IsAvailable: i%2 == 0,
			Rating:      float64(i%6) - 0.5,
			TotalRides:  i * 7,
			HasConflict: i%5 == 0,
		})
	}
	ranked := Rank(pool, requestAt(pickup), Options{Now: now})
	for _, r := range ranked {
		assert.True(t, r.IsActive, "inactive driver %s ranked", r.ID)
	}
	assert.Len(t, ranked, 26)
}

func TestRank_TiesBrokenByID(t *testing.T) {
	same := DriverCandidate{IsActive: true, IsAvailable: true, Rating: 4.0, TotalRides: 10}
	c, a, b := same, same, same
	c.ID, a.ID, b.ID = "c", "a", "b"

	ranked := Rank([]DriverCandidate{c, a, b}, nil, Options{})
	require.Len(t, ranked, 3)
	assert.Equal(t, []types.ID{"a", "b", "c"}, []types.ID{ranked[0].ID, ranked[1].ID, ranked[2].ID})
}

func TestRank_BusyAndConflict(t *testing.T) {
	d := DriverCandidate{ID: "x", IsActive: true, Rating: 0, TotalRides: 0, HasConflict: true, UpcomingBookingsCount: 9}
	ranked := Rank([]DriverCandidate{d}, nil, Options{})
	require.Len(t, ranked, 1)
	// 20 + 5 + 0 + 0 - 15 - 30
	assert.InDelta(t, -20.0, ranked[0].MatchScore, 1e-9)
	assert.Equal(t, LowMatch, ranked[0].Quality)
	assert.Equal(t, []string{"Driver marked as busy", "Has 9 upcoming booking(s)", "Schedule conflict detected"}, ranked[0].Warnings)
}

func TestRank_RatingClamped(t *testing.T) {
	high := DriverCandidate{ID: "h", IsActive: true, IsAvailable: true, Rating: 7}
	low := DriverCandidate{ID: "l", IsActive: true, IsAvailable: true, Rating: -2}
	nan := DriverCandidate{ID: "n", IsActive: true, IsAvailable: true, Rating: math.NaN()}

	ranked := Rank([]DriverCandidate{high, low, nan}, nil, Options{})
	require.Len(t, ranked, 3)
	assert.InDelta(t, 20+30+20+5, ranked[0].MatchScore, 1e-9)
	assert.InDelta(t, 20+30+0+5, ranked[1].MatchScore, 1e-9)
	assert.InDelta(t, ranked[1].MatchScore, ranked[2].MatchScore, 1e-9)
}

func TestRank_DistanceBuckets(t *testing.T) {
	base := DriverCandidate{IsActive: true, IsAvailable: true, Rating: 0}
	baseScore := 20.0 + 30 + 5

	tests := []struct {
		km      float64
		bonus   float64
		farAway bool
	}{
		{0, 20, false},
		{4.9, 20, false},
		{5.1, 15, false},
		{9.9, 15, false},
		{10.1, 10, false},
		{19.9, 10, false},
		{20.1, 5, false},
		{49.9, 5, false},
		{50.1, 0, true},
		{300, 0, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.1fkm", tt.km), func(t *testing.T) {
			c := located(base, offsetNorth(tt.km), now)
			c.ID = "d"
			ranked := Rank([]DriverCandidate{c}, requestAt(pickup), Options{Now: now, MaxLocationAge: time.Hour})
			require.Len(t, ranked, 1)
			r := ranked[0]
			assert.InDelta(t, baseScore+tt.bonus, r.MatchScore, 1e-9)
			require.NotNil(t, r.DistanceKm)
			require.NotNil(t, r.DistanceMiles)
			assert.InDelta(t, tt.km, *r.DistanceKm, 0.01)
			assert.InDelta(t, *r.DistanceKm/1.609344, *r.DistanceMiles, 1e-9)
			if tt.farAway {
				assert.Contains(t, r.Warnings, "Far away")
			} else {
				assert.NotContains(t, r.Warnings, "Far away")
			}
		})
	}
}

func TestRank_LocationFreshness(t *testing.T) {
	base := DriverCandidate{ID: "d", IsActive: true, IsAvailable: true}
	opts := Options{Now: now, MaxLocationAge: 10 * time.Minute}

	tests := []struct {
		name      string
		candidate DriverCandidate
		scored    bool
	}{
		{"fresh", located(base, offsetNorth(1), now.Add(-time.Minute)), true},
		{"stale", located(base, offsetNorth(1), now.Add(-time.Hour)), false},
		{"unknown timestamp", located(base, offsetNorth(1), time.Time{}), false},
		{"out of range", located(base, types.Point{Lat: 123, Lng: 0}, now), false},
		{"no location", base, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranked := Rank([]DriverCandidate{tt.candidate}, requestAt(pickup), opts)
			require.Len(t, ranked, 1)
			assert.Equal(t, tt.scored, ranked[0].DistanceKm != nil)
		})
	}

	t.Run("zero max age accepts any fix", func(t *testing.T) {
		c := located(base, offsetNorth(1), time.Time{})
		ranked := Rank([]DriverCandidate{c}, requestAt(pickup), Options{Now: now})
		require.Len(t, ranked, 1)
		assert.NotNil(t, ranked[0].DistanceKm)
	})
}

func TestRank_NoRequestIgnoresDistance(t *testing.T) {
	c := located(DriverCandidate{ID: "d", IsActive: true, IsAvailable: true}, offsetNorth(1), now)
	withReq := Rank([]DriverCandidate{c}, requestAt(pickup), Options{Now: now})
	without := Rank([]DriverCandidate{c}, nil, Options{Now: now})
	noPickup := Rank([]DriverCandidate{c}, &ride.Request{ScheduledAt: now}, Options{Now: now})

	assert.InDelta(t, without[0].MatchScore+20, withReq[0].MatchScore, 1e-9)
	assert.Nil(t, without[0].DistanceKm)
	assert.Nil(t, noPickup[0].DistanceKm)
}

func TestRank_DoesNotMutateInput(t *testing.T) {
	loc := &Location{Point: offsetNorth(2), Timestamp: now}
	pool := []DriverCandidate{
		{ID: "b", IsActive: true, CurrentLocation: loc},
		{ID: "a", IsActive: true, IsAvailable: true},
	}
	ranked := Rank(pool, requestAt(pickup), Options{Now: now})
	require.Len(t, ranked, 2)
	assert.Equal(t, types.ID("b"), pool[0].ID)

	ranked[1].CurrentLocation.Point.Lat = 0
	assert.NotEqual(t, 0.0, loc.Point.Lat)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, BestMatch, Classify(80))
	assert.Equal(t, GoodMatch, Classify(79.99))
	assert.Equal(t, GoodMatch, Classify(60))
	assert.Equal(t, FairMatch, Classify(40))
	assert.Equal(t, LowMatch, Classify(39.9))
	assert.Equal(t, LowMatch, Classify(-50))
}
