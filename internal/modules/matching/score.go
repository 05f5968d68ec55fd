// README: Pure additive scoring and ranking of driver candidates.
package matching

import (
	"fmt"
	"math"
	"sort"

	"chauffeur/internal/modules/ride"
	"chauffeur/internal/types"
)

// Rank scores every active candidate and returns them best first. Equal
// scores are ordered by driver id. req may be nil for a general ranking.
func Rank(candidates []DriverCandidate, req *ride.Request, opts Options) []RankedDriver {
	var pickup *types.Point
	if req != nil && req.Pickup != nil && req.Pickup.Valid() {
		p := *req.Pickup
		pickup = &p
	}

	out := make([]RankedDriver, 0, len(candidates))
	for _, c := range candidates {
		if !c.IsActive {
			continue
		}
		out = append(out, score(c, pickup, opts))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MatchScore != out[j].MatchScore {
			return out[i].MatchScore > out[j].MatchScore
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Classify labels a score for presentation.
func Classify(score float64) Quality {
	switch {
	case score >= 80:
		return BestMatch
	case score >= 60:
		return GoodMatch
	case score >= 40:
		return FairMatch
	}
	return LowMatch
}

func score(c DriverCandidate, pickup *types.Point, opts Options) RankedDriver {
	r := RankedDriver{DriverCandidate: c}
	if c.CurrentLocation != nil {
		loc := *c.CurrentLocation
		r.CurrentLocation = &loc
	}

	s := baselinePoints
	if c.IsAvailable {
		s += availablePoints
	} else {
		s += busyPoints
		r.Warnings = append(r.Warnings, "Driver marked as busy")
	}

	rating := clampRating(c.Rating)
	s += math.Min(maxRatingPoints, rating/5*maxRatingPoints)
	switch {
	case rating >= excellentRating:
		r.MatchReasons = append(r.MatchReasons, "Excellent rating")
	case rating >= goodRating:
		r.MatchReasons = append(r.MatchReasons, "Good rating")
	}

	rides := c.TotalRides
	if rides < 0 {
		rides = 0
	}
	s += math.Min(maxExperiencePoints, math.Log(float64(rides)+1)*experienceScale)
	if rides >= experiencedRides {
		r.MatchReasons = append(r.MatchReasons, fmt.Sprintf("Experienced driver (%d rides)", rides))
	}

	if c.UpcomingBookingsCount > 0 {
		s -= math.Min(maxWorkloadPenalty, float64(c.UpcomingBookingsCount)*perBookingPenalty)
		r.Warnings = append(r.Warnings, fmt.Sprintf("Has %d upcoming booking(s)", c.UpcomingBookingsCount))
	} else {
		s += idlePoints
		r.MatchReasons = append(r.MatchReasons, "No pending rides")
	}

	if c.HasConflict {
		s -= conflictPenalty
		r.Warnings = append(r.Warnings, "Schedule conflict detected")
	}

	if pickup != nil {
		if loc, ok := freshLocation(c.CurrentLocation, opts); ok {
			km := haversineKm(*pickup, loc.Point)
			miles := km / kmPerMile
			r.DistanceKm = &km
			r.DistanceMiles = &miles
			s += distancePoints(km, &r)
		}
	}

	r.MatchScore = s
	r.Quality = Classify(s)
	return r
}

func distancePoints(km float64, r *RankedDriver) float64 {
	for _, b := range distanceBuckets {
		if km < b.belowKm {
			r.MatchReasons = append(r.MatchReasons, fmt.Sprintf("%s (%.1f km)", b.reason, km))
			return b.points
		}
	}
	r.Warnings = append(r.Warnings, "Far away")
	return 0
}

// freshLocation reports whether loc is usable for distance scoring at opts.Now.
func freshLocation(loc *Location, opts Options) (Location, bool) {
	if loc == nil || !loc.Point.Valid() {
		return Location{}, false
	}
	if opts.MaxLocationAge <= 0 || opts.Now.IsZero() {
		return *loc, true
	}
	if loc.Timestamp.IsZero() {
		return Location{}, false
	}
	if opts.Now.Sub(loc.Timestamp) > opts.MaxLocationAge {
		return Location{}, false
	}
	return *loc, true
}

func clampRating(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 5 {
		return 5
	}
	return v
}
