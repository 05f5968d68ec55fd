// README: Driver candidates as seen by the matching engine and the ranked output it produces.
package matching

import (
	"time"

	"chauffeur/internal/types"
)

// Location is a driver's last reported position. Timestamp is zero when the
// source did not say when the fix was taken.
type Location struct {
	Point     types.Point
	Timestamp time.Time
}

// DriverCandidate is rebuilt from the driver pool on every ranking call.
type DriverCandidate struct {
	ID                    types.ID
	IsActive              bool
	IsAvailable           bool
	Rating                float64
	TotalRides            int
	UpcomingBookingsCount int
	HasConflict           bool
	CurrentLocation       *Location
}

type Quality string

const (
	BestMatch Quality = "Best Match"
	GoodMatch Quality = "Good Match"
	FairMatch Quality = "Fair Match"
	LowMatch  Quality = "Low Match"
)

type RankedDriver struct {
	DriverCandidate
	MatchScore float64
	// DistanceKm and DistanceMiles are set only when a pickup and a fresh
	// driver location were both available.
	DistanceKm    *float64
	DistanceMiles *float64
	MatchReasons  []string
	Warnings      []string
	Quality       Quality
}

// Options pins the clock so ranking stays a pure function of its inputs.
type Options struct {
	Now time.Time
	// MaxLocationAge bounds how old a location fix may be. Zero accepts any fix.
	MaxLocationAge time.Duration
}

// Scoring weights.
const (
	baselinePoints      = 20.0
	availablePoints     = 30.0
	busyPoints          = 5.0
	maxRatingPoints     = 20.0
	maxExperiencePoints = 15.0
	experienceScale     = 5.0
	perBookingPenalty   = 5.0
	maxWorkloadPenalty  = 15.0
	idlePoints          = 5.0
	conflictPenalty     = 30.0

	excellentRating  = 4.5
	goodRating       = 4.0
	experiencedRides = 50
)

type distanceBucket struct {
	belowKm float64
	points  float64
	reason  string
}

// Evaluated in order; first match wins.
var distanceBuckets = []distanceBucket{
	{5, 20, "Very close to pickup"},
	{10, 15, "Close to pickup"},
	{20, 10, "Moderate distance to pickup"},
	{50, 5, "Within 50 km of pickup"},
}
