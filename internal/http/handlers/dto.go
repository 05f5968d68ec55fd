// README: Wire shapes for the HTTP API. Amounts are strings with two decimals.
package handlers

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"chauffeur/internal/modules/assignment"
	"chauffeur/internal/modules/matching"
	"chauffeur/internal/modules/pricing"
	"chauffeur/internal/modules/ride"
	"chauffeur/internal/types"
)

type rideRequest struct {
	ID                     string              `json:"id"`
	ServiceType            string              `json:"serviceType"`
	VehicleClass           string              `json:"vehicleClass"`
	Pickup                 *types.Point        `json:"pickup"`
	Destination            *types.Point        `json:"destination"`
	ScheduledAt            time.Time           `json:"scheduledAt"`
	EstimatedDistanceMiles decimal.NullDecimal `json:"estimatedDistanceMiles"`
	RequestedHours         decimal.NullDecimal `json:"requestedHours"`
	AirportPickupCode      string              `json:"airportPickupCode"`
	AirportDropoffCode     string              `json:"airportDropoffCode"`
	AirportWaitMinutes     *int                `json:"airportWaitMinutes"`
	MeetAndGreet           bool                `json:"meetAndGreet"`
}

func (r rideRequest) toDomain() ride.Request {
	return ride.Request{
		ID:                     types.ID(r.ID),
		ServiceType:            ride.ServiceType(r.ServiceType),
		VehicleClass:           ride.VehicleClass(r.VehicleClass),
		Pickup:                 r.Pickup,
		Destination:            r.Destination,
		ScheduledAt:            r.ScheduledAt,
		EstimatedDistanceMiles: r.EstimatedDistanceMiles,
		RequestedHours:         r.RequestedHours,
		AirportPickupCode:      r.AirportPickupCode,
		AirportDropoffCode:     r.AirportDropoffCode,
		AirportWaitMinutes:     r.AirportWaitMinutes,
		MeetAndGreet:           r.MeetAndGreet,
	}
}

type lineItemResponse struct {
	Label  string `json:"label"`
	Amount string `json:"amount"`
}

type fareResponse struct {
	RuleID          string             `json:"ruleId"`
	ServiceType     string             `json:"serviceType"`
	Currency        string             `json:"currency"`
	LineItems       []lineItemResponse `json:"lineItems"`
	Total           string             `json:"total"`
	SurgeMultiplier string             `json:"surgeMultiplier"`
	BilledHours     string             `json:"billedHours,omitempty"`
	UnpricedMiles   string             `json:"unpricedMiles,omitempty"`
	Warnings        []string           `json:"warnings"`
}

func toFareResponse(f pricing.FareBreakdown) fareResponse {
	items := f.LineItems()
	out := fareResponse{
		RuleID:          f.RuleID.String(),
		ServiceType:     string(f.ServiceType),
		Currency:        f.Currency,
		LineItems:       make([]lineItemResponse, 0, len(items)),
		Total:           types.FormatAmount(f.Total),
		SurgeMultiplier: f.SurgeMultiplier.String(),
		Warnings:        f.Warnings(),
	}
	for _, li := range items {
		out.LineItems = append(out.LineItems, lineItemResponse{Label: li.Label, Amount: types.FormatAmount(li.Amount)})
	}
	if f.BilledHours.IsPositive() {
		out.BilledHours = f.BilledHours.String()
	}
	if f.UnpricedMiles.IsPositive() {
		out.UnpricedMiles = f.UnpricedMiles.String()
	}
	return out
}

type ruleResponse struct {
	ID              string                 `json:"id"`
	VehicleClass    string                 `json:"vehicleClass"`
	ServiceType     string                 `json:"serviceType"`
	BaseRate        *string                `json:"baseRate"`
	PerMileRate     *string                `json:"perMileRate"`
	HourlyRate      *string                `json:"hourlyRate"`
	MinimumHours    *string                `json:"minimumHours"`
	MinimumFare     *string                `json:"minimumFare"`
	GratuityPercent *string                `json:"gratuityPercent"`
	OvertimeRate    *string                `json:"overtimeRate"`
	AirportFees     []pricing.AirportFee   `json:"airportFees"`
	MeetAndGreet    pricing.MeetAndGreet   `json:"meetAndGreet"`
	SurgeWindows    []pricing.SurgeWindow  `json:"surgeWindows"`
	DistanceTiers   []pricing.DistanceTier `json:"distanceTiers"`
	EffectiveStart  time.Time              `json:"effectiveStart"`
	EffectiveEnd    *time.Time             `json:"effectiveEnd"`
	IsActive        bool                   `json:"isActive"`
}

func toRuleResponse(r pricing.PricingRule) ruleResponse {
	return ruleResponse{
		ID:              r.ID.String(),
		VehicleClass:    string(r.VehicleClass),
		ServiceType:     string(r.ServiceType),
		BaseRate:        optional(r.BaseRate),
		PerMileRate:     optional(r.PerMileRate),
		HourlyRate:      optional(r.HourlyRate),
		MinimumHours:    optional(r.MinimumHours),
		MinimumFare:     optional(r.MinimumFare),
		GratuityPercent: optional(r.GratuityPercent),
		OvertimeRate:    optional(r.OvertimeRate),
		AirportFees:     r.AirportFees,
		MeetAndGreet:    r.MeetAndGreet,
		SurgeWindows:    r.SurgeWindows,
		DistanceTiers:   r.DistanceTiers,
		EffectiveStart:  r.EffectiveStart,
		EffectiveEnd:    r.EffectiveEnd,
		IsActive:        r.IsActive,
	}
}

func optional(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

type rankedDriverResponse struct {
	ID                    string    `json:"id"`
	IsActive              bool      `json:"isActive"`
	IsAvailable           bool      `json:"isAvailable"`
	Rating                float64   `json:"rating"`
	TotalRides            int       `json:"totalRides"`
	UpcomingBookingsCount int       `json:"upcomingBookingsCount"`
	HasConflict           bool      `json:"hasConflict"`
	MatchScore            float64   `json:"matchScore"`
	DistanceKm            *float64  `json:"distanceKm"`
	DistanceMiles         *float64  `json:"distanceMiles"`
	MatchReasons          []string  `json:"matchReasons"`
	Warnings              []string  `json:"warnings"`
	MatchQuality          string    `json:"matchQuality"`
	CurrentLocation       *location `json:"currentLocation,omitempty"`
}

type location struct {
	Lat       float64    `json:"lat"`
	Lng       float64    `json:"lng"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func toRankedResponse(d matching.RankedDriver) rankedDriverResponse {
	out := rankedDriverResponse{
		ID:                    d.ID.String(),
		IsActive:              d.IsActive,
		IsAvailable:           d.IsAvailable,
		Rating:                d.Rating,
		TotalRides:            d.TotalRides,
		UpcomingBookingsCount: d.UpcomingBookingsCount,
		HasConflict:           d.HasConflict,
		MatchScore:            d.MatchScore,
		DistanceKm:            d.DistanceKm,
		DistanceMiles:         d.DistanceMiles,
		MatchReasons:          nonNil(d.MatchReasons),
		Warnings:              nonNil(d.Warnings),
		MatchQuality:          string(d.Quality),
	}
	if d.CurrentLocation != nil {
		out.CurrentLocation = &location{Lat: d.CurrentLocation.Point.Lat, Lng: d.CurrentLocation.Point.Lng}
		if ts := d.CurrentLocation.Timestamp; !ts.IsZero() {
			out.CurrentLocation.Timestamp = &ts
		}
	}
	return out
}

type assignmentResponse struct {
	ID            string    `json:"id"`
	RideRequestID string    `json:"rideRequestId"`
	DriverID      string    `json:"driverId"`
	AssignedAt    time.Time `json:"assignedAt"`
	Version       int64     `json:"version"`
	Supersedes    *string   `json:"supersedes"`
	SupersededBy  *string   `json:"supersededBy,omitempty"`
}

func toAssignmentResponse(a assignment.Assignment) assignmentResponse {
	return assignmentResponse{
		ID:            a.ID.String(),
		RideRequestID: a.RideRequestID.String(),
		DriverID:      a.DriverID.String(),
		AssignedAt:    a.AssignedAt,
		Version:       a.Version,
		Supersedes:    idString(a.Supersedes),
		SupersededBy:  idString(a.SupersededBy),
	}
}

func idString(id *types.ID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func parseOptionalTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339", raw)
	}
	return t, nil
}
