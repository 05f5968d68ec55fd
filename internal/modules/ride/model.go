// README: Ride request shape shared by pricing, matching and dispatch.
package ride

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"chauffeur/internal/types"
)

type VehicleClass string

const (
	BusinessSedan   VehicleClass = "business_sedan"
	BusinessSUV     VehicleClass = "business_suv"
	FirstClassSedan VehicleClass = "first_class_sedan"
	FirstClassSUV   VehicleClass = "first_class_suv"
	BusinessVan     VehicleClass = "business_van"
)

func (c VehicleClass) IsValid() bool {
	switch c {
	case BusinessSedan, BusinessSUV, FirstClassSedan, FirstClassSUV, BusinessVan:
		return true
	}
	return false
}

type ServiceType string

const (
	ServiceTransfer ServiceType = "transfer"
	ServiceHourly   ServiceType = "hourly"
)

func (s ServiceType) IsValid() bool {
	return s == ServiceTransfer || s == ServiceHourly
}

var ErrInvalidRequest = errors.New("invalid ride request")

// Request is the booking-time description of a ride. Distance applies to
// transfers, RequestedHours to hourly bookings.
type Request struct {
	ID                     types.ID
	ServiceType            ServiceType
	VehicleClass           VehicleClass
	Pickup                 *types.Point
	Destination            *types.Point
	ScheduledAt            time.Time
	EstimatedDistanceMiles decimal.NullDecimal
	RequestedHours         decimal.NullDecimal
	AirportPickupCode      string
	AirportDropoffCode     string
	// AirportWaitMinutes is the known wait or connection time at the airport, if any.
	AirportWaitMinutes *int
	MeetAndGreet       bool
}

// Validate checks the fields every consumer relies on. Distance may still be
// missing on a transfer; pricing fills or rejects it.
func (r Request) Validate() error {
	if !r.VehicleClass.IsValid() {
		return fmt.Errorf("%w: unknown vehicle class %q", ErrInvalidRequest, r.VehicleClass)
	}
	if !r.ServiceType.IsValid() {
		return fmt.Errorf("%w: unknown service type %q", ErrInvalidRequest, r.ServiceType)
	}
	if r.ScheduledAt.IsZero() {
		return fmt.Errorf("%w: scheduled time is required", ErrInvalidRequest)
	}
	if r.Pickup != nil && !r.Pickup.Valid() {
		return fmt.Errorf("%w: pickup coordinates out of range", ErrInvalidRequest)
	}
	if r.Destination != nil && !r.Destination.Valid() {
		return fmt.Errorf("%w: destination coordinates out of range", ErrInvalidRequest)
	}
	if r.EstimatedDistanceMiles.Valid && r.EstimatedDistanceMiles.Decimal.IsNegative() {
		return fmt.Errorf("%w: distance must not be negative", ErrInvalidRequest)
	}
	if r.RequestedHours.Valid && r.RequestedHours.Decimal.IsNegative() {
		return fmt.Errorf("%w: requested hours must not be negative", ErrInvalidRequest)
	}
	if r.AirportWaitMinutes != nil && *r.AirportWaitMinutes < 0 {
		return fmt.Errorf("%w: airport wait must not be negative", ErrInvalidRequest)
	}
	return nil
}

// AirportCodes returns the distinct, normalized airport codes on the ride.
func (r Request) AirportCodes() []string {
	var codes []string
	for _, c := range []string{r.AirportPickupCode, r.AirportDropoffCode} {
		c = NormalizeAirportCode(c)
		if c == "" {
			continue
		}
		if len(codes) == 1 && codes[0] == c {
			continue
		}
		codes = append(codes, c)
	}
	return codes
}

func NormalizeAirportCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
