package pricing

import (
	"errors"

	"chauffeur/internal/modules/ride"
)

var (
	ErrInvalidPricingRule = errors.New("invalid pricing rule")
	ErrNoApplicableRule   = errors.New("no applicable pricing rule")
	ErrAmbiguousRule      = errors.New("ambiguous pricing rule")
	// ErrInvalidRideRequest aliases the ride package sentinel so callers only
	// need to match against pricing errors.
	ErrInvalidRideRequest = ride.ErrInvalidRequest
)
