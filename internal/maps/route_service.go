// README: Route distance estimates from the Google Maps Distance Matrix API.
package maps

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"googlemaps.github.io/maps"

	"chauffeur/internal/types"
)

// metersPerMile is exact by definition of the international mile.
var metersPerMile = decimal.RequireFromString("1609.344")

var ErrNoRoute = errors.New("no driving route found")

type distanceMatrixClient interface {
	DistanceMatrix(ctx context.Context, r *maps.DistanceMatrixRequest) (*maps.DistanceMatrixResponse, error)
}

// RouteService estimates driving distance between two coordinates.
type RouteService struct {
	client   distanceMatrixClient
	language string
}

// NewRouteService builds a client; language localizes the API response (e.g. "en").
func NewRouteService(apiKey, language string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client, language: language}, nil
}

// EstimateMiles returns the driving distance in miles rounded to two places.
func (s *RouteService) EstimateMiles(ctx context.Context, from, to types.Point) (decimal.Decimal, error) {
	r := &maps.DistanceMatrixRequest{
		Origins:      []string{latLng(from)},
		Destinations: []string{latLng(to)},
		Mode:         maps.TravelModeDriving,
		Units:        maps.UnitsImperial,
		Language:     s.language,
	}
	resp, err := s.client.DistanceMatrix(ctx, r)
	if err != nil {
		return decimal.Zero, fmt.Errorf("maps api error: %w", err)
	}
	if resp == nil || len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return decimal.Zero, ErrNoRoute
	}
	el := resp.Rows[0].Elements[0]
	if el == nil || el.Status != "OK" {
		return decimal.Zero, ErrNoRoute
	}
	return decimal.NewFromInt(int64(el.Distance.Meters)).Div(metersPerMile).Round(2), nil
}

func latLng(p types.Point) string {
	ll := maps.LatLng{Lat: p.Lat, Lng: p.Lng}
	return ll.String()
}
