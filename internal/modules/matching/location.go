// README: Tolerant decoding of driver snapshot payloads. Bad location data is dropped, never fatal.
package matching

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"chauffeur/internal/types"
)

const (
	// Epoch values above this are taken as milliseconds.
	epochMillisThreshold = 1e11
	// 3000-01-01T00:00:00Z in milliseconds; anything later is not a real fix.
	maxEpochMillis = 32503680000000
)

// DecodeLocation parses a {lat, lng, timestamp} payload, also when it arrives
// as a JSON-encoded string. It returns nil for
// missing, null or malformed input and for coordinates outside WGS84. An
// unreadable timestamp leaves Timestamp zero.
func DecodeLocation(raw []byte) *Location {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil || strings.HasPrefix(strings.TrimSpace(inner), "\"") {
			return nil
		}
		return DecodeLocation([]byte(inner))
	}
	var wire struct {
		Lat       json.RawMessage `json:"lat"`
		Lng       json.RawMessage `json:"lng"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil
	}
	lat, ok := decodeFloat(wire.Lat)
	if !ok {
		return nil
	}
	lng, ok := decodeFloat(wire.Lng)
	if !ok {
		return nil
	}
	p := types.Point{Lat: lat, Lng: lng}
	if !p.Valid() {
		return nil
	}
	return &Location{Point: p, Timestamp: DecodeTimestamp(wire.Timestamp)}
}

// DecodeTimestamp accepts epoch seconds or milliseconds (number or string)
// and RFC 3339 strings. Anything else yields the zero time.
func DecodeTimestamp(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}
		}
		return parseTimestamp(s)
	}
	return parseTimestamp(string(raw))
}

func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		if !(n > 0) || n > maxEpochMillis {
			return time.Time{}
		}
		if n > epochMillisThreshold {
			return time.UnixMilli(int64(n)).UTC()
		}
		sec := int64(n)
		return time.Unix(sec, int64((n-float64(sec))*1e9)).UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func decodeFloat(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// UnmarshalJSON reads the driver snapshot shape. A malformed currentLocation
// is dropped rather than failing the whole candidate.
func (c *DriverCandidate) UnmarshalJSON(b []byte) error {
	var wire struct {
		ID                    types.ID        `json:"id"`
		IsActive              bool            `json:"isActive"`
		IsAvailable           bool            `json:"isAvailable"`
		Rating                float64         `json:"rating"`
		TotalRides            int             `json:"totalRides"`
		UpcomingBookingsCount int             `json:"upcomingBookingsCount"`
		HasConflict           bool            `json:"hasConflict"`
		CurrentLocation       json.RawMessage `json:"currentLocation"`
		LastLocationTimestamp json.RawMessage `json:"lastLocationTimestamp"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	*c = DriverCandidate{
		ID:                    wire.ID,
		IsActive:              wire.IsActive,
		IsAvailable:           wire.IsAvailable,
		Rating:                wire.Rating,
		TotalRides:            wire.TotalRides,
		UpcomingBookingsCount: wire.UpcomingBookingsCount,
		HasConflict:           wire.HasConflict,
		CurrentLocation:       DecodeLocation(wire.CurrentLocation),
	}
	if c.CurrentLocation != nil && c.CurrentLocation.Timestamp.IsZero() {
		c.CurrentLocation.Timestamp = DecodeTimestamp(wire.LastLocationTimestamp)
	}
	return nil
}
