// README: Driver pool backed by Redis hashes, a member set and a GEO index.
package driverpool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"chauffeur/internal/modules/matching"
	"chauffeur/internal/types"
)

const (
	membersKey      = "driverpool:drivers"
	geoKey          = "driverpool:geo"
	driverKeyPrefix = "driverpool:driver:%s"

	fieldActive    = "active"
	fieldAvailable = "available"
	fieldRating    = "rating"
	fieldRides     = "total_rides"
	fieldUpcoming  = "upcoming"
	fieldConflict  = "conflict"
	fieldLocation  = "location"
	fieldUpdatedAt = "updated_at"
)

var (
	ErrUnknownDriver = errors.New("unknown driver")
	ErrInvalidState  = errors.New("invalid driver state")
)

// State is the full driver record written by the driver-state collaborator.
type State struct {
	ID                    types.ID
	IsActive              bool
	IsAvailable           bool
	Rating                float64
	TotalRides            int
	UpcomingBookingsCount int
	HasConflict           bool
	Location              *matching.Location
}

type Store struct {
	redis *redis.Client
	now   func() time.Time
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis, now: time.Now}
}

// Snapshot reads the pool. With q.Near and q.RadiusKm set, only drivers inside
// the radius are returned. Unreadable fields fall back to zero values.
func (s *Store) Snapshot(ctx context.Context, q matching.SnapshotQuery) ([]matching.DriverCandidate, error) {
	var ids []string
	var err error
	if q.Near != nil && q.RadiusKm > 0 {
		ids, err = s.redis.GeoSearch(ctx, geoKey, &redis.GeoSearchQuery{
			Longitude:  q.Near.Lng,
			Latitude:   q.Near.Lat,
			Radius:     q.RadiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		}).Result()
	} else {
		ids, err = s.redis.SMembers(ctx, membersKey).Result()
		sort.Strings(ids)
	}
	if err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, driverKey(types.ID(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read drivers: %w", err)
	}

	out := make([]matching.DriverCandidate, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		out = append(out, decodeCandidate(types.ID(ids[i]), fields))
	}
	return out, nil
}

// Get returns one driver as the matching engine would see it.
func (s *Store) Get(ctx context.Context, id types.ID) (matching.DriverCandidate, error) {
	fields, err := s.redis.HGetAll(ctx, driverKey(id)).Result()
	if err != nil {
		return matching.DriverCandidate{}, err
	}
	if len(fields) == 0 {
		return matching.DriverCandidate{}, ErrUnknownDriver
	}
	return decodeCandidate(id, fields), nil
}

// Upsert replaces the driver's record.
func (s *Store) Upsert(ctx context.Context, st State) error {
	if st.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidState)
	}
	if st.Rating < 0 || st.Rating > 5 || st.TotalRides < 0 || st.UpcomingBookingsCount < 0 {
		return fmt.Errorf("%w: rating, rides and bookings must be in range", ErrInvalidState)
	}
	if st.Location != nil && !st.Location.Point.Valid() {
		return fmt.Errorf("%w: location out of range", ErrInvalidState)
	}
	key := driverKey(st.ID)
	values := map[string]any{
		fieldActive:    strconv.FormatBool(st.IsActive),
		fieldAvailable: strconv.FormatBool(st.IsAvailable),
		fieldRating:    strconv.FormatFloat(st.Rating, 'f', -1, 64),
		fieldRides:     strconv.Itoa(st.TotalRides),
		fieldUpcoming:  strconv.Itoa(st.UpcomingBookingsCount),
		fieldConflict:  strconv.FormatBool(st.HasConflict),
		fieldUpdatedAt: s.now().UTC().Format(time.RFC3339Nano),
	}
	if st.Location != nil {
		raw, err := encodeLocation(*st.Location)
		if err != nil {
			return err
		}
		values[fieldLocation] = raw
	}

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, values)
		pipe.SAdd(ctx, membersKey, string(st.ID))
		if st.Location != nil {
			pipe.GeoAdd(ctx, geoKey, &redis.GeoLocation{
				Name:      string(st.ID),
				Longitude: st.Location.Point.Lng,
				Latitude:  st.Location.Point.Lat,
			})
		} else {
			pipe.ZRem(ctx, geoKey, string(st.ID))
		}
		return nil
	})
	return err
}

// UpdateLocation records a GPS fix for a known driver.
func (s *Store) UpdateLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) error {
	if !p.Valid() {
		return fmt.Errorf("%w: location out of range", ErrInvalidState)
	}
	if err := s.mustExist(ctx, id); err != nil {
		return err
	}
	if at.IsZero() {
		at = s.now()
	}
	raw, err := encodeLocation(matching.Location{Point: p, Timestamp: at})
	if err != nil {
		return err
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, driverKey(id), fieldLocation, raw, fieldUpdatedAt, s.now().UTC().Format(time.RFC3339Nano))
		pipe.GeoAdd(ctx, geoKey, &redis.GeoLocation{Name: string(id), Longitude: p.Lng, Latitude: p.Lat})
		return nil
	})
	return err
}

// SetAvailability toggles the busy/available flag for a known driver.
func (s *Store) SetAvailability(ctx context.Context, id types.ID, available bool) error {
	if err := s.mustExist(ctx, id); err != nil {
		return err
	}
	return s.redis.HSet(ctx, driverKey(id),
		fieldAvailable, strconv.FormatBool(available),
		fieldUpdatedAt, s.now().UTC().Format(time.RFC3339Nano),
	).Err()
}

func (s *Store) Remove(ctx context.Context, id types.ID) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, driverKey(id))
		pipe.SRem(ctx, membersKey, string(id))
		pipe.ZRem(ctx, geoKey, string(id))
		return nil
	})
	return err
}

func (s *Store) mustExist(ctx context.Context, id types.ID) error {
	n, err := s.redis.Exists(ctx, driverKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownDriver, id)
	}
	return nil
}

func decodeCandidate(id types.ID, fields map[string]string) matching.DriverCandidate {
	c := matching.DriverCandidate{
		ID:                    id,
		IsActive:              parseBool(fields[fieldActive]),
		IsAvailable:           parseBool(fields[fieldAvailable]),
		HasConflict:           parseBool(fields[fieldConflict]),
		TotalRides:            parseInt(fields[fieldRides]),
		UpcomingBookingsCount: parseInt(fields[fieldUpcoming]),
	}
	if v, err := strconv.ParseFloat(fields[fieldRating], 64); err == nil {
		c.Rating = v
	}
	if raw, ok := fields[fieldLocation]; ok {
		c.CurrentLocation = matching.DecodeLocation([]byte(raw))
	}
	return c
}

func encodeLocation(loc matching.Location) (string, error) {
	wire := struct {
		Lat       float64 `json:"lat"`
		Lng       float64 `json:"lng"`
		Timestamp string  `json:"timestamp,omitempty"`
	}{Lat: loc.Point.Lat, Lng: loc.Point.Lng}
	if !loc.Timestamp.IsZero() {
		wire.Timestamp = loc.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	b, err := json.Marshal(wire)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func parseInt(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func driverKey(id types.ID) string {
	return fmt.Sprintf(driverKeyPrefix, string(id))
}
