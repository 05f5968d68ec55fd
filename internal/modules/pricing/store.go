// README: Pricing rule store backed by PostgreSQL. Read-only from the fare engine's point of view.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"chauffeur/internal/modules/ride"
	"chauffeur/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const ruleColumns = `
	id, vehicle_class, service_type,
	base_rate, per_mile_rate, hourly_rate, minimum_hours, minimum_fare, gratuity_percent, overtime_rate,
	airport_fees, meet_and_greet, surge_windows, distance_tiers,
	effective_start, effective_end, is_active`

// ListCandidates returns every active rule for the pair. Selection by time
// happens in SelectActiveRule so overlapping ranges surface as AmbiguousRule.
func (s *Store) ListCandidates(ctx context.Context, vc ride.VehicleClass, st ride.ServiceType) ([]PricingRule, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM pricing_rules
		WHERE vehicle_class = $1 AND service_type = $2 AND is_active
		ORDER BY effective_start, id`,
		string(vc), string(st),
	)
	if err != nil {
		return nil, fmt.Errorf("query pricing rules: %w", err)
	}
	defer rows.Close()

	var out []PricingRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pricing rules: %w", err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id types.ID) (PricingRule, error) {
	row := s.db.QueryRow(ctx, `SELECT `+ruleColumns+` FROM pricing_rules WHERE id = $1`, string(id))
	r, err := scanRule(row)
	if err != nil {
		return PricingRule{}, err
	}
	return r, nil
}

// Upsert writes a rule. Used by operator tooling and tests; the engine never calls it.
func (s *Store) Upsert(ctx context.Context, r PricingRule) error {
	airport, err := json.Marshal(nonNil(r.AirportFees))
	if err != nil {
		return err
	}
	meet, err := json.Marshal(r.MeetAndGreet)
	if err != nil {
		return err
	}
	surge, err := json.Marshal(nonNil(r.SurgeWindows))
	if err != nil {
		return err
	}
	tiers, err := json.Marshal(nonNil(r.DistanceTiers))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO pricing_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			vehicle_class = EXCLUDED.vehicle_class,
			service_type = EXCLUDED.service_type,
			base_rate = EXCLUDED.base_rate,
			per_mile_rate = EXCLUDED.per_mile_rate,
			hourly_rate = EXCLUDED.hourly_rate,
			minimum_hours = EXCLUDED.minimum_hours,
			minimum_fare = EXCLUDED.minimum_fare,
			gratuity_percent = EXCLUDED.gratuity_percent,
			overtime_rate = EXCLUDED.overtime_rate,
			airport_fees = EXCLUDED.airport_fees,
			meet_and_greet = EXCLUDED.meet_and_greet,
			surge_windows = EXCLUDED.surge_windows,
			distance_tiers = EXCLUDED.distance_tiers,
			effective_start = EXCLUDED.effective_start,
			effective_end = EXCLUDED.effective_end,
			is_active = EXCLUDED.is_active`,
		string(r.ID), string(r.VehicleClass), string(r.ServiceType),
		nullString(r.BaseRate), nullString(r.PerMileRate), nullString(r.HourlyRate),
		nullString(r.MinimumHours), nullString(r.MinimumFare), nullString(r.GratuityPercent), nullString(r.OvertimeRate),
		airport, meet, surge, tiers,
		r.EffectiveStart, r.EffectiveEnd, r.IsActive,
	)
	if err != nil {
		return fmt.Errorf("upsert pricing rule %s: %w", r.ID, err)
	}
	return nil
}

func scanRule(row pgx.Row) (PricingRule, error) {
	var (
		r                               PricingRule
		id, vc, st                      string
		base, perMile, hourly, minHours *string
		minFare, gratuity, overtime     *string
		airport, meet, surge, tiers     []byte
		effectiveEnd                    *time.Time
	)
	err := row.Scan(
		&id, &vc, &st,
		&base, &perMile, &hourly, &minHours, &minFare, &gratuity, &overtime,
		&airport, &meet, &surge, &tiers,
		&r.EffectiveStart, &effectiveEnd, &r.IsActive,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return PricingRule{}, fmt.Errorf("%w: rule not found", ErrNoApplicableRule)
	}
	if err != nil {
		return PricingRule{}, fmt.Errorf("scan pricing rule: %w", err)
	}
	r.ID = types.ID(id)
	r.VehicleClass = ride.VehicleClass(vc)
	r.ServiceType = ride.ServiceType(st)
	r.EffectiveEnd = effectiveEnd

	for _, f := range []struct {
		dst *decimal.NullDecimal
		src *string
	}{
		{&r.BaseRate, base}, {&r.PerMileRate, perMile}, {&r.HourlyRate, hourly},
		{&r.MinimumHours, minHours}, {&r.MinimumFare, minFare},
		{&r.GratuityPercent, gratuity}, {&r.OvertimeRate, overtime},
	} {
		if f.src == nil {
			continue
		}
		d, err := decimal.NewFromString(*f.src)
		if err != nil {
			return PricingRule{}, invalidRule(r, "numeric column: %v", err)
		}
		*f.dst = decimal.NewNullDecimal(d)
	}

	for _, f := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"airport_fees", airport, &r.AirportFees},
		{"meet_and_greet", meet, &r.MeetAndGreet},
		{"surge_windows", surge, &r.SurgeWindows},
		{"distance_tiers", tiers, &r.DistanceTiers},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return PricingRule{}, invalidRule(r, "%s: %v", f.name, err)
		}
	}
	return r, nil
}

func nullString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
