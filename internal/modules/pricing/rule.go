// README: Structural validation and active-rule resolution for pricing rules.
package pricing

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"chauffeur/internal/modules/ride"
)

var one = decimal.NewFromInt(1)

// Validate reports configuration problems that make the rule unusable as
// ErrInvalidPricingRule. It never repairs the rule.
func (r PricingRule) Validate() error {
	rates := []struct {
		name  string
		value decimal.NullDecimal
	}{
		{"baseRate", r.BaseRate},
		{"perMileRate", r.PerMileRate},
		{"hourlyRate", r.HourlyRate},
		{"minimumHours", r.MinimumHours},
		{"minimumFare", r.MinimumFare},
		{"gratuityPercent", r.GratuityPercent},
		{"overtimeRate", r.OvertimeRate},
	}
	for _, rate := range rates {
		if rate.value.Valid && rate.value.Decimal.IsNegative() {
			return invalidRule(r, "%s must not be negative", rate.name)
		}
	}
	if err := validateTiers(r.DistanceTiers); err != nil {
		return invalidRule(r, "%v", err)
	}
	for i, w := range r.SurgeWindows {
		if w.DayOfWeek < time.Sunday || w.DayOfWeek > time.Saturday {
			return invalidRule(r, "surge window %d: day of week %d outside 0-6", i, w.DayOfWeek)
		}
		if w.Start < 0 || w.Start >= minutesPerDay || w.End < 0 || w.End > minutesPerDay {
			return invalidRule(r, "surge window %d: time outside a day", i)
		}
		if w.Start == w.End {
			return invalidRule(r, "surge window %d: empty interval", i)
		}
		if w.Multiplier.LessThan(one) {
			return invalidRule(r, "surge window %d: multiplier %s below 1", i, w.Multiplier)
		}
	}
	for i, a := range r.AirportFees {
		if strings.TrimSpace(a.Code) == "" {
			return invalidRule(r, "airport fee %d: missing code", i)
		}
		if a.Fee.IsNegative() || a.WaiverMinutes < 0 {
			return invalidRule(r, "airport fee %s: negative amount", a.Code)
		}
	}
	if r.MeetAndGreet.Charge.IsNegative() {
		return invalidRule(r, "meet and greet charge must not be negative")
	}
	if r.EffectiveEnd != nil && !r.EffectiveEnd.After(r.EffectiveStart) {
		return invalidRule(r, "effective end must be after effective start")
	}
	return nil
}

func validateTiers(tiers []DistanceTier) error {
	for i, t := range tiers {
		if t.RatePerMile.IsNegative() {
			return fmt.Errorf("distance tier %d: negative rate", i)
		}
		if t.IsRemaining {
			if i != len(tiers)-1 {
				return fmt.Errorf("distance tier %d: remaining tier must be last", i)
			}
			continue
		}
		if !t.Miles.IsPositive() {
			return fmt.Errorf("distance tier %d: miles must be positive", i)
		}
	}
	return nil
}

func invalidRule(r PricingRule, format string, args ...any) error {
	return fmt.Errorf("%w %s: %s", ErrInvalidPricingRule, r.ID, fmt.Sprintf(format, args...))
}

// SelectActiveRule picks the single active rule for the pair that covers at.
// Overlapping rules are reported, not resolved.
func SelectActiveRule(rules []PricingRule, vc ride.VehicleClass, st ride.ServiceType, at time.Time) (PricingRule, error) {
	var matches []PricingRule
	for _, r := range rules {
		if !r.IsActive || r.VehicleClass != vc || r.ServiceType != st {
			continue
		}
		if r.Covers(at) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return PricingRule{}, fmt.Errorf("%w: %s/%s at %s", ErrNoApplicableRule, vc, st, at.Format(time.RFC3339))
	case 1:
		return matches[0], nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = string(m.ID)
	}
	sort.Strings(ids)
	return PricingRule{}, fmt.Errorf("%w: %s/%s at %s covered by rules [%s]",
		ErrAmbiguousRule, vc, st, at.Format(time.RFC3339), strings.Join(ids, ", "))
}
