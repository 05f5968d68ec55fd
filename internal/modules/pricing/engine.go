// README: Fare computation engine. Pure functions over (ride request, pricing rule).
package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"chauffeur/internal/modules/ride"
	"chauffeur/internal/types"
)

var hundred = decimal.NewFromInt(100)

// ComputeFare prices a ride at booking time. The same inputs always produce
// the same breakdown.
func ComputeFare(req ride.Request, rule PricingRule) (FareBreakdown, error) {
	if err := req.Validate(); err != nil {
		return FareBreakdown{}, err
	}
	if err := rule.Validate(); err != nil {
		return FareBreakdown{}, err
	}
	if rule.ServiceType != "" && rule.ServiceType != req.ServiceType {
		return FareBreakdown{}, invalidRule(rule, "rule is for %s, request is %s", rule.ServiceType, req.ServiceType)
	}
	switch req.ServiceType {
	case ride.ServiceTransfer:
		return computeTransfer(req, rule)
	case ride.ServiceHourly:
		return computeHourly(req, rule)
	}
	return FareBreakdown{}, fmt.Errorf("%w: unsupported service type %q", ErrInvalidRideRequest, req.ServiceType)
}

func computeTransfer(req ride.Request, rule PricingRule) (FareBreakdown, error) {
	if !rule.BaseRate.Valid {
		return FareBreakdown{}, invalidRule(rule, "transfer pricing requires baseRate")
	}
	if !rule.PerMileRate.Valid && len(rule.DistanceTiers) == 0 {
		return FareBreakdown{}, invalidRule(rule, "transfer pricing requires perMileRate or distance tiers")
	}
	if !req.EstimatedDistanceMiles.Valid {
		return FareBreakdown{}, fmt.Errorf("%w: transfer requires an estimated distance", ErrInvalidRideRequest)
	}

	fare := FareBreakdown{RuleID: rule.ID, ServiceType: ride.ServiceTransfer, SurgeMultiplier: one}

	base := types.RoundCurrency(rule.BaseRate.Decimal)
	distance, unpriced := distanceFare(req.EstimatedDistanceMiles.Decimal, rule)
	if unpriced.IsPositive() {
		fare.UnpricedMiles = unpriced
		fare.warnings = append(fare.warnings,
			fmt.Sprintf("%s miles beyond the last distance tier were not priced", unpriced.String()))
	}
	airport, airportApplied := airportFee(req, rule)
	meet, meetApplied := meetAndGreetCharge(req, rule)

	subtotal := base.Add(distance).Add(airport).Add(meet)
	multiplier := surgeMultiplier(rule.SurgeWindows, req.ScheduledAt)
	surge := types.RoundCurrency(subtotal.Mul(multiplier.Sub(one)))
	postSurge := subtotal.Add(surge)
	gratuity, gratuityApplied := gratuityOn(postSurge, rule)

	base = base.Add(minimumTopUp(postSurge, rule))

	fare.SurgeMultiplier = multiplier
	fare.items = append(fare.items, LineItem{LabelBase, base}, LineItem{LabelDistance, distance})
	if airportApplied {
		fare.items = append(fare.items, LineItem{LabelAirport, airport})
	}
	if meetApplied {
		fare.items = append(fare.items, LineItem{LabelMeetAndGreet, meet})
	}
	if multiplier.GreaterThan(one) {
		fare.items = append(fare.items, LineItem{LabelSurge, surge})
	}
	if gratuityApplied {
		fare.items = append(fare.items, LineItem{LabelGratuity, gratuity})
	}
	fare.Total = sumItems(fare.items)
	return fare, nil
}

func computeHourly(req ride.Request, rule PricingRule) (FareBreakdown, error) {
	if !rule.HourlyRate.Valid || !rule.MinimumHours.Valid {
		return FareBreakdown{}, invalidRule(rule, "hourly pricing requires hourlyRate and minimumHours")
	}
	if !req.RequestedHours.Valid {
		return FareBreakdown{}, fmt.Errorf("%w: hourly booking requires requested hours", ErrInvalidRideRequest)
	}

	billed := decimal.Max(req.RequestedHours.Decimal, rule.MinimumHours.Decimal)
	timeFare := types.RoundCurrency(billed.Mul(rule.HourlyRate.Decimal))
	gratuity, gratuityApplied := gratuityOn(timeFare, rule)
	topUp := minimumTopUp(timeFare, rule)

	fare := FareBreakdown{
		RuleID:          rule.ID,
		ServiceType:     ride.ServiceHourly,
		SurgeMultiplier: one,
		BilledHours:     billed,
	}
	if topUp.IsPositive() {
		fare.items = append(fare.items, LineItem{LabelBase, topUp})
	}
	fare.items = append(fare.items, LineItem{LabelTime, timeFare})
	if gratuityApplied {
		fare.items = append(fare.items, LineItem{LabelGratuity, gratuity})
	}
	fare.Total = sumItems(fare.items)
	return fare, nil
}

// ReconcileOvertime bills time beyond the booked hours once the trip is over.
// Each started hour of excess is billed at the overtime rate. The input
// breakdown is left untouched.
func ReconcileOvertime(fare FareBreakdown, rule PricingRule, actual time.Duration) (FareBreakdown, error) {
	if fare.ServiceType != ride.ServiceHourly {
		return FareBreakdown{}, fmt.Errorf("%w: overtime applies to hourly bookings only", ErrInvalidRideRequest)
	}
	if _, done := fare.Item(LabelOvertime); done {
		return FareBreakdown{}, fmt.Errorf("%w: overtime already reconciled", ErrInvalidRideRequest)
	}
	if actual < 0 {
		return FareBreakdown{}, fmt.Errorf("%w: negative elapsed time", ErrInvalidRideRequest)
	}

	out := fare
	out.items = fare.LineItems()
	out.warnings = fare.Warnings()

	actualHours := decimal.NewFromInt(int64(actual)).Div(decimal.NewFromInt(int64(time.Hour)))
	excess := actualHours.Sub(fare.BilledHours)
	if !excess.IsPositive() {
		return out, nil
	}
	if !rule.OvertimeRate.Valid {
		return FareBreakdown{}, invalidRule(rule, "overtime of %s hours but no overtimeRate", excess.StringFixed(2))
	}
	overtime := types.RoundCurrency(excess.Ceil().Mul(rule.OvertimeRate.Decimal))
	out.items = append(out.items, LineItem{LabelOvertime, overtime})
	out.Total = sumItems(out.items)
	return out, nil
}

// distanceFare consumes miles bracket by bracket. Miles left over with no
// remaining tier are returned as unpriced.
func distanceFare(miles decimal.Decimal, rule PricingRule) (decimal.Decimal, decimal.Decimal) {
	if len(rule.DistanceTiers) == 0 {
		return types.RoundCurrency(miles.Mul(rule.PerMileRate.Decimal)), decimal.Zero
	}
	total := decimal.Zero
	left := miles
	for _, tier := range rule.DistanceTiers {
		if !left.IsPositive() {
			break
		}
		if tier.IsRemaining {
			total = total.Add(left.Mul(tier.RatePerMile))
			left = decimal.Zero
			break
		}
		take := decimal.Min(left, tier.Miles)
		total = total.Add(take.Mul(tier.RatePerMile))
		left = left.Sub(take)
	}
	if !left.IsPositive() {
		left = decimal.Zero
	}
	return types.RoundCurrency(total), left
}

func airportFee(req ride.Request, rule PricingRule) (decimal.Decimal, bool) {
	total := decimal.Zero
	applied := false
	for _, code := range req.AirportCodes() {
		for _, af := range rule.AirportFees {
			if ride.NormalizeAirportCode(af.Code) != code {
				continue
			}
			if af.WaiverMinutes > 0 && (req.AirportWaitMinutes == nil || *req.AirportWaitMinutes <= af.WaiverMinutes) {
				break
			}
			total = total.Add(types.RoundCurrency(af.Fee))
			applied = true
			break
		}
	}
	return total, applied
}

func meetAndGreetCharge(req ride.Request, rule PricingRule) (decimal.Decimal, bool) {
	if !req.MeetAndGreet || !rule.MeetAndGreet.Enabled {
		return decimal.Zero, false
	}
	return types.RoundCurrency(rule.MeetAndGreet.Charge), true
}

// surgeMultiplier returns the largest multiplier among windows containing at.
func surgeMultiplier(windows []SurgeWindow, at time.Time) decimal.Decimal {
	m := one
	for _, w := range windows {
		if w.Contains(at) && w.Multiplier.GreaterThan(m) {
			m = w.Multiplier
		}
	}
	return m
}

func gratuityOn(amount decimal.Decimal, rule PricingRule) (decimal.Decimal, bool) {
	if !rule.GratuityPercent.Valid || !rule.GratuityPercent.Decimal.IsPositive() {
		return decimal.Zero, false
	}
	return types.RoundCurrency(amount.Mul(rule.GratuityPercent.Decimal).Div(hundred)), true
}

func minimumTopUp(totalExGratuity decimal.Decimal, rule PricingRule) decimal.Decimal {
	if !rule.MinimumFare.Valid {
		return decimal.Zero
	}
	floor := types.RoundCurrency(rule.MinimumFare.Decimal)
	if totalExGratuity.GreaterThanOrEqual(floor) {
		return decimal.Zero
	}
	return floor.Sub(totalExGratuity)
}

func sumItems(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, li := range items {
		total = total.Add(li.Amount)
	}
	return total
}

func (f FareBreakdown) withCurrency(currency string) FareBreakdown {
	out := f
	out.Currency = currency
	out.items = f.LineItems()
	out.warnings = f.Warnings()
	return out
}
