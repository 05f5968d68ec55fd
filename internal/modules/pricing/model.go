// README: Pricing rule definition per (vehicle class, service type) and fare breakdown value objects.
package pricing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"chauffeur/internal/modules/ride"
	"chauffeur/internal/types"
)

// Line item labels, in presentation order.
const (
	LabelBase         = "base"
	LabelDistance     = "distance"
	LabelTime         = "time"
	LabelAirport      = "airport"
	LabelMeetAndGreet = "meetAndGreet"
	LabelSurge        = "surge"
	LabelGratuity     = "gratuity"
	LabelOvertime     = "overtime"
)

type AirportFee struct {
	Code          string          `json:"code"`
	Fee           decimal.Decimal `json:"fee"`
	WaiverMinutes int             `json:"waiverMinutes"`
}

type MeetAndGreet struct {
	Enabled bool            `json:"enabled"`
	Charge  decimal.Decimal `json:"charge"`
}

// ClockTime is a wall-clock time of day in minutes after midnight.
type ClockTime int

const minutesPerDay = 24 * 60

func NewClockTime(hour, minute int) ClockTime {
	return ClockTime(hour*60 + minute)
}

func ParseClockTime(s string) (ClockTime, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("clock time %q: %w", s, err)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("clock time %q out of range", s)
	}
	return NewClockTime(h, m), nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// SurgeWindow is a recurring weekly interval [Start, End) on DayOfWeek
// (0 = Sunday). End <= Start wraps past midnight into the next day.
type SurgeWindow struct {
	DayOfWeek  time.Weekday    `json:"dayOfWeek"`
	Start      ClockTime       `json:"startTime"`
	End        ClockTime       `json:"endTime"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

// Contains reports whether the local weekday/time of t falls inside the window.
func (w SurgeWindow) Contains(t time.Time) bool {
	minute := ClockTime(t.Hour()*60 + t.Minute())
	day := t.Weekday()
	if w.End > w.Start {
		return day == w.DayOfWeek && minute >= w.Start && minute < w.End
	}
	if day == w.DayOfWeek && minute >= w.Start {
		return true
	}
	next := (w.DayOfWeek + 1) % 7
	return day == next && minute < w.End
}

// DistanceTier prices a slice of the trip. The remaining tier takes whatever
// distance is left after the explicit tiers.
type DistanceTier struct {
	Miles       decimal.Decimal `json:"miles"`
	RatePerMile decimal.Decimal `json:"ratePerMile"`
	IsRemaining bool            `json:"isRemaining,omitempty"`
}

type PricingRule struct {
	ID              types.ID
	VehicleClass    ride.VehicleClass
	ServiceType     ride.ServiceType
	BaseRate        decimal.NullDecimal
	PerMileRate     decimal.NullDecimal
	HourlyRate      decimal.NullDecimal
	MinimumHours    decimal.NullDecimal
	MinimumFare     decimal.NullDecimal
	GratuityPercent decimal.NullDecimal
	OvertimeRate    decimal.NullDecimal
	AirportFees     []AirportFee
	MeetAndGreet    MeetAndGreet
	SurgeWindows    []SurgeWindow
	DistanceTiers   []DistanceTier
	EffectiveStart  time.Time
	// EffectiveEnd is exclusive; nil means open ended.
	EffectiveEnd *time.Time
	IsActive     bool
}

// Covers reports whether at falls inside [EffectiveStart, EffectiveEnd).
func (r PricingRule) Covers(at time.Time) bool {
	if at.Before(r.EffectiveStart) {
		return false
	}
	return r.EffectiveEnd == nil || at.Before(*r.EffectiveEnd)
}

type LineItem struct {
	Label  string
	Amount decimal.Decimal
}

// FareBreakdown is built once per computation and never mutated afterwards.
type FareBreakdown struct {
	RuleID          types.ID
	ServiceType     ride.ServiceType
	Currency        string
	items           []LineItem
	Total           decimal.Decimal
	SurgeMultiplier decimal.Decimal
	BilledHours     decimal.Decimal
	UnpricedMiles   decimal.Decimal
	warnings        []string
}

// LineItems returns a copy of the ordered line items.
func (f FareBreakdown) LineItems() []LineItem {
	out := make([]LineItem, len(f.items))
	copy(out, f.items)
	return out
}

func (f FareBreakdown) Warnings() []string {
	out := make([]string, len(f.warnings))
	copy(out, f.warnings)
	return out
}

// Item returns the amount for label and whether the line exists.
func (f FareBreakdown) Item(label string) (decimal.Decimal, bool) {
	for _, li := range f.items {
		if li.Label == label {
			return li.Amount, true
		}
	}
	return decimal.Zero, false
}

// TotalExcludingGratuity is the amount the minimum fare is compared with.
func (f FareBreakdown) TotalExcludingGratuity() decimal.Decimal {
	g, _ := f.Item(LabelGratuity)
	return f.Total.Sub(g)
}

func (f FareBreakdown) HasWarnings() bool { return len(f.warnings) > 0 }

func (f FareBreakdown) TotalMoney() types.Money {
	return types.Money{Amount: f.Total, Currency: f.Currency}
}
