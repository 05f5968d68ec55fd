// README: Pricing service resolves the active rule and quotes fares for ride requests.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"chauffeur/internal/metrics"
	"chauffeur/internal/modules/ride"
	"chauffeur/internal/types"
)

// ruleLookupTimeout bounds a shared store lookup, which no longer follows any
// single caller's context.
const ruleLookupTimeout = 5 * time.Second

// RuleSource lists candidate rules for a (vehicle class, service type) pair.
type RuleSource interface {
	ListCandidates(ctx context.Context, vc ride.VehicleClass, st ride.ServiceType) ([]PricingRule, error)
}

// DistanceEstimator fills in transfer distance when the caller did not supply one.
type DistanceEstimator interface {
	EstimateMiles(ctx context.Context, from, to types.Point) (decimal.Decimal, error)
}

type Service struct {
	rules    RuleSource
	distance DistanceEstimator
	currency string
	log      *zap.Logger
	metrics  *metrics.Metrics
	group    singleflight.Group
}

type Option func(*Service)

func WithDistanceEstimator(d DistanceEstimator) Option {
	return func(s *Service) { s.distance = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithCurrency(code string) Option {
	return func(s *Service) {
		if code != "" {
			s.currency = code
		}
	}
}

func NewService(rules RuleSource, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{rules: rules, currency: "USD", log: log.Named("pricing")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ActiveRule returns the single rule covering at. Concurrent lookups for the
// same key share one store round trip; a caller that gives up does not fail
// the others.
func (s *Service) ActiveRule(ctx context.Context, vc ride.VehicleClass, st ride.ServiceType, at time.Time) (PricingRule, error) {
	if !vc.IsValid() || !st.IsValid() {
		return PricingRule{}, fmt.Errorf("%w: unknown vehicle class or service type", ErrInvalidRideRequest)
	}
	key := string(vc) + "|" + string(st)
	ch := s.group.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ruleLookupTimeout)
		defer cancel()
		return s.rules.ListCandidates(lctx, vc, st)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return PricingRule{}, fmt.Errorf("load pricing rules: %w", ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return PricingRule{}, fmt.Errorf("load pricing rules: %w", res.Err)
	}
	rule, err := SelectActiveRule(res.Val.([]PricingRule), vc, st, at)
	switch {
	case errors.Is(err, ErrAmbiguousRule):
		s.metrics.ObserveRuleLookupError("ambiguous")
		s.log.Error("overlapping pricing rules", zap.String("vehicle_class", string(vc)),
			zap.String("service_type", string(st)), zap.Time("at", at), zap.Error(err))
	case errors.Is(err, ErrNoApplicableRule):
		s.metrics.ObserveRuleLookupError("missing")
		s.log.Warn("no pricing rule", zap.String("vehicle_class", string(vc)),
			zap.String("service_type", string(st)), zap.Time("at", at))
	}
	return rule, err
}

// Quote prices a ride at its scheduled time.
func (s *Service) Quote(ctx context.Context, req ride.Request) (FareBreakdown, error) {
	req, err := s.fillDistance(ctx, req)
	if err != nil {
		return FareBreakdown{}, err
	}
	if err := req.Validate(); err != nil {
		s.metrics.ObserveFare(string(req.ServiceType), "invalid_request", false)
		return FareBreakdown{}, err
	}
	rule, err := s.ActiveRule(ctx, req.VehicleClass, req.ServiceType, req.ScheduledAt)
	if err != nil {
		s.metrics.ObserveFare(string(req.ServiceType), "no_rule", false)
		return FareBreakdown{}, err
	}
	fare, err := ComputeFare(req, rule)
	if err != nil {
		if errors.Is(err, ErrInvalidPricingRule) {
			s.log.Error("pricing rule rejected", zap.String("rule_id", rule.ID.String()), zap.Error(err))
		}
		s.metrics.ObserveFare(string(req.ServiceType), outcomeOf(err), false)
		return FareBreakdown{}, err
	}
	if fare.HasWarnings() {
		s.log.Warn("fare computed with warnings",
			zap.String("rule_id", rule.ID.String()),
			zap.String("ride_id", req.ID.String()),
			zap.Strings("warnings", fare.Warnings()))
	}
	s.metrics.ObserveFare(string(req.ServiceType), "ok", fare.HasWarnings())
	fare = fare.withCurrency(s.currency)
	s.log.Debug("fare quoted",
		zap.String("rule_id", rule.ID.String()),
		zap.Stringer("total", fare.TotalMoney()))
	return fare, nil
}

// Reconcile recomputes the booked fare and appends overtime for the actual
// trip duration.
func (s *Service) Reconcile(ctx context.Context, req ride.Request, actual time.Duration) (FareBreakdown, error) {
	if req.ServiceType != ride.ServiceHourly {
		return FareBreakdown{}, fmt.Errorf("%w: overtime applies to hourly bookings only", ErrInvalidRideRequest)
	}
	if err := req.Validate(); err != nil {
		return FareBreakdown{}, err
	}
	rule, err := s.ActiveRule(ctx, req.VehicleClass, req.ServiceType, req.ScheduledAt)
	if err != nil {
		return FareBreakdown{}, err
	}
	booked, err := ComputeFare(req, rule)
	if err != nil {
		return FareBreakdown{}, err
	}
	fare, err := ReconcileOvertime(booked, rule, actual)
	if err != nil {
		if errors.Is(err, ErrInvalidPricingRule) {
			s.log.Error("overtime without rate", zap.String("rule_id", rule.ID.String()), zap.Error(err))
		}
		return FareBreakdown{}, err
	}
	return fare.withCurrency(s.currency), nil
}

func (s *Service) fillDistance(ctx context.Context, req ride.Request) (ride.Request, error) {
	if req.ServiceType != ride.ServiceTransfer || req.EstimatedDistanceMiles.Valid || s.distance == nil {
		return req, nil
	}
	if req.Pickup == nil || req.Destination == nil {
		return req, nil
	}
	miles, err := s.distance.EstimateMiles(ctx, *req.Pickup, *req.Destination)
	if err != nil {
		return req, fmt.Errorf("estimate route distance: %w", err)
	}
	req.EstimatedDistanceMiles = decimal.NewNullDecimal(miles)
	return req, nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrInvalidPricingRule):
		return "invalid_rule"
	case errors.Is(err, ErrInvalidRideRequest):
		return "invalid_request"
	}
	return "error"
}
