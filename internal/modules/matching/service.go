// README: Matching service pulls a driver pool snapshot and ranks it for a ride request.
package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chauffeur/internal/config"
	"chauffeur/internal/metrics"
	"chauffeur/internal/modules/ride"
	"chauffeur/internal/types"
)

var ErrDriverNotInPool = errors.New("driver not in active pool")

// SnapshotQuery narrows the pool. A nil Near or zero RadiusKm returns every driver.
type SnapshotQuery struct {
	Near     *types.Point
	RadiusKm float64
}

// Pool is the read side of the driver-state collaborator.
type Pool interface {
	Snapshot(ctx context.Context, q SnapshotQuery) ([]DriverCandidate, error)
}

type Service struct {
	pool    Pool
	cfg     config.MatchingConfig
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(pool Pool, cfg config.MatchingConfig, log *zap.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{pool: pool, cfg: cfg, log: log.Named("matching"), metrics: m, now: time.Now}
}

// Rank ranks the current pool. req may be nil for a general ranking.
func (s *Service) Rank(ctx context.Context, req *ride.Request) ([]RankedDriver, error) {
	start := time.Now()
	q := SnapshotQuery{}
	if req != nil && req.Pickup != nil && s.cfg.RadiusKm > 0 {
		p := *req.Pickup
		q = SnapshotQuery{Near: &p, RadiusKm: s.cfg.RadiusKm}
	}
	candidates, err := s.pool.Snapshot(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("driver pool snapshot: %w", err)
	}
	ranked := s.RankCandidates(candidates, req)
	s.metrics.ObserveRank(start, len(ranked))
	s.log.Debug("ranked driver pool",
		zap.Int("candidates", len(candidates)),
		zap.Int("ranked", len(ranked)),
		zap.Duration("elapsed", time.Since(start)))
	return ranked, nil
}

// RankCandidates ranks a snapshot the caller already holds.
func (s *Service) RankCandidates(candidates []DriverCandidate, req *ride.Request) []RankedDriver {
	ranked := Rank(candidates, req, Options{Now: s.now(), MaxLocationAge: s.cfg.MaxLocationAge})
	if s.cfg.Limit > 0 && len(ranked) > s.cfg.Limit {
		ranked = ranked[:s.cfg.Limit]
	}
	return ranked
}

// RankDriver scores a single driver. The radius prefilter and the result
// limit do not apply, so a driver outside the top of the list still scores.
// Inactive or unknown drivers yield ErrDriverNotInPool.
func (s *Service) RankDriver(ctx context.Context, req *ride.Request, id types.ID) (RankedDriver, error) {
	candidates, err := s.pool.Snapshot(ctx, SnapshotQuery{})
	if err != nil {
		return RankedDriver{}, fmt.Errorf("driver pool snapshot: %w", err)
	}
	for _, c := range candidates {
		if c.ID != id {
			continue
		}
		ranked := Rank([]DriverCandidate{c}, req, Options{Now: s.now(), MaxLocationAge: s.cfg.MaxLocationAge})
		if len(ranked) == 0 {
			break
		}
		return ranked[0], nil
	}
	return RankedDriver{}, fmt.Errorf("%w: %s", ErrDriverNotInPool, id)
}
