// README: Matching handler; ranks the live pool or a caller-supplied candidate list.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chauffeur/internal/modules/matching"
	"chauffeur/internal/modules/ride"
)

type Ranker interface {
	Rank(ctx context.Context, req *ride.Request) ([]matching.RankedDriver, error)
	RankCandidates(candidates []matching.DriverCandidate, req *ride.Request) []matching.RankedDriver
}

type MatchingHandler struct {
	matching Ranker
	log      *zap.Logger
}

func NewMatchingHandler(svc Ranker, log *zap.Logger) *MatchingHandler {
	return &MatchingHandler{matching: svc, log: log}
}

type rankReq struct {
	Ride *rideRequest `json:"ride"`
	// Candidates, when present, replaces the live pool snapshot.
	Candidates []matching.DriverCandidate `json:"candidates"`
}

func (h *MatchingHandler) Rank(c *gin.Context) {
	var req rankReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	var rr *ride.Request
	if req.Ride != nil {
		d := req.Ride.toDomain()
		rr = &d
	}

	var ranked []matching.RankedDriver
	if req.Candidates != nil {
		ranked = h.matching.RankCandidates(req.Candidates, rr)
	} else {
		var err error
		ranked, err = h.matching.Rank(c.Request.Context(), rr)
		if err != nil {
			writeServiceError(c, h.log, err)
			return
		}
	}

	out := make([]rankedDriverResponse, 0, len(ranked))
	for _, d := range ranked {
		out = append(out, toRankedResponse(d))
	}
	writeJSON(c, http.StatusOK, gin.H{"drivers": out})
}
