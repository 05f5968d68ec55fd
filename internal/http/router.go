// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chauffeur/internal/http/handlers"
	"chauffeur/internal/http/middleware"
	"chauffeur/internal/metrics"
)

type RouterDeps struct {
	Pricing     handlers.FareService
	Matching    handlers.Ranker
	Dispatch    handlers.Dispatcher
	Assignments handlers.Assignments
	Drivers     handlers.DriverPool
	Metrics     *metrics.Metrics
	Log         *zap.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Logging(log.Named("http")),
		middleware.Recovery(log),
		middleware.Metrics(deps.Metrics),
	)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	api := r.Group("/api")

	fares := handlers.NewFareHandler(deps.Pricing, log)
	api.POST("/fares/quote", fares.Quote)
	api.POST("/fares/reconcile", fares.Reconcile)
	api.GET("/pricing/rules/active", fares.ActiveRule)

	matchingHandler := handlers.NewMatchingHandler(deps.Matching, log)
	api.POST("/matching/rank", matchingHandler.Rank)

	rides := handlers.NewRideHandler(deps.Dispatch, deps.Assignments, log)
	api.POST("/rides/:id/dispatch", rides.Dispatch)
	api.POST("/rides/:id/assignment", rides.Assign)
	api.GET("/rides/:id/assignment", rides.GetAssignment)

	drivers := handlers.NewDriverHandler(deps.Drivers, log)
	api.PUT("/drivers/:id/state", drivers.PutState)
	api.PUT("/drivers/:id/location", drivers.PutLocation)
	api.PUT("/drivers/:id/availability", drivers.PutAvailability)

	return r
}
