// README: HTTP server lifecycle around the gin router.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chauffeur/internal/config"
)

type Server struct {
	cfg        config.HTTPConfig
	log        *zap.Logger
	httpServer *http.Server
}

func NewServer(cfg config.HTTPConfig, deps RouterDeps) *Server {
	switch cfg.Mode {
	case gin.DebugMode, gin.TestMode, gin.ReleaseMode:
		gin.SetMode(cfg.Mode)
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg: cfg,
		log: log,
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           NewRouter(deps),
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			MaxHeaderBytes:    1 << 20,
		},
	}
}

// Run serves until ctx is cancelled, then drains within the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.cfg.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.log.Info("http server shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }
