package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/davidleathers/dnc-compliance-engine/internal/domain/errors"
	"github.com/davidleathers/dnc-compliance-engine/internal/infrastructure/config"
	"github.com/davidleathers/dnc-compliance-engine/internal/infrastructure/telemetry"
	dncService "github.com/davidleathers/dnc-compliance-engine/internal/service/dnc"
)

// Server wraps the HTTP server and its routes
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *zap.Logger
}

// NewServer builds the mux, wires middleware and returns a ready server
func NewServer(cfg *config.Config, handler *DNCHandler, service dncService.Service, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	auth := AuthMiddleware(cfg.Security.JWTSecret)
	rl := cfg.Security.RateLimit
	limiters := RateLimiters{
		Check:    NewRateLimiter(float64(rl.CheckPerSecond), rl.CheckPerSecond*rl.BurstMultiplier),
		Mutation: NewRateLimiter(float64(rl.MutationPerSecond), rl.MutationPerSecond*rl.BurstMultiplier),
		Admin:    NewRateLimiter(float64(rl.AdminPerMinute)/60.0, rl.AdminPerMinute),
	}

	handler.RegisterRoutes(mux, auth, limiters)

	// Unauthenticated operational endpoints
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		err := service.HealthCheck(r.Context())
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		case errors.GetErrorCode(err) == "FILTER_DEGRADED":
			// Degraded filter: still serving, store-only checks
			writeJSON(w, http.StatusOK, map[string]string{"status": "degraded", "detail": err.Error()})
		default:
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		}
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	chained := Chain(mux,
		RecoveryMiddleware(logger),
		RequestIDMiddleware(),
		TracingMiddleware(telemetry.Tracer("dnc-compliance-engine/rest")),
		LoggingMiddleware(logger),
	)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      chained,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		shutdownTimeout: cfg.Server.ShutdownTimeout,
		logger:          logger,
	}
}

// Start begins serving and blocks until the listener closes
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	timeout := s.shutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
