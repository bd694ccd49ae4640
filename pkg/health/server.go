// Package health serves liveness, readiness, the admin API and Prometheus metrics
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/speedrun-hq/speedrun-solver/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-solver/pkg/delivery"
	"github.com/speedrun-hq/speedrun-solver/pkg/engine"
	"github.com/speedrun-hq/speedrun-solver/pkg/handlers"
	"github.com/speedrun-hq/speedrun-solver/pkg/logger"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
	"github.com/speedrun-hq/speedrun-solver/pkg/statemachine"
)

const shutdownTimeout = 5 * time.Second

// Engine is the part of the engine the admin API drives
type Engine interface {
	Ready() bool
	Status(ctx context.Context) (*engine.Status, error)
	Order(ctx context.Context, orderID string) (*models.Order, error)
	Reevaluate(ctx context.Context, orderID string) error
}

// Chain describes a configured chain on the status endpoint
type Chain struct {
	Name          string
	IntentAddress string
}

// Server represents the health, admin and metrics HTTP server
type Server struct {
	port            string
	metricsAPIKey   string
	engine          Engine
	chains          map[uint64]Chain
	delivery        delivery.Delivery
	circuitBreakers map[uint64]*circuitbreaker.CircuitBreaker
	logger          logger.Logger
	router          *gin.Engine
}

// NewServer creates a new health server. d may be nil, in which case chain
// heads are not reported.
func NewServer(
	port string,
	metricsAPIKey string,
	eng Engine,
	chains map[uint64]Chain,
	d delivery.Delivery,
	circuitBreakers map[uint64]*circuitbreaker.CircuitBreaker,
	log logger.Logger,
) *Server {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	s := &Server{
		port:            port,
		metricsAPIKey:   metricsAPIKey,
		engine:          eng,
		chains:          chains,
		delivery:        d,
		circuitBreakers: circuitBreakers,
		logger:          log,
	}
	s.router = s.routes()
	return s
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/ready", s.ready)
	r.GET("/status", s.status)
	r.POST("/circuit/reset", s.resetCircuit)
	r.GET("/orders/:id", s.getOrder)
	r.POST("/orders/:id/reevaluate", s.reevaluate)
	r.GET("/metrics", s.metricsAuth(), gin.WrapH(promhttp.Handler()))
	return r
}

// metricsAuth checks for the configured bearer key. No key disables the check.
func (s *Server) metricsAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.metricsAPIKey == "" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing Authorization header"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid Authorization header format"})
			return
		}

		if parts[1] != s.metricsAPIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}
		c.Next()
	}
}

func (s *Server) ready(c *gin.Context) {
	if !s.engine.Ready() {
		c.String(http.StatusServiceUnavailable, "Engine not started")
		return
	}
	c.String(http.StatusOK, "Ready")
}

func (s *Server) status(c *gin.Context) {
	status, err := s.engine.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	breakers := make([]circuitbreaker.State, 0, len(s.circuitBreakers))
	for _, cb := range s.circuitBreakers {
		breakers = append(breakers, cb.GetState())
	}
	sort.Slice(breakers, func(i, j int) bool { return breakers[i].ChainID < breakers[j].ChainID })

	chains := make(map[string]gin.H, len(s.chains))
	for chainID, chain := range s.chains {
		entry := gin.H{
			"name":           chain.Name,
			"intent_address": chain.IntentAddress,
			"circuit":        "closed",
		}
		if cb, ok := s.circuitBreakers[chainID]; ok && cb.IsOpen() {
			entry["circuit"] = "open"
		}
		if s.delivery != nil {
			if head, err := s.delivery.GetBlockNumber(c.Request.Context(), chainID); err == nil {
				entry["latest_block"] = head
			}
		}
		chains[fmt.Sprintf("chain_%d", chainID)] = entry
	}

	c.JSON(http.StatusOK, gin.H{
		"engine":           status,
		"circuit_breakers": breakers,
		"chains":           chains,
	})
}

func (s *Server) resetCircuit(c *gin.Context) {
	chainIDStr := c.Query("chain")
	if chainIDStr == "" {
		c.String(http.StatusBadRequest, "Missing chain parameter")
		return
	}

	chainID, err := strconv.ParseUint(chainIDStr, 10, 64)
	if err != nil {
		c.String(http.StatusBadRequest, "Invalid chain ID")
		return
	}

	cb, ok := s.circuitBreakers[chainID]
	if !ok {
		c.String(http.StatusNotFound, "No circuit breaker for chain %d", chainID)
		return
	}

	cb.Reset()
	s.logger.NoticeWithChain(chainID, "Circuit breaker reset by operator")
	c.String(http.StatusOK, "Circuit breaker for chain %d reset", chainID)
}

func (s *Server) getOrder(c *gin.Context) {
	order, err := s.engine.Order(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) reevaluate(c *gin.Context) {
	orderID := c.Param("id")
	if err := s.engine.Reevaluate(c.Request.Context(), orderID); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	s.logger.Notice("Order %s re-evaluated by operator", orderID)
	c.JSON(http.StatusAccepted, gin.H{"order_id": orderID, "status": "reevaluated"})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, statemachine.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, handlers.ErrNotPending):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Start serves until ctx is done, then shuts the server down
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting health and metrics server on port %s", s.port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("health server shutdown: %w", err)
	}
	return nil
}
