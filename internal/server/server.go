// Package server provides the HTTP API for triaged.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/feedback"
	"github.com/fyrsmithlabs/triaged/internal/metrics"
	"github.com/fyrsmithlabs/triaged/internal/rag"
	"github.com/fyrsmithlabs/triaged/internal/store"
	"github.com/fyrsmithlabs/triaged/internal/triage"
	"github.com/fyrsmithlabs/triaged/internal/vectorstore"
)

// defaultPendingLimit caps GET /decisions/pending when no limit is given.
const defaultPendingLimit = 20

// Querier answers questions over the decision corpus.
type Querier interface {
	Query(ctx context.Context, question string) (*rag.Answer, error)
}

// Server provides HTTP endpoints for triaged.
type Server struct {
	echo     *echo.Echo
	querier  Querier
	feedback *feedback.Service
	store    *store.Store
	index    vectorstore.Store
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(querier Querier, fb *feedback.Service, st *store.Store, index vectorstore.Store, logger *zap.Logger, cfg *Config) (*Server, error) {
	if querier == nil {
		return nil, fmt.Errorf("querier cannot be nil")
	}
	if fb == nil {
		return nil, fmt.Errorf("feedback service cannot be nil")
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("vector index cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8000,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			// c.Path() is the route template, so metric labels stay
			// bounded regardless of ids in the URL.
			metrics.RecordHTTPRequest(c.Request().Method, c.Path(), c.Response().Status, duration)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		querier:  querier,
		feedback: fb,
		store:    st,
		index:    index,
		logger:   logger,
		config:   cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.POST("/query", s.handleQuery)

	s.echo.GET("/decisions/pending", s.handlePending)
	s.echo.POST("/decisions/:id/confirm", s.handleConfirm)
	s.echo.POST("/decisions/:id/correct", s.handleCorrect)

	s.echo.DELETE("/emails/:id", s.handlePurge)
}

// handleHealth probes the store and the vector index.
func (s *Server) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()

	resp := HealthResponse{
		Status: "ok",
		Checks: map[string]string{},
	}
	code := http.StatusOK

	if err := s.store.Healthy(ctx); err != nil {
		resp.Checks["store"] = err.Error()
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	} else {
		resp.Checks["store"] = "ok"
	}

	if err := s.index.Healthy(ctx); err != nil {
		resp.Checks["vectorstore"] = err.Error()
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	} else {
		resp.Checks["vectorstore"] = "ok"
	}

	return c.JSON(code, resp)
}

// handleQuery answers a question over the stored decision corpus.
func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid query request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question field is required")
	}

	start := time.Now()
	answer, err := s.querier.Query(c.Request().Context(), req.Question)
	if err != nil {
		s.logger.Warn("query failed", zap.Error(err))
		return s.httpError(err)
	}
	metrics.RecordQuery(time.Since(start), answer.Attempts)

	return c.JSON(http.StatusOK, answer)
}

// handlePending lists emails waiting for user review with their pending
// decisions, oldest first.
func (s *Server) handlePending(c echo.Context) error {
	ctx := c.Request().Context()

	limit := defaultPendingLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	emails, err := s.feedback.Pending(ctx, limit)
	if err != nil {
		s.logger.Error("listing pending reviews failed", zap.Error(err))
		return s.httpError(err)
	}

	resp := PendingResponse{Pending: make([]PendingDecision, 0, len(emails))}
	for _, email := range emails {
		rec, err := s.store.LatestDecision(ctx, email.ID)
		if err != nil {
			// A pending email always has a decision; a miss here means
			// it was purged between the two reads.
			s.logger.Warn("pending email has no decision",
				zap.String("email_id", email.ID), zap.Error(err))
			continue
		}
		resp.Pending = append(resp.Pending, PendingDecision{
			DecisionID: rec.ID,
			EmailID:    email.ID,
			Sender:     email.Sender,
			Subject:    email.Subject,
			Snippet:    email.Snippet,
			Verdict:    string(rec.Verdict),
			Confidence: rec.Confidence,
			Rationale:  rec.Rationale,
			ReceivedAt: email.ReceivedAt,
		})
	}

	return c.JSON(http.StatusOK, resp)
}

// handleConfirm finalizes a pending decision as-is.
func (s *Server) handleConfirm(c echo.Context) error {
	rec, err := s.feedback.Confirm(c.Request().Context(), c.Param("id"))
	if err != nil {
		s.logger.Warn("confirm failed", zap.String("decision_id", c.Param("id")), zap.Error(err))
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

// handleCorrect records the user's verdict, superseding the decision.
func (s *Server) handleCorrect(c echo.Context) error {
	var req CorrectRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid correct request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	rec, err := s.feedback.Correct(c.Request().Context(), c.Param("id"), triage.Verdict(req.Verdict))
	if err != nil {
		s.logger.Warn("correct failed", zap.String("decision_id", c.Param("id")), zap.Error(err))
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

// handlePurge removes an email and its decision history everywhere.
func (s *Server) handlePurge(c echo.Context) error {
	purged, err := s.feedback.Purge(c.Request().Context(), c.Param("id"))
	if err != nil {
		s.logger.Error("purge failed", zap.String("email_id", c.Param("id")), zap.Error(err))
		return s.httpError(err)
	}
	if !purged {
		return echo.NewHTTPError(http.StatusNotFound, "email not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// httpError maps domain errors onto status codes. Unrecognized errors
// become opaque 500s so internals never leak to clients.
func (s *Server) httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, triage.ErrInvalidVerdict), errors.Is(err, triage.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, triage.ErrProviderUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "upstream provider unavailable")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
