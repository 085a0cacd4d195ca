package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"gallery-pipeline/internal/intake"
	"gallery-pipeline/internal/logger"
	"gallery-pipeline/internal/models"
	"gallery-pipeline/internal/pipeline"
	"gallery-pipeline/internal/storage"
)

// Pipeline is the part of pipeline.Service the HTTP layer needs.
type Pipeline interface {
	Ingest(ctx context.Context, up *intake.Upload) (string, error)
	Status(ctx context.Context, uploadID string) (models.JobStatus, error)
	Media(ctx context.Context, id int64) (*models.MediaRecord, error)
	Ping(ctx context.Context) error
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type UploadResponse struct {
	UploadID string `json:"uploadId"`
}

type StatusResponse struct {
	Status models.JobStatus `json:"status"`
}

type Server struct {
	cfg      *models.Config
	router   *gin.Engine
	httpSrv  *http.Server
	pipeline Pipeline
	log      *slog.Logger
}

func NewServer(cfg *models.Config, p Pipeline, log *slog.Logger) *Server {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	s := &Server{cfg: cfg, router: r, pipeline: p, log: log}

	api := r.Group("/api")
	api.POST("/uploads", s.handleUpload)
	api.GET("/uploads/status", s.handleStatus)
	api.GET("/media/:id", s.handleGetMedia)
	r.GET("/health", s.handleHealth)

	s.httpSrv = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks until the server stops. It returns nil after Stop.
func (s *Server) Start() error {
	s.log.Info("http server listening", slog.String("addr", s.cfg.ServerAddr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleUpload(c *gin.Context) {
	const op = "server.handleUpload"

	up, err := intake.Parse(c.Request, s.cfg.Pipeline.MaxUploadBytes)
	if err != nil {
		var ve *intake.ValidationError
		if errors.As(err, &ve) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_upload", Message: ve.Error()})
			return
		}
		s.internalError(c, op, err)
		return
	}

	id, err := s.pipeline.Ingest(c.Request.Context(), up)
	switch {
	case errors.Is(err, pipeline.ErrQueueFull), errors.Is(err, pipeline.ErrStopped):
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "busy", Message: "ingestion queue is full, retry later"})
		return
	case err != nil:
		s.internalError(c, op, err)
		return
	}

	c.JSON(http.StatusAccepted, UploadResponse{UploadID: id})
}

// handleStatus answers 200 for every id, including ones it never saw.
func (s *Server) handleStatus(c *gin.Context) {
	const op = "server.handleStatus"

	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing_id", Message: "query parameter id is required"})
		return
	}

	st, err := s.pipeline.Status(c.Request.Context(), id)
	if err != nil {
		s.log.Warn("status lookup degraded", slog.String("op", op), slog.String("upload_id", id), logger.Err(err))
		st = models.StatusUnknown
	}
	c.JSON(http.StatusOK, StatusResponse{Status: st})
}

func (s *Server) handleGetMedia(c *gin.Context) {
	const op = "server.handleGetMedia"

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_id", Message: "id must be a positive integer"})
		return
	}

	rec, err := s.pipeline.Media(c.Request.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: fmt.Sprintf("media %d not found", id)})
		return
	case err != nil:
		s.internalError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.pipeline.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	s.log.Error("request failed", slog.String("op", op), logger.Err(err))
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal", Message: "internal server error"})
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		log.LogAttrs(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("took", time.Since(start)),
		)
	}
}
