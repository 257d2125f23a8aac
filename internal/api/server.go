package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"xhs-scraper/internal/database"
	"xhs-scraper/internal/database/models"
	"xhs-scraper/internal/monitoring"
	"xhs-scraper/internal/output"
)

// NoteStore is the read side of the notes database.
type NoteStore interface {
	GetNotesWithPagination(ctx context.Context, page, pageSize int, keyword string) ([]*models.Note, error)
	GetNotesCount(ctx context.Context, keyword string) (int, error)
	GetNote(ctx context.Context, noteID string) (*models.Note, error)
	GetNotesForExport(ctx context.Context, keyword string) ([]*models.Note, error)
	GetScrapingStats(ctx context.Context) (*models.Stats, error)
	Ping(ctx context.Context) error
}

type Server struct {
	store   NoteStore
	monitor *monitoring.Monitor
	logger  *logrus.Logger
	port    string
}

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Count   int         `json:"count,omitempty"`
}

type NotesResponse struct {
	Notes      []*models.Note `json:"notes"`
	TotalCount int            `json:"total_count"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
}

type HealthResponse struct {
	Status   string                   `json:"status"`
	Database string                   `json:"database"`
	Crawler  *monitoring.HealthStatus `json:"crawler,omitempty"`
}

func NewServer(store NoteStore, monitor *monitoring.Monitor, logger *logrus.Logger, port string) *Server {
	return &Server{
		store:   store,
		monitor: monitor,
		logger:  logger,
		port:    port,
	}
}

func (s *Server) Start() error {
	s.logger.Infof("Starting API server on port %s", s.port)
	return s.Router().Run(":" + s.port)
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.Use(corsMiddleware())

	r.GET("/", s.handleRoot)
	api := r.Group("/api")
	api.GET("/notes", s.handleNotes)
	api.GET("/notes/:id", s.handleNote)
	api.GET("/stats", s.handleStats)
	api.GET("/export/csv", s.handleExportCSV)
	api.GET("/health", s.handleHealth)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"status":   c.Writer.Status(),
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"duration": time.Since(start).Round(time.Microsecond),
		}).Debug("Handled request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]string{
			"message":   "Xiaohongshu Notes API",
			"version":   "1.0.0",
			"endpoints": "/api/notes, /api/notes/:id, /api/stats, /api/export/csv, /api/health",
		},
	})
}

func (s *Server) handleNotes(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.Query("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	keyword := c.Query("keyword")

	notes, err := s.store.GetNotesWithPagination(c.Request.Context(), page, pageSize, keyword)
	if err != nil {
		s.writeError(c, fmt.Sprintf("Failed to fetch notes: %v", err), http.StatusInternalServerError)
		return
	}
	total, err := s.store.GetNotesCount(c.Request.Context(), keyword)
	if err != nil {
		s.writeError(c, fmt.Sprintf("Failed to get total count: %v", err), http.StatusInternalServerError)
		return
	}
	if notes == nil {
		notes = []*models.Note{}
	}

	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data: NotesResponse{
			Notes:      notes,
			TotalCount: total,
			Page:       page,
			PageSize:   pageSize,
		},
		Count: len(notes),
	})
}

func (s *Server) handleNote(c *gin.Context) {
	note, err := s.store.GetNote(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, database.ErrNoteNotFound):
		s.writeError(c, "Note not found", http.StatusNotFound)
		return
	case err != nil:
		s.writeError(c, fmt.Sprintf("Failed to fetch note: %v", err), http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: note})
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.GetScrapingStats(c.Request.Context())
	if err != nil {
		s.writeError(c, fmt.Sprintf("Failed to fetch stats: %v", err), http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: stats})
}

func (s *Server) handleExportCSV(c *gin.Context) {
	keyword := c.Query("keyword")
	notes, err := s.store.GetNotesForExport(c.Request.Context(), keyword)
	if err != nil {
		s.writeError(c, fmt.Sprintf("Failed to fetch notes for export: %v", err), http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("xhs_notes_%s.csv", time.Now().Format("2006-01-02"))
	if keyword != "" {
		filename = output.FileName(keyword)
	}
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Status(http.StatusOK)

	if err := output.WriteCSV(c.Writer, models.Details(notes), true); err != nil {
		s.logger.Errorf("Failed to write CSV export: %v", err)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{Status: "healthy", Database: "connected"}
	code := http.StatusOK

	if err := s.store.Ping(c.Request.Context()); err != nil {
		resp.Status = "unhealthy"
		resp.Database = err.Error()
		code = http.StatusServiceUnavailable
	}
	if s.monitor != nil {
		crawler := s.monitor.GetHealthStatus()
		resp.Crawler = &crawler
	}

	c.JSON(code, resp)
}

func (s *Server) writeError(c *gin.Context, message string, status int) {
	s.logger.Error(message)
	c.JSON(status, APIResponse{Success: false, Error: message})
}
