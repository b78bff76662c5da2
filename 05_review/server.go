package review

import (
	"context"
	"errors"
	"net/http"
	"time"

	"demo-reel-pipeline/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server exposes run reports, beat results and media for reviewers
type Server struct {
	Router     *gin.Engine
	store      *Store
	reportPath string
	logger     *zap.Logger
}

// NewServer wires the review routes; mediaDir is served under /media
func NewServer(store *Store, reportPath, mediaDir string, logger *zap.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		Router:     router,
		store:      store,
		reportPath: reportPath,
		logger:     logger.Named("review"),
	}
	router.Use(s.logRequests)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := router.Group("/api")
	api.GET("/report", s.getReport)
	api.GET("/results", s.listResults)
	api.GET("/results/:segment", s.getResult)
	router.Static("/media", mediaDir)
	return s
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Debug("request",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("took", time.Since(start)),
	)
}

func (s *Server) getReport(c *gin.Context) {
	r, err := LoadReport(s.reportPath)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No report yet, run the pipeline first"})
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) listResults(c *gin.Context) {
	results, err := s.store.List()
	if err != nil {
		s.logger.Error("list results", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read results"})
		return
	}
	if results == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	c.JSON(http.StatusOK, results)
}

// getResult accepts a file stem (01_personal_intro) or a segment name
func (s *Server) getResult(c *gin.Context) {
	key := c.Param("segment")
	r, err := s.store.Load(key)
	if errors.Is(err, ErrNotFound) {
		r, err = s.findBySegment(key)
	}
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Result not found"})
		return
	}
	if err != nil {
		s.logger.Error("load result", zap.String("segment", key), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read result"})
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) findBySegment(name string) (*types.BeatResult, error) {
	results, err := s.store.List()
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if r.Segment == name {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

// Run serves on addr until ctx is cancelled
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("review server listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errc
		return nil
	}
}
