package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"feed_relay/internal/domain"
)

type FeedGetter interface {
	Get(ctx context.Context, id string) (domain.FeedConfig, error)
}

type StateLister interface {
	All(ctx context.Context) (map[string]domain.FeedState, error)
}

type FeedChecker interface {
	Check(ctx context.Context, feed domain.FeedConfig) (*domain.CheckResult, error)
}

type Config struct {
	Addr           string
	AllowedOrigins []string
	CheckTimeout   time.Duration
}

// Server exposes on-demand feed checks and read-only feed state to the
// dashboard.
type Server struct {
	feeds   FeedGetter
	states  StateLister
	checker FeedChecker
	cfg     Config
	engine  *gin.Engine
	logger  *slog.Logger
}

func NewServer(feeds FeedGetter, states StateLister, checker FeedChecker, cfg Config, logger *slog.Logger) *Server {
	s := &Server{
		feeds:   feeds,
		states:  states,
		checker: checker,
		cfg:     cfg,
		logger:  logger.With("component", "control"),
	}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	if len(s.cfg.AllowedOrigins) > 0 {
		allowCreds := !(len(s.cfg.AllowedOrigins) == 1 && s.cfg.AllowedOrigins[0] == "*")
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: allowCreds,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/api/health", s.health)

	api := r.Group("/api/feeds")
	{
		api.GET("/state", s.feedState)
		api.POST("/:id/check", s.checkFeed)
	}
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("control server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown control server: %w", err)
		}
		s.logger.Info("control server stopped")
		return nil
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) feedState(c *gin.Context) {
	states, err := s.states.All(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to load feed state", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load feed state"})
		return
	}
	c.JSON(http.StatusOK, states)
}

type checkResponse struct {
	FeedID     string `json:"feed_id"`
	StatusCode int    `json:"status_code"`
	LastPost   string `json:"last_post,omitempty"`
	Fetched    int    `json:"fetched"`
	Recent     int    `json:"recent"`
	New        int    `json:"new"`
	Delivered  int    `json:"delivered"`
	Failed     int    `json:"failed"`
	Seeded     bool   `json:"seeded"`
	DurationMS int64  `json:"duration_ms"`
}

func newCheckResponse(r *domain.CheckResult) checkResponse {
	return checkResponse{
		FeedID:     r.FeedID,
		StatusCode: r.StatusCode,
		LastPost:   r.LastPost,
		Fetched:    r.Fetched,
		Recent:     r.Recent,
		New:        r.New,
		Delivered:  r.Delivered,
		Failed:     r.Failed,
		Seeded:     r.Seeded,
		DurationMS: r.Duration.Milliseconds(),
	}
}

func (s *Server) checkFeed(c *gin.Context) {
	id := c.Param("id")

	feed, err := s.feeds.Get(c.Request.Context(), id)
	if errors.Is(err, domain.ErrFeedNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "feed not found"})
		return
	}
	if err != nil {
		s.logger.Error("failed to load feed", "feed_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load feed"})
		return
	}

	// Articles are reserved before they are dispatched, so a client that
	// goes away must not cut the check short.
	ctx := context.WithoutCancel(c.Request.Context())
	if s.cfg.CheckTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CheckTimeout)
		defer cancel()
	}

	result, err := s.checker.Check(ctx, feed)
	if err != nil {
		s.logger.Error("on-demand check failed", "feed_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, newCheckResponse(result))
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
