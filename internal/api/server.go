// Package api exposes the story service over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"story-workers/internal/common/auth"
	"story-workers/internal/common/logger"
	"story-workers/internal/common/observability"
	"story-workers/internal/models"
	"story-workers/internal/stories/generation"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StoryService is everything the HTTP layer calls into.
type StoryService interface {
	Generate(ctx context.Context, userID string, in models.GenerateInput) (*generation.Result, error)
	Stories(ctx context.Context, userID string) ([]models.Story, error)
	Reconcile(ctx context.Context, userID string) (int, error)
	Story(ctx context.Context, userID, id string) (*models.Story, error)
	UpdateStory(ctx context.Context, userID, id string, update models.StoryUpdate) (*models.Story, error)
	ToggleVisibility(ctx context.Context, userID, id string) (*models.Story, error)
	RenameLocal(ctx context.Context, userID string, match models.LocalMatch, title string) error
	Community(ctx context.Context, query string) ([]models.Story, error)
	Balance(ctx context.Context, userID string) (*models.CreditAccount, error)
}

// ReadinessCheck reports whether one dependency is usable.
type ReadinessCheck func(ctx context.Context) error

type Config struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// Env is reported by /api/envcheck; values must not contain secrets.
	Env map[string]interface{}
}

type Server struct {
	config  Config
	service StoryService
	auth    auth.Authenticator
	checks  map[string]ReadinessCheck
	obs     *observability.Observability
	logger  logger.Logger
	http    *http.Server
}

func NewServer(
	cfg Config,
	service StoryService,
	authenticator auth.Authenticator,
	checks map[string]ReadinessCheck,
	obs *observability.Observability,
	log logger.Logger,
) *Server {
	s := &Server{
		config:  cfg,
		service: service,
		auth:    authenticator,
		checks:  checks,
		obs:     obs,
		logger:  log.WithFields(map[string]interface{}{"component": "api"}),
	}
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(s.logger, s.obs))

	router.GET("/health", s.health)
	router.GET("/ready", s.ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.GET("/envcheck", s.envcheck)
	api.GET("/community", s.community)

	authed := api.Group("", RequireUser(s.auth))
	authed.POST("/generateStories", s.generateStories)
	authed.GET("/credits", s.credits)
	authed.GET("/stories", s.listStories)
	authed.POST("/stories/sync", s.syncStories)
	authed.PATCH("/stories/local", s.renameLocal)
	authed.PATCH("/stories/:id", s.updateStory)
	authed.POST("/stories/:id/visibility", s.toggleVisibility)
	authed.GET("/stories/:id/download", s.downloadStory)

	return router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", map[string]interface{}{"addr": s.http.Addr})
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "failed": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) envcheck(c *gin.Context) {
	env := s.config.Env
	if env == nil {
		env = map[string]interface{}{}
	}
	c.JSON(http.StatusOK, env)
}
