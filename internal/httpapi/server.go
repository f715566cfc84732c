// Package httpapi is the REST surface of the rule broker
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rule-broker/config"
	"rule-broker/internal/logger"
	"rule-broker/internal/reading"
	"rule-broker/internal/rule"
	"rule-broker/internal/stats"
)

const (
	apiKeyHeader = "X-Api-Key"
	clientKey    = "client"
)

// Submitter accepts external readings
type Submitter interface {
	Submit(ctx context.Context, clientID string, r reading.Reading) (reading.Reading, error)
}

// Dependencies holds what the HTTP handlers need
type Dependencies struct {
	Ingest   Submitter
	Readings reading.Store
	Rules    rule.Store
	Clients  []config.ClientConfig
	Stats    *stats.StatsCollector
	Logger   *logger.Logger
}

// Server serves the REST API
type Server struct {
	router   *gin.Engine
	http     *http.Server
	deps     Dependencies
	byAPIKey map[string]config.ClientConfig
	logger   *logger.Logger
}

// NewServer builds the router for addr
func NewServer(addr string, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}

	s := &Server{
		deps:     deps,
		byAPIKey: make(map[string]config.ClientConfig, len(deps.Clients)),
		logger:   deps.Logger,
	}
	for _, c := range deps.Clients {
		s.byAPIKey[c.APIKey] = c
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/health", s.health)

	api := router.Group("/api")
	api.GET("/stats", s.getStats)

	secured := api.Group("")
	secured.Use(s.requireAPIKey())
	{
		secured.POST("/sensors", s.createSensorData)
		secured.GET("/sensors", s.listSensorData)
		secured.GET("/sensors/:id", s.requireDevice(), s.getSensorData)
		secured.GET("/sensors/:id/history", s.requireDevice(), s.getSensorHistory)
		secured.DELETE("/sensors/:id", s.requireDevice(), s.deleteSensorData)

		secured.POST("/rules", s.createRule)
		secured.GET("/rules", s.listRules)
		secured.GET("/rules/:id", s.getRule)
		secured.DELETE("/rules/:id", s.deleteRule)
		secured.PATCH("/rules/:id/active", s.setRuleActive)
	}

	s.router = router
	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("http server listening", "address", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// requireAPIKey resolves the calling client from the API key header
func (s *Server) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := s.byAPIKey[c.GetHeader(apiKeyHeader)]
		if !ok || client.APIKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid api key"})
			return
		}
		c.Set(clientKey, client)
		c.Next()
	}
}

// requireDevice rejects access to a device the client does not own, unless
// the client is an admin
func (s *Server) requireDevice() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := currentClient(c)
		deviceID := c.Param("id")
		if !client.IsAdmin() && !client.OwnsDevice(deviceID) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": fmt.Sprintf("client does not own device %s", deviceID)})
			return
		}
		c.Next()
	}
}

func currentClient(c *gin.Context) config.ClientConfig {
	v, _ := c.Get(clientKey)
	client, _ := v.(config.ClientConfig)
	return client
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getStats(c *gin.Context) {
	if s.deps.Stats == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	body, err := s.deps.Stats.GetStatsJSON()
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// writeError maps an error to its status code
func (s *Server) writeError(c *gin.Context, err error) {
	var readingErr *reading.ValidationError
	var ruleErr *rule.ValidationError

	switch {
	case errors.As(err, &readingErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": readingErr.Message, "field": readingErr.Field})
	case errors.As(err, &ruleErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": ruleErr.Message, "field": ruleErr.Field})
	case errors.Is(err, reading.ErrDuplicateTimestamp), errors.Is(err, rule.ErrDuplicateRule):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, reading.ErrNotFound), errors.Is(err, rule.ErrRuleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		s.logger.Error("request failed",
			"path", c.FullPath(),
			"error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
