package services

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"atmos/config"
	"atmos/models"
)

// ReadingSource is the query surface of the sensor store.
type ReadingSource interface {
	Latest(ctx context.Context) (*models.Reading, error)
	List(ctx context.Context, page, limit int, order string) ([]models.Reading, int64, error)
	Since(ctx context.Context, since time.Time) ([]models.Reading, error)
	Available() bool
	SessionStart(at time.Time) time.Time
}

// LatestReader is the read side of the latest-reading cache.
type LatestReader interface {
	GetLatest(ctx context.Context) *models.Reading
}

// StaleReporter reports whether the sensor feed has gone quiet.
type StaleReporter interface {
	Stale() bool
}

// BrokerStatus reports the inbound transport connection state, satisfied by
// both transport consumers.
type BrokerStatus interface {
	IsConnected() bool
}

// APIServer exposes the query and live endpoints over HTTP.
type APIServer struct {
	config   *config.Config
	store    ReadingSource
	cache    LatestReader // optional
	stats    *StatsAccumulator
	hub      *Hub
	watchdog StaleReporter // optional
	broker   BrokerStatus  // optional
	logger   *zap.Logger
	now      func() time.Time
}

func NewAPIServer(cfg *config.Config, store ReadingSource, stats *StatsAccumulator, hub *Hub, logger *zap.Logger) *APIServer {
	return &APIServer{
		config: cfg,
		store:  store,
		stats:  stats,
		hub:    hub,
		logger: logger,
		now:    time.Now,
	}
}

// WithCache attaches the optional Redis read path for /api/sensors/latest.
func (s *APIServer) WithCache(cache LatestReader) *APIServer {
	s.cache = cache
	return s
}

// WithWatchdog attaches the feed staleness source for /healthz.
func (s *APIServer) WithWatchdog(w StaleReporter) *APIServer {
	s.watchdog = w
	return s
}

// WithBroker attaches the transport connection state for /healthz.
func (s *APIServer) WithBroker(b BrokerStatus) *APIServer {
	s.broker = b
	return s
}

// Router builds the gin engine with all routes registered.
func (s *APIServer) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	{
		api.GET("/sensors/latest", s.handleLatest)
		api.GET("/sensors", s.handleList)
		api.GET("/sensors/today", s.handleToday)
		api.GET("/sensors/stats", s.handleStats)
		api.GET("/alerts/config", s.handleAlertConfig)
	}

	router.GET("/healthz", s.handleHealth)
	router.GET("/ws", func(c *gin.Context) {
		s.hub.ServeWS(c.Writer, c.Request)
	})

	return router
}

func (s *APIServer) handleLatest(c *gin.Context) {
	if s.cache != nil {
		if r := s.cache.GetLatest(c.Request.Context()); r != nil {
			c.JSON(http.StatusOK, gin.H{"success": true, "data": r, "source": "cache"})
			return
		}
	}

	reading, err := s.store.Latest(c.Request.Context())
	if err != nil {
		s.logger.Error("Failed to query latest reading", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to query latest reading"})
		return
	}
	if reading == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no readings yet"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": reading, "source": "db"})
}

func (s *APIServer) handleList(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	order := c.DefaultQuery("order", "desc")

	readings, total, err := s.store.List(c.Request.Context(), page, limit, order)
	if err != nil {
		s.logger.Error("Failed to list readings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to list readings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    readings,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

func (s *APIServer) handleToday(c *gin.Context) {
	since := s.store.SessionStart(s.now())

	readings, err := s.store.Since(c.Request.Context(), since)
	if err != nil {
		s.logger.Error("Failed to query today's readings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to query readings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    readings,
		"count":   len(readings),
		"since":   since.Format(time.RFC3339),
	})
}

func (s *APIServer) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": s.stats.Snapshot()})
}

func (s *APIServer) handleAlertConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"temperature": gin.H{
				"threshold":          s.config.TempThreshold,
				"critical_threshold": s.config.TempThreshold + s.config.TempCriticalOffset,
				"hysteresis":         s.config.TempHysteresis,
			},
			"humidity": gin.H{
				"threshold":  s.config.HumidityThreshold,
				"hysteresis": s.config.HumidityHysteresis,
			},
			"cooldown_seconds": int(s.config.Cooldown.Seconds()),
			// suggested polling cadence for dashboards not using /ws
			"refresh_interval_seconds": int(s.config.RefreshInterval.Seconds()),
		},
	})
}

func (s *APIServer) handleHealth(c *gin.Context) {
	dbOK := s.store.Available()
	feedOK := s.watchdog == nil || !s.watchdog.Stale()
	brokerOK := s.broker == nil || s.broker.IsConnected()

	status := http.StatusOK
	if !dbOK {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":      statusWord(dbOK && feedOK && brokerOK),
		"database":    statusWord(dbOK),
		"broker":      statusWord(brokerOK),
		"sensor_feed": statusWord(feedOK),
		"ws_clients":  s.hub.ClientCount(),
	})
}

func statusWord(ok bool) string {
	if ok {
		return "ok"
	}
	return "degraded"
}
