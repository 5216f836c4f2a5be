package gateway

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/example/marketplace/pkg/config"
	"github.com/example/marketplace/pkg/metrics"
	"github.com/example/marketplace/pkg/reconcile"
	"github.com/example/marketplace/pkg/store"
	"github.com/example/marketplace/pkg/views"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

type Gateway struct {
	config      *config.Config
	logger      *zap.Logger
	router      *gin.Engine
	store       *store.Store
	coordinator *reconcile.Coordinator
	views       *views.Views
	metrics     *metrics.Metrics
	audit       AuditReader
	server      *http.Server
}

func NewGateway(cfg *config.Config, logger *zap.Logger, st *store.Store, coord *reconcile.Coordinator, m *metrics.Metrics) *Gateway {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware(logger))
	if m != nil {
		router.Use(metricsMiddleware(m))
	}

	return &Gateway{
		config:      cfg,
		logger:      logger,
		router:      router,
		store:       st,
		coordinator: coord,
		views:       views.New(st),
		metrics:     m,
	}
}

// SetAuditReader enables the admin audit trail endpoint.
func (g *Gateway) SetAuditReader(a AuditReader) {
	g.audit = a
}

func (g *Gateway) SetupRoutes() {
	// Health check
	g.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "orders": g.store.Len()})
	})
	if g.metrics != nil {
		g.router.GET("/metrics", gin.WrapH(g.metrics.Handler()))
	}

	v1 := g.router.Group("/api/v1", actorMiddleware())
	{
		orders := v1.Group("/orders")
		{
			orders.POST("", g.createOrder)
			orders.GET("/:id", g.getOrder)
			orders.GET("/:id/transitions", g.allowedTransitions)
			orders.POST("/:id/transitions", g.transition)
			orders.POST("/:id/escrow/:action", g.escrowOverride)
		}

		v1.GET("/buyer/orders", g.buyerOrders)
		v1.GET("/seller/queues", g.sellerQueues)

		admin := v1.Group("/admin")
		{
			admin.GET("/orders", g.adminOrders)
			admin.GET("/orders/:id/audit", g.adminOrderAudit)
			admin.GET("/stats", g.adminStats)
		}
	}

	// Swagger
	g.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}

// Handler returns the configured router, for tests and custom servers.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

func (g *Gateway) Start() error {
	addr := fmt.Sprintf("%s:%d", g.config.Gateway.Host, g.config.Gateway.Port)
	g.server = &http.Server{
		Addr:              addr,
		Handler:           g.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.logger.Info("Gateway starting", zap.String("address", addr))
	if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (g *Gateway) Stop(timeout time.Duration) error {
	if g.server == nil {
		return nil
	}
	ctx, cancel := contextWithTimeout(timeout)
	defer cancel()
	return g.server.Shutdown(ctx)
}

func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("actor_id", c.GetHeader(headerActorID)),
			zap.String("actor_role", c.GetHeader(headerActorRole)),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func metricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		handler := c.FullPath()
		if handler == "" {
			handler = "unmatched"
		}
		m.Requests.WithLabelValues(handler, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestMS.WithLabelValues(handler).Observe(float64(time.Since(start).Milliseconds()))
	}
}
