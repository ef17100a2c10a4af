package router

import (
	"net/http"
	"time"

	"linkgate/internal/admin/api"
	"linkgate/internal/pkg"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRouter 配置 Gin 路由，/metrics 暴露 metrics 所在 registry 的指标
func SetupRouter(logger *zap.Logger, metrics *pkg.PerformanceMetrics) *gin.Engine {
	r := gin.New()
	r.Use(accessLog(logger, metrics), gin.Recovery())

	// 配置 CORS
	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"*"} // 允许所有来源，生产环境应配置具体来源
	config.AllowMethods = []string{"GET", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	r.Use(cors.New(config))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))

	apiV1 := r.Group("/api/v1")
	{
		connectors := apiV1.Group("/connectors")
		{
			connectors.GET("", api.GetConnectors)                 // GET /api/v1/connectors
			connectors.GET("/:connectorId", api.GetConnectorByID) // GET /api/v1/connectors/:connectorId
		}

		descriptors := apiV1.Group("/descriptors")
		{
			descriptors.GET("", api.GetDescriptors)                  // GET /api/v1/descriptors
			descriptors.GET("/:descriptorId", api.GetDescriptorByID) // GET /api/v1/descriptors/:descriptorId
		}
	}

	return r
}

// accessLog 用 zap 记录请求，并计入请求计数
func accessLog(logger *zap.Logger, metrics *pkg.PerformanceMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.IncRequestCount()
		logger.Debug("admin 请求",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
