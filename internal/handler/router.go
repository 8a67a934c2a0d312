package handler

import (
	"strconv"
	"time"

	"github.com/fundvault/fundvault-chain/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Router 路由依赖
type Router struct {
	Validation *ValidationHandler
	Milestone  *MilestoneHandler
	DeadLetter *DeadLetterHandler
	System     *SystemHandler
}

// Setup 注册全部路由
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(metricsMiddleware())

	engine.GET("/health", r.System.Health)
	engine.GET("/metrics", PrometheusHandler())

	v1 := engine.Group("/api/v1")
	{
		v1.POST("/validations", r.Validation.Submit)
		v1.GET("/validations/:id", r.Validation.Get)

		v1.GET("/vaults/:id", r.Milestone.GetVault)
		v1.GET("/milestones/:id", r.Milestone.GetMilestone)
		v1.GET("/milestones/:id/validations", r.Validation.ListByMilestone)
		v1.POST("/milestones/:id/verifiers", r.Milestone.AssignVerifiers)

		v1.POST("/verifiers", r.Milestone.RegisterVerifier)
		v1.POST("/verifiers/:id/deactivate", r.Milestone.DeactivateVerifier)

		v1.GET("/dead-letters", r.DeadLetter.List)
		v1.GET("/dead-letters/metrics", r.DeadLetter.Metrics)
		v1.GET("/dead-letters/:id", r.DeadLetter.Get)
		v1.POST("/dead-letters/:id/discard", r.DeadLetter.Discard)
		v1.POST("/dead-letters/:id/reprocess", r.DeadLetter.Reprocess)

		v1.GET("/ingest/status", r.System.IngestStatus)
	}
}

// metricsMiddleware HTTP 请求指标
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start).Seconds(),
		)
	}
}
