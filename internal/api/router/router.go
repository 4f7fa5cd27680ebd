package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/echomsg/gifting-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		if err := deps.DB.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
		if deps.Broker != nil && !deps.Broker.IsConnected() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "message broker disconnected",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "gifting-api-service",
		})
	})

	giftHandler := handler.NewGiftHandler(deps)
	broadcastHandler := handler.NewBroadcastHandler(deps)
	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		gifts := v1.Group("/gifts")
		{
			// POST /api/v1/gifts/preview - Build the confirmation summary
			gifts.POST("/preview", giftHandler.PreviewGift)

			// POST /api/v1/gifts - Run a confirmed donation
			gifts.POST("", giftHandler.SendGift)

			// GET /api/v1/gifts/:job_id - Check a pending gift job
			gifts.GET("/:job_id", giftHandler.GetGift)
		}

		// POST /api/v1/attachments - Upload a source attachment blob
		v1.POST("/attachments", broadcastHandler.UploadAttachment)

		// POST /api/v1/broadcasts - Enqueue a broadcast media message
		v1.POST("/broadcasts", broadcastHandler.CreateBroadcast)

		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs - List job records
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job record status
			jobs.GET("/:job_id", jobHandler.GetJob)

			// DELETE /api/v1/jobs/:job_id - Cancel a stored job record
			jobs.DELETE("/:job_id", jobHandler.CancelJob)
		}
	}

	return r
}
