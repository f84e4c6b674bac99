package api

import (
	"acexpander/config"
	"acexpander/job"

	"github.com/gin-gonic/gin"
)

func SetupRouter(e *job.Engine, cfg *config.Config) *gin.Engine {
	r := gin.Default()
	h := NewHandler(e, cfg)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.POST("/jobs", h.handleAddJobs)
		v1.GET("/jobs", h.handleListJobs)
		v1.GET("/jobs/:jobId", h.handleGetJob)
		v1.DELETE("/jobs/:jobId", h.handleRemoveJob)
		v1.PATCH("/jobs/:jobId/requeue", h.handleRequeueJob)
		v1.PATCH("/jobs/:jobId/skip", h.handleToggleSkip)
		v1.POST("/jobs/requeue", h.handleRequeueAll)
		v1.POST("/jobs/skip", h.handleSkipAll)

		v1.PUT("/command", h.handleSetCommand)
		v1.GET("/command", h.handleGetCommand)

		v1.POST("/process", h.handleProcess)
		v1.POST("/stop", h.handleStop)
		v1.GET("/status", h.handleStatus)
		v1.GET("/version", h.handleVersion)

		v1.GET("/events", h.handleEvents)
	}
	return r
}
