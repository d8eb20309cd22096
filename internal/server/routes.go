package server

import (
	"net/http"

	"github.com/cozy-creator/genjobs/internal/api"
	"github.com/cozy-creator/genjobs/internal/app"
	"github.com/gin-gonic/gin"
)

func (s *Server) SetupRoutes(app *app.App) {
	// Health check endpoint
	s.ginEngine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiV1 := s.ginEngine.Group("/api/v1")

	apiV1.POST("/init", handlerWrapper(app, api.InitHandler))
	apiV1.POST("/generate", handlerWrapper(app, api.GenerateHandler))

	apiV1.GET("/jobs", handlerWrapper(app, api.ListJobsHandler))
	apiV1.GET("/jobs/:id", handlerWrapper(app, api.GetJobHandler))
	apiV1.DELETE("/jobs/:id", handlerWrapper(app, api.AcknowledgeJobHandler))
	apiV1.POST("/jobs/:id/cancel", handlerWrapper(app, api.CancelJobHandler))
	apiV1.GET("/jobs/:id/events", handlerWrapper(app, api.StreamJobHandler))

	apiV1.GET("/models", handlerWrapper(app, api.ListModelsHandler))
	apiV1.GET("/loras", handlerWrapper(app, api.ListLorasHandler))

	apiV1.GET("/history", handlerWrapper(app, api.ListHistoryHandler))
	apiV1.GET("/history/:id", handlerWrapper(app, api.GetHistoryHandler))
}

func handlerWrapper(app *app.App, f func(c *gin.Context)) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Set("app", app)
		f(ctx)
	}
}
