package api

import (
	"net/http"

	"github.com/cozy-creator/genjobs/internal/app"
	"github.com/gin-gonic/gin"
)

func ListModelsHandler(c *gin.Context) {
	app := c.MustGet("app").(*app.App)
	models, err := app.Orchestrator().ListModels(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": models})
}

func ListLorasHandler(c *gin.Context) {
	app := c.MustGet("app").(*app.App)
	loras, err := app.Orchestrator().ListLoras(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": loras})
}
