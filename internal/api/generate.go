package api

import (
	"net/http"

	"github.com/cozy-creator/genjobs/internal/app"
	"github.com/cozy-creator/genjobs/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/vmihailenco/msgpack/v5"
)

const contentTypeMsgPack = "application/msgpack"

type GenerateResponse struct {
	GenerationID string          `json:"generation_id"`
	Status       types.JobStatus `json:"status"`
}

func GenerateHandler(c *gin.Context) {
	var req types.GenerationRequest
	contentType := c.ContentType()
	if contentType == "" {
		contentType = binding.MIMEJSON
	}

	switch contentType {
	case contentTypeMsgPack:
		if err := msgpack.NewDecoder(c.Request.Body).Decode(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "failed to parse msgpack request body", "kind": types.KindInvalidParameters})
			return
		}
	case binding.MIMEJSON:
		if err := c.ShouldBindWith(&req, binding.JSON); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "failed to parse json request body", "kind": types.KindInvalidParameters})
			return
		}
	default:
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"message": "unsupported content type: " + contentType})
		return
	}

	app := c.MustGet("app").(*app.App)
	id, err := app.Orchestrator().Generate(&req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, GenerateResponse{GenerationID: id, Status: types.JobStatusSubmitted})
}

func InitHandler(c *gin.Context) {
	app := c.MustGet("app").(*app.App)
	if err := app.Orchestrator().Init(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
