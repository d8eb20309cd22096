package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/cozy-creator/genjobs/internal/app"
	"github.com/cozy-creator/genjobs/internal/services/history"
	"github.com/cozy-creator/genjobs/internal/types"
	"github.com/gin-gonic/gin"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func historyRecorder(c *gin.Context) (*history.Recorder, bool) {
	app := c.MustGet("app").(*app.App)
	recorder := app.History()
	if recorder == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "generation history is disabled"})
		return nil, false
	}

	return recorder, true
}

func queryInt(c *gin.Context, key string, fallback int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, true
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid " + key, "kind": types.KindInvalidParameters})
		return 0, false
	}

	return value, true
}

func ListHistoryHandler(c *gin.Context) {
	recorder, ok := historyRecorder(c)
	if !ok {
		return
	}

	if hash := c.Query("input_hash"); hash != "" {
		entries, err := recorder.ListByInputHash(c.Request.Context(), hash)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error(), "kind": types.KindInternal})
			return
		}

		c.JSON(http.StatusOK, gin.H{"data": entries})
		return
	}

	limit, ok := queryInt(c, "limit", defaultHistoryLimit)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}
	if limit == 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	entries, err := recorder.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error(), "kind": types.KindInternal})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

func GetHistoryHandler(c *gin.Context) {
	recorder, ok := historyRecorder(c)
	if !ok {
		return
	}
	id, ok := jobID(c)
	if !ok {
		return
	}

	entry, err := recorder.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"message": "generation not found", "kind": types.KindUnknownJob})
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error(), "kind": types.KindInternal})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}
