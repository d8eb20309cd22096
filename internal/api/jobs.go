package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cozy-creator/genjobs/internal/app"
	"github.com/cozy-creator/genjobs/internal/mq"
	"github.com/cozy-creator/genjobs/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// How long the event stream waits on the queue before re-reading the
// registry snapshot.
var eventPollInterval = 2 * time.Second

func jobID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid job id", "kind": types.KindInvalidParameters})
		return "", false
	}

	return id, true
}

func ListJobsHandler(c *gin.Context) {
	app := c.MustGet("app").(*app.App)
	c.JSON(http.StatusOK, gin.H{"data": app.Orchestrator().Jobs()})
}

func GetJobHandler(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	app := c.MustGet("app").(*app.App)
	job, err := app.Orchestrator().Status(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": job})
}

func CancelJobHandler(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	app := c.MustGet("app").(*app.App)
	job, err := app.Orchestrator().Cancel(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": job})
}

func AcknowledgeJobHandler(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	app := c.MustGet("app").(*app.App)
	job, err := app.Orchestrator().Acknowledge(id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": job})
}

// StreamJobHandler sends the job's current snapshot and then every later
// transition as server-sent events until the job is terminal.
func StreamJobHandler(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	app := c.MustGet("app").(*app.App)
	orchestrator := app.Orchestrator()
	reqCtx := c.Request.Context()

	last, err := orchestrator.Status(reqCtx, id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Status(http.StatusOK)
	sendJob(c, last)

	publisher := app.Events()
	if publisher == nil {
		if last.Status.Terminal() {
			return
		}

		job, err := orchestrator.Wait(reqCtx, id)
		if err != nil {
			sendError(c, err)
			return
		}
		sendJob(c, job)
		return
	}

	for !last.Status.Terminal() {
		ctx, cancel := context.WithTimeout(reqCtx, eventPollInterval)
		job, err := publisher.Next(ctx, id)
		if err != nil {
			if !errors.Is(err, mq.ErrTopicClosed) {
				<-ctx.Done()
			}
			cancel()
			if reqCtx.Err() != nil {
				return
			}

			job, err = orchestrator.Status(reqCtx, id)
			if err != nil {
				sendError(c, err)
				return
			}
		} else {
			cancel()
		}

		// Stale events that were queued before the first snapshot are skipped.
		if last.Status.CanAdvanceTo(job.Status) {
			sendJob(c, job)
			last = job
		}
	}

	publisher.Release(id)
}

func sendJob(c *gin.Context, job types.Job) {
	c.SSEvent("status", job)
	c.Writer.Flush()
}

func sendError(c *gin.Context, err error) {
	c.SSEvent("error", gin.H{"message": fmt.Sprint(err), "kind": types.KindOf(err)})
	c.Writer.Flush()
}
