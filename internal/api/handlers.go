package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type pushPayload struct {
	Ref   string `json:"ref" binding:"required"`
	After string `json:"after"`
}

// pushHook triggers a run on a push to the designated branch. The run
// executes asynchronously; the hook answers once it is started.
func (h *handlers) pushHook(c *gin.Context) {
	var payload pushPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if h.deps.Branch != "" && payload.Ref != "refs/heads/"+h.deps.Branch {
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "ref": payload.Ref})
		return
	}

	if !h.runMu.TryLock() {
		c.JSON(http.StatusConflict, gin.H{"error": "a run is already in flight"})
		return
	}

	h.deps.Logger.Info("push hook accepted",
		zap.String("ref", payload.Ref),
		zap.String("after", payload.After),
	)

	go func() {
		defer h.runMu.Unlock()
		// Detached from the request: the run outlives the hook reply.
		if _, err := h.deps.Runner.Run(context.Background()); err != nil {
			h.deps.Logger.Error("triggered run failed to persist", zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *handlers) listRuns(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := h.deps.Journal.ListRuns(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *handlers) getRun(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))

	if id == "latest" {
		summary, found, err := h.deps.Journal.LatestRun()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "no runs recorded"})
			return
		}
		c.JSON(http.StatusOK, summary)
		return
	}

	summary, found, err := h.deps.Journal.GetRun(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
		return
	}
	c.JSON(http.StatusOK, summary)
}
