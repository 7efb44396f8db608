// Package api exposes the daemon's HTTP surface: the push webhook
// that triggers runs, and read access to the run journal.
package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fleetdeploy/fleetdeploy/internal/orchestrator"
	"github.com/fleetdeploy/fleetdeploy/pkg/model"
)

// RunStarter starts one deployment run. Implemented by the
// orchestrator.
type RunStarter interface {
	Run(ctx context.Context) (model.RunSummary, error)
}

// Deps wires the handlers.
type Deps struct {
	Runner  RunStarter
	Journal *orchestrator.Journal

	// Branch filters push events; empty accepts any ref.
	Branch string
	Logger *zap.Logger
}

func NewRouter(deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	h := &handlers{deps: deps}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", h.healthz)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/hooks/push", h.pushHook)
		v1.GET("/runs", h.listRuns)
		v1.GET("/runs/:id", h.getRun)
	}
	return r
}

type handlers struct {
	deps Deps

	// runMu serializes runs triggered over HTTP; a second push while a
	// run is in flight is rejected, not queued.
	runMu sync.Mutex
}

func (h *handlers) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
