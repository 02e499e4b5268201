package system

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sheryldeakin/mindstorm-sub000/internal/labels"
	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	registryroute "github.com/sheryldeakin/mindstorm-sub000/internal/registry/route"
)

var ready atomic.Bool

// MarkReady flips /ready to 200 once the store is open and the worker started.
func MarkReady() {
	ready.Store(true)
}

// MarkNotReady flips /ready back to 503 while the server drains.
func MarkNotReady() {
	ready.Store(false)
}

// pipelines lists the algorithm versions stamped on rows written by this build.
func pipelines() gin.H {
	h := gin.H{
		"entrySignals": model.PipelineEntrySignals,
		"labels":       labels.Version,
	}
	for _, kind := range model.DerivedKinds {
		h[string(kind)] = model.PipelineVersion(kind)
	}
	return h
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 0,
		Type:  registryroute.RouteTypeManagement,
		Loader: func(r *gin.Engine) error {
			r.GET("/health", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok", "pipelines": pipelines()})
			})
			r.GET("/ready", func(c *gin.Context) {
				if !ready.Load() {
					c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
					return
				}
				c.JSON(http.StatusOK, gin.H{"status": "ready"})
			})
			r.GET("/metrics", gin.WrapH(promhttp.Handler()))
			return nil
		},
	})
}
