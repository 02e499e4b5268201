package entries

import (
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	registrystore "github.com/sheryldeakin/mindstorm-sub000/internal/registry/store"
	"github.com/sheryldeakin/mindstorm-sub000/internal/security"
	"github.com/sheryldeakin/mindstorm-sub000/internal/service"
)

// PutSignalRequest is the body of PUT .../entries/:entryId/signals: the
// entry's extracted fields plus the time the source entry was last edited.
type PutSignalRequest struct {
	model.EntryFields
	SourceUpdatedAt *time.Time `json:"sourceUpdatedAt,omitempty"`
}

// MountRoutes mounts the entry write triggers and weekly narrative routes.
func MountRoutes(r *gin.Engine, svc *service.Service) {
	g := r.Group("/v1/users/:userId", security.UserScopeMiddleware())

	g.PUT("/entries/:entryId/signals", func(c *gin.Context) {
		putSignal(c, svc)
	})
	g.DELETE("/entries/:entryId/signals", func(c *gin.Context) {
		deleteSignal(c, svc)
	})
	g.PUT("/weekly-narratives/:weekStart", func(c *gin.Context) {
		putWeeklyNarrative(c, svc)
	})
}

func putSignal(c *gin.Context, svc *service.Service) {
	var req PutSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
		return
	}
	var updatedAt time.Time
	if req.SourceUpdatedAt != nil {
		updatedAt = *req.SourceUpdatedAt
	}

	userID := c.GetString(security.ContextKeyUserID)
	signal, err := svc.OnEntryChanged(c.Request.Context(), userID, c.Param("entryId"), req.EntryFields, updatedAt)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, signal)
}

func deleteSignal(c *gin.Context, svc *service.Service) {
	userID := c.GetString(security.ContextKeyUserID)
	if err := svc.OnEntryDeleted(c.Request.Context(), userID, c.Param("entryId")); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func putWeeklyNarrative(c *gin.Context, svc *service.Service) {
	var narrative model.Narrative
	if err := c.ShouldBindJSON(&narrative); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
		return
	}
	userID := c.GetString(security.ContextKeyUserID)
	weekly, err := svc.PutWeeklyNarrative(c.Request.Context(), userID, c.Param("weekStart"), narrative)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, weekly)
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"code": conflict.Code, "error": err.Error()})
	default:
		log.Error("entry write failed", "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
