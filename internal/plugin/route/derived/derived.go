package derived

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	registrystore "github.com/sheryldeakin/mindstorm-sub000/internal/registry/store"
	"github.com/sheryldeakin/mindstorm-sub000/internal/security"
	"github.com/sheryldeakin/mindstorm-sub000/internal/service"
)

// MountRoutes mounts the derived analytics read routes.
func MountRoutes(r *gin.Engine, svc *service.Service) {
	g := r.Group("/v1/users/:userId/derived", security.UserScopeMiddleware())

	g.GET("/theme-series", func(c *gin.Context) {
		serve(c, svc.GetThemeSeries)
	})
	g.GET("/connections", func(c *gin.Context) {
		serve(c, svc.GetConnections)
	})
	g.GET("/cycles", func(c *gin.Context) {
		serve(c, svc.GetCycles)
	})
	g.GET("/snapshot", func(c *gin.Context) {
		serve(c, svc.GetSnapshot)
	})
}

func serve[T any](c *gin.Context, get func(context.Context, string, model.RangeKey) (*service.Result[T], error)) {
	rangeKey, err := model.ParseRangeKey(c.Query("rangeKey"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	res, err := get(c.Request.Context(), c.GetString(security.ContextKeyUserID), rangeKey)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
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
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
