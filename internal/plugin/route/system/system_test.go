package system_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sheryldeakin/mindstorm-sub000/internal/plugin/route/system"
	registryroute "github.com/sheryldeakin/mindstorm-sub000/internal/registry/route"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagementRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	loaders := registryroute.ManagementRouteLoaders()
	require.NotEmpty(t, loaders)
	for _, load := range loaders {
		require.NoError(t, load(r))
	}

	get := func(path string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w.Code
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var health struct {
		Status    string            `json:"status"`
		Pipelines map[string]string `json:"pipelines"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "cycles_v1", health.Pipelines["cycles"])
	assert.Equal(t, "themeSeries_v1", health.Pipelines["theme_series"])
	assert.Equal(t, "labels_v1", health.Pipelines["labels"])

	assert.Equal(t, http.StatusServiceUnavailable, get("/ready"))
	system.MarkReady()
	assert.Equal(t, http.StatusOK, get("/ready"))
	system.MarkNotReady()
	assert.Equal(t, http.StatusServiceUnavailable, get("/ready"))
	assert.Equal(t, http.StatusOK, get("/metrics"))
}
