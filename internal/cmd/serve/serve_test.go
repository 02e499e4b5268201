package serve

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sheryldeakin/mindstorm-sub000/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxBodySizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(maxBodySizeMiddleware(4))
	router.PUT("/v1/users/alice/entries/e1/signals", func(c *gin.Context) {
		n, err := io.Copy(io.Discard, c.Request.Body)
		if err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.String(http.StatusOK, "%d", n)
	})

	send := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/users/alice/entries/e1/signals", strings.NewReader(body)))
		return rec
	}

	require.Equal(t, http.StatusRequestEntityTooLarge, send("0123456789").Code)
	rec := send("012")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "3", rec.Body.String())
}

func TestStartServer(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = "file:" + filepath.Join(t.TempDir(), "serve.db")
	cfg.CacheType = "local"
	cfg.Listener.Port = 0
	cfg.WorkerInterval = time.Hour

	ctx, cancel := context.WithCancel(config.WithContext(context.Background(), &cfg))
	defer cancel()
	srv, err := StartServer(ctx, &cfg)
	require.NoError(t, err)
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		require.NoError(t, srv.Shutdown(shutdownCtx))
	}()

	base := fmt.Sprintf("http://127.0.0.1:%d", srv.Main.Port)
	get := func(path string) *http.Response {
		resp, err := http.Get(base + path)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusOK, get("/health").StatusCode)
	assert.Equal(t, http.StatusOK, get("/ready").StatusCode)

	req, err := http.NewRequest(http.MethodPut, base+"/v1/users/alice/entries/e1/signals",
		strings.NewReader(`{"dateISO":"`+time.Now().UTC().Format("2006-01-02")+`"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get("/v1/users/alice/derived/snapshot?rangeKey=last_7_days")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"stale":true`)
}
