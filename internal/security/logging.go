package security

import (
	"net/http"
	"regexp"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// ContextKeyUserID is the gin context key holding the caller-supplied user scope.
const ContextKeyUserID = "userID"

var validUserID = regexp.MustCompile(`^[A-Za-z0-9._:@|-]{1,128}$`)

// UserScopeMiddleware validates the :userId path parameter and stores it on
// the gin context. Access control is the caller's concern.
func UserScopeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		if !validUserID.MatchString(userID) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid userId", "code": "bad_request"})
			return
		}
		c.Set(ContextKeyUserID, userID)
		c.Next()
	}
}

// AccessLogMiddleware logs each HTTP request with method, path, status, and duration.
// Paths listed in skipPaths are silently passed through without logging.
func AccessLogMiddleware(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		log.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"user", c.GetString(ContextKeyUserID),
			"clientIP", c.ClientIP(),
		)
	}
}
