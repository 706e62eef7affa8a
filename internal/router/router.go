package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"cold-outreach-go/internal/auth"
	"cold-outreach-go/internal/handler"
)

// Paths polled by probes and scrapers are logged at debug level only.
var quietPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// SetupRouter builds the gin engine for the cold outreach API
func SetupRouter(h *handler.Handlers) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logrus.StandardLogger()))
	h.SetupRoutes(r)
	return r
}

// requestLogger writes one structured entry per request. The authenticated
// user is included when the auth middleware ran.
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		if userID, ok := auth.UserID(c); ok {
			entry = entry.WithField("user_id", userID)
		}
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("Request failed")
		case quietPaths[c.Request.URL.Path]:
			entry.Debug("Request handled")
		default:
			entry.Info("Request handled")
		}
	}
}
