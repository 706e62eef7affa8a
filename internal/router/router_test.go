package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) (*gin.Engine, *test.Hook) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)

	r := gin.New()
	r.Use(requestLogger(logger))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/replies", func(c *gin.Context) {
		c.Set("user_id", "user-1")
		c.Status(http.StatusOK)
	})
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusBadGateway) })
	return r, hook
}

func serve(r *gin.Engine, path string) {
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
}

func TestRequestLoggerFields(t *testing.T) {
	r, hook := newEngine(t)

	serve(r, "/api/v1/replies")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "/api/v1/replies", entry.Data["path"])
	assert.Equal(t, http.StatusOK, entry.Data["status"])
	assert.Equal(t, "user-1", entry.Data["user_id"])
}

func TestRequestLoggerLevels(t *testing.T) {
	r, hook := newEngine(t)

	serve(r, "/healthz")
	assert.Empty(t, hook.AllEntries())

	serve(r, "/boom")
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
}
