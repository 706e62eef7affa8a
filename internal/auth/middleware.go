package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const userIDKey = "user_id"

// Middleware rejects requests without a valid bearer token and stores the
// user id for handlers.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			abort(c, "missing bearer token")
			return
		}

		userID, err := v.UserID(token)
		if err != nil {
			logrus.WithError(err).Debug("Rejected bearer token")
			abort(c, "invalid bearer token")
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the authenticated user id stored by Middleware.
func UserID(c *gin.Context) (string, bool) {
	id := c.GetString(userIDKey)
	return id, id != ""
}

func abort(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "Unauthorized",
		"message": message,
		"code":    http.StatusUnauthorized,
	})
}
