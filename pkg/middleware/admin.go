package middleware

import (
	"crypto/subtle"

	"mediaconv/pkg/errutil"

	"github.com/gin-gonic/gin"
)

const AdminKeyHeader = "X-Admin-Key"

// AdminKey guards the administrative routes with a shared key. An empty key
// leaves the routes open, which is only meant for local development.
func AdminKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}

		got := c.GetHeader(AdminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			_ = c.Error(errutil.New(errutil.StatusUnauthorized, "invalid admin key"))
			c.Abort()
			return
		}

		c.Next()
	}
}
