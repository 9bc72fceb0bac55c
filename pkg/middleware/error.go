package middleware

import (
	"mediaconv/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last error attached to the gin context as a BaseError body.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		be := errutil.As(last.Err)
		if be.Code == errutil.StatusInternal || be.Code == errutil.StatusBadGateway {
			zap.L().Error("request failed",
				zap.String("path", c.FullPath()),
				zap.String("method", c.Request.Method),
				zap.Error(last.Err),
			)
		}

		c.AbortWithStatusJSON(be.Code.HTTPStatus(), be.JSON())
	}
}
