package storage

import (
	"net/http"

	"mediaconv/pkg/httpapi"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *httpapi.Router, s *Sweeper) {
	r.Admin.POST("/sweep", func(c *gin.Context) {
		res, err := s.RunSweep(c.Request.Context())
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, res)
	})
}
