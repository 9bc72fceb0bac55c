package task

import (
	"net/http"
	"strconv"

	"mediaconv/pkg/httpapi"
	"mediaconv/pkg/taskname"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
)

func RegisterRoutes(r *httpapi.Router, s *Service) {
	r.Admin.POST("/jobs/sweep", func(c *gin.Context) {
		job, err := s.EnqueueSweep(c.Request.Context())
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusAccepted, job)
	})

	r.Admin.GET("/jobs", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		jobs, err := s.ListJobs(c.Request.Context(), limit)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"jobs": jobs})
	})
}

// RegisterHandlers binds queue task types to their workers.
func RegisterHandlers(mux *asynq.ServeMux, s *Service) {
	mux.HandleFunc(taskname.StorageSweep, s.HandleSweepTask)
}
