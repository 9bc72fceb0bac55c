package health

import (
	"context"
	"net/http"
	"time"

	"mediaconv/pkg/objectstore"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("health", fx.Provide(ProvideHealth))

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps,omitempty"`
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
}

type check struct {
	name string
	ping func(ctx context.Context) error
}

type health struct {
	checks  []check
	timeout time.Duration
}

type HealthParams struct {
	fx.In
	DB    *gorm.DB          `optional:"true"`
	Redis *redis.Client     `optional:"true"`
	Store objectstore.Store `optional:"true"`
}

func ProvideHealth(p HealthParams) HealthService {
	h := &health{timeout: 3 * time.Second}

	if p.DB != nil {
		db := p.DB
		h.checks = append(h.checks, check{name: db.Name(), ping: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}})
	}
	if p.Redis != nil {
		rdb := p.Redis
		h.checks = append(h.checks, check{name: "redis", ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	if p.Store != nil {
		h.checks = append(h.checks, check{name: "objectstore", ping: p.Store.Ping})
	}

	return h
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{Status: statusHealthy, Message: "OK"})
}

// Readiness pings every dependency and answers 503 if any of them fails.
func (h *health) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	out := &Health{Status: statusHealthy, Message: "OK"}
	code := http.StatusOK

	for _, chk := range h.checks {
		dep := Dependency{Name: chk.name, Status: statusHealthy, Message: "OK"}
		if err := chk.ping(ctx); err != nil {
			dep.Status = statusUnhealthy
			dep.Message = err.Error()
			out.Status = statusUnhealthy
			out.Message = "dependency unavailable"
			code = http.StatusServiceUnavailable
		}
		out.Deps = append(out.Deps, dep)
	}

	c.JSON(code, out)
}
