package httpapi

import (
	"mediaconv/pkg/config"
	"mediaconv/pkg/health"
	"mediaconv/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewRouter),
)

// Router exposes the route groups services register on. Admin routes sit
// behind the admin key.
type Router struct {
	Engine *gin.Engine
	V1     *gin.RouterGroup
	Admin  *gin.RouterGroup
}

type Params struct {
	fx.In
	Config *config.Config
	Health health.HealthService
}

func NewRouter(p Params) *Router {
	if p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.Logger(), middleware.Error())

	engine.GET("/healthz", p.Health.Liveness)
	engine.GET("/readyz", p.Health.Readiness)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &Router{
		Engine: engine,
		V1:     engine.Group("/v1"),
		Admin:  engine.Group("/admin", middleware.AdminKey(p.Config.Admin.APIKey)),
	}
}
