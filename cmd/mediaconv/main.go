package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"mediaconv/pkg/config"
	"mediaconv/pkg/db"
	"mediaconv/pkg/featureflags"
	"mediaconv/pkg/gen"
	"mediaconv/pkg/hashistack/secretmanager"
	"mediaconv/pkg/hashistack/servicediscover"
	"mediaconv/pkg/health"
	"mediaconv/pkg/httpapi"
	"mediaconv/pkg/logger"
	"mediaconv/pkg/objectstore"
	"mediaconv/pkg/otelcol"
	"mediaconv/pkg/profiling"
	"mediaconv/pkg/redis"
	"mediaconv/pkg/server"
	asynqtask "mediaconv/pkg/task"
	"mediaconv/services/account"
	"mediaconv/services/conversion"
	"mediaconv/services/ledger"
	"mediaconv/services/session"
	"mediaconv/services/storage"
	"mediaconv/services/task"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		asynqtask.Client,
		gen.Module,
		objectstore.Module,
		featureflags.Module,
		fx.Invoke(migrate),

		ledger.Module,
		session.Module,
		account.Module,
		conversion.Module,
		storage.Module,
		storage.Routes,
		task.Module,
		task.Routes,
		task.Cron,

		health.Module,
		httpapi.Module,
		server.Module,
		servicediscover.Module,
		fxLogger,
	}
	if secretmanager.Enabled() {
		opts = append(opts, secretmanager.Module)
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func migrate(conn *gorm.DB) {
	models := append(ledger.Models(), conversion.Models()...)
	models = append(models, task.Models()...)
	db.Migrate(conn, models...)
}
