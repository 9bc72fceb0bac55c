package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"mediaconv/pkg/config"
	"mediaconv/pkg/db"
	"mediaconv/pkg/gen"
	"mediaconv/pkg/hashistack/secretmanager"
	"mediaconv/pkg/logger"
	"mediaconv/pkg/objectstore"
	"mediaconv/pkg/otelcol"
	asynqtask "mediaconv/pkg/task"
	"mediaconv/services/storage"
	"mediaconv/services/task"
)

// The worker consumes queued sweeps. Jobs are created by the API's scheduler
// or by POST /admin/jobs/sweep.
func main() {
	gen.NodeID = 2

	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		db.Module,
		gen.Module,
		objectstore.Module,
		storage.Module,
		task.Module,
		task.Worker,
		asynqtask.Server,
		fxLogger,
	}
	if secretmanager.Enabled() {
		opts = append(opts, secretmanager.Module)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
