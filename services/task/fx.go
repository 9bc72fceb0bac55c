package task

import (
	"mediaconv/services/storage"

	"go.uber.org/fx"
)

var Module = fx.Module("task.service",
	fx.Provide(
		func(s *storage.Sweeper) Sweeper { return s },
		NewService,
	),
)

var (
	// Cron enqueues the periodic sweep.
	Cron   = fx.Invoke(NewScheduler)
	Routes = fx.Invoke(RegisterRoutes)
	Worker = fx.Invoke(RegisterHandlers)
)
