package storage

import (
	"mediaconv/pkg/objectstore"

	"go.uber.org/fx"
)

var Module = fx.Module("storage.sweeper",
	fx.Provide(
		func(s objectstore.Store) Remover { return s },
		NewSweeper,
	),
)

// Routes exposes the manual sweep on the admin API.
var Routes = fx.Invoke(RegisterRoutes)
