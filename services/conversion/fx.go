package conversion

import (
	"mediaconv/pkg/featureflags"
	"mediaconv/pkg/ffmpeg"
	"mediaconv/pkg/objectstore"
	"mediaconv/services/account"

	"go.uber.org/fx"
)

var Module = fx.Module("conversion.service",
	fx.Provide(
		NewUsageRepository,
		func(r *UsageRepository) account.UsageStore { return r },
		fx.Annotate(NewHTTPFetcher, fx.As(new(Fetcher))),
		fx.Annotate(ffmpeg.New, fx.As(new(Transcoder))),
		func(s objectstore.Store) ObjectStore { return s },
		func(f featureflags.FeatureFlag) FormatGate { return f },
		NewService,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)
