package featureflags

import (
	"context"
	"strconv"

	"mediaconv/pkg/config"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("featureflags", fx.Provide(ProvideFeatureFlag))

// FormatFlagPrefix names the per-format kill switches, e.g. "format_mp3".
const FormatFlagPrefix = "format_"

type FeatureFlag interface {
	// FormatEnabled reports whether format may be produced for the account.
	// Unknown flags and lookup failures count as enabled.
	FormatEnabled(ctx context.Context, accountID int64, format string) bool
}

type identityFlags interface {
	GetIdentityFlags(identifier string, traits []*flagsmith.Trait) (flagsmith.Flags, error)
}

type featureflag struct {
	client identityFlags
}

type FeatureParams struct {
	fx.In
	Config *config.Config
}

func ProvideFeatureFlag(p FeatureParams) FeatureFlag {
	if p.Config.Flagsmith.ApiKey == "" {
		return &featureflag{}
	}

	opts := []flagsmith.Option{flagsmith.WithAnalytics()}
	if p.Config.Flagsmith.Addr != "" {
		opts = append(opts, flagsmith.WithBaseURL(p.Config.Flagsmith.Addr))
	}

	return &featureflag{
		client: flagsmith.NewClient(p.Config.Flagsmith.ApiKey, opts...),
	}
}

func (s *featureflag) FormatEnabled(ctx context.Context, accountID int64, format string) bool {
	if s.client == nil {
		return true
	}

	flags, err := s.client.GetIdentityFlags(strconv.FormatInt(accountID, 10), nil)
	if err != nil {
		zap.L().Warn("feature flag lookup failed, allowing format", zap.String("format", format), zap.Error(err))
		return true
	}

	enabled, err := flags.IsFeatureEnabled(FormatFlagPrefix + format)
	if err != nil {
		return true
	}
	return enabled
}
