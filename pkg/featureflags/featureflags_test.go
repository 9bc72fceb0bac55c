package featureflags

import (
	"context"
	"errors"
	"testing"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mediaconv/pkg/config"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type identityMock struct {
	fn func(identifier string) (flagsmith.Flags, error)
}

func (m *identityMock) GetIdentityFlags(identifier string, _ []*flagsmith.Trait) (flagsmith.Flags, error) {
	return m.fn(identifier)
}

func TestFormatEnabledWithoutClient(t *testing.T) {
	ff := ProvideFeatureFlag(FeatureParams{Config: &config.Config{}})
	require.True(t, ff.FormatEnabled(context.Background(), 1, "mp3"))
}

func TestFormatEnabledLookupFailureAllows(t *testing.T) {
	ff := &featureflag{client: &identityMock{fn: func(string) (flagsmith.Flags, error) {
		return flagsmith.Flags{}, errors.New("unreachable")
	}}}
	require.True(t, ff.FormatEnabled(context.Background(), 1, "mp3"))
}

func TestFormatEnabledUsesAccountIdentity(t *testing.T) {
	var seen string
	ff := &featureflag{client: &identityMock{fn: func(id string) (flagsmith.Flags, error) {
		seen = id
		return flagsmith.Flags{}, nil
	}}}

	require.True(t, ff.FormatEnabled(context.Background(), 42, "mp3"))
	require.Equal(t, "42", seen)
}
