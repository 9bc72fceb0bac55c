package session

import (
	"mediaconv/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("session.store",
	fx.Provide(NewStore),
)

type StoreParams struct {
	fx.In
	Config *config.Config
	Redis  *redis.Client `optional:"true"`
}

// NewStore prefers Redis and falls back to process memory when no Redis
// address is configured.
func NewStore(p StoreParams) Store {
	if p.Redis == nil || p.Config.Redis.Addr == "" {
		zap.L().Warn("session store: redis not configured, using in-memory sessions")
		return NewMemoryStore()
	}
	return NewRedisStore(p.Redis)
}
