package gen

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("snowflake", fx.Provide(NewSnowflakeNode))

// NodeID is overridable per process so API and worker replicas never collide.
var NodeID int64 = 1

func NewSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(NodeID)
}
