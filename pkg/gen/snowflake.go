package gen

import (
	"ticketing-settlement/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("snowflake", fx.Provide(NewNode))

// NewNode builds the snowflake node from SNOWFLAKE.NODE_ID (0..1023).
func NewNode(cfg *config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.Snowflake.NodeID)
}

// NewID returns a fresh snowflake id as a decimal string.
func NewID(node *snowflake.Node) string {
	return node.Generate().String()
}
