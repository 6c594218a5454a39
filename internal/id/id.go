// Package id mints snowflake ids for channels and messages. The hub
// never generates ids itself; REST handlers mint here and pass them in.
package id

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// epoch is 2023-01-01T00:00:00Z in milliseconds.
const epoch = 1672531200000

// Generator hands out monotonic, collision-resistant 64-bit ids.
type Generator struct {
	node *snowflake.Node
}

// New builds a generator for the given node number (0..1023).
func New(nodeID int64) (*Generator, error) {
	snowflake.Epoch = epoch
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}
	return &Generator{node: node}, nil
}

// Next returns a fresh id.
func (g *Generator) Next() int64 {
	return g.node.Generate().Int64()
}

// Timestamp extracts the creation time encoded in an id.
func Timestamp(id int64) time.Time {
	return time.UnixMilli(snowflake.ID(id).Time())
}
