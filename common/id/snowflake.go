package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node. The server and the worker use different node ids.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a time-ordered int64 id.
func New() int64 {
	return node.Generate().Int64()
}

// Short returns a compact base36 id, suitable for branch names and correlation ids.
func Short() string {
	return node.Generate().Base36()
}
