package idgen

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node     *snowflake.Node
	nodeUsed int64
	mu       sync.Mutex
)

// Initialize sets up the Snowflake ID generator with a node ID.
// Every server instance sharing a database needs a distinct node ID.
func Initialize(nodeID int64) error {
	mu.Lock()
	defer mu.Unlock()

	if node != nil {
		if nodeUsed == nodeID {
			return nil
		}
		return fmt.Errorf("id generator already initialized with a different node")
	}

	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return fmt.Errorf("invalid snowflake node %d: %w", nodeID, err)
	}
	node = n
	nodeUsed = nodeID
	return nil
}

// GenerateID generates a new Snowflake ID as a string
func GenerateID() string {
	mu.Lock()
	n := node
	mu.Unlock()

	if n == nil {
		// Initialize with default node ID if not already initialized
		_ = Initialize(1)
		mu.Lock()
		n = node
		mu.Unlock()
	}
	return n.Generate().String()
}
