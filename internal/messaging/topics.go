package messaging

// Topics the miner publishes to
const (
	TopicShares       = "miner.shares"        // every submission outcome
	TopicBlocks       = "miner.blocks"        // shares that solved a block
	TopicPoolSwitches = "miner.pool_switches" // registry switches
	TopicStats        = "miner.stats"         // periodic snapshots
)
