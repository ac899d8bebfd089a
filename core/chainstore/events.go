package chainstore

import "github.com/ethcore/execution-core/core/types"

// ChainUpdatedEvent is published whenever the canonical head advances,
// whether by a straight extension or as the tail of a reorg.
type ChainUpdatedEvent struct {
	Head *types.Block
}

// ChainReorgEvent is published with both slices fully materialized before
// any downstream handler observes the new canonical head.
type ChainReorgEvent struct {
	OldBlocks []*types.Block
	NewBlocks []*types.Block
}
