package miner

import (
	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/core/chainstore"
	"github.com/ethcore/execution-core/core/types"
	"github.com/ethcore/execution-core/params"
)

// chainReader adapts a *chainstore.ChainStore, which has no notion of
// chain configuration of its own, into a consensus.ChainHeaderReader for the consensus engine
// calls the builder and miner make.
type chainReader struct {
	config *params.ChainConfig
	chain  *chainstore.ChainStore
}

func newChainReader(config *params.ChainConfig, chain *chainstore.ChainStore) *chainReader {
	return &chainReader{config: config, chain: chain}
}

func (r *chainReader) Config() *params.ChainConfig { return r.config }

func (r *chainReader) GetHeader(hash common.Hash) (*types.Header, bool) {
	return r.chain.GetHeader(hash)
}

func (r *chainReader) GetHeaderByNumber(number uint64) (*types.Header, bool) {
	return r.chain.GetHeaderByNumber(number)
}
