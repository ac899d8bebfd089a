// Package consensus defines the algorithm-agnostic consensus engine
// boundary: the pre-merge PoW path and the post-merge beacon path both
// satisfy the same Engine interface, following go-ethereum's
// consensus.Engine shape (Prepare/Finalize/FinalizeAndAssemble/Seal/
// CalcDifficulty).
package consensus

import (
	"math/big"
	"sync/atomic"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/core/state"
	"github.com/ethcore/execution-core/core/types"
	"github.com/ethcore/execution-core/params"
)

// ChainHeaderReader is the small slice of chain store behavior a
// consensus engine needs to verify and prepare headers.
type ChainHeaderReader interface {
	Config() *params.ChainConfig
	GetHeader(hash common.Hash) (*types.Header, bool)
	GetHeaderByNumber(number uint64) (*types.Header, bool)
}

// Engine is the algorithm-agnostic consensus engine. Go-ethereum's
// interface carries extra methods (header verification batches, uncle
// handling, APIs) that nothing here calls; this one keeps only what the
// miner and the engine-API surface actually use.
type Engine interface {
	// Prepare initializes the consensus fields of a header for sealing.
	Prepare(chain ChainHeaderReader, header *types.Header) error

	// Finalize applies post-transaction state changes (block rewards)
	// without assembling the final block.
	Finalize(chain ChainHeaderReader, header *types.Header, st *state.StateManager, withdrawals types.Withdrawals) error

	// FinalizeAndAssemble finalizes and assembles the final block.
	FinalizeAndAssemble(chain ChainHeaderReader, header *types.Header, st *state.StateManager, txs types.Transactions,
		receipts types.Receipts, withdrawals types.Withdrawals) (*types.Block, error)

	// Seal generates a sealing request for the given block and pushes
	// the result into results once found. Seal returns immediately; the
	// seal runs on its own goroutine and can be aborted via stop.
	Seal(chain ChainHeaderReader, block *types.Block, results chan<- *types.Block, stop <-chan struct{}) error

	// CalcDifficulty is the difficulty adjustment algorithm, returning
	// the difficulty a new block should have given its parent.
	CalcDifficulty(chain ChainHeaderReader, time uint64, parent *types.Header) *big.Int
}

// PoW marks an Engine whose Seal performs proof-of-work, the pre-merge
// path the miner drives.
type PoW interface {
	Engine
	Hashrate() float64
}

// Merger tracks the PoW->PoS transition, after go-ethereum's
// consensus.Merger: a tiny struct gating whether the node treats new
// blocks as PoW-sealed or beacon-driven.
type Merger struct {
	ttdReached   atomic.Bool
	posFinalized atomic.Bool
}

func NewMerger() *Merger { return &Merger{} }

// ReachTTD is called whenever the local chain reaches the configured
// terminal total difficulty; idempotent.
func (m *Merger) ReachTTD() { m.ttdReached.Store(true) }

func (m *Merger) TDDReached() bool { return m.ttdReached.Load() }

// FinalizePoS is called on the first successful forkchoiceUpdated,
// after which the node never falls back to PoW block production.
func (m *Merger) FinalizePoS() {
	m.ttdReached.Store(true)
	m.posFinalized.Store(true)
}

func (m *Merger) PoSFinalized() bool { return m.posFinalized.Load() }
