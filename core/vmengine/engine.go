// Package vmengine implements the VM Execution Engine: the
// single mutex-serialized owner of the state manager that replays blocks
// and advances the chain store's "vm" iterator head.
package vmengine

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/core/chainstore"
	"github.com/ethcore/execution-core/core/state"
	"github.com/ethcore/execution-core/core/types"
	"github.com/ethcore/execution-core/coreerr"
	"github.com/ethcore/execution-core/log"
	"github.com/ethcore/execution-core/params"
)

func asUint256(b *big.Int) (*uint256.Int, bool) {
	return uint256.FromBig(b)
}

// Status names the engine's lifecycle states.
type Status int

const (
	Opened Status = iota
	Running
	Invalid
)

// ChainStatus records the engine's last known-good (or known-bad)
// position, read by the Engine API to answer forkchoice/status queries.
type ChainStatus struct {
	Height uint64
	Root   common.Hash
	Hash   common.Hash
	Status Status

	// InvalidErr carries the failing block's error when Status == Invalid.
	InvalidErr error
}

const numBlocksPerIteration = 64

// safeReorgDistance is a reorg depth in blocks. No code in this package
// reads it: the engine does not measure reorg depth and emits no reorg
// warning.
const safeReorgDistance = 64

// slowBlockThreshold is the per-block wall time above which a warning
// fires.
const slowBlockThreshold = 200 * time.Millisecond

// Engine owns the single mutable VM + state manager and serializes every
// state-mutating operation through mu: at most one replay, head advance,
// or reset is ever in flight.
type Engine struct {
	mu sync.Mutex

	config *params.ChainConfig
	chain  *chainstore.ChainStore
	evm    EVM
	log    *log.Logger

	state   *state.StateManager
	status  ChainStatus

	genesis *types.Genesis
}

func New(config *params.ChainConfig, chain *chainstore.ChainStore, backend state.TrieBackend, evm EVM, genesis *types.Genesis, logger *log.Logger) *Engine {
	if evm == nil {
		evm = NewSimpleEVM()
	}
	return &Engine{
		config:  config,
		chain:   chain,
		evm:     evm,
		log:     logger,
		state:   state.New(backend),
		genesis: genesis,
	}
}

// Open is idempotent: it loads the current vm head and records its
// number, state root and hash as the chain status; when the head is
// genesis it writes the configured genesis allocation into the state
// manager. It selects no hardfork (Process derives the fork rules from
// each block's number and time) and does not reposition the state
// manager, which keeps the state it was constructed with.
func (e *Engine) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	vmHash := e.chain.VMHead()
	head, ok := e.chain.GetHeader(vmHash)
	if !ok {
		return coreerr.New(coreerr.KindFatalSystem, "open: vm head header missing", nil)
	}
	if head.NumberU64() == 0 && e.genesis != nil {
		for addr, acc := range e.genesis.Alloc {
			e.state.SetNonce(addr, acc.Nonce)
			if acc.Balance != nil {
				bal, overflow := asUint256(acc.Balance)
				if !overflow {
					e.state.SetBalance(addr, bal)
				}
			}
			if len(acc.Code) > 0 {
				e.state.SetCode(addr, acc.Code)
			}
			for k, v := range acc.Storage {
				e.state.SetState(addr, k, v)
			}
		}
	}
	e.status = ChainStatus{Height: head.NumberU64(), Root: head.Root, Hash: vmHash, Status: Opened}
	return nil
}

func (e *Engine) ChainStatus() ChainStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// ShallowCopyAt returns a private state overlay forked from the vm
// head's current state — the cheap fork other components (the block
// builder, in particular) get instead of access to the engine's own
// state manager. parentHash must equal the engine's current chain status
// hash: the reference state manager has no versioned trie to seed an
// overlay from an arbitrary historical root, so building on any other
// parent fails with a missing-parent-state error.
func (e *Engine) ShallowCopyAt(parentHash common.Hash) (*state.StateManager, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.Hash != parentHash {
		return nil, coreerr.New(coreerr.KindPermanentValidation, "missing parent state", errMissingParentState)
	}
	return e.state.ShallowCopy(), nil
}

// Config returns the chain configuration the engine was constructed
// with, read by components (the block builder, in particular) that need
// to compute hardfork-gated values without duplicating config wiring.
func (e *Engine) Config() *params.ChainConfig { return e.config }

var errMissingParentState = errors.New("parent state root not present in state manager")

// RunWithoutSetHeadOptions bundles RunWithoutSetHead's parameters.
type RunWithoutSetHeadOptions struct {
	Root           common.Hash
	Receipts       types.Receipts
	Blocking       bool
	SkipBlockchain bool
}

// RunWithoutSetHead executes a block against the engine's current state
// without advancing vm. opts.Root is not read: no other root can be
// selected and no missing-root check is made. If Receipts are supplied
// it skips actual execution and records them directly against the block
// hash.
func (e *Engine) RunWithoutSetHead(block *types.Block, opts RunWithoutSetHeadOptions) (bool, error) {
	if opts.Blocking {
		e.mu.Lock()
	} else if !e.mu.TryLock() {
		return false, nil
	}
	defer e.mu.Unlock()

	var receipts types.Receipts
	if opts.Receipts != nil {
		receipts = opts.Receipts
	} else {
		result, err := e.executeLocked(block)
		if err != nil {
			e.status.Status = Invalid
			e.status.InvalidErr = err
			e.chain.MarkInvalid(block.Hash(), err)
			return false, err
		}
		receipts = result.Receipts
	}
	e.chain.PutReceipts(block.Hash(), receipts)
	e.chain.MarkExecuted(block.Hash())
	if !opts.SkipBlockchain {
		if err := e.chain.PutBlocks([]*types.Block{block}, true, false); err != nil {
			return false, err
		}
	}
	return true, nil
}

// SetHead commits a contiguous sequence whose tip becomes the new vm
// head.
func (e *Engine) SetHead(blocks []*types.Block, safeHash, finalizedHash *common.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(blocks) == 0 {
		return nil
	}
	tip := blocks[len(blocks)-1]
	if err := e.chain.PutBlocks(blocks, false, false); err != nil {
		return err
	}
	if _, ok := e.chain.GetBlock(tip.Hash()); !ok {
		return coreerr.New(coreerr.KindPermanentValidation, "set head: tip not canonical", nil)
	}
	if err := e.chain.SetIteratorHead(chainstore.IteratorVM, tip.Hash()); err != nil {
		return coreerr.New(coreerr.KindPermanentValidation, "set head: state root mismatch", err)
	}
	if safeHash != nil {
		_ = e.chain.SetIteratorHead(chainstore.IteratorSafe, *safeHash)
	}
	if finalizedHash != nil {
		_ = e.chain.SetIteratorHead(chainstore.IteratorFinalized, *finalizedHash)
	}
	// The tip's state is committed (by this engine or by the builder
	// overlay that produced it), so the backend is authoritative now.
	e.state.DiscardDirty()
	e.status = ChainStatus{Height: tip.NumberU64(), Root: tip.Root(), Hash: tip.Hash(), Status: Opened}
	return nil
}

// Run drives the VM forward along the canonical chain, executing at most
// numBlocksPerIteration blocks per call. It returns early once vm equals
// the canonical head; otherwise the remaining blocks wait for the next
// call.
func (e *Engine) Run() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := 0; i < numBlocksPerIteration; i++ {
		head, ok := e.chain.GetHeader(e.chain.VMHead())
		if !ok {
			return coreerr.New(coreerr.KindFatalSystem, "run: vm head missing", nil)
		}
		canonical, ok := e.chain.GetCanonicalHeadBlock()
		if !ok || head.Hash() == canonical.Hash() {
			return nil
		}
		next, ok := e.chain.GetBlockByNumber(head.NumberU64() + 1)
		if !ok {
			return nil
		}
		start := time.Now()
		result, err := e.executeLocked(next)
		if err != nil {
			e.status.Status = Invalid
			e.status.InvalidErr = err
			e.chain.MarkInvalid(next.Hash(), err)
			return err
		}
		if elapsed := time.Since(start); elapsed > slowBlockThreshold {
			e.log.Warn("slow block", "number", next.NumberU64(), "elapsed", elapsed)
		}
		e.chain.PutReceipts(next.Hash(), result.Receipts)
		e.chain.MarkExecuted(next.Hash())
		if err := e.chain.SetIteratorHead(chainstore.IteratorVM, next.Hash()); err != nil {
			return err
		}
		e.status = ChainStatus{Height: next.NumberU64(), Root: next.Root(), Hash: next.Hash(), Status: Opened}
	}
	return nil
}

// ExecuteBlocks performs a read-only debug replay on a shallow state
// copy with no commit.
func (e *Engine) ExecuteBlocks(first, last uint64) ([]*ProcessResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	saved := e.state
	e.state = saved.ShallowCopy()
	defer func() { e.state = saved }()

	var results []*ProcessResult
	for n := first; n <= last; n++ {
		block, ok := e.chain.GetBlockByNumber(n)
		if !ok {
			return nil, fmt.Errorf("executeBlocks: missing block %d", n)
		}
		result, err := Process(e.config, e.evm, e.state, block)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// executeLocked runs the single-block execution sequence: parent lookup,
// hardfork reconfig (implicit in params.Rules being recomputed per
// call), per-tx loop via Process, and post-execution root/gas checks
// against the header.
func (e *Engine) executeLocked(block *types.Block) (*ProcessResult, error) {
	parent, ok := e.chain.GetHeader(block.ParentHash())
	if !ok {
		return nil, coreerr.New(coreerr.KindPermanentValidation, "missing parent header", nil)
	}
	if parent.Hash() != block.ParentHash() {
		return nil, coreerr.New(coreerr.KindPermanentValidation, "parent hash mismatch", nil)
	}

	result, err := Process(e.config, e.evm, e.state, block)
	if err != nil {
		return nil, coreerr.New(coreerr.KindPermanentValidation, "process block", err)
	}
	if result.GasUsed != block.GasUsed() {
		return nil, coreerr.New(coreerr.KindPermanentValidation,
			fmt.Sprintf("gas used mismatch: have %d, want %d", result.GasUsed, block.GasUsed()), nil)
	}
	if receiptHash := types.CalcReceiptsRoot(result.Receipts); receiptHash != block.Header().ReceiptHash {
		return nil, coreerr.New(coreerr.KindPermanentValidation,
			fmt.Sprintf("receipts root mismatch: have %s, want %s", receiptHash, block.Header().ReceiptHash), nil)
	}
	if bloom := types.LogsBloom(result.Receipts); bloom != block.Header().Bloom {
		return nil, coreerr.New(coreerr.KindPermanentValidation, "logs bloom mismatch", nil)
	}

	root, err := e.state.Commit()
	if err != nil {
		return nil, coreerr.New(coreerr.KindFatalSystem, "commit state", err)
	}
	if root != block.Root() {
		return nil, coreerr.New(coreerr.KindPermanentValidation,
			fmt.Sprintf("state root mismatch: have %s, want %s", root, block.Root()), nil)
	}
	return result, nil
}
