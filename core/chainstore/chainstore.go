// Package chainstore implements the append-only header/body/receipt
// store and the three canonical iterator pointers (vm, safe, finalized)
// the rest of the node reads block data through.
package chainstore

import (
	"log/slog"
	"math/big"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	bloomfilter "github.com/holiman/bloomfilter/v2"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/coreerr"
	"github.com/ethcore/execution-core/core/types"
	"github.com/ethcore/execution-core/event"
	"github.com/ethcore/execution-core/log"
)

const (
	headerCacheLimit = 512
	blockCacheLimit  = 256
	tdCacheLimit     = 1024

	remoteBlockCacheLimit   = 128
	executedBlockCacheLimit = 128
	invalidBlockCacheLimit  = 128
)

// IteratorName names one of the three chain status pointers.
type IteratorName int

const (
	IteratorVM IteratorName = iota
	IteratorSafe
	IteratorFinalized
)

// ChainStore is the append-only block/header/receipt store, shaped like
// the classic core/blockchain.go (LRU caches over a canonical
// number->hash index, a write/reorg/post-events split), generalized to
// the three post-merge iterator heads instead of a single "current
// block" pointer.
type ChainStore struct {
	mu sync.RWMutex

	genesis *types.Block

	headers  map[common.Hash]*types.Header
	bodies   map[common.Hash]types.Body
	receipts map[common.Hash]types.Receipts
	tds      map[common.Hash]*big.Int
	canon    map[uint64]common.Hash // number -> canonical hash

	headerCache *lru.Cache[common.Hash, *types.Header]
	blockCache  *lru.Cache[common.Hash, *types.Block]
	tdCache     *lru.Cache[common.Hash, *big.Int]

	vmHead        common.Hash
	safeHead      common.Hash
	finalizedHead common.Hash
	canonicalHead common.Hash

	// Chain block cache: remote/executed/invalid, keyed by hash.
	remoteBlocks   *lru.Cache[common.Hash, *types.Block]
	executedBlocks *lru.Cache[common.Hash, struct{}]
	invalidBlocks  *lru.Cache[common.Hash, error]

	// Transaction lookup index with a bloom front for cheap negative
	// answers.
	txIndex map[common.Hash]TxLookup
	txBloom *bloomfilter.Filter

	feed event.Feed
	log  *log.Logger
}

func New(genesis *types.Block) *ChainStore {
	headerCache, _ := lru.New[common.Hash, *types.Header](headerCacheLimit)
	blockCache, _ := lru.New[common.Hash, *types.Block](blockCacheLimit)
	tdCache, _ := lru.New[common.Hash, *big.Int](tdCacheLimit)
	remoteBlocks, _ := lru.New[common.Hash, *types.Block](remoteBlockCacheLimit)
	executedBlocks, _ := lru.New[common.Hash, struct{}](executedBlockCacheLimit)
	invalidBlocks, _ := lru.New[common.Hash, error](invalidBlockCacheLimit)

	cs := &ChainStore{
		genesis:        genesis,
		headers:        make(map[common.Hash]*types.Header),
		bodies:         make(map[common.Hash]types.Body),
		receipts:       make(map[common.Hash]types.Receipts),
		tds:            make(map[common.Hash]*big.Int),
		canon:          make(map[uint64]common.Hash),
		headerCache:    headerCache,
		blockCache:     blockCache,
		tdCache:        tdCache,
		remoteBlocks:   remoteBlocks,
		executedBlocks: executedBlocks,
		invalidBlocks:  invalidBlocks,
		txIndex:        make(map[common.Hash]TxLookup),
		txBloom:        newTxBloom(),
		log:            log.New(slog.LevelInfo),
	}

	h := genesis.Hash()
	cs.headers[h] = genesis.Header()
	cs.bodies[h] = types.Body{Transactions: genesis.Transactions(), Withdrawals: genesis.Withdrawals()}
	cs.tds[h] = new(big.Int).Set(genesis.Header().Difficulty)
	cs.canon[0] = h
	cs.vmHead, cs.safeHead, cs.finalizedHead, cs.canonicalHead = h, h, h, h
	return cs
}

func (cs *ChainStore) Subscribe(buffer int) *event.Subscription { return cs.feed.Subscribe(buffer) }

// PutBlocks accepts an ordered list rooted at an existing parent and
// writes header/body/receipts/TD for each.
func (cs *ChainStore) PutBlocks(blocks []*types.Block, skipUpdateHead, skipEmit bool) error {
	if len(blocks) == 0 {
		return nil
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for i, b := range blocks {
		parentHash := b.ParentHash()
		parent, ok := cs.headers[parentHash]
		if !ok {
			return coreerr.New(coreerr.KindPermanentValidation, "put blocks: missing parent", errInvalidBlock)
		}
		if parent.NumberU64()+1 != b.NumberU64() {
			return coreerr.New(coreerr.KindPermanentValidation, "put blocks: number linkage", errInvalidBlock)
		}
		if i > 0 && blocks[i-1].Hash() != parentHash {
			return coreerr.New(coreerr.KindPermanentValidation, "put blocks: chain linkage", errInvalidBlock)
		}
		hash := b.Hash()
		cs.headers[hash] = b.Header()
		cs.bodies[hash] = types.Body{Transactions: b.Transactions(), Uncles: b.Uncles(), Withdrawals: b.Withdrawals()}
		parentTd := cs.tds[parentHash]
		if parentTd == nil {
			parentTd = new(big.Int)
		}
		cs.tds[hash] = new(big.Int).Add(parentTd, b.Header().Difficulty)
		cs.headerCache.Add(hash, b.Header())
		cs.blockCache.Add(hash, b)
		cs.tdCache.Add(hash, cs.tds[hash])
		cs.indexTransactionsLocked(b)
	}

	if skipUpdateHead {
		return nil
	}
	return cs.extendCanonical(blocks, skipEmit)
}

// extendCanonical advances the canonical number->hash index to include
// blocks, detecting and emitting a reorg when a number already has a
// different canonical hash.
func (cs *ChainStore) extendCanonical(blocks []*types.Block, skipEmit bool) error {
	tip := blocks[len(blocks)-1]

	// The canonical suffix is replaced when any supplied number already
	// maps to a different hash, or when the new tip sits below the old
	// head (a shortening fork).
	oldHead, hadHead := cs.headers[cs.canonicalHead]
	reorg := hadHead && oldHead.NumberU64() > tip.NumberU64()
	for _, b := range blocks {
		if h, ok := cs.canon[b.NumberU64()]; ok && h != b.Hash() {
			reorg = true
			break
		}
	}
	if !reorg {
		for _, b := range blocks {
			cs.canon[b.NumberU64()] = b.Hash()
		}
		cs.canonicalHead = tip.Hash()
		if !skipEmit {
			cs.feed.Send(ChainUpdatedEvent{Head: tip})
		}
		return nil
	}

	oldBlocks := cs.collectCanonicalFrom(blocks[0].NumberU64(), cs.canonicalHead)
	for _, b := range blocks {
		cs.canon[b.NumberU64()] = b.Hash()
	}
	if hadHead {
		for n := tip.NumberU64() + 1; n <= oldHead.NumberU64(); n++ {
			delete(cs.canon, n)
		}
	}
	cs.canonicalHead = tip.Hash()
	cs.log.Warn("chain reorg", "number", tip.NumberU64(), "old", len(oldBlocks), "new", len(blocks))
	if !skipEmit {
		cs.feed.Send(ChainReorgEvent{OldBlocks: oldBlocks, NewBlocks: blocks})
		cs.feed.Send(ChainUpdatedEvent{Head: tip})
	}
	return nil
}

// collectCanonicalFrom walks the previously canonical chain from headHash
// down to (and including) fromNumber, returning blocks in ascending order.
func (cs *ChainStore) collectCanonicalFrom(fromNumber uint64, headHash common.Hash) []*types.Block {
	var out []*types.Block
	h := headHash
	for {
		hdr, ok := cs.headers[h]
		if !ok || hdr.NumberU64() < fromNumber {
			break
		}
		if b, ok := cs.getBlockLocked(h); ok {
			out = append([]*types.Block{b}, out...)
		}
		if hdr.NumberU64() == fromNumber {
			break
		}
		h = hdr.ParentHash
	}
	return out
}

func (cs *ChainStore) getBlockLocked(hash common.Hash) (*types.Block, bool) {
	if b, ok := cs.blockCache.Get(hash); ok {
		return b, true
	}
	hdr, ok := cs.headers[hash]
	if !ok {
		return nil, false
	}
	body := cs.bodies[hash]
	b := types.NewBlockWithHeader(hdr).WithBody(body)
	cs.blockCache.Add(hash, b)
	return b, true
}

func (cs *ChainStore) GetHeader(hash common.Hash) (*types.Header, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if h, ok := cs.headerCache.Get(hash); ok {
		return h, true
	}
	h, ok := cs.headers[hash]
	return h, ok
}

func (cs *ChainStore) GetHeaderByNumber(number uint64) (*types.Header, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	hash, ok := cs.canon[number]
	if !ok {
		return nil, false
	}
	h, ok := cs.headers[hash]
	return h, ok
}

func (cs *ChainStore) GetBlock(hash common.Hash) (*types.Block, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.getBlockLocked(hash)
}

func (cs *ChainStore) GetBlockByNumber(number uint64) (*types.Block, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	hash, ok := cs.canon[number]
	if !ok {
		return nil, false
	}
	return cs.getBlockLocked(hash)
}

func (cs *ChainStore) GetReceipts(hash common.Hash) (types.Receipts, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	r, ok := cs.receipts[hash]
	return r, ok
}

func (cs *ChainStore) PutReceipts(hash common.Hash, receipts types.Receipts) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.receipts[hash] = receipts
}

func (cs *ChainStore) GetTd(hash common.Hash) (*big.Int, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if td, ok := cs.tdCache.Get(hash); ok {
		return td, true
	}
	td, ok := cs.tds[hash]
	return td, ok
}

func (cs *ChainStore) GetCanonicalHeadBlock() (*types.Block, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.getBlockLocked(cs.canonicalHead)
}

func (cs *ChainStore) GetCanonicalSafeBlock() (*types.Block, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.getBlockLocked(cs.safeHead)
}

func (cs *ChainStore) GetCanonicalFinalizedBlock() (*types.Block, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.getBlockLocked(cs.finalizedHead)
}

func (cs *ChainStore) VMHead() common.Hash { cs.mu.RLock(); defer cs.mu.RUnlock(); return cs.vmHead }

// SetIteratorHead moves one of the three named pointers; fails if hash is
// not a known header.
func (cs *ChainStore) SetIteratorHead(name IteratorName, hash common.Hash) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, ok := cs.headers[hash]; !ok {
		return coreerr.New(coreerr.KindRecoverableValidation, "set iterator head: unknown hash", errStateNotFound)
	}
	switch name {
	case IteratorVM:
		cs.vmHead = hash
	case IteratorSafe:
		cs.safeHead = hash
	case IteratorFinalized:
		cs.finalizedHead = hash
	}
	return nil
}

// DelBlock removes a non-canonical block, used to purge invalid
// payloads.
func (cs *ChainStore) DelBlock(hash common.Hash) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.headers, hash)
	delete(cs.bodies, hash)
	delete(cs.receipts, hash)
	delete(cs.tds, hash)
	cs.headerCache.Remove(hash)
	cs.blockCache.Remove(hash)
	cs.tdCache.Remove(hash)
}

// RememberRemote caches a block received via newPayload that is not yet
// part of any known chain.
func (cs *ChainStore) RememberRemote(b *types.Block) { cs.remoteBlocks.Add(b.Hash(), b) }

func (cs *ChainStore) GetRemote(hash common.Hash) (*types.Block, bool) { return cs.remoteBlocks.Get(hash) }

// MarkExecuted records a block whose state transition succeeded but is
// not yet canonical.
func (cs *ChainStore) MarkExecuted(hash common.Hash) { cs.executedBlocks.Add(hash, struct{}{}) }

func (cs *ChainStore) WasExecuted(hash common.Hash) bool { return cs.executedBlocks.Contains(hash) }

// MarkInvalid records a block whose execution failed, so future
// resubmissions of the same hash short-circuit.
func (cs *ChainStore) MarkInvalid(hash common.Hash, err error) { cs.invalidBlocks.Add(hash, err) }

func (cs *ChainStore) InvalidReason(hash common.Hash) (error, bool) { return cs.invalidBlocks.Get(hash) }

var (
	errInvalidBlock  = coreError("invalid block linkage")
	errStateNotFound = coreError("state not found")
)

type coreError string

func (e coreError) Error() string { return string(e) }
